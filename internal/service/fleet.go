package service

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ocrtool/ocrtool/internal/topology"
	"github.com/ocrtool/ocrtool/pkg/logger"
	"github.com/ocrtool/ocrtool/pkg/ssh"
)

// DefaultMaxWorkers 单次操作的并发上限
const DefaultMaxWorkers = 5

// CommandRunner 在一台设备上执行一条命令；失败体现在 Outcome.Error 中
type CommandRunner interface {
	Execute(ctx context.Context, target ssh.Target, command string, timeout time.Duration) ssh.Outcome
}

// FleetOptions 批量操作参数
type FleetOptions struct {
	MaxWorkers     int
	TriggerDevice  string
	StatusTimeout  time.Duration
	CommandTimeout time.Duration
}

func (o *FleetOptions) setDefaults() {
	if o.MaxWorkers <= 0 {
		o.MaxWorkers = DefaultMaxWorkers
	}
	if o.TriggerDevice == "" {
		o.TriggerDevice = DefaultTriggerDevice
	}
	if o.StatusTimeout <= 0 {
		o.StatusTimeout = ssh.DefaultStatusTimeout
	}
	if o.CommandTimeout <= 0 {
		o.CommandTimeout = ssh.DefaultCommandTimeout
	}
}

// FleetService 按闸口对设备批量执行状态查询、服务重启与系统重启。
// 每次调用使用独立的有界协程池，单台设备失败不影响其他设备。
type FleetService struct {
	runner   CommandRunner
	fleets   FleetSource
	observer Observer
	jobs     *JobRegistry
	opts     FleetOptions
}

// NewFleetService 创建批量操作服务；observer 与 jobs 可为空
func NewFleetService(runner CommandRunner, fleets FleetSource, observer Observer, jobs *JobRegistry, opts FleetOptions) *FleetService {
	opts.setDefaults()
	if observer == nil {
		observer = Observers{}
	}
	if jobs == nil {
		jobs = NewJobRegistry(DefaultJobRetention)
	}
	return &FleetService{runner: runner, fleets: fleets, observer: observer, jobs: jobs, opts: opts}
}

// Jobs 任务表
func (s *FleetService) Jobs() *JobRegistry {
	return s.jobs
}

type deviceTask struct {
	target  ssh.Target
	command string
}

func newDeviceTask(op Operation, d topology.Device, trigger string) deviceTask {
	return deviceTask{
		target: ssh.Target{
			Name:     d.Name,
			Address:  d.Address,
			Username: d.Username,
			Secret:   d.Secret,
		},
		command: BuildCommand(op, d, trigger),
	}
}

func (s *FleetService) devicesOf(gate string) ([]topology.Device, error) {
	fleet := s.fleets.Current()
	if fleet == nil {
		return nil, ErrTopologyNotLoaded
	}
	devices, ok := fleet.DevicesOf(gate)
	if !ok {
		return nil, ErrGateNotFound
	}
	return devices, nil
}

// Status 查询闸口下全部设备，返回按设备名升序排列的结果
func (s *FleetService) Status(ctx context.Context, gate string) ([]ssh.Outcome, error) {
	devices, err := s.devicesOf(gate)
	if err != nil {
		return nil, err
	}
	tasks := make([]deviceTask, 0, len(devices))
	for _, d := range devices {
		tasks = append(tasks, newDeviceTask(OpStatus, d, s.opts.TriggerDevice))
	}

	outcomes := make([]ssh.Outcome, 0, len(tasks))
	for o := range s.fanOut(ctx, tasks, s.opts.StatusTimeout) {
		s.observer.OnOutcome(ctx, Event{Gate: gate, Operation: OpStatus, Outcome: o})
		outcomes = append(outcomes, o)
	}
	sort.SliceStable(outcomes, func(i, j int) bool { return outcomes[i].Name < outcomes[j].Name })
	return outcomes, nil
}

// Restart 重启闸口下被选中设备的 OCR 服务；立即返回任务，结果逐台上报给 Observer
func (s *FleetService) Restart(ctx context.Context, gate string, names []string) (*Job, error) {
	return s.launch(ctx, OpRestart, gate, names)
}

// Reboot 重启闸口下被选中设备的操作系统
func (s *FleetService) Reboot(ctx context.Context, gate string, names []string) (*Job, error) {
	return s.launch(ctx, OpReboot, gate, names)
}

// Select 返回闸口内名称（规范化后）出现在 names 中的设备，保持拓扑顺序
func Select(devices []topology.Device, names []string) []topology.Device {
	filter := make(map[string]struct{}, len(names))
	for _, n := range names {
		if c := topology.CanonicalName(n); c != "" {
			filter[c] = struct{}{}
		}
	}
	if len(filter) == 0 {
		return nil
	}
	selected := make([]topology.Device, 0, len(filter))
	for _, d := range devices {
		if _, ok := filter[d.CanonicalName()]; ok {
			selected = append(selected, d)
		}
	}
	return selected
}

func (s *FleetService) launch(ctx context.Context, op Operation, gate string, names []string) (*Job, error) {
	devices, err := s.devicesOf(gate)
	if err != nil {
		return nil, err
	}
	selected := Select(devices, names)

	// 命令在提交前全部生成
	tasks := make([]deviceTask, 0, len(selected))
	targets := make([]string, 0, len(selected))
	for _, d := range selected {
		tasks = append(tasks, newDeviceTask(op, d, s.opts.TriggerDevice))
		targets = append(targets, d.CanonicalName())
	}

	job := newJob(op, gate, targets)
	s.jobs.add(job)
	logger.WithFields(logger.Fields{
		"job_id":  job.ID,
		"gate":    gate,
		"targets": len(targets),
	}).Infof("[%s] Dispatching", op.Label())

	// 后台执行不随调用方的请求上下文取消，每台设备只受自身超时约束
	bg := context.WithoutCancel(ctx)
	go func() {
		defer job.finish()
		for o := range s.fanOut(bg, tasks, s.opts.CommandTimeout) {
			job.record(o)
			s.observer.OnOutcome(bg, Event{JobID: job.ID, Gate: gate, Operation: op, Outcome: o})
		}
	}()
	return job, nil
}

// fanOut 以有界并发执行全部任务，结果按完成顺序写入返回的 channel，全部完成后关闭
func (s *FleetService) fanOut(ctx context.Context, tasks []deviceTask, timeout time.Duration) <-chan ssh.Outcome {
	results := make(chan ssh.Outcome, len(tasks))
	go func() {
		defer close(results)
		var g errgroup.Group
		g.SetLimit(s.opts.MaxWorkers)
		for _, t := range tasks {
			t := t
			g.Go(func() error {
				results <- s.runner.Execute(ctx, t.target, t.command, timeout)
				return nil
			})
		}
		_ = g.Wait()
	}()
	return results
}

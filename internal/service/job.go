package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ocrtool/ocrtool/pkg/ssh"
)

// DefaultJobRetention 已完成任务的保留时长
const DefaultJobRetention = 30 * time.Minute

// Job 一次重启/重启系统的后台执行
type Job struct {
	ID        string
	Operation Operation
	Gate      string
	Targets   []string
	CreatedAt time.Time

	mu         sync.Mutex
	outcomes   []ssh.Outcome
	finishedAt time.Time
	done       chan struct{}
}

// JobView 任务快照，用于接口返回
type JobView struct {
	ID         string        `json:"id"`
	Operation  Operation     `json:"operation"`
	Gate       string        `json:"gate"`
	Targets    []string      `json:"targets"`
	Done       bool          `json:"done"`
	Succeeded  int           `json:"succeeded"`
	Failed     int           `json:"failed"`
	Outcomes   []ssh.Outcome `json:"outcomes"`
	CreatedAt  time.Time     `json:"created_at"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
}

func newJob(op Operation, gate string, targets []string) *Job {
	return &Job{
		ID:        uuid.NewString(),
		Operation: op,
		Gate:      gate,
		Targets:   targets,
		CreatedAt: time.Now(),
		done:      make(chan struct{}),
	}
}

func (j *Job) record(o ssh.Outcome) {
	j.mu.Lock()
	j.outcomes = append(j.outcomes, o)
	j.mu.Unlock()
}

func (j *Job) finish() {
	j.mu.Lock()
	j.finishedAt = time.Now()
	j.mu.Unlock()
	close(j.done)
}

// Done 任务结束时关闭
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait 阻塞直到任务结束或 ctx 取消，返回按完成顺序排列的结果
func (j *Job) Wait(ctx context.Context) ([]ssh.Outcome, error) {
	select {
	case <-j.done:
		return j.Outcomes(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Outcomes 已到达的结果副本
func (j *Job) Outcomes() []ssh.Outcome {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]ssh.Outcome(nil), j.outcomes...)
}

func (j *Job) finishedBefore(t time.Time) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return !j.finishedAt.IsZero() && j.finishedAt.Before(t)
}

// View 生成快照；结果按设备名排序便于展示
func (j *Job) View() JobView {
	j.mu.Lock()
	defer j.mu.Unlock()
	v := JobView{
		ID:        j.ID,
		Operation: j.Operation,
		Gate:      j.Gate,
		Targets:   append([]string(nil), j.Targets...),
		CreatedAt: j.CreatedAt,
		Outcomes:  append([]ssh.Outcome(nil), j.outcomes...),
	}
	if !j.finishedAt.IsZero() {
		t := j.finishedAt
		v.Done = true
		v.FinishedAt = &t
	}
	for _, o := range v.Outcomes {
		if o.OK() {
			v.Succeeded++
		} else {
			v.Failed++
		}
	}
	sort.SliceStable(v.Outcomes, func(a, b int) bool { return v.Outcomes[a].Name < v.Outcomes[b].Name })
	return v
}

// JobRegistry 保存近期任务，过期的已完成任务由清理协程删除
type JobRegistry struct {
	mu        sync.RWMutex
	jobs      map[string]*Job
	retention time.Duration
}

// NewJobRegistry 创建任务表
func NewJobRegistry(retention time.Duration) *JobRegistry {
	if retention <= 0 {
		retention = DefaultJobRetention
	}
	return &JobRegistry{jobs: make(map[string]*Job), retention: retention}
}

func (r *JobRegistry) add(j *Job) {
	r.mu.Lock()
	r.jobs[j.ID] = j
	r.mu.Unlock()
}

// Get 按 ID 查询任务
func (r *JobRegistry) Get(id string) (*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if j, ok := r.jobs[id]; ok {
		return j, nil
	}
	return nil, ErrJobNotFound
}

// List 返回全部任务，按创建时间倒序
func (r *JobRegistry) List() []*Job {
	r.mu.RLock()
	out := make([]*Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, j)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	return out
}

// Run 周期性清理过期任务，直到 ctx 取消
func (r *JobRegistry) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.prune(time.Now())
		}
	}
}

// prune 删除在 now-retention 之前完成的任务
func (r *JobRegistry) prune(now time.Time) int {
	cutoff := now.Add(-r.retention)
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, j := range r.jobs {
		if j.finishedBefore(cutoff) {
			delete(r.jobs, id)
			removed++
		}
	}
	return removed
}

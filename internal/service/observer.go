package service

import (
	"context"
	"time"

	"github.com/ocrtool/ocrtool/internal/metrics"
	"github.com/ocrtool/ocrtool/internal/model"
	"github.com/ocrtool/ocrtool/pkg/logger"
	"github.com/ocrtool/ocrtool/pkg/ssh"
)

// Event 一台设备的一次操作结果
type Event struct {
	JobID     string
	Gate      string
	Operation Operation
	Outcome   ssh.Outcome
}

// Reachability 一台设备的可达性探测结果
type Reachability struct {
	Gate      string `json:"gate"`
	Device    string `json:"device"`
	Address   string `json:"address"`
	Reachable bool   `json:"reachable"`
}

// Observer 接收逐台设备的结果；同一次调用内的回调按完成顺序串行触发
type Observer interface {
	OnOutcome(ctx context.Context, ev Event)
	OnReachability(ctx context.Context, r Reachability)
}

// Observers 依次转发给多个 Observer
type Observers []Observer

func (obs Observers) OnOutcome(ctx context.Context, ev Event) {
	for _, o := range obs {
		o.OnOutcome(ctx, ev)
	}
}

func (obs Observers) OnReachability(ctx context.Context, r Reachability) {
	for _, o := range obs {
		o.OnReachability(ctx, r)
	}
}

// LogObserver 每台设备一条日志
type LogObserver struct{}

func (LogObserver) OnOutcome(_ context.Context, ev Event) {
	entry := logger.WithFields(logger.Fields{
		"gate":        ev.Gate,
		"duration_ms": ev.Outcome.DurationMS,
	})
	if ev.JobID != "" {
		entry = entry.WithField("job_id", ev.JobID)
	}
	if ev.Outcome.OK() {
		entry.Infof("[%s] Success: %s", ev.Operation.Label(), ev.Outcome.Name)
		return
	}
	entry.Errorf("[%s] Error: %s: %s", ev.Operation.Label(), ev.Outcome.Name, ev.Outcome.Error)
}

func (LogObserver) OnReachability(_ context.Context, r Reachability) {
	if r.Reachable {
		logger.Debugf("[PING] OK : %s %s", r.Gate, r.Device)
		return
	}
	logger.WithField("address", r.Address).Errorf("[PING] Timeout : %s %s", r.Gate, r.Device)
}

// MetricsObserver 记录 Prometheus 指标
type MetricsObserver struct{}

func (MetricsObserver) OnOutcome(_ context.Context, ev Event) {
	metrics.ObserveOperation(string(ev.Operation), ev.Outcome.OK(), time.Duration(ev.Outcome.DurationMS)*time.Millisecond)
}

func (MetricsObserver) OnReachability(_ context.Context, r Reachability) {
	metrics.ObserveReachability(r.Reachable)
}

// HistoryWriter 历史记录持久化接口，由 database.HistoryRepo 实现
type HistoryWriter interface {
	SaveOperation(ctx context.Context, rec *model.OperationRecord) error
	SaveAlert(ctx context.Context, alert *model.ReachabilityAlert) error
}

// HistoryObserver 将结果写入数据库；写入失败只记录日志
type HistoryObserver struct {
	writer HistoryWriter
}

// NewHistoryObserver 创建历史记录观察者
func NewHistoryObserver(w HistoryWriter) *HistoryObserver {
	return &HistoryObserver{writer: w}
}

func (h *HistoryObserver) OnOutcome(ctx context.Context, ev Event) {
	rec := &model.OperationRecord{
		JobID:      ev.JobID,
		Gate:       ev.Gate,
		Device:     ev.Outcome.Name,
		Operation:  string(ev.Operation),
		Result:     model.ResultSuccess,
		Payload:    ev.Outcome.Payload,
		ErrorMsg:   ev.Outcome.Error,
		DurationMS: ev.Outcome.DurationMS,
	}
	if !ev.Outcome.OK() {
		rec.Result = model.ResultFailed
	}
	if err := h.writer.SaveOperation(context.WithoutCancel(ctx), rec); err != nil {
		logger.WithError(err).Warn("Failed to save operation record")
	}
}

func (h *HistoryObserver) OnReachability(ctx context.Context, r Reachability) {
	if r.Reachable {
		return
	}
	alert := &model.ReachabilityAlert{Gate: r.Gate, Device: r.Device, Address: r.Address}
	if err := h.writer.SaveAlert(context.WithoutCancel(ctx), alert); err != nil {
		logger.WithError(err).Warn("Failed to save reachability alert")
	}
}

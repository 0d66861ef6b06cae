package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ocrtool/ocrtool/pkg/cache"
	"github.com/ocrtool/ocrtool/pkg/logger"
	"github.com/ocrtool/ocrtool/pkg/ssh"
)

const sweepCacheKey = "sweep:latest"

// StatusView 状态查询结果中的一行；Up 表示输出中包含 "up"
type StatusView struct {
	ssh.Outcome
	Up bool `json:"up"`
}

// NewStatusViews 为状态结果附加 Up 标记
func NewStatusViews(outcomes []ssh.Outcome) []StatusView {
	views := make([]StatusView, 0, len(outcomes))
	for _, o := range outcomes {
		views = append(views, StatusView{Outcome: o, Up: o.OK() && strings.Contains(o.Payload, "up")})
	}
	return views
}

// StatusSnapshot 闸口最近一次状态刷新
type StatusSnapshot struct {
	Gate      string       `json:"gate"`
	Devices   []StatusView `json:"devices"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// SweepSnapshot 最近一轮巡检
type SweepSnapshot struct {
	Results     []Reachability `json:"results"`
	Unreachable int            `json:"unreachable"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// MonitorOptions 周期任务配置；间隔为 0 表示不启用该任务
type MonitorOptions struct {
	SweepInterval  time.Duration
	StatusInterval time.Duration
	CacheTTL       time.Duration
}

// Monitor 周期性执行可达性巡检与状态刷新，结果写入快照缓存
type Monitor struct {
	fleets  FleetSource
	fleet   *FleetService
	sweeper *Sweeper
	store   cache.Store
	opts    MonitorOptions

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewMonitor 创建周期任务
func NewMonitor(fleets FleetSource, fleet *FleetService, sweeper *Sweeper, store cache.Store, opts MonitorOptions) *Monitor {
	if store == nil {
		store = cache.NewMemoryStore()
	}
	return &Monitor{fleets: fleets, fleet: fleet, sweeper: sweeper, store: store, opts: opts}
}

// Start 启动周期任务
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return fmt.Errorf("monitor is already running")
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.running = true

	if m.opts.SweepInterval > 0 && m.sweeper != nil {
		m.loop(ctx, m.opts.SweepInterval, func(ctx context.Context) { m.SweepOnce(ctx) })
	}
	if m.opts.StatusInterval > 0 && m.fleet != nil {
		m.loop(ctx, m.opts.StatusInterval, m.RefreshStatus)
	}
	logger.Info("Monitor started")
	return nil
}

// Stop 停止周期任务并等待当前轮次结束
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.cancel()
	m.mu.Unlock()
	m.wg.Wait()
	logger.Info("Monitor stopped")
}

func (m *Monitor) loop(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		fn(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn(ctx)
			}
		}
	}()
}

// SweepOnce 执行一轮巡检并缓存结果
func (m *Monitor) SweepOnce(ctx context.Context) SweepSnapshot {
	snap := SweepSnapshot{Results: m.sweeper.Sweep(ctx, m.fleets.Current()), UpdatedAt: time.Now()}
	for _, r := range snap.Results {
		if !r.Reachable {
			snap.Unreachable++
		}
	}
	if err := m.store.Set(ctx, sweepCacheKey, snap, m.opts.CacheTTL); err != nil {
		logger.WithError(err).Warn("Failed to cache sweep result")
	}
	return snap
}

// RefreshStatus 依次刷新每个闸口的状态并缓存
func (m *Monitor) RefreshStatus(ctx context.Context) {
	fleet := m.fleets.Current()
	if fleet == nil {
		return
	}
	for _, gate := range fleet.GateNames() {
		if ctx.Err() != nil {
			return
		}
		outcomes, err := m.fleet.Status(ctx, gate)
		if err != nil {
			logger.WithError(err).WithField("gate", gate).Warn("Status refresh failed")
			continue
		}
		snap := StatusSnapshot{Gate: gate, Devices: NewStatusViews(outcomes), UpdatedAt: time.Now()}
		if err := m.store.Set(ctx, statusCacheKey(gate), snap, m.opts.CacheTTL); err != nil {
			logger.WithError(err).Warn("Failed to cache status snapshot")
		}
	}
}

// CachedStatus 读取闸口的状态快照
func (m *Monitor) CachedStatus(ctx context.Context, gate string) (*StatusSnapshot, bool) {
	var snap StatusSnapshot
	if err := m.store.Get(ctx, statusCacheKey(gate), &snap); err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			logger.WithError(err).Warn("Failed to read status snapshot")
		}
		return nil, false
	}
	return &snap, true
}

// LastSweep 读取最近一轮巡检
func (m *Monitor) LastSweep(ctx context.Context) (*SweepSnapshot, bool) {
	var snap SweepSnapshot
	if err := m.store.Get(ctx, sweepCacheKey, &snap); err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			logger.WithError(err).Warn("Failed to read sweep snapshot")
		}
		return nil, false
	}
	return &snap, true
}

func statusCacheKey(gate string) string {
	return "status:" + gate
}

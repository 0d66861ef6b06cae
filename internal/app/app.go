package app

import (
	"errors"
	"fmt"

	"github.com/ocrtool/ocrtool/internal/config"
	"github.com/ocrtool/ocrtool/internal/database"
	"github.com/ocrtool/ocrtool/internal/service"
	"github.com/ocrtool/ocrtool/pkg/cache"
	"github.com/ocrtool/ocrtool/pkg/logger"
	"github.com/ocrtool/ocrtool/pkg/probe"
	"github.com/ocrtool/ocrtool/pkg/ssh"
)

// Options 组装时的可选组件
type Options struct {
	// History 是否持久化操作记录与告警
	History bool
	// Cache 是否连接 Redis；false 时使用进程内缓存
	Cache bool
}

// App 服务端与命令行共用的组件集合
type App struct {
	Config  *config.Config
	Store   *service.FleetStore
	Fleet   *service.FleetService
	Sweeper *service.Sweeper
	Monitor *service.Monitor
	History *database.HistoryRepo
	Cache   cache.Store
}

// InitLogger 按配置初始化日志
func InitLogger(cfg config.LogConfig) error {
	return logger.Init(logger.Config{
		Level:      cfg.Level,
		Format:     cfg.Format,
		Output:     cfg.Output,
		FilePath:   cfg.FilePath,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	})
}

// New 组装执行器、拓扑存储、批量操作、巡检与周期任务。
// 拓扑加载失败不会中断组装，调用方可稍后 Reload 或上传。
func New(cfg *config.Config, opts Options) (*App, error) {
	exec, err := ssh.NewExecutor(ssh.Config{
		Port:           cfg.SSH.Port,
		Timeout:        cfg.SSH.StatusTimeout,
		HostKeyPolicy:  ssh.HostKeyPolicy(cfg.SSH.HostKeyPolicy),
		KnownHostsPath: cfg.SSH.KnownHostsPath,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create executor: %w", err)
	}

	a := &App{Config: cfg}
	observers := service.Observers{service.LogObserver{}, service.MetricsObserver{}}

	if opts.History {
		conn, err := database.Open(cfg.Database.SQLite)
		if err != nil {
			return nil, err
		}
		a.History = database.NewHistoryRepo(conn)
		observers = append(observers, service.NewHistoryObserver(a.History))
	}

	if opts.Cache {
		store, err := cache.NewStore(cfg.Redis)
		if err != nil {
			logger.WithError(err).Warn("Redis unavailable; using in-process cache")
			store = cache.NewMemoryStore()
		}
		a.Cache = store
	} else {
		a.Cache = cache.NewMemoryStore()
	}

	a.Store = service.NewFleetStore(cfg.Topology.Path, service.NewArchiver(cfg))
	if err := a.Store.Reload(); err != nil {
		logger.WithError(err).WithField("path", cfg.Topology.Path).Warn("Topology not loaded")
	}

	a.Fleet = service.NewFleetService(exec, a.Store, observers, service.NewJobRegistry(cfg.Dispatcher.JobRetention), service.FleetOptions{
		MaxWorkers:     cfg.Dispatcher.MaxWorkers,
		TriggerDevice:  cfg.Dispatcher.TriggerDevice,
		StatusTimeout:  cfg.SSH.StatusTimeout,
		CommandTimeout: cfg.SSH.CommandTimeout,
	})
	a.Sweeper = service.NewSweeper(probe.NewICMPProber(cfg.Sweep.Count, cfg.Sweep.Privileged), cfg.Sweep.Timeout, observers)

	monitorOpts := service.MonitorOptions{CacheTTL: cfg.Redis.TTL}
	if cfg.Sweep.Enabled {
		monitorOpts.SweepInterval = cfg.Sweep.Interval
	}
	if cfg.Monitor.StatusRefresh {
		monitorOpts.StatusInterval = cfg.Monitor.StatusRefreshInterval
	}
	a.Monitor = service.NewMonitor(a.Store, a.Fleet, a.Sweeper, a.Cache, monitorOpts)
	return a, nil
}

// Close 释放缓存与数据库连接
func (a *App) Close() error {
	var errs []error
	if a.Cache != nil {
		errs = append(errs, a.Cache.Close())
	}
	if a.History != nil {
		errs = append(errs, a.History.Close())
	}
	return errors.Join(errs...)
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ocrtool/ocrtool/api/router"
	"github.com/ocrtool/ocrtool/internal/app"
	"github.com/ocrtool/ocrtool/internal/config"
	"github.com/ocrtool/ocrtool/internal/service"
	"github.com/ocrtool/ocrtool/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := app.InitLogger(cfg.Log); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger.WithField("version", "1.0.0").Info("Starting OCR Tool server")

	a, err := app.New(cfg, app.Options{History: true, Cache: true})
	if err != nil {
		logger.Fatalf("Failed to initialize: %v", err)
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go a.Fleet.Jobs().Run(ctx)
	if a.History != nil {
		go a.History.RunPruner(ctx, cfg.Database.HistoryRetention, cfg.Database.PruneInterval)
	}
	if err := a.Monitor.Start(ctx); err != nil {
		logger.Fatalf("Failed to start monitor: %v", err)
	}
	defer a.Monitor.Stop()

	if cfg.Topology.Watch {
		go watchTopology(ctx, a.Store)
	}

	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	r := router.SetupRouter(router.Deps{
		Fleet:       a.Fleet,
		Store:       a.Store,
		Monitor:     a.Monitor,
		History:     a.History,
		LogPath:     cfg.Log.FilePath,
		Mode:        cfg.Server.Mode,
		MetricsPath: metricsPath,
	})

	server := &http.Server{
		Addr:           cfg.GetServerAddr(),
		Handler:        r,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		logger.WithFields(logger.Fields{"addr": server.Addr, "mode": cfg.Server.Mode}).Info("Server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Server shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	} else {
		logger.Info("Server shutdown complete")
	}
}

// watchTopology 监听拓扑文件变化并重新加载；监听目录以兼容编辑器的 rename 写入
func watchTopology(ctx context.Context, store *service.FleetStore) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.WithError(err).Warn("Topology watch init failed")
		return
	}
	defer watcher.Close()

	path, err := filepath.Abs(store.Path())
	if err != nil {
		path = store.Path()
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		logger.WithError(err).Warn("Topology watch add failed")
		return
	}

	var debounce *time.Timer
	reload := func() {
		if err := store.Reload(); err != nil {
			logger.WithError(err).Warn("Topology reload failed; keeping previous topology")
		}
	}
	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(300*time.Millisecond, reload)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.WithError(err).Warn("Topology watch error")
		}
	}
}

// Command poscore runs the theater POS terminal core: the offline order
// queue, connectivity monitor, sync engine and cache layers, exposed to the
// local UI over HTTP.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/stagefront/poscore/internal/backend"
	"github.com/stagefront/poscore/internal/config"
	"github.com/stagefront/poscore/internal/connectivity"
	"github.com/stagefront/poscore/internal/events"
	"github.com/stagefront/poscore/internal/httpapi"
	"github.com/stagefront/poscore/internal/janitor"
	"github.com/stagefront/poscore/internal/kvstore"
	"github.com/stagefront/poscore/internal/logging"
	"github.com/stagefront/poscore/internal/metrics"
	"github.com/stagefront/poscore/internal/mlcache"
	"github.com/stagefront/poscore/internal/queue"
	"github.com/stagefront/poscore/internal/syncer"
)

// Version is set at build time.
var Version = "0.1.0"

func main() {
	var configPath string
	flag.StringVar(&configPath, "c", "./config.yml", "config file(s), comma separated")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fallback, _ := zap.NewProduction()
		fallback.Fatal("load config failed", zap.Error(err))
	}

	log, err := logging.New(cfg.Env)
	if err != nil {
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("poscore starting",
		zap.String("version", Version),
		zap.String("addr", cfg.HTTP.Addr),
		zap.String("backend", cfg.Backend.BaseURL))

	metrics.Register()

	// Durable store, with in-memory fallback: the terminal keeps taking
	// orders even when its data directory is unavailable, it just loses
	// them on restart.
	var store kvstore.Store
	sqlStore, err := kvstore.Open(cfg.Storage.DataDir, cfg.Storage.QuotaBytes, log)
	if err != nil {
		log.Error("durable store unavailable, falling back to memory", zap.Error(err))
		store = kvstore.NewMemoryStore(cfg.Storage.QuotaBytes)
	} else {
		defer sqlStore.Close()
		store = sqlStore
	}

	q := queue.New(store, log)
	client := backend.NewClient(cfg.Backend.BaseURL, cfg.Backend.RequestTimeout.Std())
	monitor := connectivity.NewMonitor(client, cfg.Backend.ProbeTimeout.Std(), log)
	hub := events.NewHub(log)
	engine := syncer.New(q, client, monitor, store, hub, log)

	cacheMgr := mlcache.New(mlcache.Config{
		MemoryCapacity:  cfg.Cache.MemoryCapacity,
		MaxPersistBytes: cfg.Cache.MaxPersistBytes,
		DiskDir:         cfg.Cache.DiskDir,
	}, store, log)

	monitor.OnOnline(func() {
		hub.Publish(events.EventConnectivityChanged, map[string]interface{}{"online": true})
	})
	monitor.Start(cfg.Sync.MonitorInterval.Std())
	defer monitor.Stop()

	// Unattended auto-sync needs a service token; without one, sync runs
	// only on UI triggers carrying the session token.
	var runners []*syncer.AutoSync
	if cfg.Backend.Token != "" {
		for _, theaterID := range cfg.Sync.Theaters {
			runners = append(runners,
				engine.StartAutoSync(theaterID, cfg.Backend.Token, monitor, cfg.Sync.Interval.Std(), nil, nil))
		}
	}
	defer func() {
		for _, r := range runners {
			r.Stop()
		}
	}()

	jan := janitor.New(cacheMgr, q, cfg.Sync.Theaters, log)
	if err := jan.Start(cfg.Cache.CleanupSpec); err != nil {
		log.Fatal("maintenance schedule failed", zap.Error(err))
	}
	defer jan.Stop()

	api := httpapi.NewServer(q, engine, monitor, hub, log)
	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      api.Router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("poscore listening", zap.String("addr", cfg.HTTP.Addr))
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.Fatal("server error", zap.Error(err))
	case sig := <-sigCh:
		log.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown incomplete", zap.Error(err))
	}
}

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"chatsync/internal/retention"
	"chatsync/pkg/api"
	"chatsync/pkg/broadcast"
	"chatsync/pkg/config"
	"chatsync/pkg/connectivity"
	"chatsync/pkg/engine"
	"chatsync/pkg/logger"
	"chatsync/pkg/registry"
	"chatsync/pkg/remote"
	"chatsync/pkg/shutdown"
	"chatsync/pkg/store"
	"chatsync/pkg/syncer"
)

func main() {
	cfgPath := flag.String("config", "", "path to yaml config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	logger.Init(cfg.Logging.Level, cfg.Logging.Format)

	st, err := store.Open(cfg.Storage.DBPath, store.Options{
		ProtectPending: cfg.Retention.ProtectPending,
		MaxPendingAge:  cfg.Retention.MaxPendingAge.Duration(),
	})
	if err != nil {
		logger.Error("startup_fatal", "msg", "open store", "error", err)
		os.Exit(1)
	}
	defer func() { _ = st.Close() }()

	ctx, cancel := shutdown.SetupSignalHandler(context.Background())
	defer cancel()

	// the daemon starts offline; the network-status source flips it online
	// via the connectivity endpoint or in-process Set calls
	monitor := connectivity.New(connectivity.Offline)
	bus := broadcast.New(cfg.Broadcast.BufferSize)

	var backend remote.Backend
	if cfg.Sync.RemoteURL != "" {
		backend = remote.NewClient(cfg.Sync.RemoteURL, cfg.Sync.Timeout.Duration(), cfg.Sync.MaxBodyBytes.Int64())
	} else {
		logger.Warn("no_remote_configured", "msg", "running purely local; messages stay pending")
	}
	coord := syncer.New(st, backend, monitor, syncer.Options{
		Timeout:     cfg.Sync.Timeout.Duration(),
		MaxAttempts: cfg.Sync.MaxAttempts,
		BackoffBase: cfg.Sync.BackoffBase.Duration(),
		BackoffMax:  cfg.Sync.BackoffMax.Duration(),
		PushRPS:     cfg.Sync.PushRPS,
		PushBurst:   cfg.Sync.PushBurst,
	})
	reg, err := registry.New(st, cfg.Identity.UserID)
	if err != nil {
		logger.Error("startup_fatal", "msg", "bootstrap registry", "error", err)
		os.Exit(1)
	}
	eng := engine.New(st, bus, monitor, coord, reg)
	defer eng.Close()

	if cfg.Retention.Enabled {
		sweeper, err := retention.New(st, retention.Options{
			Horizon:  cfg.Retention.Horizon.Duration(),
			Interval: cfg.Retention.Interval.Duration(),
			Cron:     cfg.Retention.Cron,
		})
		if err != nil {
			logger.Error("startup_fatal", "msg", "retention", "error", err)
			os.Exit(1)
		}
		stop := sweeper.Start(ctx)
		defer stop()
	} else {
		logger.Info("retention_disabled")
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           withConnectivity(api.NewRouter(eng, cfg.Identity.UserID), monitor),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("http_listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http_serve_failed", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting_down")
	sctx, scancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer scancel()
	_ = srv.Shutdown(sctx)
}

// withConnectivity adds the endpoint the external network-status source
// calls to report online/offline transitions.
func withConnectivity(next http.Handler, monitor *connectivity.Monitor) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/connectivity" && r.Method == http.MethodPut {
			switch r.URL.Query().Get("state") {
			case "online":
				monitor.Set(connectivity.Online)
			case "offline":
				monitor.Set(connectivity.Offline)
			default:
				http.Error(w, `{"error":"state must be online or offline"}`, http.StatusBadRequest)
				return
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

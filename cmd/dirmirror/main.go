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
	"go.uber.org/zap/zapcore"

	"codeberg.org/dirmirror/dirmirror/pkg/api"
	"codeberg.org/dirmirror/dirmirror/pkg/config"
	"codeberg.org/dirmirror/dirmirror/pkg/controller"
	"codeberg.org/dirmirror/dirmirror/pkg/directory"
	"codeberg.org/dirmirror/dirmirror/pkg/mirror"
	"codeberg.org/dirmirror/dirmirror/pkg/notify"

	_ "codeberg.org/dirmirror/dirmirror/pkg/directory/ldap"
	_ "codeberg.org/dirmirror/dirmirror/pkg/directory/scim"
)

func main() {
	configPath := flag.String("config", "/etc/dirmirror/config.yaml", "Path to config")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg = config.DefaultConfig()
		} else {
			panic(err)
		}
	}

	logger := initLogger(cfg.Logging)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m, err := mirror.Open(ctx, &cfg.Storage, logger)
	if err != nil {
		logger.Fatal("Mirror open failed", zap.Error(err))
	}
	defer m.Close()

	if err := m.Setup(ctx); err != nil {
		logger.Fatal("Mirror schema setup failed", zap.Error(err))
	}

	dir, err := directory.Open(ctx, &cfg.Directory, logger)
	if err != nil {
		logger.Fatal("Directory open failed", zap.Error(err))
	}
	defer dir.Close()

	logger.Info("Directory opened",
		zap.String("driver", cfg.Directory.Driver),
		zap.String("name", dir.Name()))

	notifier := notify.New()
	rec := controller.NewReconciler(dir, m, logger)
	mgr := controller.NewManager(rec, notifier, cfg.Sync.Interval, logger)

	if cfg.Sync.Enabled {
		go mgr.Start(ctx)
	} else {
		logger.Info("Scheduled sync disabled, runs must be triggered via the API")
	}

	mux := http.NewServeMux()
	api.SetupRoutes(mux, m, dir, mgr, notifier, logger)

	srv := &http.Server{
		Addr:        cfg.Server.Address,
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
		// Sync triggers respond only after the pass completes.
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", cfg.Server.Address))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down...")

	sCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(sCtx); err != nil {
		logger.Error("Server shutdown failed", zap.Error(err))
	}

	logger.Info("Shutdown complete")
}

func initLogger(c config.LoggingConfig) *zap.Logger {
	lvl, _ := zapcore.ParseLevel(c.Level)
	cfg := zap.NewProductionConfig()
	if c.Format == "console" {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	l, _ := cfg.Build()
	return l
}

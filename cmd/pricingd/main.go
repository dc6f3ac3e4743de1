package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"pricingd/internal/artifact"
	"pricingd/internal/common/fsutil"
	"pricingd/internal/config"
	"pricingd/internal/deploy"
	"pricingd/internal/httpapi"
	"pricingd/internal/monitor"
	"pricingd/internal/registry"
	"pricingd/internal/serving"
	"pricingd/internal/store"
)

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	// Flags with environment variable defaults
	addr := flag.String("addr", envOr("PRICINGD_ADDR", ":8080"), "HTTP listen address, e.g. :8080")
	storeDir := flag.String("store-dir", envOr("PRICINGD_STORE_DIR", "~/pricingd"), "Base directory for model artifacts and the database")
	configPath := flag.String("config", envOr("PRICINGD_CONFIG", ""), "Optional config file (.yaml/.yml/.json/.toml)")
	logLevel := flag.String("log-level", envOr("PRICINGD_LOG_LEVEL", "info"), "Log level: debug, info, warn, error")
	flag.Parse()

	lvl, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(lvl).With().Timestamp().Logger()

	var cfg config.Config
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
		if err != nil {
			logger.Fatal().Err(err).Str("path", *configPath).Msg("load config")
		}
	}
	if cfg.Addr == "" {
		cfg.Addr = *addr
	}
	if cfg.StoreDir == "" {
		cfg.StoreDir = *storeDir
	}
	baseDir, err := fsutil.ExpandHome(cfg.StoreDir)
	if err != nil {
		logger.Fatal().Err(err).Str("dir", cfg.StoreDir).Msg("resolve store dir")
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(baseDir, "pricingd.db")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		logger.Fatal().Err(err).Str("dir", baseDir).Msg("create store dir")
	}

	dbPath, err := fsutil.ExpandHome(cfg.DBPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.DBPath).Msg("resolve db path")
	}
	st, err := store.Open(dbPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open store")
	}
	defer st.Close()

	reg, err := registry.New(baseDir, st, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("init registry")
	}

	probe := monitor.NewProcProbe()
	mon := monitor.New(monitor.Config{
		Store: st,
		Probe: probe,
		Thresholds: monitor.Thresholds{
			MaxLatencyMs:  cfg.Monitoring.MaxLatencyMs,
			MaxErrorRate:  cfg.Monitoring.MaxErrorRate,
			MaxMemoryMB:   cfg.Monitoring.MaxMemoryMB,
			MaxCPUPercent: cfg.Monitoring.MaxCPUPercent,
		},
		AlertWindowHours: cfg.Monitoring.AlertWindowHours,
		Logger:           logger,
	})

	loader := artifact.FileLoader{}
	eng := serving.New(serving.Config{
		QueueSize: cfg.Serving.QueueSize,
		MaxDelay:  time.Duration(cfg.Serving.MaxDelayMs) * time.Millisecond,
		Loader:    loader,
		Catalog:   reg,
		Sink:      st,
		Recorder:  mon,
		Logger:    logger,
	})
	defer eng.Shutdown()
	mon.SetQueueStats(eng.QueueStats)

	// Reload whatever was active before the last shutdown.
	if _, ok, err := reg.ActiveVersion(); err != nil {
		logger.Error().Err(err).Msg("read active version")
	} else if ok {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := eng.UpdateModel(ctx, ""); err != nil {
			logger.Error().Err(err).Msg("load active model")
		}
		cancel()
	}

	checks := []deploy.Check{deploy.LoadableCheck(loader, reg)}
	if cfg.Deployment.MinMemoryMB > 0 || cfg.Deployment.MaxCPUPercent > 0 {
		checks = append(checks, deploy.ResourceCheck(probe, cfg.Deployment.MinMemoryMB, cfg.Deployment.MaxCPUPercent))
	}
	if len(cfg.Deployment.TestCommand) > 0 {
		checks = append(checks, deploy.CommandCheck("external-tests", cfg.Deployment.TestCommand))
	}
	orch, err := deploy.New(deploy.Config{
		Catalog:           reg,
		Engine:            eng,
		History:           st,
		Monitor:           mon,
		Requirements:      cfg.Deployment.Requirements,
		Checks:            checks,
		BackupDir:         filepath.Join(baseDir, "backups"),
		StatusWindowHours: cfg.Deployment.StatusWindowHrs,
		Logger:            logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("init orchestrator")
	}

	httpapi.SetLogger(logger)
	if cfg.Serving.MaxBodyBytes > 0 {
		httpapi.SetMaxBodyBytes(cfg.Serving.MaxBodyBytes)
	}
	if cfg.CORS.Enabled {
		httpapi.SetCORSOptions(true, cfg.CORS.AllowedOrigins, cfg.CORS.AllowedMethods, cfg.CORS.AllowedHeaders)
	}
	mux := httpapi.NewMux(httpapi.Deps{
		Predictor: eng,
		Deployer:  orch,
		Catalog:   reg,
		Metrics:   mon,
	})
	srv := &http.Server{Addr: cfg.Addr, Handler: mux}

	// Periodic health sampling so windows have data even when idle.
	healthInterval := time.Duration(cfg.Monitoring.HealthIntervalS) * time.Second
	if healthInterval <= 0 {
		healthInterval = 30 * time.Second
	}
	healthStop := make(chan struct{})
	go func() {
		t := time.NewTicker(healthInterval)
		defer t.Stop()
		for {
			select {
			case <-healthStop:
				return
			case <-t.C:
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if _, err := mon.CollectHealth(ctx); err != nil {
					logger.Warn().Err(err).Msg("collect health sample")
				}
				cancel()
			}
		}
	}()

	go func() {
		logger.Info().Str("addr", cfg.Addr).Str("store_dir", baseDir).Msg("pricingd listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	// Graceful shutdown (Ctrl+C / SIGTERM)
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	close(healthStop)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown error")
	}
}

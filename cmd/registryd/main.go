// Package main runs registryd, the standalone service registry daemon.
// It hosts the dependency graph, scoped locator, and health monitor
// behind the read-only admin API; services are registered by embedding
// providers or over the lifetime of the process by linked service sets.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/atlasframe/registry/internal/config"
	"github.com/atlasframe/registry/internal/httpapi"
	"github.com/atlasframe/registry/internal/logging"
	"github.com/atlasframe/registry/internal/metrics"
	"github.com/atlasframe/registry/internal/registry"
	"github.com/atlasframe/registry/internal/sched"
)

func main() {
	configPath := flag.String("config", "", "path to registryd.yaml (defaults to config/registryd.yaml, falling back to built-ins)")
	envFile := flag.String("env", ".env", "optional dotenv file")
	flag.Parse()

	if err := config.LoadEnvFile(*envFile); err != nil {
		log.Fatalf("load env (%s): %v", *envFile, err)
	}

	var cfg *config.Config
	if *configPath != "" {
		loaded, err := config.LoadFromPath(*configPath)
		if err != nil {
			log.Fatalf("load config (%s): %v", *configPath, err)
		}
		cfg = loaded
	} else {
		cfg = config.LoadOrDefault()
	}

	logger := logging.New(cfg.Logging).WithField("component", "registryd")
	collector := metrics.NewCollector("registry")

	reg := registry.New(cfg.RegistryConfig(), logger, registry.WithRecorder(collector))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := reg.Initialize(ctx); err != nil {
		logger.WithError(err).Fatal("registry initialization failed")
	}

	runner := sched.NewRunner(logger)
	if err := runner.AddHealthTick(cfg.Schedule.HealthTick, reg); err != nil {
		logger.WithError(err).Fatal("invalid health tick schedule")
	}
	if err := runner.AddUptime(cfg.Schedule.Uptime, collector); err != nil {
		logger.WithError(err).Fatal("invalid uptime schedule")
	}
	runner.Start()

	serverCfg := httpapi.Config{
		Listen:        cfg.Server.Listen,
		ReadTimeout:   cfg.Server.ReadTimeout.Std(),
		WriteTimeout:  cfg.Server.WriteTimeout.Std(),
		RatePerMinute: cfg.Auth.RatePerMinute,
		RateBurst:     cfg.Auth.RateBurst,
	}
	if cfg.Auth.Enabled {
		serverCfg.AuthSecret = []byte(cfg.Auth.JWTSecret)
	}
	server := httpapi.NewServer(serverCfg, reg, collector, logger)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.WithField("signal", sig.String()).Info("shutting down")
	case err := <-serverErr:
		if err != nil {
			logger.WithError(err).Error("admin API failed")
		}
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Std())
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("admin API shutdown incomplete")
	}
	runner.Stop()
	if err := reg.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("registry shutdown reported errors")
	}
	logger.Info("registryd stopped")
}

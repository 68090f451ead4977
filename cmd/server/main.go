package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"vidstream/internal/infrastructure/monitoring"
	"vidstream/internal/infrastructure/repositories/memory"
	"vidstream/internal/infrastructure/server"
	"vidstream/pkg/config"
	"vidstream/pkg/logger"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	store := memory.NewStore(cfg.Auth.SessionTTL)
	if cfg.Server.SeedDemoUsers {
		for username, password := range map[string]string{
			"test":  "test123",
			"gosha": "goshagosha",
		} {
			if err := store.SeedUser(username, password); err != nil {
				log.Warnw("failed to seed demo user", "username", username, "error", err)
			}
		}
		log.Infow("seeded demo users")
	}

	opts := server.Options{
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	if cfg.RateLimiting.Enabled {
		opts.Limiter = rate.NewLimiter(
			rate.Limit(cfg.RateLimiting.ConnectionsPerSecond),
			cfg.RateLimiting.Burst,
		)
	}
	if cfg.Monitoring.PrometheusEnabled {
		opts.Metrics = monitoring.NewPrometheusCollector()
		go func() {
			addr := fmt.Sprintf(":%d", cfg.Monitoring.PrometheusPort)
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			log.Infow("metrics server listening", "address", addr)
			if err := http.ListenAndServe(addr, mux); err != nil {
				log.Errorw("metrics server failed", "error", err)
			}
		}()
	}

	srv := server.New(store, log, opts)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe(cfg.Server.Address)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalw("server failed", "error", err)
		}
	case sig := <-stop:
		log.Infow("shutting down", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Errorw("shutdown incomplete", "error", err)
		}
	}
}

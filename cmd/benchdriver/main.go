package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"txbench/internal/server"
	"txbench/internal/worker"
	"txbench/internal/worker/runner"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed: %v\n", err)
		os.Exit(1)
	}
}

type serverConfig struct {
	Listen   string
	LogLevel log.Level
	Worker   worker.Config
}

func run() error {
	flag.Parse()

	cfg, err := readServerConfig(viper.New())
	if err != nil {
		return err
	}
	log.SetLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := runner.New(cfg.Worker)
	go runner.Run(ctx)

	router := chi.NewRouter()
	router.Use(middleware.CleanPath)
	router.Use(middleware.Recoverer)
	router.Use(middleware.RequestLogger(
		&middleware.DefaultLogFormatter{
			Logger:  log.StandardLogger(),
			NoColor: true,
		},
	))
	router.Use(middleware.NoCache)
	router.Use(middleware.StripSlashes)
	router.Use(middleware.AllowContentType("application/json"))
	router.Use(middleware.Heartbeat("/ping"))

	metrics := prometheus.NewRegistry()
	metrics.MustRegister(collectors.NewGoCollector())
	h := server.NewHandler(runner)
	h.Metrics = metrics

	router.Get("/metrics", promhttp.HandlerFor(metrics, promhttp.HandlerOpts{}).ServeHTTP)
	h.RegisterRoutes(router)

	srv := &http.Server{Addr: cfg.Listen, Handler: router}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.WithField("driver", cfg.Worker.Driver).Infof("Listening on %s", cfg.Listen)
	defer log.Info("Goodbye!")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// readServerConfig reads the configuration from TXBENCH_* environment
// variables.
func readServerConfig(v *viper.Viper) (cfg serverConfig, err error) {
	v.SetEnvPrefix("TXBENCH")
	v.AutomaticEnv()

	v.SetDefault("listen", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("driver", string(worker.DriverPostgres))
	v.SetDefault("user", "postgres")
	v.SetDefault("pass", "postgres")
	v.SetDefault("sslmode", "disable")

	level, err := log.ParseLevel(v.GetString("log_level"))
	if err != nil {
		return cfg, fmt.Errorf("read env var TXBENCH_LOG_LEVEL: %w", err)
	}

	cfg = serverConfig{
		Listen:   v.GetString("listen"),
		LogLevel: level,
		Worker: worker.Config{
			Driver:   worker.Driver(v.GetString("driver")),
			Host:     v.GetString("host"),
			Port:     v.GetString("port"),
			User:     v.GetString("user"),
			Pass:     v.GetString("pass"),
			Database: v.GetString("database"),
			SSLMode:  v.GetString("sslmode"),
		},
	}

	switch cfg.Worker.Driver {
	case worker.DriverPostgres, worker.DriverMySQL:
		if cfg.Worker.Database == "" {
			cfg.Worker.Database = cfg.Worker.User
		}
	case worker.DriverRedis, worker.DriverSim:
	default:
		return cfg, fmt.Errorf("read env var TXBENCH_DRIVER: unknown driver %q", cfg.Worker.Driver)
	}
	return cfg, nil
}

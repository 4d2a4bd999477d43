package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"lms/internal/auth"
	"lms/internal/clock"
	"lms/internal/config"
	"lms/internal/database"
	"lms/internal/events"
	"lms/internal/logging"
	"lms/internal/metrics"
	"lms/internal/repositories"
	"lms/internal/services"
)

var configPath string

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := &cobra.Command{
		Use:           "lms",
		Short:         "Library lending service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", config.ConfigPath, "path to the YAML config file")
	root.AddCommand(serveCmd(), migrateCmd(), sweepCmd(), userCmd())

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app holds what every subcommand needs.
type app struct {
	cfg     config.FileConfig
	db      *gorm.DB
	repos   *repositories.Repositories
	tokens  *auth.Issuer
	metrics *metrics.Recorder
	closers []func() error
}

func setup() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logging.InitLogger(cfg.LogLevel)

	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, err
	}
	tokens, err := auth.NewIssuer(cfg.TokenSecret, cfg.TokenTTL)
	if err != nil {
		return nil, err
	}
	a := &app{
		cfg:     cfg,
		db:      db,
		repos:   repositories.New(db),
		tokens:  tokens,
		metrics: metrics.NewRecorder(),
	}
	if sqlDB, err := db.DB(); err == nil {
		a.closers = append(a.closers, sqlDB.Close)
	}
	return a, nil
}

// dispatcher always writes to the notifications table and, when redisAddr is
// set, also appends to the event stream.
func (a *app) dispatcher() (*events.Dispatcher, error) {
	sinks := []events.Sink{events.NewStoreSink(a.db, a.repos.Notifications)}
	if a.cfg.RedisAddr != "" {
		rs, err := events.NewRedisSink(events.RedisSinkConfig{
			Addr:     a.cfg.RedisAddr,
			Password: a.cfg.RedisPassword,
			Stream:   a.cfg.EventStream,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, rs.Close)
		sinks = append(sinks, rs)
		slog.Info("publishing events to redis", "addr", a.cfg.RedisAddr, "stream", a.cfg.EventStream)
	}
	return events.NewDispatcher(sinks...), nil
}

func (a *app) lifecycle() (services.LifecycleService, error) {
	d, err := a.dispatcher()
	if err != nil {
		return nil, err
	}
	return services.NewLifecycleService(a.db, a.repos, clock.SystemClock{}, d, a.metrics), nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("close failed", "err", err)
		}
	}
}

package cmd

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/example/courtres/internal/actor"
	"github.com/example/courtres/internal/actor/redisstore"
	"github.com/example/courtres/internal/actor/sqlitestore"
	"github.com/example/courtres/internal/catalog"
	"github.com/example/courtres/internal/config"
	"github.com/example/courtres/internal/db"
	"github.com/example/courtres/internal/migrate"
	"github.com/example/courtres/internal/obs"
	"github.com/example/courtres/internal/reservation"
	"github.com/example/courtres/internal/scheduler"
	"github.com/example/courtres/internal/service"
)

// app is the wiring shared by every command that touches jobs.
type app struct {
	cfg     config.Config
	log     *zap.Logger
	metrics *obs.Metrics
	db      *db.DB
	backend actor.Backend
	actors  *scheduler.Actors
	catalog *catalog.Repo
	svc     *service.Service
}

type appOptions struct {
	migrate bool
	booker  func(a *app) (reservation.Booker, error)
}

func loadConfig() (config.Config, *zap.Logger, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return config.Config{}, nil, err
	}
	log, err := obs.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, log, nil
}

func openApp(ctx context.Context, opts appOptions) (*app, error) {
	cfg, log, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log, metrics: obs.NewMetrics()}

	a.db, err = db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := a.db.Ping(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	if opts.migrate {
		if err := migrate.Up(ctx, a.db, log); err != nil {
			a.Close()
			return nil, err
		}
	}
	a.catalog = catalog.NewRepo(a.db)

	a.backend, err = openBackend(ctx, cfg.Actor)
	if err != nil {
		a.Close()
		return nil, err
	}

	routes, err := cfg.Routes()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.actors = &scheduler.Actors{
		Backend: a.backend,
		Routes:  routes,
		Status:  a.catalog,
		Clock:   actor.SystemClock{},
		Config:  cfg.SchedulerConfig(),
		Log:     log,
		Metrics: a.metrics,
	}
	if opts.booker != nil {
		if a.actors.Booker, err = opts.booker(a); err != nil {
			a.Close()
			return nil, err
		}
	}
	a.svc = &service.Service{Catalog: a.catalog, Actors: a.actors, Log: log}
	return a, nil
}

func openBackend(ctx context.Context, c config.Actor) (actor.Backend, error) {
	switch c.Backend {
	case config.BackendRedis:
		return redisstore.Dial(ctx, c.RedisAddr, c.RedisPrefix)
	case config.BackendMemory:
		return actor.NewMemory(), nil
	default:
		return sqlitestore.Open(c.SQLitePath)
	}
}

func (a *app) Close() {
	if a.backend != nil {
		if err := a.backend.Close(); err != nil {
			a.log.Warn("close actor backend", zap.Error(err))
		}
	}
	if a.db != nil {
		a.db.Close()
	}
	_ = a.log.Sync()
}

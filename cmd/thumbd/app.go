package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"thumbnail-service/internal/config"
	"thumbnail-service/internal/domain/ports/repository"
	"thumbnail-service/internal/infra/db/postgres"
	"thumbnail-service/internal/infra/db/sqlite"
	"thumbnail-service/internal/infra/logging"
	"thumbnail-service/internal/infra/metrics"
	"thumbnail-service/internal/infra/notify"
	"thumbnail-service/internal/infra/redis"
	"thumbnail-service/internal/infra/transcode"
	"thumbnail-service/internal/infra/worker"
)

// app carries the dependencies shared by the commands.
type app struct {
	cfg     *config.Config
	log     *zerolog.Logger
	jobs    repository.JobRepository
	tm      repository.TransactionManager
	closers []func()
}

func loadApp() (*app, error) {
	cfg, err := config.LoadConfig(configFile, devMode)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("[DEV MODE] enabled")
	}
	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)
	return &app{cfg: cfg, log: logger}, nil
}

// openStore connects the configured job store and brings its schema up to
// date.
func (a *app) openStore(ctx context.Context) error {
	db := a.cfg.Database
	switch db.Driver {
	case "sqlite":
		st, err := sqlite.NewStore(db.URL, logging.Component(a.log, "sqlite"))
		if err != nil {
			return fmt.Errorf("sqlite: %w", err)
		}
		a.jobs = sqlite.NewJobRepo(st)
		a.tm = st
		a.closers = append(a.closers, func() { _ = st.Close() })
	default:
		if err := postgres.Migrate(db.URL, logging.Component(a.log, "migrate")); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
		pool, err := postgres.NewPgxPool(ctx, db.URL, db.MaxConns)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		tm := postgres.NewTxManager(pool)
		a.jobs = postgres.NewJobRepo(pool, tm)
		a.tm = tm
		a.closers = append(a.closers, pool.Close)
	}
	a.log.Info().Str("driver", db.Driver).Msg("job store ready")
	return nil
}

func (a *app) openQueue() (*redis.Clients, *redis.Queue) {
	clients := redis.NewClients(&a.cfg.Redis, a.cfg.Worker.Concurrency)
	a.closers = append(a.closers, func() { _ = clients.Close() })
	q := redis.NewQueue(clients, a.cfg.Redis, a.cfg.Worker.ClaimBlock, logging.Component(a.log, "queue"))
	return clients, q
}

// newPool builds the processor on top of publisher and the pool that feeds
// it.
func (a *app) newPool(q *redis.Queue, publisher *notify.Router) (*worker.Pool, error) {
	w := a.cfg.Worker
	ffmpeg := transcode.NewFFmpeg(w.FFmpegPath, w.FFprobePath, logging.Component(a.log, "transcode"))
	processor, err := worker.NewThumbnailProcessor(a.jobs, q, ffmpeg, publisher, w.TranscodeTimeout, logging.Component(a.log, "worker"))
	if err != nil {
		return nil, err
	}
	return worker.NewPool(q, processor, w.Consumer, w.Concurrency, logging.Component(a.log, "pool")), nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

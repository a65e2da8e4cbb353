package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"thumbnail-service/internal/infra/api"
	"thumbnail-service/internal/infra/logging"
	"thumbnail-service/internal/infra/notify"
	"thumbnail-service/internal/infra/redis"
	"thumbnail-service/internal/infra/storage"
	"thumbnail-service/internal/infra/worker"
	"thumbnail-service/internal/usecase"
)

var serveWithWorker bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, the notification router and the worker pool",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.close()
		log := a.log
		cfg := a.cfg

		if err := a.openStore(ctx); err != nil {
			log.Error().Err(err).Msg("job store unavailable")
			return err
		}

		clients, queue := a.openQueue()
		// submissions fail fast until restart when the broker never came up
		if err := queue.Init(ctx); err != nil {
			log.Warn().Err(err).Msg("starting without task queue")
		}

		router := notify.NewRouter(queue, a.jobs, cfg.Notify.BufferSize, cfg.Notify.RetryInterval, logging.Component(log, "notify"))

		files, err := storage.NewFiles(cfg.Storage.UploadDir, logging.Component(log, "storage"))
		if err != nil {
			return err
		}

		submit := usecase.NewSubmissionUseCase(a.jobs, queue, router, logging.Component(log, "submit"))
		query := usecase.NewJobQueryUseCase(a.jobs, a.tm, logging.Component(log, "query"))
		auth := api.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
		limiter := redis.NewRateLimiter(clients.Producer, cfg.Redis.Prefix)
		srv := api.NewServer(submit, query, router, queue, files, auth, limiter, cfg.HTTP, cfg.Storage, logging.Component(log, "http"))

		var pool *worker.Pool
		if serveWithWorker && queue.IsAvailable() {
			if pool, err = a.newPool(queue, router); err != nil {
				return err
			}
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return router.Run(gctx) })
		g.Go(func() error { return srv.Run(gctx) })
		if pool != nil {
			g.Go(func() error { return pool.Run(gctx) })
		}

		err = g.Wait()
		log.Info().Msg("shutdown complete")
		return err
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveWithWorker, "with-worker", true, "Run the worker pool in this process")
}

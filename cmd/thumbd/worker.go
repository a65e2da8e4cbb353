package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"thumbnail-service/internal/infra/logging"
	"thumbnail-service/internal/infra/notify"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run only the worker pool",
	Long: "Run only the worker pool. Live sessions attached to other processes " +
		"receive progress through the broker lifecycle stream.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.openStore(ctx); err != nil {
			return err
		}
		_, queue := a.openQueue()
		if err := queue.Init(ctx); err != nil {
			return err
		}

		// no local sessions; direct publishes go nowhere
		router := notify.NewRouter(queue, a.jobs, a.cfg.Notify.BufferSize, a.cfg.Notify.RetryInterval, logging.Component(a.log, "notify"))
		pool, err := a.newPool(queue, router)
		if err != nil {
			return err
		}
		return pool.Run(ctx)
	},
}

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/draftforge/draftforge/internal/config"
	"github.com/draftforge/draftforge/internal/store"
	"github.com/draftforge/draftforge/pkg/log"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the generation worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.New()
		if err != nil {
			return err
		}

		logLvl, err := zap.ParseAtomicLevel(cfg.Service.LogLevel)
		if err != nil {
			logLvl = zap.NewAtomicLevelAt(zap.InfoLevel)
		}

		logger := log.InitLog(logLvl)
		defer func() { _ = logger.Sync() }()

		undo := zap.ReplaceGlobals(logger)
		defer undo()

		zap.S().Info("Starting generation worker")
		defer zap.S().Info("Generation worker stopped")

		db, err := store.InitDB(cfg)
		if err != nil {
			zap.S().Fatalf("initializing data store: %v", err)
		}

		st := store.NewStore(db)
		defer st.Close()

		if err := st.InitialMigration(); err != nil {
			zap.S().Fatalf("running initial migration: %v", err)
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGQUIT)
		defer cancel()

		w := newWorker(cfg, st).
			WithPollInterval(time.Duration(cfg.Generation.PollIntervalSeconds) * time.Second)

		return w.Run(ctx)
	},
}

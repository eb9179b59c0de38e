package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/draftforge/draftforge/internal/ai"
	apiserver "github.com/draftforge/draftforge/internal/api_server"
	"github.com/draftforge/draftforge/internal/config"
	"github.com/draftforge/draftforge/internal/service"
	"github.com/draftforge/draftforge/internal/store"
	"github.com/draftforge/draftforge/internal/worker"
	"github.com/draftforge/draftforge/pkg/log"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the draftforge api",
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

		zap.S().Info("Starting API service")
		defer zap.S().Info("API service stopped")

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

		go func() {
			defer cancel()
			listener, err := newListener(cfg.Service.Address)
			if err != nil {
				zap.S().Fatalf("creating listener: %s", err)
			}

			server := apiserver.New(cfg, st, listener)
			if cfg.Service.InlineWorker {
				server = server.WithInlineWorker(newWorker(cfg, st))
			}
			if err := server.Run(ctx); err != nil {
				zap.S().Fatalf("Error running server: %s", err)
			}
		}()

		go func() {
			defer cancel()
			listener, err := newListener(cfg.Service.MetricsAddress)
			if err != nil {
				zap.S().Fatalf("creating metrics listener: %s", err)
			}

			metricsServer := apiserver.NewMetricServer(cfg.Service.MetricsAddress, listener)
			if err := metricsServer.Run(ctx); err != nil {
				zap.S().Fatalf("Error running metrics server: %s", err)
			}
		}()

		<-ctx.Done()
		return nil
	},
}

func newListener(address string) (net.Listener, error) {
	if address == "" {
		address = "localhost:0"
	}
	return net.Listen("tcp", address)
}

func newWorker(cfg *config.Config, st store.Store) *worker.Worker {
	client := ai.NewOpenAIClient(cfg.Generation.OpenAIKey, cfg.Generation.OpenAIBaseUrl)
	generator := worker.NewSectionGenerator(
		client,
		cfg.Generation.Model,
		cfg.Generation.MaxTokensPerSection,
		time.Duration(cfg.Generation.SectionTimeout)*time.Second,
	)

	usage := service.NewUsageService(st)
	return worker.New(st, usage, generator, ai.ProviderOpenAI, cfg.Generation.Model)
}

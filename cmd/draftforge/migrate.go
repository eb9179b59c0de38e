package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/draftforge/draftforge/internal/config"
	"github.com/draftforge/draftforge/internal/store"
	"github.com/draftforge/draftforge/pkg/log"
	"github.com/draftforge/draftforge/pkg/migrations"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Migrate the db",
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

		zap.S().Info("Migrating the database")
		defer zap.S().Info("Db migrated")

		if cfg.Service.MigrationFolder != "" {
			return migrations.MigrateStore(cfg.Database.DSN(), cfg.Service.MigrationFolder)
		}

		db, err := store.InitDB(cfg)
		if err != nil {
			zap.S().Fatalf("initializing data store: %v", err)
		}

		st := store.NewStore(db)
		defer st.Close()

		return st.InitialMigration()
	},
}

// Package migrations runs the folder-based SQL migrations operators apply
// against postgres. Test environments use the store's AutoMigrate instead.
package migrations

import (
	"database/sql"
	"fmt"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

func MigrateStore(dsn string, migrationFolder string) error {
	goose.SetLogger(&logger{})

	fi, err := os.Stat(migrationFolder)
	if err != nil {
		return err
	}

	if !fi.Mode().IsDir() {
		return fmt.Errorf("failed to open migration folder: %s is not a folder", migrationFolder)
	}

	goose.SetBaseFS(os.DirFS(migrationFolder))

	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}

	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	return goose.Up(sqlDB, ".")
}

// logger adapts goose's logging to zap.
type logger struct{}

func (l *logger) Fatalf(format string, v ...interface{}) {
	zap.S().Named("migration").Fatalf(format, v...)
}

func (l *logger) Printf(format string, v ...interface{}) {
	zap.S().Named("migration").Infof(format, v...)
}

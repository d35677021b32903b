package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/inspectio/finding-overrides/internal/config"
	"github.com/inspectio/finding-overrides/pkg/findings/ledger"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migration modes.
const (
	MigrateAuto = "auto"
	MigrateSQL  = "sql"
	MigrateNone = "none"
)

// Migrate brings the schema up to date according to cfg.Migrate while holding
// the migration lock when cfg.MigrationLock is set.
func Migrate(ctx context.Context, gdb *gorm.DB, store *ledger.Store, cfg config.DatabaseConfig, logger *slog.Logger) error {
	if gdb == nil || cfg.Migrate == MigrateNone {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	run := func() error {
		switch cfg.Migrate {
		case MigrateSQL:
			sqlDB, err := sql.Open("postgres", cfg.DSN)
			if err != nil {
				return fmt.Errorf("open migration connection: %w", err)
			}
			defer sqlDB.Close()
			if err := RunSQLMigrations(sqlDB, "up"); err != nil {
				return err
			}
			version, dirty, err := MigrationVersion(sqlDB)
			if err != nil {
				return err
			}
			logger.Info("sql migrations applied", "version", version, "dirty", dirty)
			return nil
		case MigrateAuto, "":
			if err := store.AutoMigrate(); err != nil {
				return fmt.Errorf("auto-migrate ledger tables: %w", err)
			}
			logger.Info("ledger tables migrated", "dialect", gdb.Dialector.Name())
			return nil
		}
		return fmt.Errorf("invalid migration mode %q", cfg.Migrate)
	}

	if !cfg.MigrationLock {
		return run()
	}
	locker, err := NewMigrationLocker(gdb)
	if err != nil {
		return err
	}
	return locker.WithLock(ctx, run)
}

func newMigrator(db *sql.DB) (*migrate.Migrate, error) {
	driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: "override_schema_migrations"})
	if err != nil {
		return nil, fmt.Errorf("create migration driver: %w", err)
	}
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("create migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("create migration instance: %w", err)
	}
	return m, nil
}

// RunSQLMigrations applies ("up") or reverts ("down") the embedded Postgres
// migrations.
func RunSQLMigrations(db *sql.DB, direction string) error {
	m, err := newMigrator(db)
	if err != nil {
		return err
	}
	switch direction {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	default:
		return fmt.Errorf("invalid migration direction: %s (must be 'up' or 'down')", direction)
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run %s migrations: %w", direction, err)
	}
	return nil
}

// MigrationVersion returns the applied migration version.
func MigrationVersion(db *sql.DB) (uint, bool, error) {
	m, err := newMigrator(db)
	if err != nil {
		return 0, false, err
	}
	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, fmt.Errorf("get migration version: %w", err)
	}
	return version, dirty, nil
}

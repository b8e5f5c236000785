// Copyright (c) 2026 Agora. All rights reserved.
// Author: tai.buivan.jp@gmail.com

// Package migration applies and inspects the identity schema with golang-migrate.
//
// The API applies pending migrations on boot; identityctl exposes the same
// operations plus status and rollback for operators.
package migration

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	// pgx5 driver registers "pgx5" scheme for golang-migrate.
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	// file source reads .sql files from disk.
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// Status is the schema version recorded in schema_migrations.
type Status struct {
	Version uint
	Dirty   bool
	// Empty is true before the first migration ran.
	Empty bool
}

func (s Status) String() string {
	switch {
	case s.Empty:
		return "version=none"
	case s.Dirty:
		return fmt.Sprintf("version=%d dirty", s.Version)
	default:
		return fmt.Sprintf("version=%d", s.Version)
	}
}

// RunUp applies all pending UP migrations and returns the resulting version.
//
// # Parameters
//   - dsn: A libpq-compatible DSN or postgres:// URL.
//   - migrationsPath: Filesystem path to the migrations directory.
//   - logger: Structured logger for migration events.
func RunUp(dsn, migrationsPath string, logger *slog.Logger) (Status, error) {
	return withMigrator(dsn, migrationsPath, logger, func(migrator *migrate.Migrate, before Status) error {
		if before.Dirty {
			return fmt.Errorf("migration: database is in a dirty state at version %d (manual intervention required)", before.Version)
		}

		logger.Info("migration_started", slog.Any("current_version", before.Version))

		if err := migrator.Up(); err != nil {
			if errors.Is(err, migrate.ErrNoChange) {
				logger.Info("migration_already_up_to_date")
				return nil
			}
			return fmt.Errorf("migration: up failed: %w", err)
		}
		return nil
	})
}

// RunDown rolls back steps migrations. Rolling back past the first version
// leaves an empty schema.
func RunDown(dsn, migrationsPath string, steps int, logger *slog.Logger) (Status, error) {
	if steps < 1 {
		return Status{}, fmt.Errorf("migration: steps must be positive, got %d", steps)
	}

	return withMigrator(dsn, migrationsPath, logger, func(migrator *migrate.Migrate, before Status) error {
		if before.Dirty {
			return fmt.Errorf("migration: database is in a dirty state at version %d (manual intervention required)", before.Version)
		}
		if err := migrator.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("migration: down failed: %w", err)
		}
		logger.Warn("migration_rolled_back", slog.Any("from_version", before.Version), slog.Int("steps", steps))
		return nil
	})
}

// CurrentStatus reports the schema version without changing anything.
func CurrentStatus(dsn, migrationsPath string, logger *slog.Logger) (Status, error) {
	return withMigrator(dsn, migrationsPath, logger, func(*migrate.Migrate, Status) error { return nil })
}

func withMigrator(dsn, migrationsPath string, logger *slog.Logger, fn func(*migrate.Migrate, Status) error) (Status, error) {
	migrator, err := migrate.New("file://"+migrationsPath, DriverURL(dsn))
	if err != nil {
		return Status{}, fmt.Errorf("migration: failed to initialize: %w", err)
	}
	defer func() {
		sourceError, dbError := migrator.Close()
		if sourceError != nil {
			logger.Error("migration_source_close_failed", slog.Any("error", sourceError))
		}
		if dbError != nil {
			logger.Error("migration_db_close_failed", slog.Any("error", dbError))
		}
	}()

	migrator.Log = &migrateLogger{logger: logger}

	before, err := readStatus(migrator)
	if err != nil {
		return Status{}, err
	}
	if err := fn(migrator, before); err != nil {
		return before, err
	}

	after, err := readStatus(migrator)
	if err != nil {
		return before, err
	}
	if after != before {
		logger.Info("migration_successful",
			slog.String("from", before.String()),
			slog.String("to", after.String()),
		)
	}
	return after, nil
}

func readStatus(migrator *migrate.Migrate) (Status, error) {
	version, dirty, err := migrator.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return Status{Empty: true}, nil
	}
	if err != nil {
		return Status{}, fmt.Errorf("migration: failed to get current version: %w", err)
	}
	return Status{Version: version, Dirty: dirty}, nil
}

// DriverURL rewrites a postgres DSN to the pgx5:// scheme golang-migrate expects.
func DriverURL(dsn string) string {
	for _, prefix := range []string{"postgres://", "postgresql://"} {
		if rest, ok := strings.CutPrefix(dsn, prefix); ok {
			return "pgx5://" + rest
		}
	}
	return dsn
}

// migrateLogger adapts golang-migrate's logger interface to slog.
type migrateLogger struct {
	logger *slog.Logger
}

// Printf implements migrate.Logger.
func (l *migrateLogger) Printf(format string, args ...any) {
	l.logger.Debug("migration_progress", slog.String("detail", strings.TrimSpace(fmt.Sprintf(format, args...))))
}

// Verbose implements migrate.Logger.
func (l *migrateLogger) Verbose() bool {
	return false
}

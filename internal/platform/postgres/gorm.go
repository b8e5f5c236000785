// Copyright (c) 2026 Agora. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package postgres

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// slowQueryThreshold marks gorm statements worth a warning.
const slowQueryThreshold = 500 * time.Millisecond

// NewGorm opens a gorm handle that shares the connections of pool.
//
// The append-only audit tables are written through gorm, everything else
// through raw pgx. Sharing the pool keeps a single connection budget.
func NewGorm(pool *pgxpool.Pool, logger *slog.Logger) (*gorm.DB, error) {
	sqlDB := stdlib.OpenDBFromPool(pool)

	db, err := gorm.Open(gormpostgres.New(gormpostgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: gormlogger.New(&gormLogWriter{logger: logger}, gormlogger.Config{
			SlowThreshold:             slowQueryThreshold,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to open gorm: %w", err)
	}

	return db, nil
}

// gormLogWriter adapts gorm's Printf-style writer to slog.
type gormLogWriter struct {
	logger *slog.Logger
}

// Printf implements gormlogger.Writer.
func (w *gormLogWriter) Printf(format string, args ...any) {
	w.logger.Warn("gorm_statement", slog.String("detail", fmt.Sprintf(format, args...)))
}

// Copyright (c) 2026 Agora. All rights reserved.
// Author: tai.buivan.jp@gmail.com

// Command identityctl is the operator tool for the identity service.
//
// It talks to PostgreSQL and Redis directly with the same configuration as
// cmd/api, so it works while the API is down (for example to unblock an
// address or run migrations before a deploy).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/taibuivan/agora/internal/platform/config"
	"github.com/taibuivan/agora/internal/platform/constants"
	"github.com/taibuivan/agora/internal/platform/migration"
	pgstore "github.com/taibuivan/agora/internal/platform/postgres"
	redisstore "github.com/taibuivan/agora/internal/platform/redis"
	"github.com/taibuivan/agora/internal/security/audit"
	"github.com/taibuivan/agora/internal/security/credential"
	"github.com/taibuivan/agora/internal/security/ipguard"
	"github.com/taibuivan/agora/internal/security/session"
	"github.com/taibuivan/agora/internal/security/twofactor"
	"github.com/taibuivan/agora/internal/users/account"
	"github.com/taibuivan/agora/internal/users/auth"
)

func main() {
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	})).With(slog.String("app", "identityctl"))

	root := newRootCommand(func(ctx context.Context) (*services, func(), error) {
		return connect(ctx, log)
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

// connect builds the services the commands drive.
func connect(ctx context.Context, log *slog.Logger) (*services, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	pool, err := pgstore.NewPool(ctx, cfg.DatabaseURL, log)
	if err != nil {
		return nil, nil, err
	}

	gormDB, err := pgstore.NewGorm(pool, log)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}

	rdb, err := redisstore.NewClient(ctx, cfg.RedisURL, log)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}

	security := cfg.Security

	// The tool never issues tokens, so the manager runs without a signer.
	accounts := account.NewService(account.NewPostgresRepository(pool), nil, log)
	sessions := session.NewManager(session.NewPostgresStore(pool), nil, auth.NewSubjectSource(accounts), session.DefaultConfig, nil, log)
	accounts.WithSessionRevoker(sessions)

	twoFactorStore := twofactor.NewPostgresStore(pool)

	svc := &services{
		schema:  schemaRunner{dsn: cfg.DatabaseURL, path: cfg.MigrationPath, log: log},
		ips: ipguard.NewGuard(ipguard.NewPostgresStore(pool), ipguard.Policy{
			TempThreshold:        security.IPTempThreshold,
			BaseBlock:            security.IPBaseBlock,
			MaxBlock:             security.IPMaxBlock,
			PermanentAfterBlocks: security.IPPermanentAfterBlks,
		}, nil, log),
		alerts:   audit.NewRecorder(gormDB, constants.SchemaIdentity, nil, nil, log),
		sessions: sessions,
		accounts: accounts,
		lockouts: credential.NewService(credential.NewPostgresStore(pool), sessions, credential.Policy{
			Threshold: security.LockoutThreshold,
			Window:    security.LockoutWindow,
		}, log),
		backups: twofactor.NewEngine(twofactor.Stores{
			Codes:    twoFactorStore,
			Backups:  twoFactorStore,
			Accounts: twoFactorStore,
			Pending:  twofactor.NewRedisPendingStore(rdb),
		}, nil, twofactor.Config{TOTPIssuer: security.TOTPIssuer}, nil, log),
		reapAge: security.SessionReapAge,
	}

	closer := func() {
		_ = rdb.Close()
		pool.Close()
	}
	return svc, closer, nil
}

// schemaRunner binds the migration helpers to the configured database.
type schemaRunner struct {
	dsn  string
	path string
	log  *slog.Logger
}

func (runner schemaRunner) Up() (migration.Status, error) {
	return migration.RunUp(runner.dsn, runner.path, runner.log)
}

func (runner schemaRunner) Down(steps int) (migration.Status, error) {
	return migration.RunDown(runner.dsn, runner.path, steps, runner.log)
}

func (runner schemaRunner) Status() (migration.Status, error) {
	return migration.CurrentStatus(runner.dsn, runner.path, runner.log)
}

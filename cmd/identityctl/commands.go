// Copyright (c) 2026 Agora. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/taibuivan/agora/internal/platform/migration"
	"github.com/taibuivan/agora/internal/security/ipguard"
	"github.com/taibuivan/agora/internal/security/session"
	"github.com/taibuivan/agora/internal/users/account"
)

// operatorActor is recorded as the actor of every change made from the CLI.
const operatorActor = "identityctl"

// # Contracts

type schemaAdmin interface {
	Up() (migration.Status, error)
	Down(steps int) (migration.Status, error)
	Status() (migration.Status, error)
}

type ipAdmin interface {
	Block(ctx context.Context, ip string, input ipguard.BlockInput) (*ipguard.Record, error)
	Unblock(ctx context.Context, ip, actor string) (*ipguard.Record, error)
}

type alertAdmin interface {
	ResolveAlert(ctx context.Context, alertID, actor string) error
}

type sessionAdmin interface {
	Reap(ctx context.Context, age time.Duration) (session.ReapResult, error)
	RevokeAll(ctx context.Context, userID, reason string) error
}

type accountAdmin interface {
	FindByLogin(ctx context.Context, login string) (*account.Identity, error)
	SetStatus(ctx context.Context, userID string, status account.Status, actor string) error
}

type lockoutAdmin interface {
	Unlock(ctx context.Context, userID, actor string) error
}

type backupAdmin interface {
	GenerateBackupCodes(ctx context.Context, identity *account.Identity) ([]string, error)
}

// services are the collaborators the commands drive.
type services struct {
	schema   schemaAdmin
	ips      ipAdmin
	alerts   alertAdmin
	sessions sessionAdmin
	accounts accountAdmin
	lockouts lockoutAdmin
	backups  backupAdmin
	reapAge  time.Duration
}

// connector opens the services and returns a function releasing them.
type connector func(ctx context.Context) (*services, func(), error)

// # Command Tree

func newRootCommand(connect connector) *cobra.Command {
	root := &cobra.Command{
		Use:           "identityctl",
		Short:         "Operate the Agora identity service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	run := func(fn func(ctx context.Context, cmd *cobra.Command, svc *services) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			svc, closer, err := connect(cmd.Context())
			if err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			defer closer()
			return fn(cmd.Context(), cmd, svc)
		}
	}

	root.AddCommand(
		migrateCommand(run),
		ipCommand(run),
		alertCommand(run),
		sessionsCommand(run),
		backupCodesCommand(run),
		accountCommand(run),
	)
	return root
}

type runner func(fn func(ctx context.Context, cmd *cobra.Command, svc *services) error) func(*cobra.Command, []string) error

func migrateCommand(run runner) *cobra.Command {
	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: run(func(_ context.Context, cmd *cobra.Command, svc *services) error {
			status, err := svc.schema.Up()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrations applied (%s)\n", status)
			return nil
		}),
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Print the current schema version",
		Args:  cobra.NoArgs,
		RunE: run(func(_ context.Context, cmd *cobra.Command, svc *services) error {
			current, err := svc.schema.Status()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), current.String())
			return nil
		}),
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migrations",
		Args:  cobra.NoArgs,
		PreRunE: func(*cobra.Command, []string) error {
			if steps < 1 {
				return errors.New("--steps must be at least 1")
			}
			return nil
		},
		RunE: run(func(_ context.Context, cmd *cobra.Command, svc *services) error {
			current, err := svc.schema.Down(steps)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rolled back %d (%s)\n", steps, current)
			return nil
		}),
	}
	down.Flags().IntVar(&steps, "steps", 1, "Number of migrations to roll back")

	migrate.AddCommand(status, down)
	return migrate
}

// # IP Reputation

func ipCommand(run runner) *cobra.Command {
	ip := &cobra.Command{Use: "ip", Short: "Block and unblock addresses"}

	var (
		reason    string
		permanent bool
		duration  time.Duration
	)
	block := &cobra.Command{
		Use:   "block <ip>",
		Short: "Block an address",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(*cobra.Command, []string) error {
			if strings.TrimSpace(reason) == "" {
				return errors.New("--reason is required")
			}
			return nil
		},
	}
	block.RunE = func(cmd *cobra.Command, args []string) error {
		return run(func(ctx context.Context, cmd *cobra.Command, svc *services) error {
			record, err := svc.ips.Block(ctx, args[0], ipguard.BlockInput{
				Reason:    reason,
				Permanent: permanent,
				Duration:  duration,
				Actor:     operatorActor,
			})
			if err != nil {
				return err
			}
			printRecord(cmd, record)
			return nil
		})(cmd, args)
	}
	block.Flags().StringVar(&reason, "reason", "", "Why the address is blocked")
	block.Flags().BoolVar(&permanent, "permanent", false, "Block until explicitly unblocked")
	block.Flags().DurationVar(&duration, "for", 0, "Length of a temporary block (default: base block)")

	unblock := &cobra.Command{
		Use:   "unblock <ip>",
		Short: "Lift a block; the lifetime failure count is kept",
		Args:  cobra.ExactArgs(1),
	}
	unblock.RunE = func(cmd *cobra.Command, args []string) error {
		return run(func(ctx context.Context, cmd *cobra.Command, svc *services) error {
			record, err := svc.ips.Unblock(ctx, args[0], operatorActor)
			if err != nil {
				return err
			}
			printRecord(cmd, record)
			return nil
		})(cmd, args)
	}

	ip.AddCommand(block, unblock)
	return ip
}

func printRecord(cmd *cobra.Command, record *ipguard.Record) {
	expiry := "never"
	if record.ExpiresAt != nil {
		expiry = record.ExpiresAt.UTC().Format(time.RFC3339)
	}
	if record.BlockType == ipguard.BlockNone {
		expiry = "-"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s block=%s blocks=%d failures=%d expires=%s\n",
		record.IP, record.BlockType, record.BlockCount, record.FailedAttempts, expiry)
}

// # Alerts

func alertCommand(run runner) *cobra.Command {
	alert := &cobra.Command{Use: "alert", Short: "Manage security alerts"}

	resolve := &cobra.Command{
		Use:   "resolve <alert-id>",
		Short: "Mark an alert resolved",
		Args:  cobra.ExactArgs(1),
	}
	resolve.RunE = func(cmd *cobra.Command, args []string) error {
		return run(func(ctx context.Context, cmd *cobra.Command, svc *services) error {
			if err := svc.alerts.ResolveAlert(ctx, args[0], operatorActor); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "alert %s resolved\n", args[0])
			return nil
		})(cmd, args)
	}

	alert.AddCommand(resolve)
	return alert
}

// # Sessions

func sessionsCommand(run runner) *cobra.Command {
	sessions := &cobra.Command{Use: "sessions", Short: "Session hygiene and revocation"}

	var age time.Duration
	reap := &cobra.Command{
		Use:   "reap",
		Short: "Delete tokens and sessions that have been dead for a while",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, cmd *cobra.Command, svc *services) error {
			cutoff := age
			if cutoff <= 0 {
				cutoff = svc.reapAge
			}
			result, err := svc.sessions.Reap(ctx, cutoff)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reaped %d tokens and %d sessions\n", result.Tokens, result.Sessions)
			return nil
		}),
	}
	reap.Flags().DurationVar(&age, "older-than", 0, "Minimum time since death (default: SECURITY_SESSION_REAP_AGE)")

	revokeAll := &cobra.Command{
		Use:   "revoke-all <login>",
		Short: "Sign a user out everywhere",
		Args:  cobra.ExactArgs(1),
	}
	revokeAll.RunE = func(cmd *cobra.Command, args []string) error {
		return run(func(ctx context.Context, cmd *cobra.Command, svc *services) error {
			identity, err := svc.accounts.FindByLogin(ctx, args[0])
			if err != nil {
				return err
			}
			if err := svc.sessions.RevokeAll(ctx, identity.ID, "revoked by operator"); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "all sessions of %s revoked\n", identity.Username)
			return nil
		})(cmd, args)
	}

	sessions.AddCommand(reap, revokeAll)
	return sessions
}

// # Second Factor

func backupCodesCommand(run runner) *cobra.Command {
	codes := &cobra.Command{Use: "backup-codes", Short: "Manage recovery codes"}

	regenerate := &cobra.Command{
		Use:   "regenerate <login>",
		Short: "Replace a user's backup codes and print the new set once",
		Args:  cobra.ExactArgs(1),
	}
	regenerate.RunE = func(cmd *cobra.Command, args []string) error {
		return run(func(ctx context.Context, cmd *cobra.Command, svc *services) error {
			identity, err := svc.accounts.FindByLogin(ctx, args[0])
			if err != nil {
				return err
			}
			generated, err := svc.backups.GenerateBackupCodes(ctx, identity)
			if err != nil {
				return err
			}
			for _, code := range generated {
				fmt.Fprintln(cmd.OutOrStdout(), code)
			}
			return nil
		})(cmd, args)
	}

	codes.AddCommand(regenerate)
	return codes
}

// # Accounts

func accountCommand(run runner) *cobra.Command {
	accounts := &cobra.Command{Use: "account", Short: "Account moderation"}

	unlock := &cobra.Command{
		Use:   "unlock <login>",
		Short: "Lift a credential lockout before it expires",
		Args:  cobra.ExactArgs(1),
	}
	unlock.RunE = func(cmd *cobra.Command, args []string) error {
		return run(func(ctx context.Context, cmd *cobra.Command, svc *services) error {
			identity, err := svc.accounts.FindByLogin(ctx, args[0])
			if err != nil {
				return err
			}
			if err := svc.lockouts.Unlock(ctx, identity.ID, operatorActor); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s unlocked\n", identity.Username)
			return nil
		})(cmd, args)
	}

	status := &cobra.Command{
		Use:   "status <login> <active|suspended|banned>",
		Short: "Change the administrative status of an account",
		Args:  cobra.ExactArgs(2),
		PreRunE: func(_ *cobra.Command, args []string) error {
			if next := account.Status(args[1]); !next.Valid() || next == account.StatusPending {
				return fmt.Errorf("unknown status %q", args[1])
			}
			return nil
		},
	}
	status.RunE = func(cmd *cobra.Command, args []string) error {
		return run(func(ctx context.Context, cmd *cobra.Command, svc *services) error {
			identity, err := svc.accounts.FindByLogin(ctx, args[0])
			if err != nil {
				return err
			}
			if err := svc.accounts.SetStatus(ctx, identity.ID, account.Status(args[1]), operatorActor); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", identity.Username, args[1])
			return nil
		})(cmd, args)
	}

	accounts.AddCommand(unlock, status)
	return accounts
}

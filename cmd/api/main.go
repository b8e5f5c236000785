// Copyright (c) 2026 Agora. All rights reserved.
// Author: tai.buivan.jp@gmail.com

// Command api is the entry point for the Agora identity HTTP API server.
//
// # Startup Sequence
//
//  1. Initialize structured logger.
//  2. Load configuration from environment variables.
//  3. Connect to PostgreSQL (pgxpool + gorm) and Redis.
//  4. Run database migrations (idempotent).
//  5. Build the platform services (metrics, notifications, alert fan-out, geo lookups).
//  6. Wire the security and identity domains.
//  7. Start the session reaper and the HTTP server with graceful shutdown.
//
// No business logic lives here. All wiring is explicit constructor injection.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/taibuivan/agora/internal/api"
	"github.com/taibuivan/agora/internal/platform/config"
	"github.com/taibuivan/agora/internal/platform/constants"
	"github.com/taibuivan/agora/internal/platform/metrics"
	"github.com/taibuivan/agora/internal/platform/migration"
	"github.com/taibuivan/agora/internal/platform/notify"
	pgstore "github.com/taibuivan/agora/internal/platform/postgres"
	redisstore "github.com/taibuivan/agora/internal/platform/redis"
	"github.com/taibuivan/agora/internal/platform/sec"
	"github.com/taibuivan/agora/internal/security/audit"
	"github.com/taibuivan/agora/internal/security/credential"
	"github.com/taibuivan/agora/internal/security/device"
	"github.com/taibuivan/agora/internal/security/ipguard"
	"github.com/taibuivan/agora/internal/security/risk"
	"github.com/taibuivan/agora/internal/security/session"
	"github.com/taibuivan/agora/internal/security/twofactor"
	"github.com/taibuivan/agora/internal/users/account"
	"github.com/taibuivan/agora/internal/users/auth"
	"github.com/taibuivan/agora/internal/users/authz"
	"github.com/taibuivan/agora/internal/users/external"
)

func main() {
	// ── 1. Logger ──────────────────────────────────────────────────────────
	// Initialize first so that subsequent startup errors are structured JSON.
	rawLog := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	log := rawLog.With(slog.String("app", constants.AppName))
	slog.SetDefault(log)

	log.Info("service_initializing", slog.String("version", constants.AppVersion))

	// ── 2. Configuration ──────────────────────────────────────────────────
	cfg, err := config.Load()
	must(log, err, "load configuration")

	if cfg.Debug {
		debugLog := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
		log = debugLog.With(slog.String("app", constants.AppName))
		slog.SetDefault(log)
		log.Debug("debug_logging_enabled")
	}

	log.Info("configuration_loaded",
		slog.String("environment", cfg.Environment),
		slog.String("port", cfg.ServerPort),
	)

	// Root context for startup. A deadline catches misconfiguration quickly.
	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startupCancel()

	// Lives until shutdown; background loops stop when it is cancelled.
	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	// ── 3. PostgreSQL & Redis ─────────────────────────────────────────────
	pool, err := pgstore.NewPool(startupCtx, cfg.DatabaseURL, log)
	must(log, err, "connect to postgres")
	defer func() {
		log.Info("closing postgres pool")
		pool.Close()
	}()

	gormDB, err := pgstore.NewGorm(pool, log)
	must(log, err, "open gorm session")

	rdb, err := redisstore.NewClient(startupCtx, cfg.RedisURL, log)
	must(log, err, "connect to redis")
	defer func() {
		log.Info("closing redis client")
		if cerr := rdb.Close(); cerr != nil {
			log.Error("redis close error", slog.Any("error", cerr))
		}
	}()

	// ── 4. Migrations ─────────────────────────────────────────────────────
	schema, err := migration.RunUp(cfg.DatabaseURL, cfg.MigrationPath, log)
	must(log, err, "run migrations")
	log.Info("schema_ready", slog.String("schema", schema.String()))

	// ── 5. Platform Services ──────────────────────────────────────────────
	registry := prometheus.NewRegistry()
	recorder := metrics.New(registry)

	dispatcher := notify.NewDispatcher(log, recorder)
	registerSenders(dispatcher, cfg, log)

	var publisher audit.Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaPublisher, err := audit.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.AlertTopic)
		must(log, err, "create kafka alert publisher")
		defer func() {
			if cerr := kafkaPublisher.Close(); cerr != nil {
				log.Error("kafka close error", slog.Any("error", cerr))
			}
		}()
		publisher = kafkaPublisher
		log.Info("alert_fanout_enabled", slog.String("topic", cfg.Kafka.AlertTopic))
	}
	auditor := audit.NewRecorder(gormDB, constants.SchemaIdentity, publisher, recorder, log)

	var locator risk.Locator
	if cfg.GeoIP.DatabasePath != "" {
		resolver, err := risk.OpenMaxMind(cfg.GeoIP.DatabasePath)
		must(log, err, "open geoip database")
		defer resolver.Close()
		locator = risk.NewCachedLocator(resolver, cfg.GeoIP.CacheTTL, cfg.GeoIP.LookupTimeout, log)
	}

	riskPolicy, err := risk.LoadPolicy(cfg.Security.RiskPolicyPath)
	must(log, err, "load risk policy")

	jwtSvc, err := sec.NewTokenService(cfg.JWTPrivKeyPath, cfg.JWTPubKeyPath, constants.AuthIssuer)
	must(log, err, "initialize jwt service")

	// ── 6. Domain Wiring ──────────────────────────────────────────────────
	security := cfg.Security

	accountService := account.NewService(account.NewPostgresRepository(pool), nil, log)

	sessionManager := session.NewManager(
		session.NewPostgresStore(pool),
		jwtSvc,
		auth.NewSubjectSource(accountService),
		session.Config{
			AccessTTL:     security.AccessTokenTTL,
			RefreshTTL:    security.RefreshTokenTTL,
			TouchInterval: session.DefaultConfig.TouchInterval,
			FreshFor:      security.StepUpFreshFor,
		},
		recorder,
		log,
	).WithReplayObserver(auth.NewReplayAlerter(accountService, auditor, dispatcher, log))
	accountService.WithSessionRevoker(sessionManager)

	ipGuard := ipguard.NewGuard(ipguard.NewPostgresStore(pool), ipguard.Policy{
		TempThreshold:        security.IPTempThreshold,
		BaseBlock:            security.IPBaseBlock,
		MaxBlock:             security.IPMaxBlock,
		PermanentAfterBlocks: security.IPPermanentAfterBlks,
	}, recorder, log)

	credentialService := credential.NewService(credential.NewPostgresStore(pool), sessionManager, credential.Policy{
		Threshold: security.LockoutThreshold,
		Window:    security.LockoutWindow,
	}, log)

	twoFactorStore := twofactor.NewPostgresStore(pool)
	twoFactorEngine := twofactor.NewEngine(twofactor.Stores{
		Codes:    twoFactorStore,
		Backups:  twoFactorStore,
		Accounts: twoFactorStore,
		Pending:  twofactor.NewRedisPendingStore(rdb),
	}, dispatcher, twofactor.Config{
		CodeTTL:     security.OTPTTL,
		MaxAttempts: security.OTPMaxAttempts,
		TOTPIssuer:  security.TOTPIssuer,
	}, recorder, log)

	scorer := risk.NewScorer(risk.NewRedisSignals(rdb), locator, ipGuard, riskPolicy, recorder, log)

	permissions := authz.NewCatalog(authz.NewPostgresStore(pool), authz.DefaultTTL, log)
	must(log, permissions.Load(startupCtx), "load role catalog")

	providers := external.NewRegistry(externalProviders(startupCtx, cfg, log)...)

	authService := auth.NewService(auth.Dependencies{
		Accounts:     accountService,
		Credentials:  credentialService,
		SecondFactor: twoFactorEngine,
		Devices:      device.NewRegistry(device.NewPostgresRepository(pool), log),
		Risk:         scorer,
		Sessions:     sessionManager,
		IPGuard:      ipGuard,
		Auditor:      auditor,
		Notifier:     dispatcher,
		Limiter:      redisstore.NewWindowLimiter(rdb, constants.RedisPrefixLoginRate, security.LoginRateMax, security.LoginRateWindow),
		Challenges:   auth.NewRedisChallengeStore(rdb, constants.RedisPrefixChallenge),
		ResetTokens:  auth.NewRedisTokenStore(rdb, constants.RedisPrefixResetToken, "Reset token"),
		VerifyTokens: auth.NewRedisTokenStore(rdb, constants.RedisPrefixVerifyToken, "Verification token"),
		States:       auth.NewRedisTokenStore(rdb, constants.RedisPrefixOAuthState, "Sign-in state"),
		Providers:    providers,
		Links:        external.NewPostgresLinkStore(pool),
		Metrics:      recorder,
		Logger:       log,
	}, auth.Config{
		ChallengeTTL:         security.ChallengeTTL,
		ChallengeMaxAttempts: security.OTPMaxAttempts,
	})

	// ── 7. Health handlers (wired with real dependency checkers) ──────────
	liveness, readiness := api.NewHealthHandlers([]api.Check{
		{Name: "postgres", Probe: func(ctx context.Context) error { return pgstore.Ping(ctx, pool) }},
		{Name: "redis", Probe: func(ctx context.Context) error { return redisstore.Ping(ctx, rdb) }},
	}, log)

	// ── 8. HTTP Server ────────────────────────────────────────────────────
	handlers := api.Handlers{
		Liveness:    liveness,
		Readiness:   readiness,
		Auth:        auth.NewHandler(authService, sessionManager, cfg.IsProduction()),
		Account:     account.NewHandler(accountService),
		Admin:       api.NewAdminHandler(auditor, ipGuard, credentialService, permissions),
		Permissions: permissions,
	}

	server := api.NewServer(appCtx, cfg, log, api.Security{
		Verifier: jwtSvc,
		Guard:    sessionManager,
		Metrics:  recorder,
	}, handlers)

	go reapSessions(appCtx, sessionManager, security.SessionReapAge, security.ReapInterval, log)

	// ── 9. Graceful Shutdown ──────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)

	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Block until OS signal or server error.
	select {
	case sig := <-quit:
		log.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-serverErr:
		log.Error("server startup error", slog.Any("error", err))
	}

	appCancel()

	// Give in-flight requests enough time to complete.
	shutdownTimeout := constants.ShutdownTimeout
	log.Info("shutting down server", slog.Duration("timeout", shutdownTimeout))

	if err := server.Shutdown(shutdownTimeout); err != nil {
		log.Error("shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	// Background deliveries hold codes users are waiting for.
	dispatcher.Wait()

	log.Info("server stopped cleanly")
}

// registerSenders installs a sender per configured channel. In development
// an unconfigured channel falls back to the log sender.
func registerSenders(dispatcher *notify.Dispatcher, cfg *config.Config, log *slog.Logger) {
	logSender := notify.NewLogSender(log)

	switch {
	case cfg.SMTP.Host != "":
		dispatcher.Register(notify.ChannelEmail, notify.NewEmailSender(
			cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.From, cfg.SMTP.Username, cfg.SMTP.Password, cfg.SMTP.TLSMode,
		))
	case cfg.IsDevelopment():
		dispatcher.Register(notify.ChannelEmail, logSender)
	default:
		log.Warn("notification_channel_disabled", slog.String("channel", string(notify.ChannelEmail)))
	}

	switch {
	case cfg.SMS.GatewayURL != "":
		dispatcher.Register(notify.ChannelSMS, notify.NewSMSSender(
			cfg.SMS.GatewayURL, cfg.SMS.APIKey, cfg.SMS.Sender, &http.Client{Timeout: constants.NotificationTimeout},
		))
	case cfg.IsDevelopment():
		dispatcher.Register(notify.ChannelSMS, logSender)
	default:
		log.Warn("notification_channel_disabled", slog.String("channel", string(notify.ChannelSMS)))
	}
}

// externalProviders builds the identity providers that have credentials configured.
func externalProviders(ctx context.Context, cfg *config.Config, log *slog.Logger) []external.Provider {
	base := strings.TrimSuffix(cfg.OAuth.RedirectBaseURL, "/")
	var providers []external.Provider

	if cfg.OAuth.GoogleClientID != "" {
		google, err := external.NewOIDCProvider(ctx, external.OIDCConfig{
			Name:         "google",
			Issuer:       external.GoogleIssuer,
			ClientID:     cfg.OAuth.GoogleClientID,
			ClientSecret: cfg.OAuth.GoogleClientSecret,
			RedirectURL:  base + "/google/callback",
		})
		must(log, err, "discover google provider")
		providers = append(providers, google)
	}

	if cfg.OAuth.GitHubClientID != "" {
		providers = append(providers, external.NewOAuth2Provider(external.GitHubConfig(
			cfg.OAuth.GitHubClientID, cfg.OAuth.GitHubClientSecret, base+"/github/callback",
		)))
	}

	log.Info("external_providers_configured", slog.Int("count", len(providers)))
	return providers
}

// reapSessions deletes long-dead tokens and sessions on a fixed interval.
func reapSessions(ctx context.Context, manager *session.Manager, age, interval time.Duration, log *slog.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := manager.Reap(ctx, age); err != nil {
				log.Error("session_reap_failed", slog.Any("error", err))
			}
		}
	}
}

// must logs a structured fatal error and terminates the process if err is non-nil.
//
// It is limited to startup wiring. After startup, all errors are returned
// and handled explicitly.
func must(log *slog.Logger, err error, context string) {
	if err != nil {
		log.Error("startup failure",
			slog.String("context", context),
			slog.Any("error", err),
		)
		os.Exit(1)
	}
}

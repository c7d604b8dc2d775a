// Package main is the entry point for the vetdesk panel BFF.
// It wires all dependencies together and starts the HTTP server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pitabwire/vetdesk/internal/audit"
	"github.com/pitabwire/vetdesk/internal/caseapi"
	"github.com/pitabwire/vetdesk/internal/caselist"
	"github.com/pitabwire/vetdesk/internal/config"
	"github.com/pitabwire/vetdesk/internal/observability"
	"github.com/pitabwire/vetdesk/internal/panel"
	"github.com/pitabwire/vetdesk/internal/session"
	"github.com/pitabwire/vetdesk/internal/transport"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Step 1: Parse CLI flags.
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	// Step 2: Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	// Step 3: Initialize telemetry (logger, tracer, metrics).
	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	// Step 4: Load the case API contract and build the client.
	schema, err := caseapi.LoadSchema(ctx)
	if err != nil {
		logger.Error("case api contract load failed", zap.Error(err))
		return 1
	}
	client, err := caseapi.New(cfg.CaseAPI, schema, logger.Named("caseapi"), metrics)
	if err != nil {
		logger.Error("case api client initialization failed", zap.Error(err))
		return 1
	}

	// Step 5: Session store and cookie binding.
	sessionStore, sessionCloser, err := buildSessionStore(ctx, cfg.Session, logger)
	if err != nil {
		logger.Error("session store initialization failed", zap.Error(err))
		return 1
	}
	sessions := session.NewManager(sessionStore, time.Duration(cfg.Session.CookieMaxAge)*time.Second)

	cookies, err := transport.NewCookieSessions(cfg.Session, os.Getenv(cfg.Session.CookieSecretEnv))
	if err != nil {
		logger.Error("session cookie initialization failed",
			zap.String("secret_env", cfg.Session.CookieSecretEnv),
			zap.Error(err),
		)
		return 1
	}

	// Step 6: Audit journal (optional).
	var (
		journal     *audit.Journal
		auditStore  audit.Store
		auditCloser = func() {}
	)
	if cfg.Audit.Enabled {
		auditStore, auditCloser, err = audit.Open(ctx, cfg.Audit, logger)
		if err != nil {
			logger.Error("audit journal initialization failed", zap.Error(err))
			return 1
		}
		journal = audit.NewJournal(auditStore, logger.Named("audit"), metrics)
	}

	// Step 7: Panel registry, one list controller per browser session.
	listOpts := caselist.OptionsFromConfig(cfg.Panel)
	if journal != nil {
		listOpts.Journal = journal
	}
	panels := panel.NewRegistry(sessions,
		func(s *session.Session) caselist.CaseAPI { return client.ForSession(s) },
		panel.Config{
			IdleTTL:         cfg.Panel.IdleTTL,
			JanitorInterval: cfg.Panel.JanitorInterval,
			List:            listOpts,
		},
		logger.Named("panel"), metrics)

	// Step 8: Build HTTP router.
	checks := []observability.Check{
		observability.Gate(observability.CheckCaseService, client.Available, "case service circuit breaker is open"),
		observability.Gate(observability.CheckCaseContract, client.SchemaLoaded, "case service contract not loaded"),
		observability.Checked(observability.CheckSessionStore, sessions),
	}
	if hc, ok := auditStore.(observability.HealthChecker); ok {
		checks = append(checks, observability.Checked(observability.CheckAuditJournal, hc))
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:         cfg,
		Logger:         logger,
		Client:         client,
		Sessions:       sessions,
		Panels:         panels,
		Cookies:        cookies,
		Journal:        journal,
		HealthHandler:  observability.HandleHealth(),
		ReadyHandler:   observability.HandleReady(checks...),
		MetricsHandler: observability.Handler(),
	})

	// Wrap router with metrics middleware.
	handler := metrics.MetricsMiddleware(observability.TracingMiddleware(router))

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Step 9: Start HTTP server.
	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("case_api", cfg.CaseAPI.BaseURL),
		zap.String("session_driver", cfg.Session.Driver),
		zap.Bool("audit", cfg.Audit.Enabled),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error.
	exitCode := 0
	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		exitCode = 1
	}

	// Graceful shutdown sequence.
	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop accepting new connections and drain in-flight requests.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// Stop the janitor and cancel pending searches, then close stores.
	panels.Close()
	auditCloser()
	sessionCloser()

	// Flush telemetry.
	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return exitCode
}

// buildSessionStore creates the session store selected by config. The
// returned closer is never nil.
func buildSessionStore(ctx context.Context, cfg config.SessionConfig, logger *zap.Logger) (session.Store, func(), error) {
	switch cfg.Driver {
	case "memory", "":
		logger.Info("using in-memory session store")
		return session.NewMemoryStore(), func() {}, nil
	case "redis":
		addr := os.Getenv(cfg.AddrEnv)
		if addr == "" {
			return nil, nil, fmt.Errorf("session store: %s environment variable not set", cfg.AddrEnv)
		}
		rdb := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.DB})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("session store: ping redis: %w", err)
		}
		logger.Info("using redis session store", zap.String("addr", addr), zap.Int("db", cfg.DB))
		return session.NewRedisStore(rdb), func() { _ = rdb.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported session store driver: %q", cfg.Driver)
	}
}

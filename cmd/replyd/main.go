package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/quietline/replyd/internal/accounts"
	"github.com/quietline/replyd/internal/auditlog"
	"github.com/quietline/replyd/internal/classify"
	"github.com/quietline/replyd/internal/config"
	"github.com/quietline/replyd/internal/dispatch"
	"github.com/quietline/replyd/internal/guard"
	"github.com/quietline/replyd/internal/metrics"
	"github.com/quietline/replyd/internal/mgmt"
	"github.com/quietline/replyd/internal/notify"
	"github.com/quietline/replyd/internal/service"
	"github.com/quietline/replyd/internal/session"
	"github.com/quietline/replyd/internal/transport"
)

func main() {
	// Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()

	if os.Getenv("ENVIRONMENT") == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	log.Logger = logger

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	if level, lerr := zerolog.ParseLevel(cfg.LogLevel); lerr == nil {
		zerolog.SetGlobalLevel(level)
	}

	logger.Info().
		Str("environment", cfg.Environment).
		Str("accounts_backend", cfg.AccountsBackend).
		Str("lifecycle_policy", cfg.LifecyclePolicy).
		Str("gateway_url", cfg.GatewayURL).
		Bool("slack_enabled", cfg.SlackEnabled()).
		Msg("starting reply daemon")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Accounts source
	var (
		provider  accounts.SettingsProvider
		directory accounts.Directory
	)
	switch cfg.AccountsBackend {
	case "file":
		fp, ferr := accounts.LoadFile(cfg.AccountsFile)
		if ferr != nil {
			logger.Fatal().Err(ferr).Str("path", cfg.AccountsFile).Msg("failed to load accounts file")
		}
		provider, directory = fp, fp
	default:
		store, serr := accounts.NewSQLiteStore(cfg.DBPath, logger)
		if serr != nil {
			logger.Fatal().Err(serr).Str("path", cfg.DBPath).Msg("failed to open accounts store")
		}
		defer store.Close()
		provider, directory = store, store
	}

	// Reply audit log shares the daemon database.
	audit, err := auditlog.NewSQLiteLog(cfg.DBPath, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open audit log")
	}
	defer audit.Close()

	// Operator notifications
	var notifier notify.Notifier = notify.NewLogNotifier(logger)
	if cfg.SlackEnabled() {
		notifier = notify.NewMultiNotifier(notifier, notify.NewSlackNotifier(cfg.SlackWebhookURL, logger))
	}

	m := metrics.New()

	gateway := transport.NewGateway(cfg.GatewayURL,
		transport.GatewayWithLogger(logger),
		transport.GatewayWithPollTimeout(cfg.GatewayPollTimeout))

	var policy session.LifecyclePolicy
	if cfg.LifecyclePolicy == "polling" {
		policy = session.NewPollingPolicy(logger)
	} else {
		policy = session.NewPersistentPolicy(logger)
	}

	registry := session.NewRegistry(gateway, policy, m, logger)

	dispatcher := dispatch.New(
		provider,
		directory,
		classify.New(logger),
		guard.NewCooldownStore(cfg.CooldownWindow),
		guard.NewInFlightGuard(cfg.InFlightTTL),
		audit,
		m,
		logger,
	)

	svc := service.New(registry, dispatcher, directory, provider, notifier, m, service.Options{
		PresenceMinInterval: cfg.PresenceMinInterval,
		PresenceMaxInterval: cfg.PresenceMaxInterval,
		HealthInterval:      cfg.HealthInterval,
	}, logger)

	// Main HTTP listener: metrics and probes.
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info().Int("port", cfg.HTTPPort).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	var mgmtServer *mgmt.Server
	if cfg.MgmtEnabled() {
		handlers := mgmt.NewHandlers(registry, svc, audit, logger)
		mgmtServer = mgmt.NewServer(mgmt.ServerConfig{
			ListenAddr: cfg.MgmtListenAddr,
			APIKey:     cfg.MgmtAPIKey,
			RateLimit: mgmt.RateLimitConfig{
				RPS:   cfg.MgmtRateLimitRPS,
				Burst: cfg.MgmtRateLimitBurst,
			},
			CORSOrigins: cfg.MgmtCORSOrigins,
		}, handlers, logger)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := mgmtServer.Start(); err != nil {
				logger.Error().Err(err).Msg("management API server error")
			}
		}()
	} else {
		logger.Info().Msg("management API disabled")
	}

	// Supervisor: initial health pass connects every enabled account, then
	// the presence and health loops take over.
	svc.Start(ctx)

	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("shutting down gracefully")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	svc.Stop(shutdownCtx)

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}
	if mgmtServer != nil {
		if err := mgmtServer.Shutdown(); err != nil {
			logger.Error().Err(err).Msg("management API server shutdown error")
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info().Msg("all goroutines stopped")
	case <-time.After(15 * time.Second):
		logger.Warn().Msg("forced shutdown after timeout")
	}

	logger.Info().Msg("reply daemon stopped")
}

package main

import (
	"errors"
	"net/http"
	"os"
	"time"

	"finpulse/internal/auth"
	"finpulse/internal/backend"
	"finpulse/internal/cache"
	"finpulse/internal/cli"
	"finpulse/internal/config"
	"finpulse/internal/dashboard"
	"finpulse/internal/gateway"
	apphttp "finpulse/internal/http"
	"finpulse/internal/ledger"
	"finpulse/internal/log"
	"finpulse/internal/middleware/ratelimit"

	"golang.org/x/sync/errgroup"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"))
	cfg := cli.MustLoadConfig(logger, false)

	if err := run(cfg, logger); err != nil {
		logger.Error("finpulse stopped", log.FieldError, err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *log.Logger) error {
	ctx, stop := cli.SignalContext(logger)
	defer stop()

	logger.Info("Starting finpulse", "port", cfg.Port, "backend", cfg.DataBackend)

	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return err
	}
	res, err := backend.NewFactory(logger).CreateBackend(ctx, bcfg)
	if err != nil {
		return err
	}
	defer res.Close()

	accounts := newAccounts(cfg, res.Users, logger)
	tokens := auth.NewTokens(cfg.JWTSecret, cfg.TokenTTL)
	gw := gateway.New(res.Store, gateway.WithLogger(logger))

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	daily, monthly, goal := cfg.DefaultAmounts()
	defaults := dashboard.StandardDefaults()
	defaults.Limits = ledger.Limits{Daily: daily, Monthly: monthly}
	defaults.Goal.Name = cfg.DefaultGoalName
	defaults.Goal.TargetAmount = goal
	if err := defaults.Validate(); err != nil {
		return err
	}

	registry := dashboard.NewRegistry(res.Store, cfg.MaxSessions, cfg.SessionIdleTTL,
		dashboard.WithDefaults(defaults),
		dashboard.WithLocation(loc),
		dashboard.WithLogger(logger))
	defer registry.Close()

	caches := cache.NewManager()
	caches.Register("dashboards", registry.Cleaner())
	caches.StartCleanup(time.Minute)
	defer caches.Stop()

	srv, err := apphttp.NewServer(":"+cfg.Port, apphttp.Deps{
		Accounts: accounts,
		Tokens:   tokens,
		Gateway:  gw,
		Registry: registry,
		Logger:   logger,
		RateLimit: ratelimit.Config{
			RequestsPerMinute: cfg.RateLimitPerMin,
			Burst:             cfg.RateLimitBurst,
		},
		TrustedProxies: cfg.TrustedProxies,
		Ready:          res.Ready,
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("HTTP server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		cli.GracefulShutdown(logger, 30*time.Second, srv.Shutdown)
		return nil
	})
	return g.Wait()
}

func newAccounts(cfg *config.Config, users auth.Directory, logger *log.Logger) *auth.Local {
	opts := []auth.LocalOption{
		auth.WithLocalLogger(logger),
		auth.WithResetLink(cfg.PasswordResetURL, cfg.ResetTokenTTL),
	}
	if cfg.MailgunDomain != "" {
		opts = append(opts, auth.WithMailer(auth.NewMailgunMailer(cfg.MailgunDomain, cfg.MailgunAPIKey, cfg.MailSender)))
	} else {
		logger.Warn("Mailgun not configured, password reset links are only logged")
		opts = append(opts, auth.WithMailer(auth.LogMailer{}))
	}
	if cfg.GoogleClientID != "" {
		opts = append(opts, auth.WithProvider(auth.NewGoogleVerifier(cfg.GoogleClientID)))
	}
	return auth.NewLocal(users, opts...)
}

package main

import (
	"context"
	"errors"
	"os"

	"finpulse/internal/amqp"
	"finpulse/internal/cli"
	"finpulse/internal/config"
	"finpulse/internal/log"
	gsheet "finpulse/internal/sheets/google"
	"finpulse/internal/store/sqlite"
	"finpulse/internal/worker"

	"golang.org/x/sync/errgroup"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"))
	cfg := cli.MustLoadConfig(logger, true)

	if err := run(cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("finpulse-mirror stopped", log.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Mirror shutdown complete")
}

func run(cfg *config.Config, logger *log.Logger) error {
	ctx, stop := cli.SignalContext(logger)
	defer stop()

	logger.Info("Starting finpulse-mirror",
		"spreadsheet_id", cfg.GoogleSpreadsheetID,
		"amqp_enabled", cfg.AMQPURL != "")

	repo, err := sqlite.NewRepository(cfg.SQLiteDBPath)
	if err != nil {
		return err
	}
	defer repo.Close()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	sheet, err := gsheet.New(ctx, gsheet.Config{
		SpreadsheetID: cfg.GoogleSpreadsheetID,
		SheetName:     cfg.GoogleSheetName,
		Location:      loc,
		Credentials: gsheet.Credentials{
			ServiceAccountJSON: cfg.GoogleServiceAccountJSON,
			ServiceAccountFile: cfg.GoogleServiceAccountFile,
			OAuthClientJSON:    cfg.GoogleOAuthClientJSON,
			OAuthClientFile:    cfg.GoogleOAuthClientFile,
			OAuthTokenJSON:     cfg.GoogleOAuthTokenJSON,
			OAuthTokenFile:     cfg.GoogleOAuthTokenFile,
		},
	}, logger)
	if err != nil {
		return err
	}

	w := worker.NewMirrorWorker(repo, sheet, cfg.MirrorBatchSize, logger)
	if err := w.StartupCheck(ctx); err != nil {
		// the periodic catch-up retries
		logger.Error("Startup mirror check failed", log.FieldError, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.Run(gctx, cfg.MirrorInterval) })

	if cfg.AMQPURL != "" {
		broker, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			// polling alone still mirrors everything, only later
			logger.Warn("AMQP unavailable, relying on periodic catch-up", log.FieldError, err)
		} else {
			defer broker.Close()
			g.Go(func() error {
				return broker.ConsumeChanges(gctx, amqp.Subscription{
					Queue:       cfg.AMQPMirrorQueue,
					BindingKeys: worker.Bindings(),
				}, w.HandleChange)
			})
		}
	}

	return g.Wait()
}

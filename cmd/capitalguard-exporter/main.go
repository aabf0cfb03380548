// Command capitalguard-exporter consumes ledger events from AMQP and
// appends them to a Google Sheets spreadsheet.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"time"

	"capitalguard/internal/amqp"
	"capitalguard/internal/cache"
	"capitalguard/internal/cli"
	"capitalguard/internal/config"
	"capitalguard/internal/ledger"
	"capitalguard/internal/log"
	gsheet "capitalguard/internal/sheets/google"
	"capitalguard/internal/worker"
)

// The redelivery dedupe set. Redeliveries arrive within minutes, so a
// day is generous.
const (
	seenSize = 10000
	seenTTL  = 24 * time.Hour
)

func main() {
	backfill := flag.Bool("backfill", false, "append every stored transaction missing from the sheet, then consume events")
	flag.Parse()

	cli.LoadEnvFile()

	bootLogger := log.Default(log.ComponentWorker)
	cfg := cli.LoadAndValidateConfig(bootLogger)
	logger := cli.SetupLogger(cfg, log.ComponentWorker)
	if err := cfg.ValidateExporter(); err != nil {
		logger.Error("Exporter configuration invalid", log.FieldError, err)
		os.Exit(1)
	}

	ctx, stop := cli.SignalContext(logger)
	err := run(ctx, logger, cfg, *backfill)
	stop()
	if err != nil {
		logger.Error("Exporter stopped with error", log.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Exporter stopped")
}

func run(ctx context.Context, logger *log.Logger, cfg *config.Config, backfill bool) error {
	logger.Info("Starting capitalguard-exporter",
		"spreadsheet_id", cfg.GoogleSpreadsheetID,
		"queue", cfg.AMQPQueue,
		log.FieldOperation, log.OpStartup)

	writer, err := gsheet.New(ctx, gsheet.Config{
		SpreadsheetID:   cfg.GoogleSpreadsheetID,
		SheetName:       cfg.GoogleSheetName,
		CredentialsJSON: cfg.GoogleServiceAccountJSON,
		CredentialsFile: cfg.GoogleServiceAccountFile,
	}, logger)
	if err != nil {
		return err
	}

	seen := cache.NewLRUCache[struct{}](seenSize, seenTTL)
	exporter := worker.NewExporter(writer, seen, logger)

	if backfill {
		if err := runBackfill(ctx, logger, cfg, exporter); err != nil {
			return err
		}
	}

	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	err = client.ConsumeWithRetry(ctx, exporter.HandleEvent)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func runBackfill(ctx context.Context, logger *log.Logger, cfg *config.Config, exporter *worker.Exporter) error {
	be := cli.InitBackend(ctx, logger, cfg)
	defer be.Cleanup()

	store := ledger.New(be.Backend, ledger.WithLogger(logger))
	ids, err := store.AccountIDs(ctx)
	if err != nil {
		return err
	}
	n, err := exporter.Backfill(ctx, store, ids)
	if err != nil {
		return err
	}
	logger.Info("Backfill complete", "accounts", len(ids), "rows", n, log.FieldOperation, log.OpExport)
	return nil
}

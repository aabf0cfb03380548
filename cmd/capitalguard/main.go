// Command capitalguard serves the ledger JSON API.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"

	"golang.org/x/sync/errgroup"

	"capitalguard/internal/amqp"
	"capitalguard/internal/cache"
	"capitalguard/internal/cli"
	"capitalguard/internal/config"
	apphttp "capitalguard/internal/http"
	"capitalguard/internal/identity"
	"capitalguard/internal/ledger"
	"capitalguard/internal/log"
	"capitalguard/internal/viewmodel"
)

func main() {
	cli.LoadEnvFile()

	bootLogger := log.Default(log.ComponentApp)
	cfg := cli.LoadAndValidateConfig(bootLogger)
	logger := cli.SetupLogger(cfg, log.ComponentApp)

	ctx, stop := cli.SignalContext(logger)
	err := run(ctx, logger, cfg)
	stop()
	if err != nil {
		logger.Error("Server stopped with error", log.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Server stopped")
}

func run(ctx context.Context, logger *log.Logger, cfg *config.Config) error {
	logger.Info("Starting capitalguard",
		"backend", cfg.DataBackend,
		"port", cfg.Port,
		log.FieldOperation, log.OpStartup)

	be := cli.InitBackend(ctx, logger, cfg)
	defer func() {
		if err := be.Cleanup(); err != nil {
			logger.Error("Failed to close backend", log.FieldError, err)
		}
	}()

	store := ledger.New(be.Backend,
		ledger.WithIdentity(identity.Provider{}),
		ledger.WithLogger(logger))

	caches := cache.NewManager(logger)
	snapshots := cache.NewLRUCache[viewmodel.Snapshot](cfg.ViewCacheSize, cfg.ViewCacheTTL)
	caches.Register(snapshots)
	caches.StartCleanup(cfg.ViewCacheTTL / 2)
	defer caches.Stop()

	projector := viewmodel.NewProjector(store, snapshots, logger)
	store.Subscribe(projector)

	if cfg.AMQPURL != "" {
		publisher, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
		if err != nil {
			// Events are best effort; the ledger stays authoritative and the
			// exporter can backfill.
			logger.Error("Failed to connect to AMQP, continuing without events", log.FieldError, err)
		} else {
			defer publisher.Close()
			store.Subscribe(publisher)
			logger.Info("Publishing ledger events", "exchange", cfg.AMQPExchange)
		}
	}

	srv := apphttp.NewServer(":"+cfg.Port, store, projector, logger, apphttp.Options{
		IdentityHeader:     cfg.IdentityHeader,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	})
	srv.MaxHeaderBytes = 1 << 16

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		logger.Info("Shutting down server", log.FieldOperation, log.OpShutdown)
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

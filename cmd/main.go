// Command exgate runs the exchange gateway: one adapter per configured exchange
// behind a single HTTP API.
//
// Usage:
//
//	exgate -config config.yaml [-env .env] [-addr :8080]
//	exgate setup [file]
//
// Credentials are read from the environment, per exchange:
//
//	<EXCHANGE>_API_KEY, <EXCHANGE>_API_SECRET, <EXCHANGE>_API_PASSPHRASE
//
// An exchange without credentials runs public-only.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vadiminshakov/exgate/config"
	"github.com/vadiminshakov/exgate/internal"
	"github.com/vadiminshakov/exgate/internal/gateway"
	"github.com/vadiminshakov/exgate/internal/logging"
	"github.com/vadiminshakov/exgate/internal/setup"
	"github.com/vadiminshakov/exgate/internal/storage/journal"
	"github.com/vadiminshakov/exgate/internal/web"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "setup" {
		path := setup.DefaultPath
		if len(os.Args) > 2 {
			path = os.Args[2]
		}
		if err := setup.RunTUI(path); err != nil {
			log.Fatal(err)
		}
		return
	}

	cfg, err := config.Get()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("exgate stopped", zap.Error(err))
	}
	logger.Info("exgate stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	var (
		gwOpts  []gateway.Option
		webOpts []web.Option
	)
	if !cfg.Journal.Disabled {
		store, err := journal.NewWALStore(cfg.Journal.Dir, cfg.Journal.SyncWrites)
		if err != nil {
			return err
		}
		defer store.Close()
		gwOpts = append(gwOpts, gateway.WithJournal(store))
		webOpts = append(webOpts, web.WithEventReader(store))
	}

	gw := gateway.New(gateway.Config{
		InitTimeout:   cfg.Gateway.InitTimeout,
		FanOutTimeout: cfg.Gateway.FanOutTimeout,
		CallTimeout:   cfg.Gateway.CallTimeout,
	}, logger, gwOpts...)

	adapters, err := internal.BuildAdapters(cfg, internal.Wiring{
		Logger:   logger,
		Observer: gw.Observe,
		Sink:     gw.Ingest,
	})
	if err != nil {
		return err
	}
	for _, a := range adapters {
		if err := gw.Register(a); err != nil {
			return err
		}
	}

	srv := web.NewServer(cfg.Server.Addr, gw, logger, webOpts...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// adapters come up in the background; the API answers meanwhile
		gw.Start(gctx)
		return nil
	})
	g.Go(func() error {
		if len(cfg.Server.TLSDomains) > 0 {
			return srv.StartWithAutoTLS(gctx, cfg.Server.TLSDomains, cfg.Server.CertCache)
		}
		return srv.Start(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		if err := gw.Close(); err != nil {
			logger.Warn("close adapters", zap.Error(err))
		}
		return nil
	})
	return g.Wait()
}

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/quiin/skip-key-provider/capability"
	"github.com/quiin/skip-key-provider/cmd/flags"
	"github.com/quiin/skip-key-provider/config"
	"github.com/quiin/skip-key-provider/entropy"
	"github.com/quiin/skip-key-provider/httpserver"
	"github.com/quiin/skip-key-provider/keystore"
	"github.com/quiin/skip-key-provider/peers"
	"github.com/quiin/skip-key-provider/storage"
	"github.com/quiin/skip-key-provider/syncer"
	"github.com/urfave/cli/v2"
)

var serverServiceLogFlag = flags.LogServiceFlagFn("kp-server")

func main() {
	app := &cli.App{
		Name:  "kp-server",
		Usage: "Serve keys and entropy to paired remote systems",
		Flags: append([]cli.Flag{flags.ConfigFlag, flags.ListenAddrFlag, serverServiceLogFlag}, flags.CommonFlags...),
		Action: func(cCtx *cli.Context) error {
			listenAddr := cCtx.String(flags.ListenAddrFlag.Name)

			// Setup logger
			logger := flags.SetupLogger(cCtx)

			cfg, err := config.Load(cCtx.String(flags.ConfigFlag.Name))
			if err != nil {
				logger.Error("Failed to load configuration", "err", err)
				return err
			}
			logger = logger.With("localSystemId", cfg.LocalSystemID)

			backend, err := storage.NewFactory(logger).BackendFor(cfg.StorageURI)
			if err != nil {
				logger.Error("Failed to create storage backend", "err", err)
				return err
			}
			logger.Info("Storage backend ready", "backend", backend.Name(), "location", backend.LocationURI())

			caps := capability.NewRegistry(cfg)
			provider := entropy.NewProvider()

			store, err := keystore.New(context.Background(), cfg, caps, provider, backend, logger)
			if err != nil {
				logger.Error("Failed to initialize key store", "err", err)
				return err
			}
			logger.Info("Key store initialized", "keys", store.Count())

			registry := peers.NewRegistry(cfg, logger)
			messenger := syncer.NewMessenger(cfg, store, registry, logger)
			scheduler := syncer.NewScheduler(cfg, messenger, store, registry, caps, logger)

			handler := httpserver.NewHandler(cfg, store, provider, caps, registry, messenger, logger)
			srv, err := httpserver.New(flags.ConfigureServer(cCtx, logger, listenAddr), handler)
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}

			scheduler.Start()
			srv.RunInBackground()

			// Wait for termination signal
			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

			logger.Info("Server is running, press Ctrl+C to stop")
			<-exit
			logger.Info("Shutdown signal received")

			// Shutdown gracefully: stop accepting requests first, then the
			// sync loops
			srv.Shutdown()
			scheduler.Stop()
			logger.Info("Server shutdown complete")

			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

package app

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/giantswarm/mcpgate/pkg/logging"
)

// runServer serves until ctx is cancelled or SIGINT/SIGTERM arrives.
//
// Shutdown order: stop accepting connections and close every session (the
// gateway does both), stop the catalog watcher, then close the token store.
func runServer(ctx context.Context, services *Services) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if services.Watcher != nil {
		if err := services.Watcher.Start(ctx); err != nil {
			logging.Warn("Server", "Catalog hot reload disabled: %v", err)
		} else {
			defer services.Watcher.Stop()
		}
	}

	defer func() {
		services.Registry.Stop()
		if err := services.Store.Close(); err != nil {
			logging.Error("Server", err, "Failed to close token store")
		}
	}()

	logging.Info("Server", "mcpgate serving %d tools. Press Ctrl+C to stop.", services.Catalog.Snapshot().Len())
	if err := services.Gateway.Run(ctx); err != nil {
		logging.Error("Server", err, "Gateway stopped with an error")
		return err
	}
	logging.Info("Server", "Shutdown complete")
	return nil
}

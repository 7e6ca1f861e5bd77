package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rzpsarthak13/entity-creator/internal/logging"
	"github.com/rzpsarthak13/entity-creator/internal/registry"
	"github.com/rzpsarthak13/entity-creator/pkg/entitycreator"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML or JSON config file")
	addr := flag.String("addr", ":8080", "HTTP listen address")
	flag.Parse()

	// 1. Load configuration (file, then ENTITY_CREATOR_* overrides)
	config, err := entitycreator.LoadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger, flush := logging.Setup(registry.InternalLoggingConfig{
		Level:  config.Logging.Level,
		SeqURL: config.Logging.SeqURL,
	})
	defer flush()

	if err := run(config, *addr, logger); err != nil {
		logger.Error("server failed", "error", err)
		flush()
		os.Exit(1)
	}
}

func run(config *entitycreator.Config, addr string, logger *slog.Logger) error {
	// 2. Create the client
	client, err := entitycreator.NewClient(config, entitycreator.WithLogger(logger))
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. Start the background drainer
	if err := client.Start(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           newServer(client, logger).routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("starting HTTP server",
		"addr", addr,
		"kvstore", config.KVStore.Type,
		"queue", config.Commit.QueueType,
		"drain_rate", config.Commit.DrainRate,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("received shutdown signal")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return client.Stop()
}

// main package for the voice-studio web demo
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"

	"github.com/book-expert/voice-studio/internal/app"
	"github.com/book-expert/voice-studio/internal/config"
	"github.com/book-expert/voice-studio/internal/core"
	"github.com/book-expert/voice-studio/internal/synthesis"
	"github.com/book-expert/voice-studio/internal/ui"
	"github.com/book-expert/voice-studio/internal/worker"
)

const (
	flagConfig     = "config"
	flagConfigDesc = "Path to project.toml (defaults to the configurator's lookup)"
)

func setupLogger(logPath string) (*logger.Logger, error) {
	log, err := logger.New(logPath, "voice-studio.log")
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func run(ctx context.Context, configPath string) error {
	bootstrapLog, err := setupLogger(os.TempDir())
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	cfg, err := app.LoadConfig(configPath, bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := finalLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	backend, err := app.NewBackend(cfg)
	if err != nil {
		finalLog.Error("Invalid engine configuration: %v", err)

		return err
	}

	healthErr := app.CheckEngine(ctx, backend)
	if healthErr != nil {
		finalLog.Warn("Engine at %s is not healthy yet: %v", cfg.Engine.ServiceURL, healthErr)
	}

	var store core.ObjectStore

	var natsConnection *nats.Conn

	if cfg.NATSEnabled() {
		connection, audioStore, connectErr := app.ConnectNATS(cfg, finalLog)
		if connectErr != nil {
			finalLog.Error("NATS unavailable: %v", connectErr)

			return connectErr
		}
		defer connection.Close()

		natsConnection = connection
		store = audioStore
	}

	service, err := app.NewService(cfg, backend, store, finalLog)
	if err != nil {
		finalLog.Error("Failed to prepare output directory: %v", err)

		return err
	}

	if natsConnection != nil {
		stopWorker, workerErr := startWorker(ctx, cfg, natsConnection, store, service, finalLog)
		if workerErr != nil {
			return workerErr
		}
		defer stopWorker()
	}

	server, err := ui.NewServer(service, app.UIOptions(cfg), finalLog)
	if err != nil {
		return err
	}

	finalLog.System("Voice studio initialized with %s backend, serving on %s", backend.Name(), cfg.Server.Address)

	return server.ListenAndServe(ctx, cfg.Server.Address, cfg.ShutdownTimeout())
}

// startWorker runs the NATS worker until the returned stop function is called.
func startWorker(
	ctx context.Context,
	cfg *config.Config,
	natsConnection *nats.Conn,
	store core.ObjectStore,
	service *synthesis.Service,
	log *logger.Logger,
) (func(), error) {
	natsWorker, err := worker.NewNatsWorker(natsConnection, cfg.NATS.SynthesizeSubject, store, service, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create NATS worker: %w", err)
	}

	workerCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)

		runErr := natsWorker.Run(workerCtx)
		if runErr != nil {
			log.Error("NATS worker stopped: %v", runErr)
		}
	}()

	return func() {
		cancel()
		<-done
	}, nil
}

func main() {
	configPath := flag.String(flagConfig, "", flagConfigDesc)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := run(ctx, *configPath)
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// main package for the tts-service
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-pipeline/internal/api"
	"github.com/book-expert/tts-pipeline/internal/config"
	"github.com/book-expert/tts-pipeline/internal/core"
	"github.com/book-expert/tts-pipeline/internal/metrics"
	"github.com/book-expert/tts-pipeline/internal/objectstore"
	"github.com/book-expert/tts-pipeline/internal/pipeline"
	"github.com/book-expert/tts-pipeline/internal/server"
	"github.com/book-expert/tts-pipeline/internal/worker"
	"github.com/nats-io/nats.go"
	"github.com/spf13/afero"
)

const (
	bootstrapLogFile = "tts-service-bootstrap.log"
	serviceLogFile   = "tts-service.log"
)

func setupLogger(logPath, fileName string) (*logger.Logger, error) {
	log, err := logger.New(logPath, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger in %s: %w", logPath, err)
	}

	return log, nil
}

// loadConfig falls back to defaults when no configuration can be loaded.
func loadConfig(bootstrapLog *logger.Logger) (*config.Config, error) {
	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Warn("Failed to load configuration, using defaults: %v", err)

		cfg = config.Default()
	}

	err = cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func run() error {
	// 1. Create a temporary logger for the bootstrap process
	bootstrapLog, err := setupLogger(os.TempDir(), bootstrapLogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	defer func() { _ = bootstrapLog.Close() }()

	bootstrapLog.Info("Bootstrap logger created.")

	// 2. Load configuration using the central configurator
	cfg, err := loadConfig(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return err
	}

	bootstrapLog.Info("Configuration loaded successfully.")

	// 3. Initialize the final logger based on the loaded configuration
	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir, serviceLogFile)
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, finalLog)
}

// serve runs the HTTP boundary and, when NATS is configured, the worker.
// Either one failing stops the other.
func serve(parent context.Context, cfg *config.Config, log *logger.Logger) error {
	fs := afero.NewOsFs()
	m := metrics.New()
	keys := config.LoadCredentials(cfg.Credentials, log)

	engine, err := pipeline.New(cfg, keys, fs, m, log)
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}

	defaults := api.Defaults{Voice: cfg.Pipeline.DefaultVoice, Temperature: cfg.Temperature()}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	workerErr := make(chan error, 1)

	if cfg.NATS.URL == "" {
		log.Info("NATS URL not configured; the worker is disabled.")

		workerErr <- nil
	} else {
		natsWorker, closeNATS, setupErr := newWorker(cfg, engine, fs, defaults, log)
		if setupErr != nil {
			return setupErr
		}
		defer closeNATS()

		go func() {
			runErr := natsWorker.Run(ctx)
			if runErr != nil {
				cancel()
			}

			workerErr <- runErr
		}()
	}

	httpServer := server.New(server.Config{
		ListenAddr: cfg.Server.ListenAddr,
		StaticDir:  cfg.Server.StaticDir,
		Defaults:   defaults,
	}, engine, fs, m, log)

	log.System("TTS-Service successfully initialized. Listening on %s", cfg.Server.ListenAddr)

	serveErr := httpServer.ListenAndServe(ctx)

	cancel()

	err = errors.Join(serveErr, <-workerErr)
	if err != nil {
		log.Error("Service stopped with error: %v", err)

		return err
	}

	log.System("TTS-Service stopped.")

	return nil
}

func newWorker(
	cfg *config.Config,
	generator core.Generator,
	fs afero.Fs,
	defaults api.Defaults,
	log *logger.Logger,
) (*worker.NatsWorker, func(), error) {
	natsConnection, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		natsConnection.Close()

		return nil, nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	textStore, err := objectstore.New(jetstreamContext, cfg.NATS.TextObjectStoreBucket)
	if err != nil {
		natsConnection.Close()

		return nil, nil, err
	}

	audioStore, err := objectstore.New(jetstreamContext, cfg.NATS.AudioObjectStoreBucket)
	if err != nil {
		natsConnection.Close()

		return nil, nil, err
	}

	natsWorker := worker.NewNatsWorker(natsConnection, worker.Config{
		Subject:            cfg.NATS.TextProcessedSubject,
		DefaultVoice:       defaults.Voice,
		DefaultTemperature: defaults.Temperature,
		HandleTimeout:      cfg.HandleTimeout(),
	}, textStore, audioStore, generator, fs, log)

	log.Info("Connected to NATS at %s (text bucket %s, audio bucket %s)",
		cfg.NATS.URL, textStore.Bucket(), audioStore.Bucket())

	return natsWorker, natsConnection.Close, nil
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}

// main package for the tts-worker: reads one generation request as JSON on
// stdin and writes a result envelope as JSON on stdout.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-pipeline/internal/api"
	"github.com/book-expert/tts-pipeline/internal/config"
	"github.com/book-expert/tts-pipeline/internal/core"
	"github.com/book-expert/tts-pipeline/internal/metrics"
	"github.com/book-expert/tts-pipeline/internal/pipeline"
	"github.com/spf13/afero"
)

const (
	bootstrapLogFile = "tts-worker-bootstrap.log"
	workerLogFile    = "tts-worker.log"
)

const (
	errFmtDecode    = "invalid JSON input: %w"
	errFmtLogger    = "failed to create logger in %s: %w"
	errFmtConfig    = "invalid configuration: %w"
	errFmtPipeline  = "failed to build pipeline: %w"
	errFmtWriteJSON = "failed to write result: %w"

	logFmtConfigFallback = "Failed to load configuration, using defaults: %v"
	logFmtRequest        = "Worker request: %d characters, speaker %q, session %q"
	logFmtFailed         = "Worker request failed: %v"
	logFmtDone           = "Worker request finished: %s"
)

func main() {
	err := run(os.Stdin, os.Stdout)
	if err != nil {
		os.Exit(1)
	}
}

// run sets up logging, configuration, and the pipeline, then handles one
// request. Every failure is reported on stdout as a failure envelope.
func run(stdin io.Reader, stdout io.Writer) error {
	log, cfg, closeLog, err := setup()
	if err != nil {
		return fail(stdout, nil, err)
	}
	defer closeLog()

	keys := config.LoadCredentials(cfg.Credentials, log)

	engine, err := pipeline.New(cfg, keys, afero.NewOsFs(), metrics.New(), log)
	if err != nil {
		return fail(stdout, log, fmt.Errorf(errFmtPipeline, err))
	}

	defaults := api.Defaults{Voice: cfg.Pipeline.DefaultVoice, Temperature: cfg.Temperature()}

	return process(context.Background(), stdin, stdout, engine, defaults, log)
}

// setup follows the bootstrap-then-final logger sequence.
func setup() (*logger.Logger, *config.Config, func(), error) {
	bootstrapLog, err := logger.New(os.TempDir(), bootstrapLogFile)
	if err != nil {
		return nil, nil, nil, fmt.Errorf(errFmtLogger, os.TempDir(), err)
	}

	defer func() { _ = bootstrapLog.Close() }()

	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Warn(logFmtConfigFallback, err)

		cfg = config.Default()
	}

	err = cfg.Validate()
	if err != nil {
		return nil, nil, nil, fmt.Errorf(errFmtConfig, err)
	}

	finalLog, err := logger.New(cfg.Paths.BaseLogsDir, workerLogFile)
	if err != nil {
		return nil, nil, nil, fmt.Errorf(errFmtLogger, cfg.Paths.BaseLogsDir, err)
	}

	return finalLog, cfg, func() { _ = finalLog.Close() }, nil
}

// process decodes one request from stdin, runs it, and writes the envelope.
func process(
	ctx context.Context,
	stdin io.Reader,
	stdout io.Writer,
	generator core.Generator,
	defaults api.Defaults,
	log *logger.Logger,
) error {
	var req api.GenerateRequest

	err := json.NewDecoder(stdin).Decode(&req)
	if err != nil {
		return fail(stdout, log, fmt.Errorf(errFmtDecode, err))
	}

	err = req.Validate()
	if err != nil {
		return fail(stdout, log, err)
	}

	log.Info(logFmtRequest, len([]rune(req.Text)), req.Speaker, req.SessionID)

	result, err := generator.Run(ctx, req.ToGeneration(defaults))
	if err != nil {
		return fail(stdout, log, err)
	}

	log.Info(logFmtDone, result.ArtifactPath)

	return writeResult(stdout, api.Succeeded(result.ArtifactPath))
}

// fail writes a failure envelope and returns err unchanged.
func fail(stdout io.Writer, log *logger.Logger, err error) error {
	if log != nil {
		log.Error(logFmtFailed, err)
	}

	writeErr := writeResult(stdout, api.Failed(err))
	if writeErr != nil {
		fmt.Fprintln(os.Stderr, writeErr)
	}

	return err
}

func writeResult(stdout io.Writer, result api.Result) error {
	err := json.NewEncoder(stdout).Encode(result)
	if err != nil {
		return fmt.Errorf(errFmtWriteJSON, err)
	}

	return nil
}

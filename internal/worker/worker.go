// Package worker provides a NATS worker that turns processed text into
// narrated audio.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/tts-pipeline/internal/api"
	"github.com/book-expert/tts-pipeline/internal/core"
	"github.com/nats-io/nats.go"
	"github.com/spf13/afero"
)

const (
	// DefaultHandleTimeout bounds one job when the config leaves it unset.
	DefaultHandleTimeout = 15 * time.Minute

	audioKeyFormat = "%s.wav"

	// Error headers follow the NATS micro service convention.
	headerServiceError     = "Nats-Service-Error"
	headerServiceErrorCode = "Nats-Service-Error-Code"
)

const (
	errFmtSubscribe = "failed to subscribe to subject %s: %w"
	errFmtDrain     = "failed to drain subscription: %w"
	errFmtUnmarshal = "failed to unmarshal event: %w"
	errFmtDownload  = "failed to download text data for key '%s': %w"
	errFmtGenerate  = "failed to generate audio: %w"
	errFmtUpload    = "failed to upload audio data for key '%s': %w"
	errFmtMarshal   = "failed to marshal reply event: %w"
	errFmtRespond   = "failed to publish reply event: %w"

	logFmtListening    = "Listening for text events on %s"
	logFmtReceived     = "Received text event for workflow %s, page %d/%d, key %s"
	logFmtJobFailed    = "Failed to process TTS job for workflow %s: %v"
	logFmtParseFailed  = "Failed to parse event: %v"
	logFmtReplyFailed  = "Failed to publish reply event for workflow %s: %v"
	logFmtRemoveFailed = "Failed to remove local artifact %s: %v"
	logFmtUploaded     = "Uploaded %s for workflow %s (%d segments, %s merge)"
)

// ArtifactStore stores finished audio files.
type ArtifactStore interface {
	UploadFile(ctx context.Context, key string, fs afero.Fs, path string) error
}

// Config holds the worker settings.
type Config struct {
	Subject            string
	DefaultVoice       string
	DefaultTemperature float64
	HandleTimeout      time.Duration
}

// NatsWorker listens for TextProcessedEvents on a NATS subject, runs the
// generator for each, and replies with an AudioChunkCreatedEvent.
type NatsWorker struct {
	natsConnection *nats.Conn
	textStore      core.ObjectStore
	audioStore     ArtifactStore
	generator      core.Generator
	fs             afero.Fs
	log            *logger.Logger
	cfg            Config
}

// NewNatsWorker creates a new instance of a NATS worker. fs must be the
// filesystem the generator writes artifacts to.
func NewNatsWorker(
	natsConnection *nats.Conn,
	cfg Config,
	textStore core.ObjectStore,
	audioStore ArtifactStore,
	generator core.Generator,
	fs afero.Fs,
	log *logger.Logger,
) *NatsWorker {
	if cfg.HandleTimeout <= 0 {
		cfg.HandleTimeout = DefaultHandleTimeout
	}

	return &NatsWorker{
		natsConnection: natsConnection,
		textStore:      textStore,
		audioStore:     audioStore,
		generator:      generator,
		fs:             fs,
		log:            log,
		cfg:            cfg,
	}
}

// Run starts the worker and blocks until ctx is cancelled.
func (w *NatsWorker) Run(ctx context.Context) error {
	sub, err := w.natsConnection.Subscribe(w.cfg.Subject, w.handleMessage)
	if err != nil {
		return fmt.Errorf(errFmtSubscribe, w.cfg.Subject, err)
	}

	w.log.Info(logFmtListening, w.cfg.Subject)

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf(errFmtDrain, drainErr)
	}

	return nil
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.HandleTimeout)
	defer cancel()

	var event events.TextProcessedEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		err = fmt.Errorf(errFmtUnmarshal, err)
		w.log.Error(logFmtParseFailed, err)
		w.respondError(msg, "", http.StatusBadRequest, err.Error())

		return
	}

	w.log.Info(logFmtReceived, event.Header.WorkflowID, event.PageNumber, event.TotalPages, event.TextKey)

	audioKey, err := w.process(ctx, &event)
	if err != nil {
		w.log.Error(logFmtJobFailed, event.Header.WorkflowID, err)

		status, message := api.Translate(err)
		w.respondError(msg, event.Header.WorkflowID, status, message)

		return
	}

	replyEvent := &events.AudioChunkCreatedEvent{
		Header:     event.Header,
		AudioKey:   audioKey,
		PageNumber: event.PageNumber,
		TotalPages: event.TotalPages,
	}

	err = w.publishReplyEvent(msg, replyEvent)
	if err != nil {
		w.log.Error(logFmtReplyFailed, event.Header.WorkflowID, err)
	}
}

// process downloads the text, generates the audio, and uploads the artifact.
func (w *NatsWorker) process(ctx context.Context, event *events.TextProcessedEvent) (string, error) {
	req := api.GenerateRequest{Speaker: event.Voice}

	// A zero temperature in the event means the sender left it unset.
	if event.Temperature != 0 {
		temperature := float64(event.Temperature)
		req.Temperature = &temperature
	}

	err := req.ValidateParameters()
	if err != nil {
		return "", err
	}

	textData, err := w.textStore.Download(ctx, event.TextKey)
	if err != nil {
		return "", fmt.Errorf(errFmtDownload, event.TextKey, err)
	}

	req.Text = string(textData)

	err = req.Validate()
	if err != nil {
		return "", err
	}

	result, err := w.generator.Run(ctx, req.ToGeneration(api.Defaults{
		Voice:       w.cfg.DefaultVoice,
		Temperature: w.cfg.DefaultTemperature,
	}))
	if err != nil {
		return "", fmt.Errorf(errFmtGenerate, err)
	}

	defer w.removeArtifact(result.ArtifactPath)

	audioKey := fmt.Sprintf(audioKeyFormat, result.SessionID)

	err = w.audioStore.UploadFile(ctx, audioKey, w.fs, result.ArtifactPath)
	if err != nil {
		return "", fmt.Errorf(errFmtUpload, audioKey, err)
	}

	w.log.Info(logFmtUploaded, audioKey, event.Header.WorkflowID, result.Segments, result.Merge)

	return audioKey, nil
}

func (w *NatsWorker) removeArtifact(path string) {
	err := w.fs.Remove(path)
	if err != nil {
		w.log.Warn(logFmtRemoveFailed, path, err)
	}
}

// publishReplyEvent marshals and responds with the AudioChunkCreatedEvent.
func (w *NatsWorker) publishReplyEvent(msg *nats.Msg, replyEvent *events.AudioChunkCreatedEvent) error {
	replyData, err := json.Marshal(replyEvent)
	if err != nil {
		return fmt.Errorf(errFmtMarshal, err)
	}

	err = msg.Respond(replyData)
	if err != nil {
		return fmt.Errorf(errFmtRespond, err)
	}

	return nil
}

// respondError tells a waiting requester why the job failed. Published
// events without a reply subject are only logged.
func (w *NatsWorker) respondError(msg *nats.Msg, workflowID string, status int, message string) {
	if msg.Reply == "" {
		return
	}

	reply := nats.NewMsg(msg.Reply)
	reply.Header.Set(headerServiceError, message)
	reply.Header.Set(headerServiceErrorCode, strconv.Itoa(status))

	err := msg.RespondMsg(reply)
	if err != nil {
		w.log.Error(logFmtReplyFailed, workflowID, err)
	}
}

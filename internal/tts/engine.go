package tts

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-pipeline/internal/core"
	"github.com/book-expert/tts-pipeline/internal/metrics"
	"github.com/book-expert/tts-pipeline/internal/tts/audio"
	"github.com/book-expert/tts-pipeline/internal/tts/text"
	"github.com/book-expert/tts-pipeline/internal/tts/ttsutils"
	"github.com/spf13/afero"
)

// Pipeline defaults.
const (
	DefaultPaceDelay  = 8 * time.Second
	DefaultSilenceGap = 150 * time.Millisecond

	filePermissions = 0o600
)

// Session file layout.
const (
	tempDirFormat     = "temp_%s"
	segmentFileFormat = "audio_session_%s_part%03d%s"
	artifactFormat    = "output_%s.wav"
)

const (
	errFmtSegment         = "segment %d/%d: %w"
	errFmtPersistSegment  = "%w: segment %d/%d: %w"
	errFmtPrepareSegment  = "segment %d/%d: failed to prepare audio: %w"
	errFmtCreateTempDir   = "failed to create session directory: %w"
	errFmtAssemble        = "failed to assemble artifact: %w"
	errFmtArtifactMissing = "%w: %s"

	logFmtStart          = "[%s] Starting generation: %d characters, voice %s"
	logFmtSegmented      = "[%s] Split text into %d segments"
	logFmtSegmentSaved   = "[%s] Saved segment %d/%d to %s (%s)"
	logFmtPacing         = "[%s] Waiting %s before the next segment"
	logFmtMerging        = "[%s] Merging %d segments into %s"
	logFmtNoConcatenator = "[%s] No concatenator available, keeping only the first of %d segments"
	logFmtMergeFailed    = "[%s] Merge failed, keeping only the first of %d segments: %v"
	logFmtCleanupFailed  = "[%s] Failed to remove %s: %v"
	logFmtCleanedUp      = "[%s] Removed session directory %s"
	logFmtDone           = "[%s] Generation finished in %s: %s (%s, %s)"
	logFmtFailed         = "[%s] Generation failed: %v"
)

// Engine errors.
var (
	ErrTextEmpty       = errors.New("text cannot be empty")
	ErrPersistSegment  = errors.New("failed to persist segment audio")
	ErrArtifactMissing = errors.New("final artifact was not created")
)

// SegmentSynthesizer produces the audio for one segment.
type SegmentSynthesizer interface {
	Synthesize(ctx context.Context, req SegmentRequest) (core.AudioChunk, error)
}

// EngineConfig holds the pipeline settings.
type EngineConfig struct {
	// WorkDir holds session directories and final artifacts.
	WorkDir    string
	PaceDelay  time.Duration
	SilenceGap time.Duration
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithSleep replaces the pacing sleep, mainly for tests.
func WithSleep(sleep func(time.Duration)) EngineOption {
	return func(e *Engine) {
		e.sleep = sleep
	}
}

// WithMetrics records run, segment, and merge metrics.
func WithMetrics(m *metrics.Metrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// Engine turns a document into one audio artifact. Segments are synthesized
// strictly in order; the session directory is removed on every exit path.
type Engine struct {
	fs           afero.Fs
	segmenter    *text.Segmenter
	synthesizer  SegmentSynthesizer
	concatenator core.Concatenator
	log          *logger.Logger
	metrics      *metrics.Metrics
	sleep        func(time.Duration)
	cfg          EngineConfig
}

// NewEngine creates an Engine. concatenator may be nil, in which case
// multi-segment runs keep only the first segment.
func NewEngine(
	cfg EngineConfig,
	segmenter *text.Segmenter,
	synthesizer SegmentSynthesizer,
	concatenator core.Concatenator,
	fs afero.Fs,
	log *logger.Logger,
	opts ...EngineOption,
) *Engine {
	if cfg.WorkDir == "" {
		cfg.WorkDir = "."
	}

	engine := &Engine{
		fs:           fs,
		segmenter:    segmenter,
		synthesizer:  synthesizer,
		concatenator: concatenator,
		log:          log,
		sleep:        time.Sleep,
		cfg:          cfg,
	}

	for _, opt := range opts {
		opt(engine)
	}

	return engine
}

// Run executes one generation request and returns the artifact it produced.
func (e *Engine) Run(ctx context.Context, req core.GenerationRequest) (*core.GenerationResult, error) {
	start := time.Now()

	result, err := e.run(ctx, req)

	switch {
	case err == nil:
		e.metrics.ObserveRequest(metrics.StatusSuccess, time.Since(start))
	case errors.Is(err, ErrTextEmpty), errors.Is(err, text.ErrNoSegments), errors.Is(err, ttsutils.ErrEmptySessionID):
		e.metrics.ObserveRequest(metrics.StatusInvalid, time.Since(start))
	default:
		e.metrics.ObserveRequest(metrics.StatusFailure, time.Since(start))
	}

	return result, err
}

func (e *Engine) run(ctx context.Context, req core.GenerationRequest) (*core.GenerationResult, error) {
	start := time.Now()

	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrTextEmpty
	}

	sessionID, err := e.sessionID(req.SessionID)
	if err != nil {
		return nil, err
	}

	e.log.Info(logFmtStart, sessionID, len([]rune(req.Text)), req.Voice)

	tempDir := filepath.Join(e.cfg.WorkDir, fmt.Sprintf(tempDirFormat, sessionID))

	err = ttsutils.EnsureDir(e.fs, tempDir)
	if err != nil {
		return nil, fmt.Errorf(errFmtCreateTempDir, err)
	}

	defer e.cleanup(sessionID, tempDir)

	segments, err := e.segmenter.Segment(req.Text)
	if err != nil {
		return nil, err
	}

	e.log.Info(logFmtSegmented, sessionID, len(segments))

	paths, err := e.synthesizeAll(ctx, sessionID, tempDir, segments, req)
	if err != nil {
		e.log.Error(logFmtFailed, sessionID, err)

		return nil, err
	}

	artifact := filepath.Join(e.cfg.WorkDir, fmt.Sprintf(artifactFormat, sessionID))

	merge, err := e.assemble(ctx, sessionID, paths, artifact)
	if err != nil {
		e.log.Error(logFmtFailed, sessionID, err)

		return nil, err
	}

	info, err := e.fs.Stat(artifact)
	if err != nil {
		return nil, fmt.Errorf(errFmtArtifactMissing, ErrArtifactMissing, artifact)
	}

	e.metrics.MergeOutcome(string(merge))
	e.log.Info(logFmtDone, sessionID, ttsutils.FormatDuration(time.Since(start).Seconds()),
		artifact, ttsutils.FormatFileSize(info.Size()), merge)

	return &core.GenerationResult{
		SessionID:    sessionID,
		ArtifactPath: artifact,
		Segments:     len(segments),
		Merge:        merge,
	}, nil
}

func (e *Engine) sessionID(requested string) (string, error) {
	if strings.TrimSpace(requested) == "" {
		return ttsutils.NewSessionID(), nil
	}

	return ttsutils.SanitizeSessionID(requested)
}

// synthesizeAll persists every segment in order and paces the calls. Any
// failure aborts the run.
func (e *Engine) synthesizeAll(
	ctx context.Context,
	sessionID, tempDir string,
	segments []string,
	req core.GenerationRequest,
) ([]string, error) {
	total := len(segments)
	paths := make([]string, 0, total)

	for i, segment := range segments {
		index := i + 1

		chunk, err := e.synthesizer.Synthesize(ctx, SegmentRequest{
			Text:        segment,
			StylePrompt: req.StylePrompt,
			Voice:       req.Voice,
			SessionID:   sessionID,
			Temperature: req.Temperature,
			Index:       index,
			Total:       total,
		})
		if err != nil {
			return nil, fmt.Errorf(errFmtSegment, index, total, err)
		}

		data, ext, err := audio.Prepare(chunk)
		if err != nil {
			return nil, fmt.Errorf(errFmtPrepareSegment, index, total, err)
		}

		path := filepath.Join(tempDir, fmt.Sprintf(segmentFileFormat, sessionID, index, ext))

		err = afero.WriteFile(e.fs, path, data, filePermissions)
		if err != nil {
			return nil, fmt.Errorf(errFmtPersistSegment, ErrPersistSegment, index, total, err)
		}

		e.metrics.SegmentSynthesized()
		e.log.Info(logFmtSegmentSaved, sessionID, index, total, path, ttsutils.FormatFileSize(int64(len(data))))

		paths = append(paths, path)

		if index < total && e.cfg.PaceDelay > 0 {
			e.log.Info(logFmtPacing, sessionID, e.cfg.PaceDelay)
			e.sleep(e.cfg.PaceDelay)
		}
	}

	return paths, nil
}

// assemble produces the artifact from the persisted segments. A failed or
// unavailable merge degrades to the first segment instead of failing.
func (e *Engine) assemble(
	ctx context.Context,
	sessionID string,
	paths []string,
	artifact string,
) (core.MergeOutcome, error) {
	if len(paths) == 1 {
		err := ttsutils.MoveFile(e.fs, paths[0], artifact)
		if err != nil {
			return "", fmt.Errorf(errFmtAssemble, err)
		}

		return core.MergeSingle, nil
	}

	if e.concatenator == nil {
		e.log.Warn(logFmtNoConcatenator, sessionID, len(paths))

		return e.degrade(paths[0], artifact)
	}

	e.log.Info(logFmtMerging, sessionID, len(paths), artifact)

	err := e.concatenator.Concatenate(ctx, paths, artifact, e.cfg.SilenceGap)
	if err != nil {
		e.log.Warn(logFmtMergeFailed, sessionID, len(paths), err)

		return e.degrade(paths[0], artifact)
	}

	return core.MergeCombined, nil
}

func (e *Engine) degrade(first, artifact string) (core.MergeOutcome, error) {
	err := ttsutils.CopyFile(e.fs, first, artifact)
	if err != nil {
		return "", fmt.Errorf(errFmtAssemble, err)
	}

	return core.MergeDegraded, nil
}

func (e *Engine) cleanup(sessionID, tempDir string) {
	err := e.fs.RemoveAll(tempDir)
	if err != nil {
		e.log.Error(logFmtCleanupFailed, sessionID, tempDir, err)

		return
	}

	e.log.Info(logFmtCleanedUp, sessionID, tempDir)
}

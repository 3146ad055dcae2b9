// Package pipeline assembles a generation Engine from configuration.
package pipeline

import (
	"errors"
	"fmt"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-pipeline/internal/config"
	"github.com/book-expert/tts-pipeline/internal/core"
	"github.com/book-expert/tts-pipeline/internal/credentials"
	"github.com/book-expert/tts-pipeline/internal/metrics"
	"github.com/book-expert/tts-pipeline/internal/tts"
	"github.com/book-expert/tts-pipeline/internal/tts/audio"
	"github.com/book-expert/tts-pipeline/internal/tts/text"
	"github.com/spf13/afero"
)

const (
	errFmtProvider     = "%w: %q"
	errFmtStrategy     = "%w: %q"
	errFmtConcatenator = "failed to create concatenator: %w"

	logFmtAssembled = "Pipeline ready: provider %s, %d credentials, merge %s, segments of %d characters"
)

// Assembly errors.
var (
	ErrUnknownProvider = errors.New("unknown speech provider")
	ErrUnknownStrategy = errors.New("unknown merge strategy")
)

// NewSpeechGenerator returns the synthesis client for the configured
// provider.
func NewSpeechGenerator(cfg *config.Config) (core.SpeechGenerator, error) {
	switch cfg.Pipeline.Provider {
	case config.ProviderGemini:
		return tts.NewGeminiClient(cfg.Gemini.BaseURL, cfg.Gemini.Model, cfg.GeminiTimeout()), nil
	case config.ProviderOpenAI:
		return tts.NewOpenAIClient(cfg.OpenAI.BaseURL, cfg.OpenAI.Model, cfg.OpenAI.Voice), nil
	default:
		return nil, fmt.Errorf(errFmtProvider, ErrUnknownProvider, cfg.Pipeline.Provider)
	}
}

// NewConcatenator returns the concatenator for the configured strategy, or
// nil for "none". The ffmpeg strategy works only on the OS filesystem.
func NewConcatenator(cfg *config.Config, fs afero.Fs, log *logger.Logger) (core.Concatenator, error) {
	switch cfg.Merge.Strategy {
	case config.MergeWAV:
		return audio.NewWAVConcatenator(fs, log), nil
	case config.MergeFFmpeg:
		concatenator, err := audio.NewFFmpegConcatenator(cfg.Merge.FFmpegCommand, log)
		if err != nil {
			return nil, fmt.Errorf(errFmtConcatenator, err)
		}

		return concatenator, nil
	case config.MergeNone:
		return nil, nil
	default:
		return nil, fmt.Errorf(errFmtStrategy, ErrUnknownStrategy, cfg.Merge.Strategy)
	}
}

// New builds an Engine over the given credential pool. The rotator is
// shared by every run of the returned Engine.
func New(
	cfg *config.Config,
	keys []string,
	fs afero.Fs,
	m *metrics.Metrics,
	log *logger.Logger,
	opts ...tts.EngineOption,
) (*tts.Engine, error) {
	generator, err := NewSpeechGenerator(cfg)
	if err != nil {
		return nil, err
	}

	concatenator, err := NewConcatenator(cfg, fs, log)
	if err != nil {
		return nil, err
	}

	rotator := credentials.NewRotator(keys)
	synthesizer := tts.NewSynthesizer(rotator, generator, log, tts.WithSynthesisMetrics(m))
	segmenter := text.NewSegmenter(cfg.Pipeline.MaxSegmentSize)

	log.Info(logFmtAssembled, cfg.Pipeline.Provider, rotator.Size(), cfg.Merge.Strategy, segmenter.MaxSize())

	engineOpts := append([]tts.EngineOption{tts.WithMetrics(m)}, opts...)

	return tts.NewEngine(
		tts.EngineConfig{
			WorkDir:    cfg.Pipeline.WorkDir,
			PaceDelay:  cfg.PaceDelay(),
			SilenceGap: cfg.SilenceGap(),
		},
		segmenter,
		synthesizer,
		concatenator,
		fs,
		log,
		engineOpts...,
	), nil
}

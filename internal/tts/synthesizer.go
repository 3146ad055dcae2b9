package tts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-pipeline/internal/core"
	"github.com/book-expert/tts-pipeline/internal/credentials"
	"github.com/book-expert/tts-pipeline/internal/metrics"
)

const (
	logFmtAttempt       = "[%s] Synthesizing segment %d/%d with credential #%d (%s)"
	logFmtAttemptOK     = "[%s] Segment %d/%d synthesized by credential #%d (%d bytes, %s)"
	logFmtAttemptFailed = "[%s] Credential #%d (%s) failed for segment %d/%d: %v"
	logFmtPermanent     = "[%s] Request for segment %d/%d rejected as malformed, not rotating further"
	logFmtExhausted     = "[%s] %d of %d credentials tried, all failed for segment %d/%d"
	logFmtNoCredentials = "[%s] No credentials configured, cannot synthesize segment %d/%d"
	errFmtExhausted     = "%w: %w"
	promptTextFormat    = "\"%s\"\n%s"
)

// Synthesizer errors.
var (
	ErrNoCredentials        = errors.New("no credentials configured")
	ErrCredentialsExhausted = errors.New("all credentials failed")
)

// SegmentRequest is one segment of a generation run.
type SegmentRequest struct {
	Text        string
	StylePrompt string
	Voice       string
	SessionID   string
	Temperature float64
	Index       int
	Total       int
}

// SynthesizerOption configures a Synthesizer.
type SynthesizerOption func(*Synthesizer)

// WithSynthesisMetrics counts every attempt by outcome.
func WithSynthesisMetrics(m *metrics.Metrics) SynthesizerOption {
	return func(s *Synthesizer) {
		s.metrics = m
	}
}

// Synthesizer turns one segment into audio, trying each credential in the
// shared pool at most once.
type Synthesizer struct {
	rotator   *credentials.Rotator
	generator core.SpeechGenerator
	log       *logger.Logger
	metrics   *metrics.Metrics
}

// NewSynthesizer creates a Synthesizer over a shared rotator.
func NewSynthesizer(
	rotator *credentials.Rotator,
	generator core.SpeechGenerator,
	log *logger.Logger,
	opts ...SynthesizerOption,
) *Synthesizer {
	synth := &Synthesizer{
		rotator:   rotator,
		generator: generator,
		log:       log,
	}

	for _, opt := range opts {
		opt(synth)
	}

	return synth
}

// ComposeText prefixes segment with the quoted style prompt when the prompt
// is not blank.
func ComposeText(segment, stylePrompt string) string {
	if strings.TrimSpace(stylePrompt) == "" {
		return segment
	}

	return fmt.Sprintf(promptTextFormat, stylePrompt, segment)
}

// Synthesize makes up to one attempt per pooled credential and returns the
// first non-empty payload. A failure carries the last attempt's error.
func (s *Synthesizer) Synthesize(ctx context.Context, req SegmentRequest) (core.AudioChunk, error) {
	attempts := s.rotator.Size()
	if attempts == 0 {
		s.log.Error(logFmtNoCredentials, req.SessionID, req.Index, req.Total)

		return core.AudioChunk{}, ErrNoCredentials
	}

	text := ComposeText(req.Text, req.StylePrompt)

	var (
		lastErr error
		tried   int
	)

	for range attempts {
		cred, ok := s.rotator.Next()
		if !ok {
			return core.AudioChunk{}, ErrNoCredentials
		}

		s.log.Info(logFmtAttempt, req.SessionID, req.Index, req.Total, cred.Index, cred.Masked())

		chunk, err := s.generator.GenerateSpeech(ctx, core.SpeechRequest{
			Text:        text,
			Voice:       req.Voice,
			Credential:  cred.Value,
			Temperature: req.Temperature,
		})
		tried++

		if err == nil && len(chunk.Data) == 0 {
			err = ErrEmptyAudio
		}

		if err == nil {
			s.metrics.SynthesisAttempt(metrics.AttemptSuccess)
			s.log.Info(logFmtAttemptOK, req.SessionID, req.Index, req.Total, cred.Index, len(chunk.Data), chunk.MIMEType)

			return chunk, nil
		}

		s.metrics.SynthesisAttempt(attemptOutcome(err))
		s.log.Error(logFmtAttemptFailed, req.SessionID, cred.Index, cred.Masked(), req.Index, req.Total, err)

		lastErr = err

		if IsPermanent(err) {
			s.log.Warn(logFmtPermanent, req.SessionID, req.Index, req.Total)

			break
		}
	}

	s.log.Error(logFmtExhausted, req.SessionID, tried, attempts, req.Index, req.Total)

	return core.AudioChunk{}, fmt.Errorf(errFmtExhausted, ErrCredentialsExhausted, lastErr)
}

func attemptOutcome(err error) string {
	if errors.Is(err, ErrContentBlocked) {
		return metrics.AttemptBlocked
	}

	return metrics.AttemptFailure
}

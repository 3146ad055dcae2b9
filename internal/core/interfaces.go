// Package core defines the interfaces and value types shared by the
// generation pipeline and its boundaries.
package core

import (
	"context"
	"time"
)

// ObjectStore defines the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
}

// SpeechRequest is one call to a synthesis capability, made with a single
// credential.
type SpeechRequest struct {
	Text        string
	Voice       string
	Credential  string
	Temperature float64
}

// AudioChunk is the payload returned by a synthesis capability together with
// its declared media type.
type AudioChunk struct {
	MIMEType string
	Data     []byte
}

// SpeechGenerator turns text into audio using a remote speech service.
type SpeechGenerator interface {
	GenerateSpeech(ctx context.Context, req SpeechRequest) (AudioChunk, error)
}

// Concatenator joins audio files in order with a silence gap between them
// and writes the result to output.
type Concatenator interface {
	Concatenate(ctx context.Context, inputs []string, output string, gap time.Duration) error
}

// GenerationRequest is one end-to-end synthesis job.
type GenerationRequest struct {
	Text        string
	StylePrompt string
	Voice       string
	SessionID   string
	Temperature float64
}

// MergeOutcome records how the final artifact was assembled.
type MergeOutcome string

const (
	// MergeSingle means the only segment became the artifact.
	MergeSingle MergeOutcome = "single"
	// MergeCombined means all segments were concatenated.
	MergeCombined MergeOutcome = "combined"
	// MergeDegraded means concatenation was unavailable or failed and the
	// first segment became the artifact.
	MergeDegraded MergeOutcome = "degraded"
)

// GenerationResult describes a successful run.
type GenerationResult struct {
	SessionID    string
	ArtifactPath string
	Merge        MergeOutcome
	Segments     int
}

// Generator runs a GenerationRequest to completion.
type Generator interface {
	Run(ctx context.Context, req GenerationRequest) (*GenerationResult, error)
}

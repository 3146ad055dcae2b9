// Package api holds the payloads exchanged at the pipeline boundaries and
// the single place where pipeline errors become boundary responses.
package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/book-expert/tts-pipeline/internal/core"
	"github.com/book-expert/tts-pipeline/internal/tts"
	"github.com/book-expert/tts-pipeline/internal/tts/text"
	"github.com/book-expert/tts-pipeline/internal/tts/ttsutils"
)

const errFmtNegativeTemperature = "%w: got %g"

// ErrInvalidTemperature is returned for a temperature below zero.
var ErrInvalidTemperature = errors.New("temperature must not be negative")

// GenerateRequest is the body accepted by the HTTP and process boundaries.
type GenerateRequest struct {
	Temperature *float64 `json:"temperature,omitempty"`
	Text        string   `json:"text"`
	Prompt      string   `json:"prompt,omitempty"`
	Speaker     string   `json:"speaker,omitempty"`
	SessionID   string   `json:"session_id,omitempty"`
}

// Defaults fill the fields a caller may omit.
type Defaults struct {
	Voice       string
	Temperature float64
}

// Validate rejects requests that must not reach the pipeline.
func (r GenerateRequest) Validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return tts.ErrTextEmpty
	}

	return r.ValidateParameters()
}

// ValidateParameters checks everything except the text.
func (r GenerateRequest) ValidateParameters() error {
	if r.Temperature != nil && *r.Temperature < 0 {
		return fmt.Errorf(errFmtNegativeTemperature, ErrInvalidTemperature, *r.Temperature)
	}

	return nil
}

// ToGeneration converts the request, filling omitted fields from defaults.
func (r GenerateRequest) ToGeneration(defaults Defaults) core.GenerationRequest {
	voice := strings.TrimSpace(r.Speaker)
	if voice == "" {
		voice = defaults.Voice
	}

	temperature := defaults.Temperature
	if r.Temperature != nil {
		temperature = *r.Temperature
	}

	return core.GenerationRequest{
		Text:        r.Text,
		StylePrompt: r.Prompt,
		Voice:       voice,
		SessionID:   r.SessionID,
		Temperature: temperature,
	}
}

// Result is the envelope written by the process boundary.
type Result struct {
	AudioFilePath string `json:"audio_file_path,omitempty"`
	Error         string `json:"error,omitempty"`
	Success       bool   `json:"success"`
}

// Succeeded builds a success envelope.
func Succeeded(path string) Result {
	return Result{Success: true, AudioFilePath: path}
}

// Failed builds a failure envelope carrying the error message.
func Failed(err error) Result {
	return Result{Success: false, Error: err.Error()}
}

// ErrorBody is the JSON body of an HTTP error response.
type ErrorBody struct {
	Detail string `json:"detail"`
}

// Translate maps a pipeline error to an HTTP status and a message. Input
// errors are 400; everything else is 500.
func Translate(err error) (int, string) {
	if err == nil {
		return http.StatusOK, ""
	}

	switch {
	case errors.Is(err, tts.ErrTextEmpty),
		errors.Is(err, text.ErrNoSegments),
		errors.Is(err, ttsutils.ErrEmptySessionID),
		errors.Is(err, ErrInvalidTemperature):
		return http.StatusBadRequest, err.Error()
	default:
		return http.StatusInternalServerError, err.Error()
	}
}

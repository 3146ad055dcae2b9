package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/book-expert/tts-pipeline/internal/core"
	"github.com/sashabaranov/go-openai"
)

// OpenAI speech defaults. Raw pcm output is 24 kHz 16-bit mono.
const (
	DefaultOpenAIModel = "gpt-4o-mini-tts"
	DefaultOpenAIVoice = "alloy"
	openAIPCMMediaType = "audio/pcm;rate=24000"
	openAISpeechSpeed  = 1.0
)

const (
	errFmtOpenAISpeech = "openai speech request failed: %w"
	errFmtOpenAIRead   = "failed to read openai audio: %w"
)

var openAIVoices = map[string]bool{
	"alloy": true, "ash": true, "ballad": true, "coral": true, "echo": true, "fable": true,
	"onyx": true, "nova": true, "sage": true, "shimmer": true, "verse": true,
}

// OpenAIClient synthesizes speech with the OpenAI audio API. Temperature is
// not supported by that API and is ignored.
type OpenAIClient struct {
	baseURL      string
	model        string
	defaultVoice string
}

// NewOpenAIClient creates a client. Empty values select the defaults.
func NewOpenAIClient(baseURL, model, defaultVoice string) *OpenAIClient {
	if model == "" {
		model = DefaultOpenAIModel
	}

	if defaultVoice == "" {
		defaultVoice = DefaultOpenAIVoice
	}

	return &OpenAIClient{baseURL: baseURL, model: model, defaultVoice: defaultVoice}
}

// GenerateSpeech builds a go-openai client for the request's credential and
// returns the raw PCM stream.
func (c *OpenAIClient) GenerateSpeech(ctx context.Context, req core.SpeechRequest) (core.AudioChunk, error) {
	cfg := openai.DefaultConfig(req.Credential)
	if c.baseURL != "" {
		cfg.BaseURL = c.baseURL
	}

	client := openai.NewClientWithConfig(cfg)

	resp, err := client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(c.model),
		Input:          req.Text,
		Voice:          openai.SpeechVoice(c.voiceFor(req.Voice)),
		ResponseFormat: openai.SpeechResponseFormatPcm,
		Speed:          openAISpeechSpeed,
	})
	if err != nil {
		return core.AudioChunk{}, fmt.Errorf(errFmtOpenAISpeech, translateOpenAIError(err))
	}
	defer resp.Close()

	data, err := io.ReadAll(resp)
	if err != nil {
		return core.AudioChunk{}, fmt.Errorf(errFmtOpenAIRead, err)
	}

	if len(data) == 0 {
		return core.AudioChunk{}, ErrEmptyAudio
	}

	return core.AudioChunk{MIMEType: openAIPCMMediaType, Data: data}, nil
}

// voiceFor maps voices from other providers, such as "Kore", to the default.
func (c *OpenAIClient) voiceFor(voice string) string {
	lower := strings.ToLower(strings.TrimSpace(voice))
	if openAIVoices[lower] {
		return lower
	}

	return c.defaultVoice
}

// translateOpenAIError converts go-openai errors into APIError so that the
// synthesizer classifies both providers the same way.
func translateOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &APIError{
			StatusCode: apiErr.HTTPStatusCode,
			Status:     statusLine(apiErr.HTTPStatusCode),
			Message:    apiErr.Message,
		}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &APIError{
			StatusCode: reqErr.HTTPStatusCode,
			Status:     statusLine(reqErr.HTTPStatusCode),
			Message:    reqErr.Error(),
		}
	}

	return err
}

func statusLine(code int) string {
	return fmt.Sprintf("%d %s", code, http.StatusText(code))
}

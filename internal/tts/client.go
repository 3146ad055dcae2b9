// Package tts implements the chunked speech generation pipeline: clients for
// the remote synthesis services, the per-segment synthesizer that rotates
// credentials, and the Engine that turns a document into one audio artifact.
package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/book-expert/tts-pipeline/internal/core"
)

// Gemini API defaults.
const (
	DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	DefaultGeminiModel   = "gemini-2.5-flash-preview-tts"
)

// API endpoints and paths.
const (
	apiGenerateContentFormat = "%s/models/%s:generateContent"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAPIKey      = "x-goog-api-key"
	contentTypeJSON   = "application/json"
	modalityAudio     = "AUDIO"
	roleUser          = "user"
)

// Error messages.
const (
	errFmtMarshalRequest = "failed to marshal request: %w"
	errFmtCreateRequest  = "failed to create request: %w"
	errFmtSendRequest    = "failed to send request to %s: %w"
	errFmtReadResponse   = "failed to read response: %w"
	errFmtDecodeResponse = "failed to decode response: %w"
	errFmtDecodeAudio    = "failed to decode inline audio: %w"
	errFmtBlocked        = "%w: %s"
	errFmtAPIError       = "speech service error (%s): %s"
)

// credentialMarkers identify an error message about the key itself.
var credentialMarkers = []string{"API key", "API_KEY_", "api key"}

// requestMarkers identify a field violation in the request body, which no
// other credential can fix.
var requestMarkers = []string{"Invalid value at", "Invalid JSON payload"}

// Client errors.
var (
	ErrContentBlocked = errors.New("content blocked by safety filters")
	ErrEmptyAudio     = errors.New("response contained no audio")
)

// blockedFinishReasons end a candidate without audio because of a policy.
var blockedFinishReasons = map[string]bool{
	"SAFETY":             true,
	"PROHIBITED_CONTENT": true,
	"BLOCKLIST":          true,
	"SPII":               true,
}

// APIError is a non-200 response from a speech service.
type APIError struct {
	Status     string
	Message    string
	StatusCode int
}

func (e *APIError) Error() string {
	return fmt.Sprintf(errFmtAPIError, e.Status, e.Message)
}

// IsCredentialError reports whether the credential used for the call was
// rejected.
func (e *APIError) IsCredentialError() bool {
	switch e.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return true
	default:
		return containsAny(e.Message, credentialMarkers)
	}
}

// Permanent reports whether the request itself is malformed, so that every
// credential would fail it the same way. Only a 400 that names a field
// violation qualifies; any other failure may be specific to the key.
func (e *APIError) Permanent() bool {
	if e.StatusCode != http.StatusBadRequest || e.IsCredentialError() {
		return false
	}

	return containsAny(e.Message, requestMarkers)
}

func containsAny(message string, markers []string) bool {
	for _, marker := range markers {
		if strings.Contains(message, marker) {
			return true
		}
	}

	return false
}

// IsPermanent reports whether err carries a request-level permanent APIError.
func IsPermanent(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Permanent()
	}

	return false
}

type generateContentRequest struct {
	Contents         []geminiContent  `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
	Text       string            `json:"text,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type generationConfig struct {
	SpeechConfig       speechConfig `json:"speechConfig"`
	ResponseModalities []string     `json:"responseModalities"`
	Temperature        float64      `json:"temperature"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type generateContentResponse struct {
	PromptFeedback *promptFeedback   `json:"promptFeedback,omitempty"`
	Candidates     []geminiCandidate `json:"candidates"`
}

type promptFeedback struct {
	BlockReason string `json:"blockReason,omitempty"`
}

type geminiCandidate struct {
	Content      *geminiContent `json:"content,omitempty"`
	FinishReason string         `json:"finishReason,omitempty"`
}

type errorEnvelope struct {
	Error struct {
		Message string `json:"message"`
		Status  string `json:"status"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// GeminiClient calls the Gemini generateContent endpoint with audio output.
// The credential travels with each request, so one client serves every key.
type GeminiClient struct {
	httpClient *http.Client
	baseURL    string
	model      string
}

// NewGeminiClient creates a client. Empty baseURL or model select the
// defaults; a zero timeout leaves the transport default in place.
func NewGeminiClient(baseURL, model string, timeout time.Duration) *GeminiClient {
	if baseURL == "" {
		baseURL = DefaultGeminiBaseURL
	}

	if model == "" {
		model = DefaultGeminiModel
	}

	return &GeminiClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
	}
}

// GenerateSpeech synthesizes req.Text with the credential in req and returns
// the first inline audio part.
func (c *GeminiClient) GenerateSpeech(ctx context.Context, req core.SpeechRequest) (core.AudioChunk, error) {
	body, err := json.Marshal(c.buildRequest(req))
	if err != nil {
		return core.AudioChunk{}, fmt.Errorf(errFmtMarshalRequest, err)
	}

	endpoint := fmt.Sprintf(apiGenerateContentFormat, c.baseURL, url.PathEscape(c.model))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return core.AudioChunk{}, fmt.Errorf(errFmtCreateRequest, err)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)
	httpReq.Header.Set(headerAPIKey, req.Credential)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return core.AudioChunk{}, fmt.Errorf(errFmtSendRequest, c.baseURL, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return core.AudioChunk{}, fmt.Errorf(errFmtReadResponse, err)
	}

	if resp.StatusCode != http.StatusOK {
		return core.AudioChunk{}, parseAPIError(resp, payload)
	}

	var decoded generateContentResponse

	err = json.Unmarshal(payload, &decoded)
	if err != nil {
		return core.AudioChunk{}, fmt.Errorf(errFmtDecodeResponse, err)
	}

	return extractAudio(&decoded)
}

func (c *GeminiClient) buildRequest(req core.SpeechRequest) generateContentRequest {
	return generateContentRequest{
		Contents: []geminiContent{{
			Role:  roleUser,
			Parts: []geminiPart{{Text: req.Text}},
		}},
		GenerationConfig: generationConfig{
			Temperature:        req.Temperature,
			ResponseModalities: []string{modalityAudio},
			SpeechConfig: speechConfig{
				VoiceConfig: voiceConfig{
					PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: req.Voice},
				},
			},
		},
	}
}

func extractAudio(resp *generateContentResponse) (core.AudioChunk, error) {
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return core.AudioChunk{}, fmt.Errorf(errFmtBlocked, ErrContentBlocked, resp.PromptFeedback.BlockReason)
	}

	if len(resp.Candidates) == 0 {
		return core.AudioChunk{}, ErrEmptyAudio
	}

	candidate := resp.Candidates[0]
	if blockedFinishReasons[candidate.FinishReason] {
		return core.AudioChunk{}, fmt.Errorf(errFmtBlocked, ErrContentBlocked, candidate.FinishReason)
	}

	if candidate.Content == nil {
		return core.AudioChunk{}, ErrEmptyAudio
	}

	for _, part := range candidate.Content.Parts {
		if part.InlineData == nil || part.InlineData.Data == "" {
			continue
		}

		data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
		if err != nil {
			return core.AudioChunk{}, fmt.Errorf(errFmtDecodeAudio, err)
		}

		if len(data) == 0 {
			continue
		}

		return core.AudioChunk{MIMEType: part.InlineData.MimeType, Data: data}, nil
	}

	return core.AudioChunk{}, ErrEmptyAudio
}

// parseAPIError decodes the service's error envelope, falling back to the
// raw body so the diagnostic is preserved.
func parseAPIError(resp *http.Response, body []byte) *APIError {
	apiErr := &APIError{StatusCode: resp.StatusCode, Status: resp.Status}

	var envelope errorEnvelope

	err := json.Unmarshal(body, &envelope)
	if err == nil && envelope.Error.Message != "" {
		apiErr.Message = envelope.Error.Message

		return apiErr
	}

	apiErr.Message = strings.TrimSpace(string(body))

	return apiErr
}

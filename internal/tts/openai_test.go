package tts_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/book-expert/tts-pipeline/internal/core"
	"github.com/book-expert/tts-pipeline/internal/tts"
	"github.com/book-expert/tts-pipeline/internal/tts/audio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIClient_RequestShape(t *testing.T) {
	t.Parallel()

	pcm := []byte{9, 8, 7, 6}

	var (
		gotPath string
		gotAuth string
		gotBody map[string]any
	)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")

		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}

		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(pcm)
	}))
	t.Cleanup(server.Close)

	client := tts.NewOpenAIClient(server.URL+"/v1", "", "")

	chunk, err := client.GenerateSpeech(context.Background(), core.SpeechRequest{
		Text:        "Hello there.",
		Voice:       "Kore",
		Credential:  "sk-test-0001",
		Temperature: 1.3,
	})
	require.NoError(t, err)

	assert.Equal(t, "/v1/audio/speech", gotPath)
	assert.Equal(t, "Bearer sk-test-0001", gotAuth)
	assert.Equal(t, tts.DefaultOpenAIModel, gotBody["model"])
	assert.Equal(t, "Hello there.", gotBody["input"])
	assert.Equal(t, tts.DefaultOpenAIVoice, gotBody["voice"], "unknown voices fall back to the default")
	assert.Equal(t, "pcm", gotBody["response_format"])

	assert.Equal(t, pcm, chunk.Data)

	format := audio.ParseMediaType(chunk.MIMEType)
	assert.True(t, format.LinearPCM)
	assert.Equal(t, 24000, format.SampleRate)
}

func TestOpenAIClient_KeepsKnownVoice(t *testing.T) {
	t.Parallel()

	var gotVoice any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotVoice = body["voice"]

		_, _ = w.Write([]byte{1, 2})
	}))
	t.Cleanup(server.Close)

	client := tts.NewOpenAIClient(server.URL+"/v1", "tts-1", "alloy")

	_, err := client.GenerateSpeech(context.Background(), core.SpeechRequest{Text: "x", Voice: "Nova", Credential: "sk"})
	require.NoError(t, err)
	assert.Equal(t, "nova", gotVoice)
}

func TestOpenAIClient_ErrorsAreClassified(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Incorrect API key provided","type":"invalid_request_error","code":"invalid_api_key"}}`))
	}))
	t.Cleanup(server.Close)

	client := tts.NewOpenAIClient(server.URL+"/v1", "", "")

	_, err := client.GenerateSpeech(context.Background(), core.SpeechRequest{Text: "x", Credential: "sk-bad"})
	require.Error(t, err)

	var apiErr *tts.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.True(t, apiErr.IsCredentialError())
	assert.False(t, tts.IsPermanent(err))
}

func TestOpenAIClient_EmptyBody(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	client := tts.NewOpenAIClient(server.URL+"/v1", "", "")

	_, err := client.GenerateSpeech(context.Background(), core.SpeechRequest{Text: "x", Credential: "sk"})
	require.ErrorIs(t, err, tts.ErrEmptyAudio)
}

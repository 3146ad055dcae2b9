package api_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/book-expert/tts-pipeline/internal/api"
	"github.com/book-expert/tts-pipeline/internal/tts"
	"github.com/book-expert/tts-pipeline/internal/tts/text"
	"github.com/book-expert/tts-pipeline/internal/tts/ttsutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranslate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err    error
		name   string
		status int
	}{
		{name: "empty text", err: tts.ErrTextEmpty, status: http.StatusBadRequest},
		{name: "no segments", err: text.ErrNoSegments, status: http.StatusBadRequest},
		{name: "bad session id", err: ttsutils.ErrEmptySessionID, status: http.StatusBadRequest},
		{name: "negative temperature", err: fmt.Errorf("wrapped: %w", api.ErrInvalidTemperature), status: http.StatusBadRequest},
		{
			name:   "exhausted credentials",
			err:    fmt.Errorf("segment 2/3: %w: %w", tts.ErrCredentialsExhausted, errors.New("429 quota")),
			status: http.StatusInternalServerError,
		},
		{name: "persistence", err: tts.ErrPersistSegment, status: http.StatusInternalServerError},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			status, message := api.Translate(testCase.err)
			assert.Equal(t, testCase.status, status)
			assert.Equal(t, testCase.err.Error(), message)
		})
	}
}

func TestTranslate_Nil(t *testing.T) {
	t.Parallel()

	status, message := api.Translate(nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Empty(t, message)
}

func TestGenerateRequest_Decode(t *testing.T) {
	t.Parallel()

	var req api.GenerateRequest

	err := json.Unmarshal([]byte(`{"text":"Hi.","prompt":"calm","speaker":"Puck","temperature":0.5,"session_id":"abc"}`), &req)
	require.NoError(t, err)

	require.NotNil(t, req.Temperature)
	assert.InDelta(t, 0.5, *req.Temperature, 1e-9)

	gen := req.ToGeneration(api.Defaults{Voice: "Kore", Temperature: 1})
	assert.Equal(t, "Hi.", gen.Text)
	assert.Equal(t, "calm", gen.StylePrompt)
	assert.Equal(t, "Puck", gen.Voice)
	assert.Equal(t, "abc", gen.SessionID)
	assert.InDelta(t, 0.5, gen.Temperature, 1e-9)
}

func TestGenerateRequest_Defaults(t *testing.T) {
	t.Parallel()

	req := api.GenerateRequest{Text: "Hi.", Speaker: "  "}
	gen := req.ToGeneration(api.Defaults{Voice: "Kore", Temperature: 1})

	assert.Equal(t, "Kore", gen.Voice)
	assert.InDelta(t, 1.0, gen.Temperature, 1e-9)

	zero := 0.0
	req.Temperature = &zero
	assert.Zero(t, req.ToGeneration(api.Defaults{Temperature: 1}).Temperature, "explicit zero is kept")
}

func TestGenerateRequest_Validate(t *testing.T) {
	t.Parallel()

	negative := -0.1

	require.ErrorIs(t, api.GenerateRequest{Text: " \n\t"}.Validate(), tts.ErrTextEmpty)
	require.ErrorIs(t, api.GenerateRequest{Text: "x", Temperature: &negative}.Validate(), api.ErrInvalidTemperature)
	require.NoError(t, api.GenerateRequest{Text: "x"}.Validate())
}

func TestResultEnvelope(t *testing.T) {
	t.Parallel()

	ok, err := json.Marshal(api.Succeeded("output_ab12cd34.wav"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":true,"audio_file_path":"output_ab12cd34.wav"}`, string(ok))

	failed, err := json.Marshal(api.Failed(tts.ErrTextEmpty))
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":false,"error":"text cannot be empty"}`, string(failed))
}

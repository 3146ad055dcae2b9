package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-pipeline/internal/api"
	"github.com/book-expert/tts-pipeline/internal/core"
	"github.com/book-expert/tts-pipeline/internal/metrics"
	"github.com/book-expert/tts-pipeline/internal/server"
	"github.com/book-expert/tts-pipeline/internal/tts"
	"github.com/book-expert/tts-pipeline/internal/tts/text"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	generatePath = "/api/generate-audio"
	artifactPath = "/work/output_ab12cd34.wav"
)

var artifactBytes = []byte("RIFF\x24\x00\x00\x00WAVEfmt fake audio")

// fakeGenerator writes payload (artifactBytes by default) as the artifact,
// or fails with err.
type fakeGenerator struct {
	fs       afero.Fs
	err      error
	payload  []byte
	requests []core.GenerationRequest
	mu       sync.Mutex
}

func (f *fakeGenerator) Run(_ context.Context, req core.GenerationRequest) (*core.GenerationResult, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}

	payload := f.payload
	if payload == nil {
		payload = artifactBytes
	}

	err := afero.WriteFile(f.fs, artifactPath, payload, 0o600)
	if err != nil {
		return nil, err
	}

	return &core.GenerationResult{
		SessionID:    "ab12cd34",
		ArtifactPath: artifactPath,
		Merge:        core.MergeCombined,
		Segments:     3,
	}, nil
}

func (f *fakeGenerator) calls() []core.GenerationRequest {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]core.GenerationRequest(nil), f.requests...)
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "server-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = log.Close() })

	return log
}

func newServer(t *testing.T, generator *fakeGenerator) (*server.Server, *metrics.Metrics) {
	t.Helper()

	m := metrics.New()
	cfg := server.Config{
		ListenAddr: "127.0.0.1:0",
		StaticDir:  "/public",
		Defaults:   api.Defaults{Voice: "Kore", Temperature: 1.0},
	}

	return server.New(cfg, generator, generator.fs, m, newTestLogger(t)), m
}

func post(t *testing.T, handler http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, generatePath, strings.NewReader(body))
	request.Header.Set("Content-Type", "application/json")
	handler.ServeHTTP(recorder, request)

	return recorder
}

func decodeDetail(t *testing.T, recorder *httptest.ResponseRecorder) string {
	t.Helper()

	var body api.ErrorBody

	require.NoError(t, json.NewDecoder(recorder.Body).Decode(&body))

	return body.Detail
}

func TestGenerate_StreamsArtifact(t *testing.T) {
	t.Parallel()

	generator := &fakeGenerator{fs: afero.NewMemMapFs()}
	srv, _ := newServer(t, generator)

	recorder := post(t, srv.Handler(), `{"text":"Hello there.","prompt":"Warm","speaker":"Puck","temperature":0.3}`)

	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "audio/wav", recorder.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="output_ab12cd34.wav"`, recorder.Header().Get("Content-Disposition"))
	assert.Equal(t, "ab12cd34", recorder.Header().Get("X-Session-Id"))
	assert.Equal(t, "combined", recorder.Header().Get("X-Merge-Outcome"))
	assert.Equal(t, "3", recorder.Header().Get("X-Segment-Count"))
	assert.Equal(t, artifactBytes, recorder.Body.Bytes())

	calls := generator.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "Hello there.", calls[0].Text)
	assert.Equal(t, "Warm", calls[0].StylePrompt)
	assert.Equal(t, "Puck", calls[0].Voice)
	assert.InDelta(t, 0.3, calls[0].Temperature, 1e-9)

	exists, err := afero.Exists(generator.fs, artifactPath)
	require.NoError(t, err)
	assert.False(t, exists, "the artifact is deleted once streamed")
}

func TestGenerate_PassThroughContainerKeepsItsType(t *testing.T) {
	t.Parallel()

	mp3 := append([]byte("ID3\x04\x00\x00\x00\x00\x00\x00"), bytes.Repeat([]byte{0xff, 0xfb}, 600)...)
	generator := &fakeGenerator{fs: afero.NewMemMapFs(), payload: mp3}
	srv, _ := newServer(t, generator)

	recorder := post(t, srv.Handler(), `{"text":"Hello there."}`)

	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "audio/mpeg", recorder.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="output_ab12cd34.mp3"`, recorder.Header().Get("Content-Disposition"))
	assert.Equal(t, strconv.Itoa(len(mp3)), recorder.Header().Get("Content-Length"))
	assert.Equal(t, mp3, recorder.Body.Bytes(), "the sniffed head is streamed with the rest")
}

func TestGenerate_AppliesDefaults(t *testing.T) {
	t.Parallel()

	generator := &fakeGenerator{fs: afero.NewMemMapFs()}
	srv, _ := newServer(t, generator)

	recorder := post(t, srv.Handler(), `{"text":"Hello."}`)
	require.Equal(t, http.StatusOK, recorder.Code)

	calls := generator.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "Kore", calls[0].Voice)
	assert.InDelta(t, 1.0, calls[0].Temperature, 1e-9)
}

func TestGenerate_RejectsBeforeRunning(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{name: "malformed json", body: `{"text":`},
		{name: "empty text", body: `{"text":""}`},
		{name: "blank text", body: `{"text":"  \n\t "}`},
		{name: "negative temperature", body: `{"text":"Hi.","temperature":-1}`},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			generator := &fakeGenerator{fs: afero.NewMemMapFs()}
			srv, _ := newServer(t, generator)

			recorder := post(t, srv.Handler(), testCase.body)

			assert.Equal(t, http.StatusBadRequest, recorder.Code)
			assert.Equal(t, "application/json", recorder.Header().Get("Content-Type"))
			assert.NotEmpty(t, decodeDetail(t, recorder))
			assert.Empty(t, generator.calls())
		})
	}
}

func TestGenerate_PipelineErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err    error
		name   string
		status int
	}{
		{
			name:   "exhausted",
			err:    fmt.Errorf("segment 2/3: %w: 429 quota", tts.ErrCredentialsExhausted),
			status: http.StatusInternalServerError,
		},
		{
			name:   "no segments",
			err:    text.ErrNoSegments,
			status: http.StatusBadRequest,
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			generator := &fakeGenerator{fs: afero.NewMemMapFs(), err: testCase.err}
			srv, _ := newServer(t, generator)

			recorder := post(t, srv.Handler(), `{"text":"Hello."}`)

			assert.Equal(t, testCase.status, recorder.Code)
			assert.Equal(t, testCase.err.Error(), decodeDetail(t, recorder))
		})
	}
}

func TestGenerate_WrongMethod(t *testing.T) {
	t.Parallel()

	srv, _ := newServer(t, &fakeGenerator{fs: afero.NewMemMapFs()})

	recorder := httptest.NewRecorder()
	srv.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, generatePath, http.NoBody))

	assert.Equal(t, http.StatusMethodNotAllowed, recorder.Code)
}

func TestHealth(t *testing.T) {
	t.Parallel()

	srv, _ := newServer(t, &fakeGenerator{fs: afero.NewMemMapFs()})

	recorder := httptest.NewRecorder()
	srv.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/health", http.NoBody))

	require.Equal(t, http.StatusOK, recorder.Code)
	assert.JSONEq(t, `{"status":"ok"}`, recorder.Body.String())
}

func TestMetrics(t *testing.T) {
	t.Parallel()

	srv, m := newServer(t, &fakeGenerator{fs: afero.NewMemMapFs()})
	m.ObserveRequest(metrics.StatusSuccess, time.Second)

	recorder := httptest.NewRecorder()
	srv.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))

	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), `tts_generation_requests_total{status="success"} 1`)
}

func TestStaticFiles(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/public/index.html", []byte("<h1>tts</h1>"), 0o600))
	require.NoError(t, afero.WriteFile(fs, "/public/app.js", []byte("console.log(1)"), 0o600))

	srv, _ := newServer(t, &fakeGenerator{fs: fs})
	handler := srv.Handler()

	index := httptest.NewRecorder()
	handler.ServeHTTP(index, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	require.Equal(t, http.StatusOK, index.Code)
	assert.Contains(t, index.Body.String(), "<h1>tts</h1>")

	script := httptest.NewRecorder()
	handler.ServeHTTP(script, httptest.NewRequest(http.MethodGet, "/static/app.js", http.NoBody))
	require.Equal(t, http.StatusOK, script.Code)
	assert.Equal(t, "console.log(1)", script.Body.String())
}

func TestStaticFiles_MissingDirectory(t *testing.T) {
	t.Parallel()

	srv, _ := newServer(t, &fakeGenerator{fs: afero.NewMemMapFs()})

	recorder := httptest.NewRecorder()
	srv.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	assert.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	t.Parallel()

	srv, _ := newServer(t, &fakeGenerator{fs: afero.NewMemMapFs()})

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		done <- srv.Serve(ctx, listener)
	}()

	response, err := http.Get("http://" + listener.Addr().String() + "/health")
	require.NoError(t, err)

	body, err := io.ReadAll(response.Body)
	require.NoError(t, err)
	require.NoError(t, response.Body.Close())
	assert.JSONEq(t, `{"status":"ok"}`, string(body))

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

// Package server exposes the generation pipeline over HTTP.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-pipeline/internal/api"
	"github.com/book-expert/tts-pipeline/internal/core"
	"github.com/book-expert/tts-pipeline/internal/metrics"
	"github.com/spf13/afero"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 10 * time.Second
	maxRequestBytes   = 10 << 20

	contentTypeJSON = "application/json"
	contentTypeWAV  = "audio/wav"
	sniffedWAV      = "audio/wave"
	sniffLength     = 512
	dispositionFmt  = "attachment; filename=%q"

	headerSessionID = "X-Session-Id"
	headerMerge     = "X-Merge-Outcome"
	headerSegments  = "X-Segment-Count"
	indexPath       = "/"
	staticPrefix    = "/static/"
)

const (
	errFmtDecodeBody = "invalid request body: %v"
	errFmtListen     = "failed to listen on %s: %w"
	errFmtServe      = "http server failed: %w"
	errFmtShutdown   = "http shutdown failed: %w"
	errFmtOpen       = "failed to open artifact: %w"
	errFmtSniff      = "failed to read artifact: %w"

	logFmtListening     = "HTTP server listening on %s"
	logFmtStatic        = "Serving static files from %s"
	logFmtNoStatic      = "Static directory %s not found; only the API is served"
	logFmtRequest       = "Generate request: %d characters, speaker %q"
	logFmtRequestFailed = "Generate request failed (%d): %s"
	logFmtStreamFailed  = "Failed to stream %s: %v"
	logFmtRemoveFailed  = "Failed to remove artifact %s: %v"
	logFmtWriteFailed   = "Failed to write response: %v"
)

// sniffedExtensions names the download for container payloads that were
// passed through without a WAV header.
var sniffedExtensions = map[string]string{
	"audio/mpeg":      ".mp3",
	"application/ogg": ".ogg",
	"audio/aiff":      ".aiff",
	"audio/basic":     ".au",
}

// Config holds the HTTP boundary settings.
type Config struct {
	ListenAddr string
	StaticDir  string
	Defaults   api.Defaults
}

// Server serves the generate, health, metrics, and static routes.
type Server struct {
	generator core.Generator
	fs        afero.Fs
	log       *logger.Logger
	metrics   *metrics.Metrics
	cfg       Config
}

// New creates a Server. fs must be the filesystem the generator writes
// artifacts to; static files are read from it too.
func New(cfg Config, generator core.Generator, fs afero.Fs, m *metrics.Metrics, log *logger.Logger) *Server {
	return &Server{
		generator: generator,
		fs:        fs,
		log:       log,
		metrics:   m,
		cfg:       cfg,
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/generate-audio", s.handleGenerate)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", s.metrics.Handler())

	if s.cfg.StaticDir != "" {
		exists, _ := afero.DirExists(s.fs, s.cfg.StaticDir)
		if exists {
			s.log.Info(logFmtStatic, s.cfg.StaticDir)

			files := http.FileServer(afero.NewHttpFs(s.fs).Dir(s.cfg.StaticDir))
			mux.Handle("GET "+staticPrefix, http.StripPrefix(staticPrefix, files))
			mux.Handle("GET "+indexPath+"{$}", files)
		} else {
			s.log.Warn(logFmtNoStatic, s.cfg.StaticDir)
		}
	}

	return mux
}

// ListenAndServe listens on the configured address and serves until ctx is
// cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf(errFmtListen, s.cfg.ListenAddr, err)
	}

	return s.Serve(ctx, listener)
}

// Serve serves on listener until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErr := make(chan error, 1)

	go func() {
		serveErr <- httpServer.Serve(listener)
	}()

	s.log.Info(logFmtListening, listener.Addr().String())

	select {
	case err := <-serveErr:
		return fmt.Errorf(errFmtServe, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := httpServer.Shutdown(shutdownCtx)
	if err != nil {
		return fmt.Errorf(errFmtShutdown, err)
	}

	err = <-serveErr
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf(errFmtServe, err)
	}

	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req api.GenerateRequest

	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf(errFmtDecodeBody, err))

		return
	}

	err = req.Validate()
	if err != nil {
		status, message := api.Translate(err)
		s.writeError(w, status, message)

		return
	}

	s.log.Info(logFmtRequest, len([]rune(req.Text)), req.Speaker)

	// A run is never cancelled mid-flight, even when the client goes away.
	result, err := s.generator.Run(context.WithoutCancel(r.Context()), req.ToGeneration(s.cfg.Defaults))
	if err != nil {
		status, message := api.Translate(err)
		s.writeError(w, status, message)

		return
	}

	defer s.removeArtifact(result.ArtifactPath)

	s.streamArtifact(w, result)
}

func (s *Server) streamArtifact(w http.ResponseWriter, result *core.GenerationResult) {
	file, err := s.fs.Open(result.ArtifactPath)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf(errFmtOpen, err).Error())

		return
	}
	defer file.Close()

	head := make([]byte, sniffLength)

	n, err := io.ReadFull(file, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf(errFmtSniff, err).Error())

		return
	}

	head = head[:n]
	contentType, filename := describeArtifact(head, filepath.Base(result.ArtifactPath))

	header := w.Header()
	header.Set("Content-Type", contentType)
	header.Set("Content-Disposition", fmt.Sprintf(dispositionFmt, filename))
	header.Set(headerSessionID, result.SessionID)
	header.Set(headerMerge, string(result.Merge))
	header.Set(headerSegments, strconv.Itoa(result.Segments))

	info, err := file.Stat()
	if err == nil {
		header.Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	}

	w.WriteHeader(http.StatusOK)

	_, err = io.Copy(w, io.MultiReader(bytes.NewReader(head), file))
	if err != nil {
		s.log.Warn(logFmtStreamFailed, result.ArtifactPath, err)
	}
}

// describeArtifact picks the response type from the payload itself. The
// artifact is always named .wav, but a single passed-through container
// segment keeps its own encoding.
func describeArtifact(head []byte, name string) (string, string) {
	detected := http.DetectContentType(head)
	if detected == sniffedWAV {
		return contentTypeWAV, name
	}

	ext, ok := sniffedExtensions[detected]
	if !ok {
		return contentTypeWAV, name
	}

	return detected, strings.TrimSuffix(name, filepath.Ext(name)) + ext
}

func (s *Server) removeArtifact(path string) {
	err := s.fs.Remove(path)
	if err != nil {
		s.log.Warn(logFmtRemoveFailed, path, err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.log.Error(logFmtRequestFailed, status, message)
	s.writeJSON(w, status, api.ErrorBody{Detail: message})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)

	err := json.NewEncoder(w).Encode(body)
	if err != nil {
		s.log.Error(logFmtWriteFailed, err)
	}
}

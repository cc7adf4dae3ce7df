// Package ui serves the browser form and a JSON API in front of the synthesis
// service.
//
// The form posts to /synthesize and the page is re-rendered with an audio
// player bound to the produced file. Failures leave the player empty. Produced
// files are served from the output directory under /audio/, static examples and
// the header image from the assets directory under /assets/.
package ui

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/book-expert/logger"

	"github.com/book-expert/voice-studio/internal/core"
	"github.com/book-expert/voice-studio/internal/synthesis"
	"github.com/book-expert/voice-studio/internal/tts/audio"
)

// Slider bounds shown in the form. They are presentation only; the service
// does not enforce them.
const (
	SliderMin  = 0.0
	SliderMax  = 2.0
	SliderStep = 0.01
)

const (
	readHeaderTimeout = 10 * time.Second
	indexTemplate     = "templates/index.html"
)

//go:embed templates/index.html
var templatesFS embed.FS

// Synthesizer runs one synthesis request.
type Synthesizer interface {
	Synthesize(ctx context.Context, req synthesis.Request) (*synthesis.Result, error)
}

// Example is one reference recording shown below the form.
type Example struct {
	File    string
	Caption string
}

// Options configures the page and the directories files are served from.
type Options struct {
	Title         string
	Description   string
	Image         string
	Examples      []Example
	Defaults      core.Params
	DefaultFormat audio.Format
	OutputDir     string
	AssetsDir     string
}

// Server is the HTTP front end.
type Server struct {
	synthesizer Synthesizer
	opts        Options
	page        *template.Template
	log         *logger.Logger
	ready       atomic.Bool
	server      *http.Server
}

// NewServer parses the embedded page template.
func NewServer(synthesizer Synthesizer, opts Options, log *logger.Logger) (*Server, error) {
	page, err := template.ParseFS(templatesFS, indexTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse page template: %w", err)
	}

	if opts.DefaultFormat == "" {
		opts.DefaultFormat = audio.FORMAT_WAV
	}

	return &Server{
		synthesizer: synthesizer,
		opts:        opts,
		page:        page,
		log:         log,
	}, nil
}

// SetReady marks the server as ready to accept traffic.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("POST /synthesize", s.handleFormSubmit)
	mux.HandleFunc("GET /audio/{name}", s.handleAudio)
	mux.HandleFunc("GET /assets/{name}", s.handleAsset)
	mux.HandleFunc("POST /api/synthesize", s.handleAPISynthesize)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	return mux
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down within
// shutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	return s.Serve(ctx, listener, shutdownTimeout)
}

// Serve serves on listener until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, listener net.Listener, shutdownTimeout time.Duration) error {
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		<-ctx.Done()
		s.SetReady(false)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.log.Info("UI listening on %s", listener.Addr())
	s.SetReady(true)

	err := s.server.Serve(listener)
	if !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("ui server: %w", err)
	}

	return nil
}

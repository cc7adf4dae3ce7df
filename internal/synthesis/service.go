// Package synthesis turns one user request into one audio file.
//
// A request runs five stages in order: patch the model configuration, load a
// fresh engine bound to it, optionally normalize the text, synthesize, and write
// the audio. The configuration file and the default output path are shared by
// every request, so the service runs one request at a time.
package synthesis

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/book-expert/logger"
	goaudio "github.com/go-audio/audio"
	"github.com/google/uuid"

	"github.com/book-expert/voice-studio/internal/core"
	"github.com/book-expert/voice-studio/internal/modelconfig"
	"github.com/book-expert/voice-studio/internal/tts"
	"github.com/book-expert/voice-studio/internal/tts/audio"
	"github.com/book-expert/voice-studio/internal/tts/text"
	"github.com/book-expert/voice-studio/internal/tts/ttsutils"
)

// Output file naming.
const (
	outputBaseName   = "output"
	scopedNamePrefix = "output-"
)

// Error messages.
const (
	errFmtConfigUpdate = "%w: %w"
	errFmtPersist      = "failed to write %s audio to %s: %w"
)

var (
	// ErrModelUnavailable is returned when no engine could be loaded for the
	// patched configuration.
	ErrModelUnavailable = errors.New("model unavailable")
	// ErrNoAudio is returned when the engine failed to produce audio.
	ErrNoAudio = errors.New("no audio produced")
	// ErrConfigUpdate wraps failures to patch the model configuration file.
	ErrConfigUpdate = errors.New("failed to update model configuration")
	// ErrUnsupportedFormat is returned for container formats other than wav and mp3.
	ErrUnsupportedFormat = audio.ErrUnsupportedFormat
)

// Request is a single synthesis call.
type Request struct {
	Text      string
	Params    core.Params
	Format    string
	Normalize bool
}

// Result describes the written audio file.
type Result struct {
	Path       string
	Name       string
	Format     audio.Format
	SampleRate int
	Channels   int
	Bytes      int64
	ObjectKey  string
}

// Options holds the fixed locations and limits of the service.
type Options struct {
	ModelPath  string
	ConfigPath string
	OutputDir  string
	// ScopedOutput writes each request to its own output-<uuid>.<format> file
	// instead of the shared output.<format>.
	ScopedOutput  bool
	EngineTimeout time.Duration
}

// Service is the request handler behind the UI, the CLI and the NATS worker.
type Service struct {
	mu         sync.Mutex
	opts       Options
	loader     *tts.ModelLoader
	normalizer core.TextNormalizer
	writer     *audio.Writer
	store      core.ObjectStore
	log        *logger.Logger
}

// New creates a service. store may be nil, in which case nothing is published.
func New(
	opts Options,
	loader *tts.ModelLoader,
	normalizer core.TextNormalizer,
	writer *audio.Writer,
	store core.ObjectStore,
	log *logger.Logger,
) *Service {
	if normalizer == nil {
		normalizer = text.NewNormalizer()
	}

	return &Service{
		opts:       opts,
		loader:     loader,
		normalizer: normalizer,
		writer:     writer,
		store:      store,
		log:        log,
	}
}

// OutputDir returns the directory audio files are written to.
func (s *Service) OutputDir() string {
	return s.opts.OutputDir
}

// Synthesize runs the full request flow and returns the written file.
//
// Configuration write failures are returned wrapped in ErrConfigUpdate. A nil
// model yields ErrModelUnavailable and an engine failure yields ErrNoAudio; both
// are logged here. Text and parameters are passed through unvalidated.
func (s *Service) Synthesize(ctx context.Context, req Request) (*Result, error) {
	format, formatErr := audio.ParseFormat(req.Format)
	if formatErr != nil {
		return nil, formatErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	started := time.Now()

	updateErr := modelconfig.Update(s.opts.ConfigPath, req.Params)
	if updateErr != nil {
		s.log.Error("Failed to patch model config %s: %v", s.opts.ConfigPath, updateErr)

		return nil, fmt.Errorf(errFmtConfigUpdate, ErrConfigUpdate, updateErr)
	}

	model := s.loader.Load(s.opts.ModelPath, s.opts.ConfigPath)
	if model == nil {
		return nil, ErrModelUnavailable
	}

	input := req.Text
	if req.Normalize {
		input = s.normalizer.Normalize(input)
	}

	buf, synthErr := s.synthesize(ctx, model, input)
	if synthErr != nil {
		s.log.Error("Synthesis failed: %v", synthErr)

		return nil, fmt.Errorf("%w: %w", ErrNoAudio, synthErr)
	}

	path := s.outputPath(format)

	size, writeErr := s.writer.Write(ctx, buf, path, format)
	if writeErr != nil {
		return nil, fmt.Errorf(errFmtPersist, format, path, writeErr)
	}

	result := &Result{
		Path:       path,
		Name:       filepath.Base(path),
		Format:     format,
		SampleRate: audio.OUTPUT_SAMPLE_RATE,
		Channels:   channelsOf(buf.Format),
		Bytes:      size,
	}

	result.ObjectKey = s.publish(ctx, path, format)

	s.log.Info("Wrote %s (%s) in %s",
		path, ttsutils.FormatFileSize(size), ttsutils.FormatElapsed(time.Since(started)))

	return result, nil
}

func (s *Service) synthesize(ctx context.Context, model *tts.Model, input string) (*goaudio.IntBuffer, error) {
	if s.opts.EngineTimeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, s.opts.EngineTimeout)
		defer cancel()
	}

	return model.Synthesize(ctx, input)
}

func (s *Service) outputPath(format audio.Format) string {
	name := outputBaseName + format.Extension()
	if s.opts.ScopedOutput {
		name = scopedNamePrefix + uuid.NewString() + format.Extension()
	}

	return filepath.Join(s.opts.OutputDir, name)
}

// publish uploads the written file to the artifact store and returns its key.
// Failures are logged and leave the key empty.
func (s *Service) publish(ctx context.Context, path string, format audio.Format) string {
	if s.store == nil {
		return ""
	}

	data, readErr := os.ReadFile(path)
	if readErr != nil {
		s.log.Warn("Failed to read %s for upload: %v", path, readErr)

		return ""
	}

	key := uuid.NewString() + format.Extension()

	uploadErr := s.store.Upload(ctx, key, data)
	if uploadErr != nil {
		s.log.Warn("Failed to publish %s as %s: %v", path, key, uploadErr)

		return ""
	}

	return key
}

func channelsOf(format *goaudio.Format) int {
	if format == nil || format.NumChannels <= 0 {
		return audio.DEFAULT_CHANNELS
	}

	return format.NumChannels
}

package tts

import (
	"context"

	"github.com/book-expert/logger"
	"github.com/go-audio/audio"

	"github.com/book-expert/voice-studio/internal/core"
)

// Model is a synthesis engine bound to one weights file and one configuration
// snapshot. It is built per request and discarded afterwards.
type Model struct {
	engine       core.SynthesisEngine
	backend      string
	modelPath    string
	configPath   string
	multiLingual bool
}

// Synthesize converts text to PCM with the bound engine.
func (m *Model) Synthesize(ctx context.Context, text string) (*audio.IntBuffer, error) {
	return m.engine.Synthesize(ctx, text)
}

// Engine returns the underlying engine.
func (m *Model) Engine() core.SynthesisEngine { return m.engine }

// Backend returns the name of the backend that opened the model.
func (m *Model) Backend() string { return m.backend }

// IsMultiLingual reports the multi-language flag. Nothing in the request flow
// reads it; it defaults to false.
func (m *Model) IsMultiLingual() bool { return m.multiLingual }

// SetMultiLingual sets the multi-language flag.
func (m *Model) SetMultiLingual(value bool) { m.multiLingual = value }

// ModelLoader opens models through a backend and never fails loudly: errors are
// logged and reported as a nil Model.
type ModelLoader struct {
	backend core.EngineBackend
	log     *logger.Logger
}

// NewModelLoader creates a loader for backend.
func NewModelLoader(backend core.EngineBackend, log *logger.Logger) *ModelLoader {
	return &ModelLoader{
		backend: backend,
		log:     log,
	}
}

// Load returns a model bound to modelPath and configPath, or nil when the
// engine cannot be constructed. Callers must check for nil.
func (l *ModelLoader) Load(modelPath, configPath string) *Model {
	engine, err := l.backend.Open(modelPath, configPath)
	if err != nil {
		l.log.Error("Error loading %s model %s: %v", l.backend.Name(), modelPath, err)

		return nil
	}

	l.log.Info("Loaded %s model %s with config %s", l.backend.Name(), modelPath, configPath)

	return &Model{
		engine:     engine,
		backend:    l.backend.Name(),
		modelPath:  modelPath,
		configPath: configPath,
	}
}

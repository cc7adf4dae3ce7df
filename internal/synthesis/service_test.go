package synthesis_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/logger"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/voice-studio/internal/core"
	"github.com/book-expert/voice-studio/internal/modelconfig"
	"github.com/book-expert/voice-studio/internal/synthesis"
	"github.com/book-expert/voice-studio/internal/tts"
	"github.com/book-expert/voice-studio/internal/tts/audio"
	"github.com/book-expert/voice-studio/internal/tts/text"
)

const testModelConfig = `{
    "audio": {"sample_rate": 16000},
    "model_args": {
        "length_scale": 1.0,
        "inference_noise_scale": 0.667,
        "inference_noise_scale_dp": 0.8
    },
    "speakers": ["ljspeech"]
}`

var (
	errEngineExploded = errors.New("engine exploded")
	errStoreDown      = errors.New("store down")
)

var helloParams = core.Params{LengthScale: 1.0, NoiseScale: 0.5, NoiseScaleDP: 0.3}

// fakeBackend opens engines that turn each byte of text into one sample. When
// gate is set, engines block until it is closed or the context ends.
type fakeBackend struct {
	mu       sync.Mutex
	openErr  error
	synthErr error
	gate     chan struct{}
	entered  chan string
	texts    []string
	opened   []core.Params
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) Open(_, configPath string) (core.SynthesisEngine, error) {
	if b.openErr != nil {
		return nil, b.openErr
	}

	params, err := modelconfig.ReadParams(configPath)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	b.opened = append(b.opened, params)
	b.mu.Unlock()

	return &fakeEngine{backend: b}, nil
}

func (b *fakeBackend) recordedTexts() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]string(nil), b.texts...)
}

func (b *fakeBackend) openedParams() []core.Params {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]core.Params(nil), b.opened...)
}

type fakeEngine struct {
	backend *fakeBackend
}

func (e *fakeEngine) Synthesize(ctx context.Context, input string) (*goaudio.IntBuffer, error) {
	backend := e.backend

	backend.mu.Lock()
	backend.texts = append(backend.texts, input)
	backend.mu.Unlock()

	if backend.entered != nil {
		backend.entered <- input
	}

	if backend.gate != nil {
		select {
		case <-backend.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if backend.synthErr != nil {
		return nil, backend.synthErr
	}

	return &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: 16000},
		Data:           samplesFor(input),
		SourceBitDepth: 16,
	}, nil
}

func samplesFor(input string) []int {
	data := []int{1}
	for _, b := range []byte(input) {
		data = append(data, int(b)*100)
	}

	return data
}

type recordingStore struct {
	mu       sync.Mutex
	fail     bool
	uploaded map[string][]byte
}

func (s *recordingStore) Download(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.uploaded[key], nil
}

func (s *recordingStore) Upload(_ context.Context, key string, data []byte) error {
	if s.fail {
		return errStoreDown
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.uploaded == nil {
		s.uploaded = make(map[string][]byte)
	}

	s.uploaded[key] = data

	return nil
}

type harness struct {
	dir        string
	configPath string
	modelPath  string
	outputDir  string
	log        *logger.Logger
}

func newHarness(t *testing.T) harness {
	t.Helper()

	dir := t.TempDir()
	h := harness{
		dir:        dir,
		configPath: filepath.Join(dir, "config.json"),
		modelPath:  filepath.Join(dir, "model.onnx"),
		outputDir:  filepath.Join(dir, "out"),
	}

	require.NoError(t, os.WriteFile(h.configPath, []byte(testModelConfig), 0o600))
	require.NoError(t, os.WriteFile(h.modelPath, []byte("weights"), 0o600))

	log, err := logger.New(dir, "synthesis-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = log.Close() })

	h.log = log

	return h
}

func (h harness) options() synthesis.Options {
	return synthesis.Options{
		ModelPath:  h.modelPath,
		ConfigPath: h.configPath,
		OutputDir:  h.outputDir,
	}
}

func (h harness) service(backend core.EngineBackend, opts synthesis.Options, store core.ObjectStore) *synthesis.Service {
	return synthesis.New(
		opts,
		tts.NewModelLoader(backend, h.log),
		text.NewNormalizer(),
		audio.NewWriter(""),
		store,
		h.log,
	)
}

func readWAV(t *testing.T, path string) (*wav.Decoder, []int) {
	t.Helper()

	file, err := os.Open(path)
	require.NoError(t, err)

	t.Cleanup(func() { _ = file.Close() })

	decoder := wav.NewDecoder(file)
	require.True(t, decoder.IsValidFile())

	buf, err := decoder.FullPCMBuffer()
	require.NoError(t, err)

	return decoder, buf.Data
}

func TestService_HelloWorldEndToEnd(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	script := "#!/bin/sh\ncat > /dev/null\nprintf '\\001\\000\\002\\000\\003\\000'\n"
	binary := filepath.Join(h.dir, "fake-piper")
	require.NoError(t, os.WriteFile(binary, []byte(script), 0o700))

	svc := h.service(tts.NewPiperBackend(binary), h.options(), nil)

	result, err := svc.Synthesize(context.Background(), synthesis.Request{
		Text:   "Hello world",
		Params: helloParams,
		Format: "wav",
	})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(h.outputDir, "output.wav"), result.Path)
	assert.Equal(t, "output.wav", result.Name)
	assert.Equal(t, audio.FORMAT_WAV, result.Format)
	assert.Equal(t, 22050, result.SampleRate)
	assert.Equal(t, 1, result.Channels)
	assert.Positive(t, result.Bytes)
	assert.Empty(t, result.ObjectKey)

	decoder, samples := readWAV(t, result.Path)
	assert.Equal(t, uint32(22050), decoder.SampleRate)
	assert.Equal(t, []int{1, 2, 3}, samples)

	params, err := modelconfig.ReadParams(h.configPath)
	require.NoError(t, err)
	assert.Equal(t, helloParams, params)
}

func TestService_OutOfRangeParamsPassThrough(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	backend := &fakeBackend{}
	svc := h.service(backend, h.options(), nil)

	outOfRange := core.Params{LengthScale: 50.0, NoiseScale: 0.5, NoiseScaleDP: 0.3}

	result, err := svc.Synthesize(context.Background(), synthesis.Request{
		Text:   "Hello world",
		Params: outOfRange,
		Format: "wav",
	})
	require.NoError(t, err)
	assert.FileExists(t, result.Path)

	written, err := modelconfig.ReadParams(h.configPath)
	require.NoError(t, err)
	assert.InDelta(t, 50.0, written.LengthScale, 0)

	assert.Equal(t, []core.Params{outOfRange}, backend.openedParams())

	doc, err := modelconfig.Read(h.configPath)
	require.NoError(t, err)
	assert.Equal(t, []any{"ljspeech"}, doc["speakers"])
}

func TestService_NormalizeFlag(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	backend := &fakeBackend{}
	svc := h.service(backend, h.options(), nil)

	raw := "CAFÉ €5 test@example.com"

	_, err := svc.Synthesize(context.Background(), synthesis.Request{Text: raw, Params: helloParams, Format: "wav"})
	require.NoError(t, err)

	_, err = svc.Synthesize(context.Background(), synthesis.Request{
		Text: raw, Params: helloParams, Format: "wav", Normalize: true,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{raw, "cafe 5"}, backend.recordedTexts())
}

func TestService_EmptyTextReachesEngine(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	backend := &fakeBackend{}
	svc := h.service(backend, h.options(), nil)

	_, err := svc.Synthesize(context.Background(), synthesis.Request{Text: "   ", Params: helloParams, Format: "wav"})
	require.NoError(t, err)
	assert.Equal(t, []string{"   "}, backend.recordedTexts())
}

func TestService_LoadFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	svc := h.service(&fakeBackend{openErr: tts.ErrModelFileMissing}, h.options(), nil)

	result, err := svc.Synthesize(context.Background(), synthesis.Request{Text: "x", Params: helloParams, Format: "wav"})
	require.ErrorIs(t, err, synthesis.ErrModelUnavailable)
	assert.Nil(t, result)
	assert.NoFileExists(t, filepath.Join(h.outputDir, "output.wav"))

	params, readErr := modelconfig.ReadParams(h.configPath)
	require.NoError(t, readErr)
	assert.Equal(t, helloParams, params)
}

func TestService_SynthesisFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	svc := h.service(&fakeBackend{synthErr: errEngineExploded}, h.options(), nil)

	result, err := svc.Synthesize(context.Background(), synthesis.Request{Text: "x", Params: helloParams, Format: "wav"})
	require.ErrorIs(t, err, synthesis.ErrNoAudio)
	require.ErrorIs(t, err, errEngineExploded)
	assert.Nil(t, result)
	assert.NoFileExists(t, filepath.Join(h.outputDir, "output.wav"))
}

func TestService_EngineTimeout(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	backend := &fakeBackend{gate: make(chan struct{})}
	opts := h.options()
	opts.EngineTimeout = 20 * time.Millisecond
	svc := h.service(backend, opts, nil)

	_, err := svc.Synthesize(context.Background(), synthesis.Request{Text: "slow", Params: helloParams, Format: "wav"})
	require.ErrorIs(t, err, synthesis.ErrNoAudio)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestService_ConfigFailures(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	backend := &fakeBackend{}
	opts := h.options()
	opts.ConfigPath = filepath.Join(h.dir, "missing.json")
	svc := h.service(backend, opts, nil)

	_, err := svc.Synthesize(context.Background(), synthesis.Request{Text: "x", Params: helloParams, Format: "wav"})
	require.ErrorIs(t, err, synthesis.ErrConfigUpdate)
	require.ErrorIs(t, err, os.ErrNotExist)
	assert.Empty(t, backend.openedParams())
}

func TestService_UnsupportedFormatLeavesConfigUntouched(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	backend := &fakeBackend{}
	svc := h.service(backend, h.options(), nil)

	_, err := svc.Synthesize(context.Background(), synthesis.Request{
		Text: "x", Params: core.Params{LengthScale: 2}, Format: "flac",
	})
	require.ErrorIs(t, err, synthesis.ErrUnsupportedFormat)

	data, readErr := os.ReadFile(h.configPath)
	require.NoError(t, readErr)
	assert.Equal(t, testModelConfig, string(data))
	assert.Empty(t, backend.recordedTexts())
}

func TestService_MP3Output(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ffmpeg := filepath.Join(h.dir, "fake-ffmpeg")
	require.NoError(t, os.WriteFile(ffmpeg, []byte("#!/bin/sh\ncp \"$5\" \"${10}\"\n"), 0o700))

	svc := synthesis.New(
		h.options(),
		tts.NewModelLoader(&fakeBackend{}, h.log),
		nil,
		audio.NewWriter(ffmpeg),
		nil,
		h.log,
	)

	result, err := svc.Synthesize(context.Background(), synthesis.Request{Text: "mp3", Params: helloParams, Format: "mp3"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(h.outputDir, "output.mp3"), result.Path)
	assert.Equal(t, audio.FORMAT_MP3, result.Format)
	assert.FileExists(t, result.Path)
}

func TestService_ScopedOutput(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	opts := h.options()
	opts.ScopedOutput = true
	svc := h.service(&fakeBackend{}, opts, nil)

	first, err := svc.Synthesize(context.Background(), synthesis.Request{Text: "a", Params: helloParams, Format: "wav"})
	require.NoError(t, err)

	second, err := svc.Synthesize(context.Background(), synthesis.Request{Text: "b", Params: helloParams, Format: "wav"})
	require.NoError(t, err)

	assert.NotEqual(t, first.Path, second.Path)
	assert.True(t, strings.HasPrefix(first.Name, "output-"))
	assert.Equal(t, ".wav", filepath.Ext(first.Name))
	assert.FileExists(t, first.Path)
	assert.FileExists(t, second.Path)
}

func TestService_PublishesToStore(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	store := &recordingStore{}
	svc := h.service(&fakeBackend{}, h.options(), store)

	result, err := svc.Synthesize(context.Background(), synthesis.Request{Text: "hi", Params: helloParams, Format: "wav"})
	require.NoError(t, err)
	require.NotEmpty(t, result.ObjectKey)
	assert.Equal(t, ".wav", filepath.Ext(result.ObjectKey))

	onDisk, err := os.ReadFile(result.Path)
	require.NoError(t, err)

	published, err := store.Download(context.Background(), result.ObjectKey)
	require.NoError(t, err)
	assert.Equal(t, onDisk, published)
}

func TestService_PublishFailureDoesNotFailRequest(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	svc := h.service(&fakeBackend{}, h.options(), &recordingStore{fail: true})

	result, err := svc.Synthesize(context.Background(), synthesis.Request{Text: "hi", Params: helloParams, Format: "wav"})
	require.NoError(t, err)
	assert.Empty(t, result.ObjectKey)
	assert.FileExists(t, result.Path)
}

// Overlapping submits share the fixed output path and the model config file.
// Requests are serialized, so the later submit overwrites the earlier artifact
// and its parameters win in the config file. Callers that need distinct
// artifacts must enable scoped output.
func TestService_OverlappingSubmitsShareFixedOutput(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	backend := &fakeBackend{
		gate:    make(chan struct{}),
		entered: make(chan string, 2),
	}
	svc := h.service(backend, h.options(), nil)

	firstParams := core.Params{LengthScale: 0.9, NoiseScale: 0.1, NoiseScaleDP: 0.1}
	secondParams := core.Params{LengthScale: 1.7, NoiseScale: 0.2, NoiseScaleDP: 0.2}

	type outcome struct {
		result *synthesis.Result
		err    error
	}

	firstDone := make(chan outcome, 1)
	secondDone := make(chan outcome, 1)

	go func() {
		result, err := svc.Synthesize(context.Background(),
			synthesis.Request{Text: "first", Params: firstParams, Format: "wav"})
		firstDone <- outcome{result, err}
	}()

	require.Equal(t, "first", <-backend.entered)

	go func() {
		result, err := svc.Synthesize(context.Background(),
			synthesis.Request{Text: "second", Params: secondParams, Format: "wav"})
		secondDone <- outcome{result, err}
	}()

	select {
	case <-secondDone:
		t.Fatal("second submit finished while the first was still synthesizing")
	case <-time.After(50 * time.Millisecond):
	}

	close(backend.gate)

	first := <-firstDone
	second := <-secondDone

	require.NoError(t, first.err)
	require.NoError(t, second.err)
	assert.Equal(t, first.result.Path, second.result.Path)

	_, samples := readWAV(t, second.result.Path)
	assert.Equal(t, samplesFor("second"), samples)

	assert.Equal(t, []core.Params{firstParams, secondParams}, backend.openedParams())

	params, err := modelconfig.ReadParams(h.configPath)
	require.NoError(t, err)
	assert.Equal(t, secondParams, params)
}

package ttsutils_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/voice-studio/internal/tts/ttsutils"
)

// setupModelFile creates dir and an empty model file inside it.
func setupModelFile(t *testing.T, dir, modelName string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(dir, 0o750))

	file, err := os.Create(filepath.Join(dir, modelName))
	require.NoError(t, err)
	require.NoError(t, file.Close())
}

func TestCacheDir_WithOverride(t *testing.T) {
	expectedPath := "/custom/cache/dir"
	t.Setenv("VOICE_STUDIO_CACHE_DIR", expectedPath)

	assert.Equal(t, expectedPath, ttsutils.CacheDir())
}

func TestEnsureDir(t *testing.T) {
	t.Parallel()

	testPath := filepath.Join(t.TempDir(), "new", "dir")

	require.NoError(t, ttsutils.EnsureDir(testPath))

	info, err := os.Stat(testPath)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	require.NoError(t, ttsutils.EnsureDir(testPath), "existing directory")
}

func TestResolveModelPath_AbsolutePath(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	setupModelFile(t, dir, "voice.onnx")

	path, err := ttsutils.ResolveModelPath(filepath.Join(dir, "voice.onnx"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "voice.onnx"), path)
}

func TestResolveModelPath_InCacheDir(t *testing.T) {
	cacheDir := t.TempDir()
	t.Setenv("VOICE_STUDIO_CACHE_DIR", cacheDir)
	setupModelFile(t, filepath.Join(cacheDir, "models"), "cached_voice.onnx")

	path, err := ttsutils.ResolveModelPath("cached_voice.onnx")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cacheDir, "models", "cached_voice.onnx"), path)
}

func TestResolveModelPath_NotFound(t *testing.T) {
	t.Setenv("VOICE_STUDIO_CACHE_DIR", t.TempDir())

	_, err := ttsutils.ResolveModelPath("definitely_missing_voice.onnx")
	require.ErrorIs(t, err, ttsutils.ErrModelNotFound)
}

func TestFormatElapsed(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "850ms", ttsutils.FormatElapsed(850*time.Millisecond))
	assert.Equal(t, "2.40s", ttsutils.FormatElapsed(2400*time.Millisecond))
	assert.Equal(t, "1m 05s", ttsutils.FormatElapsed(65*time.Second))
}

func TestFormatFileSize(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "512 B", ttsutils.FormatFileSize(512))
	assert.Equal(t, "1.5 KiB", ttsutils.FormatFileSize(1536))
	assert.Equal(t, "2.0 MiB", ttsutils.FormatFileSize(2*1024*1024))
	assert.Equal(t, "1.0 GiB", ttsutils.FormatFileSize(1024*1024*1024))
}

func TestResolveModelPath_SkipsDirectories(t *testing.T) {
	cacheDir := t.TempDir()
	t.Setenv("VOICE_STUDIO_CACHE_DIR", cacheDir)

	workDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(workDir, "voice.onnx"), 0o750))
	setupModelFile(t, filepath.Join(cacheDir, "models"), "voice.onnx")

	t.Chdir(workDir)

	path, err := ttsutils.ResolveModelPath("voice.onnx")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cacheDir, "models", "voice.onnx"), path)
}

func TestIsServableAudioFile(t *testing.T) {
	t.Parallel()

	assert.True(t, ttsutils.IsServableAudioFile("output.wav"))
	assert.True(t, ttsutils.IsServableAudioFile("output.MP3"))
	assert.False(t, ttsutils.IsServableAudioFile("config.json"))
	assert.False(t, ttsutils.IsServableAudioFile("output"))
}

func TestSanitizeFilename(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "__etc_passwd", ttsutils.SanitizeFilename("../etc/passwd"))
	assert.Equal(t, "output.wav", ttsutils.SanitizeFilename("output.wav"))
	assert.Equal(t, "a_b_c", ttsutils.SanitizeFilename("a:b*c"))
}

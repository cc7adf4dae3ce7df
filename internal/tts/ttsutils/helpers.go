// Package ttsutils holds the small file helpers of the synthesis pipeline: voice
// weights lookup, output directory creation, served filename checks and the
// size and elapsed-time strings used in request logs.
package ttsutils

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Environment variable names used for path resolution.
const (
	envCacheDir = "VOICE_STUDIO_CACHE_DIR"
)

// Voice cache layout.
const (
	appName                = "voice-studio"
	modelsDirName          = "models"
	tmpDir                 = "/tmp"
	dotCache               = ".cache"
	defaultDirPermissions  = 0o750
	invalidCharReplacement = "_"
)

// Log formatting. Sizes use binary units.
const (
	sizeStep         = 1024
	formatWholeBytes = "%d B"
	formatScaledSize = "%.1f %s"
	formatMillis     = "%dms"
	formatSeconds    = "%.2fs"
	formatMinutes    = "%dm %02ds"
)

var sizeUnits = []string{"B", "KiB", "MiB", "GiB", "TiB"}

// Servable audio extensions.
const (
	extMP3 = ".mp3"
	extWAV = ".wav"
)

// Error message and format string constants.
const (
	errFmtFailedToCreateDir = "failed to create directory %s: %w"
	errFmtAbsoluteModelPath = "cannot make model path %q absolute: %w"
	errFmtStatModelPath     = "cannot inspect model path %q: %w"
	errFmtModelNotFound     = "%w: %s"
)

// ErrModelNotFound is returned when a model file cannot be located.
var ErrModelNotFound = errors.New("model not found")

// CacheDir is where downloaded voices are kept: VOICE_STUDIO_CACHE_DIR when set,
// otherwise ~/.cache/voice-studio.
func CacheDir() string {
	if cacheDir := os.Getenv(envCacheDir); cacheDir != "" {
		return cacheDir
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(tmpDir, appName)
	}

	return filepath.Join(homeDir, dotCache, appName)
}

// EnsureDir creates path and its parents when missing.
func EnsureDir(path string) error {
	mkdirErr := os.MkdirAll(path, defaultDirPermissions)
	if mkdirErr != nil {
		return fmt.Errorf(errFmtFailedToCreateDir, path, mkdirErr)
	}

	return nil
}

// weightsFile returns the absolute path of the regular file at path, or "" when
// there is none. Directories are skipped.
func weightsFile(path string) (string, error) {
	info, statErr := os.Stat(path)
	if errors.Is(statErr, os.ErrNotExist) {
		return "", nil
	}

	if statErr != nil {
		return "", fmt.Errorf(errFmtStatModelPath, path, statErr)
	}

	if info.IsDir() {
		return "", nil
	}

	absPath, absErr := filepath.Abs(path)
	if absErr != nil {
		return "", fmt.Errorf(errFmtAbsoluteModelPath, path, absErr)
	}

	return absPath, nil
}

// modelSearchPaths lists where a voice's weights may live. An absolute path is
// only looked up as given.
func modelSearchPaths(modelName string) []string {
	if filepath.IsAbs(modelName) {
		return []string{modelName}
	}

	return []string{
		modelName,
		filepath.Join(modelsDirName, modelName),
		filepath.Join(CacheDir(), modelsDirName, modelName),
	}
}

// ResolveModelPath locates the weights of a voice: the configured path, then
// ./models/<name>, then the voice cache.
func ResolveModelPath(modelName string) (string, error) {
	for _, candidate := range modelSearchPaths(modelName) {
		resolved, err := weightsFile(candidate)
		if err != nil {
			return "", err
		}

		if resolved != "" {
			return resolved, nil
		}
	}

	return "", fmt.Errorf(errFmtModelNotFound, ErrModelNotFound, modelName)
}

// FormatElapsed renders how long a synthesis request took.
func FormatElapsed(elapsed time.Duration) string {
	switch {
	case elapsed < time.Second:
		return fmt.Sprintf(formatMillis, elapsed.Milliseconds())
	case elapsed < time.Minute:
		return fmt.Sprintf(formatSeconds, elapsed.Seconds())
	default:
		minutes := int(elapsed / time.Minute)
		seconds := int((elapsed % time.Minute) / time.Second)

		return fmt.Sprintf(formatMinutes, minutes, seconds)
	}
}

// FormatFileSize renders the size of a written audio file.
func FormatFileSize(size int64) string {
	if size < sizeStep {
		return fmt.Sprintf(formatWholeBytes, size)
	}

	scaled := float64(size)
	unit := 0

	for scaled >= sizeStep && unit < len(sizeUnits)-1 {
		scaled /= sizeStep
		unit++
	}

	return fmt.Sprintf(formatScaledSize, scaled, sizeUnits[unit])
}

// IsServableAudioFile reports whether filename has an extension the service
// produces.
func IsServableAudioFile(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case extWAV, extMP3:
		return true
	default:
		return false
	}
}

// SanitizeFilename replaces path separators and characters that are invalid in
// most filesystems.
func SanitizeFilename(filename string) string {
	replacer := strings.NewReplacer(
		"<", invalidCharReplacement,
		">", invalidCharReplacement,
		":", invalidCharReplacement,
		"\"", invalidCharReplacement,
		"/", invalidCharReplacement,
		"\\", invalidCharReplacement,
		"|", invalidCharReplacement,
		"?", invalidCharReplacement,
		"*", invalidCharReplacement,
		"..", invalidCharReplacement,
	)

	return replacer.Replace(filename)
}

// Package dataset converts LJSpeech-style metadata into training items.
//
// A metadata line is "<file id>|<raw transcript>|<normalized transcript>". Items
// take the normalized column and resolve the audio file inside a wav directory
// supplied by the caller.
package dataset

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	// DefaultSpeaker is the speaker name assigned to every item.
	DefaultSpeaker = "ljspeech"

	columnSeparator = "|"
	minColumns      = 3
	fileColumn      = 0
	textColumn      = 2
	maxLineBytes    = 1024 * 1024
)

// ErrMalformedLine is returned for metadata lines with fewer than three columns.
var ErrMalformedLine = errors.New("malformed metadata line")

// Item is one training sample.
type Item struct {
	Text        string `json:"text"`
	AudioFile   string `json:"audio_file"`
	SpeakerName string `json:"speaker_name"`
	RootPath    string `json:"root_path"`
}

// Options locates the dataset. WavDir defaults to <RootPath>/wavs and Speaker
// to DefaultSpeaker.
type Options struct {
	RootPath string
	MetaFile string
	WavDir   string
	Speaker  string
}

// LoadLJSpeech reads <RootPath>/<MetaFile> and returns one item per line.
func LoadLJSpeech(opts Options) ([]Item, error) {
	metaPath := filepath.Join(opts.RootPath, opts.MetaFile)

	file, err := os.Open(metaPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata file %s: %w", metaPath, err)
	}
	defer file.Close()

	return ParseLJSpeech(file, opts)
}

// ParseLJSpeech parses metadata from r. Blank lines are skipped; any other line
// with fewer than three columns fails the whole parse.
func ParseLJSpeech(r io.Reader, opts Options) ([]Item, error) {
	wavDir := opts.WavDir
	if wavDir == "" {
		wavDir = filepath.Join(opts.RootPath, "wavs")
	}

	speaker := opts.Speaker
	if speaker == "" {
		speaker = DefaultSpeaker
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, bufio.MaxScanTokenSize), maxLineBytes)

	var items []Item

	lineNumber := 0

	for scanner.Scan() {
		lineNumber++

		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		cols := strings.Split(line, columnSeparator)
		if len(cols) < minColumns {
			return nil, fmt.Errorf("%w: line %d has %d columns", ErrMalformedLine, lineNumber, len(cols))
		}

		items = append(items, Item{
			Text:        strings.TrimSpace(cols[textColumn]),
			AudioFile:   filepath.Join(wavDir, strings.TrimSpace(cols[fileColumn])),
			SpeakerName: speaker,
			RootPath:    opts.RootPath,
		})
	}

	scanErr := scanner.Err()
	if scanErr != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", scanErr)
	}

	return items, nil
}

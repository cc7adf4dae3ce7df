// main package for ljspeech-format, which lists LJSpeech training items as JSON
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/tidwall/pretty"

	"github.com/book-expert/voice-studio/internal/dataset"
)

// Flag names.
const (
	flagRoot    = "root"
	flagMeta    = "meta"
	flagWavs    = "wavs"
	flagSpeaker = "speaker"
	flagOut     = "out"
)

// Flag descriptions.
const (
	flagRootDesc    = "Dataset root directory"
	flagMetaDesc    = "Metadata file name inside the root"
	flagWavsDesc    = "Directory holding the wav files (defaults to <root>/wavs)"
	flagSpeakerDesc = "Speaker name assigned to every item"
	flagOutDesc     = "Write JSON to this file instead of stdout"
)

const (
	defaultMetaFile = "metadata.csv"
	outputFileMode  = 0o644
	exitCodeFailed  = 1
)

// ErrRootRequired is returned when -root is missing.
var ErrRootRequired = errors.New("--root must be provided")

type appFlags struct {
	root    string
	meta    string
	wavs    string
	speaker string
	out     string
}

func main() {
	flags, err := parseFlags(os.Args[1:])
	if err == nil {
		err = run(flags, os.Stdout)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCodeFailed)
	}
}

func parseFlags(args []string) (appFlags, error) {
	var flags appFlags

	flagSet := flag.NewFlagSet("ljspeech-format", flag.ContinueOnError)
	flagSet.StringVar(&flags.root, flagRoot, "", flagRootDesc)
	flagSet.StringVar(&flags.meta, flagMeta, defaultMetaFile, flagMetaDesc)
	flagSet.StringVar(&flags.wavs, flagWavs, "", flagWavsDesc)
	flagSet.StringVar(&flags.speaker, flagSpeaker, dataset.DefaultSpeaker, flagSpeakerDesc)
	flagSet.StringVar(&flags.out, flagOut, "", flagOutDesc)

	err := flagSet.Parse(args)
	if err != nil {
		return flags, err
	}

	if flags.root == "" {
		return flags, ErrRootRequired
	}

	return flags, nil
}

func run(flags appFlags, stdout io.Writer) error {
	items, err := dataset.LoadLJSpeech(dataset.Options{
		RootPath: flags.root,
		MetaFile: flags.meta,
		WavDir:   flags.wavs,
		Speaker:  flags.speaker,
	})
	if err != nil {
		return err
	}

	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("failed to encode items: %w", err)
	}

	data = pretty.Pretty(data)

	if flags.out == "" {
		_, err = stdout.Write(data)

		return err
	}

	err = os.WriteFile(flags.out, data, outputFileMode)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", flags.out, err)
	}

	return nil
}

package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"scribe-go/internal/model"
)

// ErrSourceChanged means a file was modified while it was being read.
var ErrSourceChanged = errors.New("file changed while reading")

// Parser decodes a document from its serialized form.
type Parser func(io.Reader) ([]model.Block, error)

// ParserFor returns the parser for format, "json" or "txt". An empty format
// is picked from the extension of path.
func ParserFor(format, path string) (Parser, error) {
	if format == "" {
		format = "json"
		if strings.EqualFold(filepath.Ext(path), ".txt") {
			format = "txt"
		}
	}
	switch format {
	case "json":
		return ReadBlocks, nil
	case "txt":
		return ParseText, nil
	default:
		return nil, fmt.Errorf("unknown format %q (want json or txt)", format)
	}
}

// ReadBlocksFile parses the file at path, or stdin for "-".
func ReadBlocksFile(path string, parse Parser) ([]model.Block, error) {
	if path == "-" {
		return parse(os.Stdin)
	}
	return readStable(path, parse)
}

// FileLoader returns a BlockLoader that parses path on every call. A read
// that races with a writer fails with ErrSourceChanged; the next autosave
// tick tries again.
func FileLoader(path string, parse Parser) BlockLoader {
	return func(context.Context) ([]model.Block, error) {
		return readStable(path, parse)
	}
}

// readStable stats the file before and after parsing it and rejects the
// result when size or modification time moved in between.
func readStable(path string, parse Parser) ([]model.Block, error) {
	before, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if !before.Mode().IsRegular() {
		return nil, fmt.Errorf("%s is not a regular file", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	blocks, err := parse(f)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	after, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("re-stat %s: %w", path, err)
	}
	if after.Size() != before.Size() || !after.ModTime().Equal(before.ModTime()) {
		return nil, fmt.Errorf("%s: %w", path, ErrSourceChanged)
	}
	return blocks, nil
}

package dataset

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"email-classifier/internal/apperr"

	"go.uber.org/zap"
)

// Default column names. Matching is case-insensitive.
const (
	DefaultBodyColumn  = "body"
	DefaultLabelColumn = "label"
)

var (
	errEmpty         = errors.New("file is empty")
	errNoColumns     = errors.New("no columns to parse from file")
	errMissingColumn = errors.New("missing column")
)

// Loader reads a whole dataset file into memory.
type Loader interface {
	Load(path string) (Dataset, error)
}

// Columns names the body and label columns of the source file.
type Columns struct {
	Body  string
	Label string
}

func (c Columns) withDefaults() Columns {
	if c.Body == "" {
		c.Body = DefaultBodyColumn
	}
	if c.Label == "" {
		c.Label = DefaultLabelColumn
	}
	return c
}

// NewLoader returns the loader for ft.
func NewLoader(ft FileType, cols Columns, logger *zap.Logger) (Loader, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cols = cols.withDefaults()
	switch ft {
	case FileCSV:
		return &csvLoader{cols: cols, logger: logger}, nil
	case FileJSON:
		return &jsonLoader{cols: cols, logger: logger}, nil
	}
	return nil, &apperr.UnsupportedTypeError{Category: "file", Type: string(ft)}
}

// Preprocessor transforms a loaded dataset.
type Preprocessor interface {
	Preprocess(Dataset) Dataset
}

// LoadAndPreprocess loads path and applies each preprocessor in order.
func LoadAndPreprocess(l Loader, path string, pre ...Preprocessor) (Dataset, error) {
	ds, err := l.Load(path)
	if err != nil {
		return nil, err
	}
	for _, p := range pre {
		ds = p.Preprocess(ds)
	}
	return ds, nil
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &apperr.DataLoadError{Path: path, Err: err}
	}
	if strings.TrimSpace(string(data)) == "" {
		return nil, &apperr.DataLoadError{Path: path, Err: errEmpty}
	}
	return data, nil
}

// resolve finds the header matching want case-insensitively.
func resolve(headers []string, want string) (string, error) {
	for _, h := range headers {
		if strings.EqualFold(strings.TrimSpace(h), want) {
			return h, nil
		}
	}
	return "", fmt.Errorf("%w %q", errMissingColumn, want)
}

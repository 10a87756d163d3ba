// Package capture decodes external acquisition files into track sets.
package capture

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrUnsupportedFormat is returned for file extensions with no registered Source.
var ErrUnsupportedFormat = errors.New("capture: unsupported format")

// ErrMissing marks a mandatory field that is absent.
var ErrMissing = errors.New("missing mandatory field")

// Track is one decoded acquisition channel set.
type Track struct {
	Name        string
	Bandwidth   float64
	Sensitivity float64
	Offset      float64
	XUnit       string
	YUnit       string
	Data        [][]float64
}

// Capture is a decoded acquisition file.
type Capture struct {
	RecordDate string
	Tracks     []Track
}

// FieldError pinpoints the field that made a capture unusable.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string { return fmt.Sprintf("%s: %v", e.Field, e.Err) }
func (e *FieldError) Unwrap() error { return e.Err }

// Source decodes one capture format.
type Source interface {
	Decode(r io.Reader) (*Capture, error)
}

var sources = map[string]Source{
	".json": JSONSource{},
}

// Lookup returns the Source registered for a file extension.
func Lookup(ext string) (Source, bool) {
	s, ok := sources[strings.ToLower(ext)]
	return s, ok
}

// ReadFile decodes the capture at path using the Source for its extension.
func ReadFile(path string) (*Capture, error) {
	src, ok := Lookup(filepath.Ext(path))
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return src.Decode(f)
}

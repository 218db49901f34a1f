package ingest

import (
	"errors"
	"fmt"

	"github.com/tinytelemetry/mapstats/internal/logsource"
)

// ErrMissingAnchor reports a file whose first line is not a log-open header.
var ErrMissingAnchor = logsource.ErrMissingAnchor

// ErrorKind classifies a per-file failure.
type ErrorKind string

const (
	ErrorMissingAnchor ErrorKind = "missing_anchor"
	ErrorIO            ErrorKind = "io"
	ErrorPanic         ErrorKind = "panic"
)

// FileError is a failure confined to one input file. The file contributes
// no records; other files are unaffected.
type FileError struct {
	Path string
	Kind ErrorKind
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("ingest: %s (%s): %v", e.Path, e.Kind, e.Err)
}

func (e *FileError) Unwrap() error {
	return e.Err
}

// NewFileError wraps err for path and classifies it.
func NewFileError(path string, err error) *FileError {
	kind := ErrorIO
	if errors.Is(err, ErrMissingAnchor) {
		kind = ErrorMissingAnchor
	}
	return &FileError{Path: path, Kind: kind, Err: err}
}

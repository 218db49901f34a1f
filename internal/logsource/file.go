package logsource

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"iter"
	"log"
	"os"
	"strings"
	"time"

	"github.com/tinytelemetry/mapstats/internal/model"
	"github.com/tinytelemetry/mapstats/internal/timestamp"
)

// ErrMissingAnchor reports a file whose first line is not a log-open header.
var ErrMissingAnchor = errors.New("logsource: first line is not a log-open header")

// FileConfig holds tunable parameters for reading a log file.
type FileConfig struct {
	MaxLineSize int
	Location    *time.Location // anchor time zone, UTC when nil
}

// LogFile is one server log opened for a single forward pass. The anchor
// is parsed from the first line at open time; the remaining lines are
// streamed and never buffered wholesale. Lines longer than MaxLineSize are
// skipped and counted rather than ending the pass.
type LogFile struct {
	Path   string
	Anchor time.Time

	file    *os.File
	reader  *bufio.Reader
	skipped int
	err     error
}

// OpenLogFile opens path and validates its anchor header.
func OpenLogFile(path string, conf ...FileConfig) (*LogFile, error) {
	maxLineSize := model.DefaultMaxLineSize
	var loc *time.Location
	if len(conf) > 0 {
		if conf[0].MaxLineSize > 0 {
			maxLineSize = conf[0].MaxLineSize
		}
		loc = conf[0].Location
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	l := &LogFile{
		Path:   path,
		file:   f,
		reader: bufio.NewReaderSize(f, maxLineSize),
	}

	header, ok, err := l.next()
	if err != nil && !errors.Is(err, io.EOF) {
		_ = f.Close()
		return nil, fmt.Errorf("read header: %w", err)
	}
	if !ok || l.skipped > 0 {
		_ = f.Close()
		return nil, ErrMissingAnchor
	}

	anchor, ok := timestamp.ParseAnchor(header, loc)
	if !ok {
		_ = f.Close()
		return nil, ErrMissingAnchor
	}
	l.Anchor = anchor
	return l, nil
}

// next returns the next line that fits the reader's buffer. The bool is false once
// the input is exhausted, with io.EOF as the error at a clean end.
func (l *LogFile) next() (string, bool, error) {
	for {
		buf, isPrefix, err := l.reader.ReadLine()
		if err != nil {
			return "", false, err
		}
		if !isPrefix {
			return strings.TrimSuffix(string(buf), "\r"), true, nil
		}
		for isPrefix {
			if _, isPrefix, err = l.reader.ReadLine(); err != nil {
				break
			}
		}
		l.skipped++
		log.Printf("logsource: %s: skipping line longer than %d bytes", l.Path, l.reader.Size())
		if err != nil {
			return "", false, err
		}
	}
}

// Lines yields every line after the header, without line terminators.
// Check Err after the loop to tell EOF from a read failure.
func (l *LogFile) Lines() iter.Seq[string] {
	return func(yield func(string) bool) {
		for {
			line, ok, err := l.next()
			if !ok {
				if err != nil && !errors.Is(err, io.EOF) {
					l.err = err
				}
				return
			}
			if !yield(line) {
				return
			}
		}
	}
}

// Skipped reports how many oversize lines have been dropped so far.
func (l *LogFile) Skipped() int {
	return l.skipped
}

// Err returns the read error that ended Lines, if any.
func (l *LogFile) Err() error {
	return l.err
}

// Close releases the file handle.
func (l *LogFile) Close() error {
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

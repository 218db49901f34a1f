// Package fanout scans many log files concurrently and gathers their
// records into one batch.
package fanout

import (
	"errors"
	"fmt"
	"log"
	"runtime"
	"runtime/debug"

	"github.com/tinytelemetry/mapstats/internal/ingest"
	"github.com/tinytelemetry/mapstats/internal/model"
	"golang.org/x/sync/errgroup"
)

// FileScanner scans one file. *ingest.Scanner satisfies it.
type FileScanner interface {
	ScanFile(path string) (ingest.FileResult, error)
}

// Config holds tunable parameters for a Coordinator.
type Config struct {
	Workers int               // concurrent scans, runtime.NumCPU() when <= 0
	Sink    ingest.RecordSink // optional, receives each file's records on completion
}

// Batch is the merged outcome of one Run.
type Batch struct {
	Records   []model.MatchRecord
	Errors    []*ingest.FileError
	Files     int
	Discarded int
}

// Failed reports how many files produced no records because of an error.
func (b Batch) Failed() int {
	return len(b.Errors)
}

// Coordinator fans a list of files out over a bounded worker pool.
type Coordinator struct {
	scanner FileScanner
	workers int
	sink    ingest.RecordSink
}

// NewCoordinator creates a Coordinator around scanner.
func NewCoordinator(scanner FileScanner, conf ...Config) *Coordinator {
	var c Config
	if len(conf) > 0 {
		c = conf[0]
	}
	workers := c.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Coordinator{scanner: scanner, workers: workers, sink: c.Sink}
}

// Workers returns the pool size.
func (c *Coordinator) Workers() int {
	return c.workers
}

type fileOutcome struct {
	result ingest.FileResult
	err    *ingest.FileError
}

// Run scans every path and blocks until all have finished. A failing file
// never stops its siblings; its error is collected instead. Records are
// merged in completion order, and within one file in log order.
func (c *Coordinator) Run(paths []string) Batch {
	batch := Batch{Files: len(paths)}
	if len(paths) == 0 {
		return batch
	}

	outcomes := make(chan fileOutcome, len(paths))

	var g errgroup.Group
	g.SetLimit(c.workers)
	for _, path := range paths {
		g.Go(func() error {
			outcomes <- c.scanOne(path)
			return nil
		})
	}
	_ = g.Wait()
	close(outcomes)

	for out := range outcomes {
		if out.err != nil {
			log.Printf("fanout: skipping %s: %v", out.err.Path, out.err.Err)
			batch.Errors = append(batch.Errors, out.err)
			continue
		}
		batch.Records = append(batch.Records, out.result.Records...)
		batch.Discarded += out.result.Discarded
	}
	return batch
}

func (c *Coordinator) scanOne(path string) (out fileOutcome) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("fanout: panic scanning %s: %v\n%s", path, r, debug.Stack())
			out = fileOutcome{
				result: ingest.FileResult{Path: path},
				err: &ingest.FileError{
					Path: path,
					Kind: ingest.ErrorPanic,
					Err:  fmt.Errorf("panic: %v", r),
				},
			}
		}
	}()

	res, err := c.scanner.ScanFile(path)
	if err != nil {
		return fileOutcome{result: res, err: asFileError(path, err)}
	}

	if c.sink != nil {
		for i := range res.Records {
			c.sink.Add(&res.Records[i])
		}
	}
	return fileOutcome{result: res}
}

func asFileError(path string, err error) *ingest.FileError {
	var fe *ingest.FileError
	if errors.As(err, &fe) {
		return fe
	}
	return ingest.NewFileError(path, err)
}

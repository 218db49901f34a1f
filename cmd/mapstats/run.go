package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tinytelemetry/mapstats/internal/duckdb"
	"github.com/tinytelemetry/mapstats/internal/export"
	"github.com/tinytelemetry/mapstats/internal/fanout"
	"github.com/tinytelemetry/mapstats/internal/ingest"
	"github.com/tinytelemetry/mapstats/internal/model"
	"github.com/tinytelemetry/mapstats/internal/notify"
	"github.com/tinytelemetry/mapstats/internal/report"
)

const webhookTimeout = 30 * time.Second

// runResult summarizes one batch for the terminal banner.
type runResult struct {
	RunID     string
	Batch     fanout.Batch
	Inserted  int64
	Elapsed   time.Duration
	CSVPath   string
	Snapshot  string
	Persisted bool
}

// run ingests the files matched by patterns and performs the configured
// follow-ups. It returns the process exit code.
func run(cfg appConfig, patterns []string) (int, error) {
	cleanupLogger := configureRuntimeLogger(cfg.LogFile)
	defer cleanupLogger()

	paths, err := expandPaths(patterns)
	if err != nil {
		return 2, err
	}

	var store *duckdb.Store
	if cfg.DBPath != "" {
		store, err = duckdb.NewStore(cfg.DBPath, cfg.QueryTimeout)
		if err != nil {
			return 1, fmt.Errorf("failed to initialize DuckDB: %w", err)
		}
		defer store.Close()
	}

	var res runResult
	if len(paths) > 0 {
		res = ingestFiles(cfg, store, paths)
	}

	if cfg.CSVOut != "" && len(paths) > 0 {
		if err := export.WriteCSVFile(cfg.CSVOut, res.Batch.Records); err != nil {
			return 1, err
		}
		res.CSVPath = cfg.CSVOut
	}

	if store != nil && cfg.SnapshotDir != "" {
		path, err := store.Snapshot(cfg.SnapshotDir, cfg.SnapshotKeep)
		if err != nil {
			log.Printf("snapshot failed: %v", err)
		} else {
			res.Snapshot = path
		}
	}

	if len(paths) > 0 {
		printSummary(cfg, res)
	}

	if cfg.Analyze {
		if err := analyzeCSV(cfg); err != nil {
			return 1, err
		}
	}

	if cfg.Report || cfg.WebhookURL != "" {
		var source model.MatchQuerier = report.NewMemorySource(res.Batch.Records)
		if store != nil {
			source = store
		}
		if err := reportAndNotify(cfg, source); err != nil {
			return 1, err
		}
	}

	if cfg.Serve {
		if err := serve(cfg, store); err != nil {
			return 1, err
		}
	}

	if cfg.Strict && res.Batch.Failed() > 0 {
		return 1, fmt.Errorf("%d of %d files failed", res.Batch.Failed(), res.Batch.Files)
	}
	return 0, nil
}

// ingestFiles fans the paths out over the scanner pool, streaming records
// into the store when one is open, and records the run.
func ingestFiles(cfg appConfig, store *duckdb.Store, paths []string) runResult {
	res := runResult{RunID: uuid.NewString()}
	started := time.Now()

	scanner := ingest.NewScanner(ingest.ScannerConfig{
		Order:       cfg.order,
		MaxLineSize: cfg.MaxLineSize,
		Location:    cfg.location,
		ServerID:    cfg.ServerID,
	})

	fanConf := fanout.Config{Workers: cfg.Workers}
	var insertBuffer *duckdb.InsertBuffer
	if store != nil {
		insertBuffer = duckdb.NewInsertBuffer(store, duckdb.InsertBufferConfig{
			BatchSize:      cfg.InsertBatchSize,
			FlushInterval:  cfg.InsertFlushInterval,
			FlushQueueSize: cfg.InsertFlushQueue,
		})
		fanConf.Sink = insertBuffer
	}

	coord := fanout.NewCoordinator(scanner, fanConf)
	log.Printf("run %s: scanning %d files with %d workers", res.RunID, len(paths), coord.Workers())
	res.Batch = coord.Run(paths)

	if insertBuffer != nil {
		insertBuffer.Stop()
		res.Inserted = insertBuffer.Inserted()
		res.Persisted = true
		if failed := insertBuffer.Failed(); failed > 0 {
			log.Printf("run %s: %d records could not be stored", res.RunID, failed)
		}
	}
	res.Elapsed = time.Since(started)

	log.Printf("run %s: %d records from %d files (%d failed, %d unterminated sessions) in %s",
		res.RunID, len(res.Batch.Records), res.Batch.Files, res.Batch.Failed(), res.Batch.Discarded, res.Elapsed)

	if store != nil {
		errs := make([]string, 0, len(res.Batch.Errors))
		for _, fe := range res.Batch.Errors {
			errs = append(errs, fe.Error())
		}
		run := model.IngestRun{
			ID:          res.RunID,
			StartedAt:   started,
			FinishedAt:  started.Add(res.Elapsed),
			Files:       res.Batch.Files,
			FailedFiles: res.Batch.Failed(),
			Records:     len(res.Batch.Records),
			Inserted:    int(res.Inserted),
			Errors:      errs,
		}
		if err := store.RecordIngestRun(run); err != nil {
			log.Printf("run %s: record ingest run: %v", res.RunID, err)
		}
	}
	return res
}

// analyzeCSV reports on every match in the CSV export and writes the
// rendered report next to it as <name>_summary.txt.
func analyzeCSV(cfg appConfig) error {
	records, err := export.ReadCSVFile(cfg.CSVOut)
	if err != nil {
		return err
	}
	r, err := report.Build(report.NewMemorySource(records), report.Options{
		MinPlayers: cfg.PlayerThreshold,
		Map:        cfg.ReportMap,
	})
	if err != nil {
		return err
	}
	if err := report.Render(os.Stdout, r); err != nil {
		return err
	}

	summaryPath := summaryPathFor(cfg.CSVOut)
	f, err := os.Create(summaryPath)
	if err != nil {
		return fmt.Errorf("create summary: %w", err)
	}
	if err := report.Render(f, r); err != nil {
		_ = f.Close()
		return fmt.Errorf("write summary: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	fmt.Printf("  summary written to %s\n", shortenPath(summaryPath))
	return nil
}

func summaryPathFor(csvPath string) string {
	ext := filepath.Ext(csvPath)
	return strings.TrimSuffix(csvPath, ext) + "_summary.txt"
}

func reportAndNotify(cfg appConfig, source model.MatchQuerier) error {
	r, err := report.Build(source, report.Options{
		Days:       cfg.ReportDays,
		MinPlayers: cfg.PlayerThreshold,
		Map:        cfg.ReportMap,
	})
	if err != nil {
		return err
	}

	if cfg.Report {
		if err := report.Render(os.Stdout, r); err != nil {
			return err
		}
	}

	if cfg.WebhookURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), webhookTimeout)
		defer cancel()
		if err := notify.NewWebhook(cfg.WebhookURL).SendReport(ctx, r); err != nil {
			return fmt.Errorf("send report: %w", err)
		}
		log.Printf("report sent to webhook (%d maps)", len(r.Maps))
	}
	return nil
}

// expandPaths resolves glob patterns. A pattern matching nothing is kept
// as a literal path so the missing file is reported as a per-file error.
func expandPaths(patterns []string) ([]string, error) {
	seen := make(map[string]bool)
	var paths []string
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			paths = append(paths, p)
		}
	}
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", pattern, err)
		}
		if len(matches) == 0 {
			add(pattern)
			continue
		}
		for _, m := range matches {
			if info, err := os.Stat(m); err == nil && info.IsDir() {
				continue
			}
			add(m)
		}
	}
	return paths, nil
}

func configureRuntimeLogger(logFile string) func() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.SetOutput(os.Stderr)
	if logFile == "" {
		return func() {}
	}

	if err := os.MkdirAll(filepath.Dir(logFile), 0755); err != nil {
		log.Printf("log file %s unavailable, logging to stderr: %v", logFile, err)
		return func() {}
	}
	f, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Printf("log file %s unavailable, logging to stderr: %v", logFile, err)
		return func() {}
	}

	log.SetOutput(f)
	return func() {
		log.SetOutput(os.Stderr)
		_ = f.Close()
	}
}

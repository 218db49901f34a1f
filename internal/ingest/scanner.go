package ingest

import (
	"iter"
	"time"

	"github.com/tinytelemetry/mapstats/internal/logparse"
	"github.com/tinytelemetry/mapstats/internal/logsource"
	"github.com/tinytelemetry/mapstats/internal/model"
	"github.com/tinytelemetry/mapstats/internal/timestamp"
)

// interiorKinds are tested on every line of an open session that does not
// close it. PlayerCount is deliberately absent.
var interiorKinds = []logparse.EventKind{
	logparse.KindWinningTeam,
	logparse.KindTimeRemaining,
	logparse.KindReinforcements,
	logparse.KindActiveObjective,
	logparse.KindWinCondition,
}

// ScannerConfig holds tunable parameters for a Scanner.
type ScannerConfig struct {
	Registry    *logparse.Registry
	Order       ObjectiveOrder
	MaxLineSize int
	Location    *time.Location
	ServerID    string
}

// Scanner turns one log file into match records. A Scanner holds no
// per-file state, so one value may scan many files concurrently.
type Scanner struct {
	registry *logparse.Registry
	acc      Accumulator
	fileConf logsource.FileConfig
	serverID string
}

// FileResult is the outcome of scanning one file.
type FileResult struct {
	Path    string
	Records []model.MatchRecord
	// Discarded counts sessions still open at end of file.
	Discarded int
	Lines     int
	// Skipped counts lines dropped for exceeding the max line size.
	Skipped int
}

// NewScanner creates a Scanner.
func NewScanner(conf ...ScannerConfig) *Scanner {
	var c ScannerConfig
	if len(conf) > 0 {
		c = conf[0]
	}
	if c.Registry == nil {
		c.Registry = logparse.Default
	}
	return &Scanner{
		registry: c.Registry,
		acc:      Accumulator{Order: c.Order},
		fileConf: logsource.FileConfig{MaxLineSize: c.MaxLineSize, Location: c.Location},
		serverID: c.ServerID,
	}
}

// ScanFile reads path in a single forward pass. On any failure the result
// carries no records and the error is a *FileError.
func (s *Scanner) ScanFile(path string) (FileResult, error) {
	res := FileResult{Path: path}

	lf, err := logsource.OpenLogFile(path, s.fileConf)
	if err != nil {
		return res, NewFileError(path, err)
	}
	defer lf.Close()

	records, discarded, lines := s.scan(lf.Lines(), timestamp.NewResolver(lf.Anchor))
	if err := lf.Err(); err != nil {
		return res, NewFileError(path, err)
	}

	res.Records = records
	res.Discarded = discarded
	res.Lines = lines
	res.Skipped = lf.Skipped()
	return res, nil
}

type scanState int

const (
	stateScanning scanState = iota
	stateInSession
)

func (s *Scanner) scan(lines iter.Seq[string], resolver timestamp.Resolver) (records []model.MatchRecord, discarded, count int) {
	state := stateScanning
	var events []logparse.Event

	for line := range lines {
		count++
		switch state {
		case stateScanning:
			if ev, ok := s.registry.Recognize(logparse.KindPlayerCount, line); ok {
				events = append(events[:0], ev)
				state = stateInSession
			}
		case stateInSession:
			if ev, ok := s.registry.Recognize(logparse.KindMatchStop, line); ok {
				events = append(events, ev)
				rec := s.acc.Fold(events)
				rec.MatchDateTime = resolver.Resolve(ev.Offset())
				rec.ServerID = s.serverID
				records = append(records, rec)
				events = events[:0]
				state = stateScanning
				continue
			}
			events = append(events, s.registry.Classify(line, interiorKinds...)...)
		}
	}

	if state == stateInSession {
		discarded++
	}
	return records, discarded, count
}

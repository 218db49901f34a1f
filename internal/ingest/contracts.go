package ingest

import "github.com/tinytelemetry/mapstats/internal/model"

// RecordSink receives completed match records, typically a batching store writer.
type RecordSink interface {
	Add(record *model.MatchRecord)
}

// RecordSinkFunc adapts a function to RecordSink.
type RecordSinkFunc func(record *model.MatchRecord)

func (f RecordSinkFunc) Add(record *model.MatchRecord) { f(record) }

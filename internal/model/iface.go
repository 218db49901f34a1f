package model

import "time"

// MatchFilter holds optional filters applied to most match queries.
type MatchFilter struct {
	Map        string    // empty = all maps
	Since      time.Time // zero = no lower bound
	MinPlayers int
}

// MatchQuerier provides read-only queries on stored matches.
type MatchQuerier interface {
	MatchCount(filter MatchFilter) (int64, error)
	RecentMatches(limit int, filter MatchFilter) ([]MatchRecord, error)
	MapNames() ([]string, error)
	MapSummaries(filter MatchFilter) ([]MapSummary, error)
	TopObjectiveSequences(mapName string, limit int, filter MatchFilter) ([]ObjectiveSequence, error)
}

// SchemaQuerier provides schema introspection and arbitrary read-only queries.
type SchemaQuerier interface {
	ExecuteQuery(query string) ([]map[string]interface{}, error)
	GetSchemaDescription() string
	TableRowCounts() (map[string]int64, error)
}

// MatchWriter provides insert-or-ignore writes for extracted matches.
type MatchWriter interface {
	InsertMatchBatch(records []*MatchRecord) (int, error)
}

// RunQuerier lists recorded batch ingestions.
type RunQuerier interface {
	RecentIngestRuns(limit int) ([]IngestRun, error)
}

// ReadAPI is the unified read contract for read surfaces (HTTP and report).
type ReadAPI interface {
	MatchQuerier
	SchemaQuerier
	RunQuerier
}

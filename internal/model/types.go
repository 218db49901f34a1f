package model

import "time"

// Objective is one active objective reported at the end of a match.
type Objective struct {
	Index  int    `json:"index"`
	Name   string `json:"name"`
	Holder string `json:"holder"` // team holding the objective, or its status
}

// MatchRecord is the statistics record of one completed match session.
// It is the canonical type for storage, export, and the HTTP API.
type MatchRecord struct {
	Name                 string      `json:"name"`
	Players              int         `json:"players"`
	WinningTeam          string      `json:"winning_team"`
	TimeRemaining        int         `json:"time_remaining"` // seconds
	TeamsSwapped         bool        `json:"teams_swapped"`
	AxisReinforcements   int         `json:"axis_reinforcements"`
	AlliesReinforcements int         `json:"allies_reinforcements"`
	WinCondition         string      `json:"win_condition"`
	AxisTeamScore        int         `json:"axis_team_score"`
	AlliesTeamScore      int         `json:"allies_team_score"`
	ActiveObjectives     []Objective `json:"active_objectives"`
	MatchDateTime        time.Time   `json:"match_datetime"`
	ServerID             string      `json:"server_id,omitempty"` // empty = not set
}

// NaturalKey identifies a match across repeated ingestion of the same log.
type NaturalKey struct {
	Name          string
	MatchDateTime time.Time
	ServerID      string
}

// Key returns the record's natural key.
func (r MatchRecord) Key() NaturalKey {
	return NaturalKey{
		Name:          r.Name,
		MatchDateTime: r.MatchDateTime,
		ServerID:      r.ServerID,
	}
}

// Clone returns a copy that does not share the objectives slice.
func (r MatchRecord) Clone() MatchRecord {
	out := r
	if r.ActiveObjectives != nil {
		out.ActiveObjectives = append([]Objective(nil), r.ActiveObjectives...)
	}
	return out
}

// MapSummary holds aggregate results for one map.
type MapSummary struct {
	Name          string
	Games         int64
	AxisWins      int64
	AlliesWins    int64
	WinConditions map[string]int64
	AvgPlayers    float64
}

// ObjectiveSequence is a distinct active objectives list and how often it occurred.
type ObjectiveSequence struct {
	Objectives []Objective `json:"objectives"`
	Count      int64       `json:"count"`
}

// IngestRun describes one batch ingestion for the ingest_runs table.
type IngestRun struct {
	ID          string    `json:"run_id"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Files       int       `json:"files"`
	FailedFiles int       `json:"failed_files"`
	Records     int       `json:"records"`
	Inserted    int       `json:"inserted"`
	Errors      []string  `json:"errors"`
}

package duckdb

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/tinytelemetry/mapstats/internal/model"
)

// ErrReadOnlyQuery reports a query rejected by the read-only guard.
var ErrReadOnlyQuery = errors.New("duckdb: only read-only queries are allowed")

// dangerousKeywordPattern matches dangerous SQL keywords at word boundaries.
// This avoids false positives like "RESET" matching "SET".
var dangerousKeywordPattern = regexp.MustCompile(
	`(?i)\b(INSERT|UPDATE|DELETE|DROP|CREATE|ALTER|TRUNCATE|COPY|ATTACH|DETACH|LOAD|EXPORT|IMPORT|INSTALL|CALL|EXECUTE|PRAGMA|SET|CHECKPOINT)\b`,
)

// blockCommentPattern matches C-style block comments (/* ... */).
var blockCommentPattern = regexp.MustCompile(`/\*[\s\S]*?\*/`)

// maxQueryRows caps ExecuteQuery results.
const maxQueryRows = 1000

const matchColumns = `name, players, winning_team, time_remaining, teams_swapped,
	axis_reinforcements, allies_reinforcements, win_condition,
	axis_team_score, allies_team_score, active_objectives,
	match_datetime, server_id`

// stripSQLComments removes -- line comments and /* */ block comments from a query.
func stripSQLComments(query string) string {
	cleaned := blockCommentPattern.ReplaceAllString(query, " ")
	var result strings.Builder
	for _, line := range strings.Split(cleaned, "\n") {
		if idx := strings.Index(line, "--"); idx >= 0 {
			line = line[:idx]
		}
		result.WriteString(line)
		result.WriteByte('\n')
	}
	return result.String()
}

// queryCtx returns a context with the store's configured query timeout.
func (s *Store) queryCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.QueryTimeout)
}

// matchWhere builds a WHERE clause for filter. It returns an empty clause
// when no filter is set.
func matchWhere(filter model.MatchFilter) (clause string, args []any) {
	var conditions []string
	if filter.Map != "" {
		conditions = append(conditions, "name = ?")
		args = append(args, filter.Map)
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "match_datetime >= ?")
		args = append(args, filter.Since.UTC())
	}
	if filter.MinPlayers > 0 {
		conditions = append(conditions, "players >= ?")
		args = append(args, filter.MinPlayers)
	}
	if len(conditions) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conditions, " AND "), args
}

// MatchCount returns the number of stored matches passing filter.
func (s *Store) MatchCount(filter model.MatchFilter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	where, args := matchWhere(filter)
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM matches "+where, args...).Scan(&count)
	return count, err
}

// RecentMatches returns the newest matches passing filter, newest first.
func (s *Store) RecentMatches(limit int, filter model.MatchFilter) ([]model.MatchRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	where, args := matchWhere(filter)
	query := fmt.Sprintf(`SELECT %s FROM matches %s ORDER BY match_datetime DESC, name LIMIT ?`, matchColumns, where)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []model.MatchRecord
	for rows.Next() {
		var r model.MatchRecord
		var objectives string
		if err := rows.Scan(
			&r.Name, &r.Players, &r.WinningTeam, &r.TimeRemaining, &r.TeamsSwapped,
			&r.AxisReinforcements, &r.AlliesReinforcements, &r.WinCondition,
			&r.AxisTeamScore, &r.AlliesTeamScore, &objectives,
			&r.MatchDateTime, &r.ServerID,
		); err != nil {
			log.Printf("duckdb scan error (RecentMatches): %v", err)
			continue
		}
		r.MatchDateTime = r.MatchDateTime.UTC()
		if r.ActiveObjectives, err = decodeObjectives(objectives); err != nil {
			log.Printf("duckdb: bad active_objectives for %s: %v", r.Name, err)
			r.ActiveObjectives = []model.Objective{}
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// MapNames returns every distinct stored map name in order.
func (s *Store) MapNames() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT name FROM matches ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			log.Printf("duckdb scan error (MapNames): %v", err)
			continue
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// MapSummaries returns per-map aggregates for matches passing filter,
// ordered by map name.
func (s *Store) MapSummaries(filter model.MatchFilter) ([]model.MapSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	where, args := matchWhere(filter)
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT name,
			COUNT(*) AS games,
			COUNT(*) FILTER (WHERE winning_team = 'Axis') AS axis_wins,
			COUNT(*) FILTER (WHERE winning_team = 'Allies') AS allies_wins,
			AVG(players) AS avg_players
		FROM matches %s
		GROUP BY name
		ORDER BY name`, where), args...)
	if err != nil {
		return nil, err
	}

	var summaries []model.MapSummary
	index := make(map[string]int)
	for rows.Next() {
		var ms model.MapSummary
		if err := rows.Scan(&ms.Name, &ms.Games, &ms.AxisWins, &ms.AlliesWins, &ms.AvgPlayers); err != nil {
			log.Printf("duckdb scan error (MapSummaries): %v", err)
			continue
		}
		ms.WinConditions = make(map[string]int64)
		index[ms.Name] = len(summaries)
		summaries = append(summaries, ms)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT name, win_condition, COUNT(*) AS count
		FROM matches %s
		GROUP BY name, win_condition`, where), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var name, cond string
		var count int64
		if err := rows.Scan(&name, &cond, &count); err != nil {
			log.Printf("duckdb scan error (MapSummaries conditions): %v", err)
			continue
		}
		if i, ok := index[name]; ok {
			summaries[i].WinConditions[cond] = count
		}
	}
	return summaries, rows.Err()
}

// TopObjectiveSequences returns the most frequent active objective lists for
// one map. Ties are broken by the serialized list so results are stable.
func (s *Store) TopObjectiveSequences(mapName string, limit int, filter model.MatchFilter) ([]model.ObjectiveSequence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	filter.Map = mapName
	where, args := matchWhere(filter)
	query := fmt.Sprintf(`
		SELECT active_objectives, COUNT(*) AS count
		FROM matches %s
		GROUP BY active_objectives
		ORDER BY count DESC, active_objectives
		LIMIT ?`, where)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []model.ObjectiveSequence
	for rows.Next() {
		var raw string
		var seq model.ObjectiveSequence
		if err := rows.Scan(&raw, &seq.Count); err != nil {
			log.Printf("duckdb scan error (TopObjectiveSequences): %v", err)
			continue
		}
		if seq.Objectives, err = decodeObjectives(raw); err != nil {
			log.Printf("duckdb: bad active_objectives for %s: %v", mapName, err)
			continue
		}
		results = append(results, seq)
	}
	return results, rows.Err()
}

// ExecuteQuery runs a read-only SQL query and returns results as maps.
// Only SELECT/WITH read queries are allowed; DDL/DML is rejected.
func (s *Store) ExecuteQuery(query string) ([]map[string]interface{}, error) {
	trimmed := strings.TrimSpace(query)

	if strings.Contains(trimmed, ";") {
		return nil, fmt.Errorf("%w: query must not contain semicolons", ErrReadOnlyQuery)
	}

	// Keywords hidden in comments are still caught after stripping.
	stripped := strings.TrimSpace(stripSQLComments(trimmed))
	upper := strings.ToUpper(stripped)

	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return nil, fmt.Errorf("%w: only SELECT/WITH queries are allowed", ErrReadOnlyQuery)
	}

	if match := dangerousKeywordPattern.FindString(stripped); match != "" {
		return nil, fmt.Errorf("%w: query contains disallowed keyword %s", ErrReadOnlyQuery, strings.ToUpper(match))
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()
	rows, err := s.db.QueryContext(ctx, trimmed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var results []map[string]interface{}
	for rows.Next() && len(results) < maxQueryRows {
		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			log.Printf("duckdb scan error (ExecuteQuery): %v", err)
			continue
		}

		row := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		results = append(results, row)
	}

	return results, rows.Err()
}

// GetSchemaDescription returns a human-readable description of the queryable tables.
func (s *Store) GetSchemaDescription() string {
	return `Table 'matches': name (VARCHAR, map name), players (INTEGER), ` +
		`winning_team (VARCHAR: Axis/Allies), time_remaining (INTEGER, seconds), ` +
		`teams_swapped (BOOLEAN), axis_reinforcements (INTEGER), allies_reinforcements (INTEGER), ` +
		`win_condition (VARCHAR), axis_team_score (INTEGER), allies_team_score (INTEGER), ` +
		`active_objectives (VARCHAR, JSON list of {index,name,holder}), match_datetime (TIMESTAMP, UTC), ` +
		`server_id (VARCHAR), ingested_at (TIMESTAMP). ` +
		`Table 'match_objectives': match_datetime (TIMESTAMP), server_id (VARCHAR), map_name (VARCHAR), ` +
		`obj_name (VARCHAR), position (INTEGER), obj_index (INTEGER), holder (VARCHAR). ` +
		`Table 'ingest_runs': run_id (VARCHAR, UUID), started_at (TIMESTAMP), finished_at (TIMESTAMP), ` +
		`files (INTEGER), failed_files (INTEGER), records (INTEGER), inserted (INTEGER), errors (VARCHAR, JSON list).`
}

// TableRowCounts returns the row count for each known table using a hardcoded allowlist.
func (s *Store) TableRowCounts() (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	allowedTables := []string{"matches", "match_objectives", "ingest_runs"}
	counts := make(map[string]int64, len(allowedTables))

	for _, table := range allowedTables {
		var count int64
		// Table names are constants, not user input.
		err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count)
		if err != nil {
			continue
		}
		counts[table] = count
	}
	return counts, nil
}

// RecordIngestRun stores the summary of one batch ingestion.
func (s *Store) RecordIngestRun(run model.IngestRun) error {
	errs := run.Errors
	if errs == nil {
		errs = []string{}
	}
	errJSON, err := json.Marshal(errs)
	if err != nil {
		return fmt.Errorf("duckdb: encode run errors: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	_, err = s.db.ExecContext(ctx, `INSERT INTO ingest_runs (
		run_id, started_at, finished_at, files, failed_files, records, inserted, errors
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.StartedAt.UTC(), run.FinishedAt.UTC(),
		run.Files, run.FailedFiles, run.Records, run.Inserted, string(errJSON),
	)
	if err != nil {
		return fmt.Errorf("duckdb: record ingest run %s: %w", run.ID, err)
	}
	return nil
}

// RecentIngestRuns returns the newest ingest runs, newest first.
func (s *Store) RecentIngestRuns(limit int) ([]model.IngestRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT run_id, started_at, finished_at, files, failed_files, records, inserted, errors
		FROM ingest_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []model.IngestRun
	for rows.Next() {
		var run model.IngestRun
		var errJSON string
		if err := rows.Scan(&run.ID, &run.StartedAt, &run.FinishedAt, &run.Files, &run.FailedFiles,
			&run.Records, &run.Inserted, &errJSON); err != nil {
			log.Printf("duckdb scan error (RecentIngestRuns): %v", err)
			continue
		}
		if err := json.Unmarshal([]byte(errJSON), &run.Errors); err != nil {
			log.Printf("duckdb: bad errors column for run %s: %v", run.ID, err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// DeleteBefore removes matches (and their objective rows) older than cutoff.
// It returns the number of matches deleted.
func (s *Store) DeleteBefore(cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	cutoff = cutoff.UTC()
	if _, err := tx.ExecContext(ctx, `DELETE FROM match_objectives WHERE match_datetime < ?`, cutoff); err != nil {
		return 0, fmt.Errorf("duckdb: delete objectives: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM matches WHERE match_datetime < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("duckdb: delete matches: %w", err)
	}
	n, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}


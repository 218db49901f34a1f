package duckdb

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/tinytelemetry/mapstats/internal/model"
)

var baseTime = time.Date(2023, 5, 6, 20, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore("")
	if err != nil {
		t.Fatalf("NewStore(\"\") failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testMatch(name string, at time.Time, winner string, objectives ...model.Objective) *model.MatchRecord {
	if objectives == nil {
		objectives = []model.Objective{}
	}
	return &model.MatchRecord{
		Name:             name,
		Players:          60,
		WinningTeam:      winner,
		TimeRemaining:    90,
		WinCondition:     "AllObjectivesCaptured",
		AxisTeamScore:    5,
		AlliesTeamScore:  2,
		ActiveObjectives: objectives,
		MatchDateTime:    at,
	}
}

func insertTestMatches(t *testing.T, store *Store, records ...*model.MatchRecord) int {
	t.Helper()
	n, err := store.InsertMatchBatch(records)
	if err != nil {
		t.Fatalf("InsertMatchBatch failed: %v", err)
	}
	return n
}

func TestInsertMatchBatch(t *testing.T) {
	store := newTestStore(t)

	rec := testMatch("TE-Carentan", baseTime, "Axis",
		model.Objective{Index: 2, Name: "Church", Holder: "Axis"},
		model.Objective{Index: 1, Name: "Causeway", Holder: "Allies"},
	)
	rec.TeamsSwapped = true
	rec.AxisReinforcements = -3
	rec.ServerID = "eu-1"

	if n := insertTestMatches(t, store, rec); n != 1 {
		t.Fatalf("inserted = %d, want 1", n)
	}

	got, err := store.RecentMatches(10, model.MatchFilter{})
	if err != nil {
		t.Fatalf("RecentMatches: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("RecentMatches returned %d rows, want 1", len(got))
	}
	r := got[0]
	if r.Name != rec.Name || r.WinningTeam != "Axis" || !r.TeamsSwapped || r.AxisReinforcements != -3 || r.ServerID != "eu-1" {
		t.Errorf("round trip mismatch: %+v", r)
	}
	if !r.MatchDateTime.Equal(baseTime) {
		t.Errorf("MatchDateTime = %v, want %v", r.MatchDateTime, baseTime)
	}
	if len(r.ActiveObjectives) != 2 || r.ActiveObjectives[0].Name != "Church" || r.ActiveObjectives[1].Holder != "Allies" {
		t.Errorf("ActiveObjectives = %+v, want stored order", r.ActiveObjectives)
	}

	counts, err := store.TableRowCounts()
	if err != nil {
		t.Fatalf("TableRowCounts: %v", err)
	}
	if counts["match_objectives"] != 2 {
		t.Errorf("match_objectives rows = %d, want 2", counts["match_objectives"])
	}
}

func TestInsertMatchBatch_Idempotent(t *testing.T) {
	store := newTestStore(t)

	rec := testMatch("TE-Foy", baseTime, "Allies", model.Objective{Index: 1, Name: "Road", Holder: "Allies"})
	if n := insertTestMatches(t, store, rec); n != 1 {
		t.Fatalf("first insert = %d, want 1", n)
	}

	dup := *rec
	dup.Players = 99
	if n := insertTestMatches(t, store, &dup); n != 0 {
		t.Errorf("second insert = %d, want 0", n)
	}

	count, err := store.MatchCount(model.MatchFilter{})
	if err != nil {
		t.Fatalf("MatchCount: %v", err)
	}
	if count != 1 {
		t.Errorf("MatchCount = %d, want 1", count)
	}

	got, err := store.RecentMatches(1, model.MatchFilter{})
	if err != nil {
		t.Fatalf("RecentMatches: %v", err)
	}
	if got[0].Players != 60 {
		t.Errorf("Players = %d, want the first stored value 60", got[0].Players)
	}
}

func TestInsertMatchBatch_ServerIDInKey(t *testing.T) {
	store := newTestStore(t)

	a := testMatch("TE-Foy", baseTime, "Axis")
	b := testMatch("TE-Foy", baseTime, "Axis")
	b.ServerID = "us-2"

	if n := insertTestMatches(t, store, a, b); n != 2 {
		t.Errorf("inserted = %d, want 2 (server id is part of the key)", n)
	}
}

func TestInsertMatchBatch_DuplicateWithinBatch(t *testing.T) {
	store := newTestStore(t)

	a := testMatch("TE-Kursk", baseTime, "Axis")
	b := testMatch("TE-Kursk", baseTime, "Allies")
	c := testMatch("TE-Kursk", baseTime.Add(time.Hour), "Allies")

	insertTestMatches(t, store, a, b, c)

	count, err := store.MatchCount(model.MatchFilter{})
	if err != nil {
		t.Fatalf("MatchCount: %v", err)
	}
	if count != 2 {
		t.Errorf("MatchCount = %d, want 2", count)
	}
}

func TestInsertMatchBatch_Empty(t *testing.T) {
	store := newTestStore(t)
	n, err := store.InsertMatchBatch(nil)
	if err != nil || n != 0 {
		t.Errorf("InsertMatchBatch(nil) = %d, %v; want 0, nil", n, err)
	}
}

func TestMatchFilter(t *testing.T) {
	store := newTestStore(t)

	small := testMatch("TE-Utah", baseTime.Add(-10*24*time.Hour), "Axis")
	small.Players = 10
	insertTestMatches(t, store,
		small,
		testMatch("TE-Utah", baseTime, "Allies"),
		testMatch("TE-Omaha", baseTime, "Axis"),
	)

	tests := []struct {
		name   string
		filter model.MatchFilter
		want   int64
	}{
		{"no filter", model.MatchFilter{}, 3},
		{"map", model.MatchFilter{Map: "TE-Utah"}, 2},
		{"since", model.MatchFilter{Since: baseTime.Add(-24 * time.Hour)}, 2},
		{"min players", model.MatchFilter{MinPlayers: 50}, 2},
		{"combined", model.MatchFilter{Map: "TE-Utah", MinPlayers: 50}, 1},
		{"unknown map", model.MatchFilter{Map: "TE-Nowhere"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.MatchCount(tt.filter)
			if err != nil {
				t.Fatalf("MatchCount: %v", err)
			}
			if got != tt.want {
				t.Errorf("MatchCount(%+v) = %d, want %d", tt.filter, got, tt.want)
			}
		})
	}
}

func TestRecentMatches_Order(t *testing.T) {
	store := newTestStore(t)
	for i := 0; i < 5; i++ {
		insertTestMatches(t, store, testMatch("TE-Hill400", baseTime.Add(time.Duration(i)*time.Hour), "Axis"))
	}

	got, err := store.RecentMatches(3, model.MatchFilter{})
	if err != nil {
		t.Fatalf("RecentMatches: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("RecentMatches returned %d rows, want 3", len(got))
	}
	if !got[0].MatchDateTime.Equal(baseTime.Add(4 * time.Hour)) {
		t.Errorf("first = %v, want newest", got[0].MatchDateTime)
	}
}

func TestMapNames(t *testing.T) {
	store := newTestStore(t)

	names, err := store.MapNames()
	if err != nil {
		t.Fatalf("MapNames: %v", err)
	}
	if len(names) != 0 {
		t.Errorf("empty store MapNames = %v", names)
	}

	insertTestMatches(t, store,
		testMatch("TE-Utah", baseTime, "Axis"),
		testMatch("TE-Carentan", baseTime, "Axis"),
		testMatch("TE-Utah", baseTime.Add(time.Hour), "Axis"),
	)
	names, err = store.MapNames()
	if err != nil {
		t.Fatalf("MapNames: %v", err)
	}
	if strings.Join(names, ",") != "TE-Carentan,TE-Utah" {
		t.Errorf("MapNames = %v", names)
	}
}

func TestMapSummaries(t *testing.T) {
	store := newTestStore(t)

	tickets := testMatch("TE-Utah", baseTime.Add(2*time.Hour), "Allies")
	tickets.WinCondition = "Reinforcements"
	tickets.Players = 30
	insertTestMatches(t, store,
		testMatch("TE-Utah", baseTime, "Axis"),
		testMatch("TE-Utah", baseTime.Add(time.Hour), "Axis"),
		tickets,
		testMatch("TE-Omaha", baseTime, "Allies"),
	)

	summaries, err := store.MapSummaries(model.MatchFilter{})
	if err != nil {
		t.Fatalf("MapSummaries: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("MapSummaries returned %d rows, want 2", len(summaries))
	}

	utah := summaries[1]
	if utah.Name != "TE-Utah" {
		t.Fatalf("summaries not ordered by name: %+v", summaries)
	}
	if utah.Games != 3 || utah.AxisWins != 2 || utah.AlliesWins != 1 {
		t.Errorf("TE-Utah = %+v, want 3 games 2 axis 1 allies", utah)
	}
	if utah.AvgPlayers != 50 {
		t.Errorf("AvgPlayers = %v, want 50", utah.AvgPlayers)
	}
	if utah.WinConditions["AllObjectivesCaptured"] != 2 || utah.WinConditions["Reinforcements"] != 1 {
		t.Errorf("WinConditions = %v", utah.WinConditions)
	}
}

func TestTopObjectiveSequences(t *testing.T) {
	store := newTestStore(t)

	common := []model.Objective{{Index: 1, Name: "Bridge", Holder: "Axis"}, {Index: 2, Name: "Farm", Holder: "Axis"}}
	rare := []model.Objective{{Index: 1, Name: "Bridge", Holder: "Allies"}}

	var records []*model.MatchRecord
	for i := 0; i < 3; i++ {
		records = append(records, testMatch("TE-Foy", baseTime.Add(time.Duration(i)*time.Hour), "Axis", common...))
	}
	records = append(records, testMatch("TE-Foy", baseTime.Add(10*time.Hour), "Allies", rare...))
	records = append(records, testMatch("TE-Omaha", baseTime, "Allies", rare...))
	insertTestMatches(t, store, records...)

	seqs, err := store.TopObjectiveSequences("TE-Foy", 3, model.MatchFilter{})
	if err != nil {
		t.Fatalf("TopObjectiveSequences: %v", err)
	}
	if len(seqs) != 2 {
		t.Fatalf("got %d sequences, want 2", len(seqs))
	}
	if seqs[0].Count != 3 || len(seqs[0].Objectives) != 2 || seqs[0].Objectives[1].Name != "Farm" {
		t.Errorf("top sequence = %+v", seqs[0])
	}
	if seqs[1].Count != 1 {
		t.Errorf("second sequence count = %d, want 1", seqs[1].Count)
	}
}

func TestExecuteQuery_SelectAllowed(t *testing.T) {
	store := newTestStore(t)
	insertTestMatches(t, store, testMatch("TE-Utah", baseTime, "Axis"))

	results, err := store.ExecuteQuery("SELECT COUNT(*) as cnt FROM matches")
	if err != nil {
		t.Fatalf("ExecuteQuery SELECT: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("ExecuteQuery returned %d rows, want 1", len(results))
	}
}

func TestExecuteQuery_WithAllowed(t *testing.T) {
	store := newTestStore(t)
	insertTestMatches(t, store, testMatch("TE-Utah", baseTime, "Axis"))

	results, err := store.ExecuteQuery("WITH c AS (SELECT name, COUNT(*) AS cnt FROM matches GROUP BY name) SELECT cnt FROM c")
	if err != nil {
		t.Fatalf("ExecuteQuery WITH: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("ExecuteQuery WITH returned %d rows, want 1", len(results))
	}
}

func TestExecuteQuery_DMLRejected(t *testing.T) {
	store := newTestStore(t)

	rejected := []string{
		"INSERT INTO matches (name) VALUES ('hack')",
		"UPDATE matches SET name = 'hacked'",
		"DELETE FROM matches",
		"DROP TABLE matches",
		"CREATE TABLE evil (id int)",
		"ALTER TABLE matches ADD COLUMN evil varchar",
		"TRUNCATE matches",
		"/* SELECT */ DELETE FROM matches",
	}

	for _, sql := range rejected {
		_, err := store.ExecuteQuery(sql)
		if err == nil {
			t.Errorf("ExecuteQuery(%q) should have been rejected", sql)
			continue
		}
		if !errors.Is(err, ErrReadOnlyQuery) {
			t.Errorf("ExecuteQuery(%q) error %v should wrap ErrReadOnlyQuery", sql, err)
		}
	}
}

func TestExecuteQuery_DuckDBKeywordsRejected(t *testing.T) {
	store := newTestStore(t)

	rejected := []struct {
		sql     string
		keyword string
	}{
		{"SELECT COPY(matches, '/tmp/dump.csv') FROM matches", "COPY"},
		{"SELECT ATTACH FROM matches", "ATTACH"},
		{"SELECT LOAD FROM matches", "LOAD"},
		{"SELECT EXPORT FROM matches", "EXPORT"},
		{"SELECT INSTALL FROM matches", "INSTALL"},
		{"SELECT PRAGMA FROM matches", "PRAGMA"},
		{"SELECT SET FROM matches", "SET"},
		{"SELECT CHECKPOINT FROM matches", "CHECKPOINT"},
	}

	for _, tt := range rejected {
		_, err := store.ExecuteQuery(tt.sql)
		if err == nil {
			t.Errorf("ExecuteQuery should reject %s keyword", tt.keyword)
			continue
		}
		if !strings.Contains(err.Error(), tt.keyword) {
			t.Errorf("ExecuteQuery error %q should mention keyword %s", err.Error(), tt.keyword)
		}
	}

	for _, sql := range []string{
		"SELECT * FROM matches; DROP TABLE matches",
		"SELECT * FROM matches; COPY matches TO '/tmp/dump.csv'",
	} {
		_, err := store.ExecuteQuery(sql)
		if err == nil || !strings.Contains(err.Error(), "semicolons") {
			t.Errorf("ExecuteQuery(%q) err = %v, want semicolon rejection", sql, err)
		}
	}
}

func TestTableRowCounts(t *testing.T) {
	store := newTestStore(t)

	counts, err := store.TableRowCounts()
	if err != nil {
		t.Fatalf("TableRowCounts: %v", err)
	}
	for _, table := range []string{"matches", "match_objectives", "ingest_runs"} {
		if _, ok := counts[table]; !ok {
			t.Errorf("TableRowCounts missing table %q", table)
		}
	}
}

func TestRecordIngestRun(t *testing.T) {
	store := newTestStore(t)

	for i := 0; i < 2; i++ {
		run := model.IngestRun{
			ID:          fmt.Sprintf("run-%d", i),
			StartedAt:   baseTime.Add(time.Duration(i) * time.Minute),
			FinishedAt:  baseTime.Add(time.Duration(i)*time.Minute + time.Second),
			Files:       3,
			FailedFiles: 1,
			Records:     7,
			Inserted:    5,
			Errors:      []string{"b.log: missing anchor"},
		}
		if err := store.RecordIngestRun(run); err != nil {
			t.Fatalf("RecordIngestRun: %v", err)
		}
	}

	runs, err := store.RecentIngestRuns(10)
	if err != nil {
		t.Fatalf("RecentIngestRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}
	if runs[0].ID != "run-1" || runs[0].Inserted != 5 || len(runs[0].Errors) != 1 {
		t.Errorf("newest run = %+v", runs[0])
	}

	if err := store.RecordIngestRun(model.IngestRun{ID: "run-0", StartedAt: baseTime, FinishedAt: baseTime}); err == nil {
		t.Error("duplicate run id should fail")
	}
}

func TestDeleteBefore(t *testing.T) {
	store := newTestStore(t)

	obj := model.Objective{Index: 1, Name: "Bridge", Holder: "Axis"}
	insertTestMatches(t, store,
		testMatch("TE-Utah", baseTime.Add(-48*time.Hour), "Axis", obj),
		testMatch("TE-Utah", baseTime, "Axis", obj),
	)

	n, err := store.DeleteBefore(baseTime.Add(-time.Hour))
	if err != nil {
		t.Fatalf("DeleteBefore: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}

	counts, err := store.TableRowCounts()
	if err != nil {
		t.Fatalf("TableRowCounts: %v", err)
	}
	if counts["matches"] != 1 || counts["match_objectives"] != 1 {
		t.Errorf("counts after delete = %v", counts)
	}
}

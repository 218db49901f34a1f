package report

import (
	"sort"
	"time"

	json "github.com/goccy/go-json"

	"github.com/tinytelemetry/mapstats/internal/model"
)

// MemorySource answers match queries from records held in memory. It backs
// reports over a batch that was not persisted, or over a CSV export.
type MemorySource struct {
	records []model.MatchRecord
}

var _ model.MatchQuerier = (*MemorySource)(nil)

// NewMemorySource returns a source over records. The slice is not copied.
func NewMemorySource(records []model.MatchRecord) *MemorySource {
	return &MemorySource{records: records}
}

func matches(r *model.MatchRecord, filter model.MatchFilter) bool {
	if filter.Map != "" && r.Name != filter.Map {
		return false
	}
	if !filter.Since.IsZero() && r.MatchDateTime.Before(filter.Since) {
		return false
	}
	if filter.MinPlayers > 0 && r.Players < filter.MinPlayers {
		return false
	}
	return true
}

func (m *MemorySource) each(filter model.MatchFilter, fn func(r *model.MatchRecord)) {
	for i := range m.records {
		if matches(&m.records[i], filter) {
			fn(&m.records[i])
		}
	}
}

func (m *MemorySource) MatchCount(filter model.MatchFilter) (int64, error) {
	var n int64
	m.each(filter, func(*model.MatchRecord) { n++ })
	return n, nil
}

func (m *MemorySource) RecentMatches(limit int, filter model.MatchFilter) ([]model.MatchRecord, error) {
	var out []model.MatchRecord
	m.each(filter, func(r *model.MatchRecord) { out = append(out, r.Clone()) })
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].MatchDateTime.Equal(out[j].MatchDateTime) {
			return out[i].MatchDateTime.After(out[j].MatchDateTime)
		}
		return out[i].Name < out[j].Name
	})
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemorySource) MapNames() ([]string, error) {
	seen := make(map[string]bool)
	var names []string
	for i := range m.records {
		if name := m.records[i].Name; !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (m *MemorySource) MapSummaries(filter model.MatchFilter) ([]model.MapSummary, error) {
	index := make(map[string]int)
	var summaries []model.MapSummary
	players := make(map[string]int64)

	m.each(filter, func(r *model.MatchRecord) {
		i, ok := index[r.Name]
		if !ok {
			i = len(summaries)
			index[r.Name] = i
			summaries = append(summaries, model.MapSummary{
				Name:          r.Name,
				WinConditions: make(map[string]int64),
			})
		}
		s := &summaries[i]
		s.Games++
		switch r.WinningTeam {
		case "Axis":
			s.AxisWins++
		case "Allies":
			s.AlliesWins++
		}
		s.WinConditions[r.WinCondition]++
		players[r.Name] += int64(r.Players)
	})

	for i := range summaries {
		summaries[i].AvgPlayers = float64(players[summaries[i].Name]) / float64(summaries[i].Games)
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Name < summaries[j].Name })
	return summaries, nil
}

func (m *MemorySource) TopObjectiveSequences(mapName string, limit int, filter model.MatchFilter) ([]model.ObjectiveSequence, error) {
	type group struct {
		key string
		seq model.ObjectiveSequence
	}
	filter.Map = mapName
	index := make(map[string]int)
	var groups []group
	var encErr error

	m.each(filter, func(r *model.MatchRecord) {
		objectives := r.ActiveObjectives
		if objectives == nil {
			objectives = []model.Objective{}
		}
		raw, err := json.Marshal(objectives)
		if err != nil {
			encErr = err
			return
		}
		key := string(raw)
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, group{key: key, seq: model.ObjectiveSequence{
				Objectives: append([]model.Objective{}, objectives...),
			}})
		}
		groups[i].seq.Count++
	})
	if encErr != nil {
		return nil, encErr
	}

	sort.Slice(groups, func(i, j int) bool {
		if groups[i].seq.Count != groups[j].seq.Count {
			return groups[i].seq.Count > groups[j].seq.Count
		}
		return groups[i].key < groups[j].key
	})
	if limit >= 0 && len(groups) > limit {
		groups = groups[:limit]
	}
	out := make([]model.ObjectiveSequence, len(groups))
	for i, g := range groups {
		out[i] = g.seq
	}
	return out, nil
}

// Span returns the earliest and latest match time among records.
func Span(records []model.MatchRecord) (first, last time.Time) {
	for i := range records {
		at := records[i].MatchDateTime
		if first.IsZero() || at.Before(first) {
			first = at
		}
		if last.IsZero() || at.After(last) {
			last = at
		}
	}
	return first, last
}

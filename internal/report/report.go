// Package report aggregates stored matches into per-map win statistics.
package report

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/tinytelemetry/mapstats/internal/model"
)

// DefaultTopSequences is how many objective sequences are listed per map.
const DefaultTopSequences = 3

// ErrUnknownMap reports a map filter that matches no stored map name.
var ErrUnknownMap = errors.New("report: no stored map matches")

// Options selects the matches a report covers.
type Options struct {
	Days         int    // look-back window, 0 = unbounded; the sign is ignored
	MinPlayers   int    // minimum player count; the sign is ignored
	Map          string // optional, resolved against stored names
	Now          time.Time
	TopSequences int
}

// WinConditionCount is how often one win condition ended a map's matches.
type WinConditionCount struct {
	Condition string `json:"condition"`
	Count     int64  `json:"count"`
}

// MapReport holds the statistics for one map.
type MapReport struct {
	Name          string                    `json:"name"`
	Games         int64                     `json:"games"`
	AxisWins      int64                     `json:"axis_wins"`
	AlliesWins    int64                     `json:"allies_wins"`
	AxisRatio     float64                   `json:"axis_ratio"`
	AlliesRatio   float64                   `json:"allies_ratio"`
	AvgPlayers    float64                   `json:"avg_players"`
	WinConditions []WinConditionCount       `json:"win_conditions"`
	Supremacy     bool                      `json:"supremacy"`
	Sequences     []model.ObjectiveSequence `json:"objective_sequences,omitempty"`
}

// Report is the full statistics report.
type Report struct {
	GeneratedAt time.Time   `json:"generated_at"`
	Since       time.Time   `json:"since"` // zero when Days is 0
	Days        int         `json:"days"`
	MinPlayers  int         `json:"min_players"`
	Map         string      `json:"map,omitempty"`
	Matches     int64       `json:"matches"`
	Maps        []MapReport `json:"maps"`
}

// Build queries q and assembles the report.
func Build(q model.MatchQuerier, opts Options) (*Report, error) {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	days := abs(opts.Days)
	minPlayers := abs(opts.MinPlayers)
	top := opts.TopSequences
	if top <= 0 {
		top = DefaultTopSequences
	}

	r := &Report{
		GeneratedAt: now.UTC(),
		Days:        days,
		MinPlayers:  minPlayers,
		Maps:        []MapReport{},
	}
	if days > 0 {
		r.Since = now.AddDate(0, 0, -days).UTC()
	}
	filter := model.MatchFilter{Since: r.Since, MinPlayers: minPlayers}

	if opts.Map != "" {
		names, err := q.MapNames()
		if err != nil {
			return nil, fmt.Errorf("report: list maps: %w", err)
		}
		resolved, ok := ResolveMap(opts.Map, names)
		if !ok {
			return nil, fmt.Errorf("%w %q", ErrUnknownMap, opts.Map)
		}
		r.Map = resolved
		filter.Map = resolved
	}

	summaries, err := q.MapSummaries(filter)
	if err != nil {
		return nil, fmt.Errorf("report: map summaries: %w", err)
	}

	for _, s := range summaries {
		mr := MapReport{
			Name:          s.Name,
			Games:         s.Games,
			AxisWins:      s.AxisWins,
			AlliesWins:    s.AlliesWins,
			AxisRatio:     ratio(s.AxisWins, s.Games),
			AlliesRatio:   ratio(s.AlliesWins, s.Games),
			AvgPlayers:    s.AvgPlayers,
			WinConditions: sortConditions(s.WinConditions),
			Supremacy:     IsSupremacy(s.Name),
		}
		if !mr.Supremacy {
			seqs, err := q.TopObjectiveSequences(s.Name, top, filter)
			if err != nil {
				return nil, fmt.Errorf("report: objective sequences for %s: %w", s.Name, err)
			}
			mr.Sequences = seqs
		}
		r.Matches += s.Games
		r.Maps = append(r.Maps, mr)
	}
	return r, nil
}

// IsSupremacy reports whether name is a Supremacy map. Supremacy objectives
// do not form a fixed sequence. The mode is read from the third character on.
func IsSupremacy(name string) bool {
	runes := []rune(name)
	if len(runes) <= 2 {
		return false
	}
	return strings.HasPrefix(strings.ToLower(string(runes[2:])), "su")
}

// ResolveMap picks the stored map name best matching query: an exact
// case-insensitive match wins, otherwise the closest fuzzy match.
func ResolveMap(query string, names []string) (string, bool) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", false
	}
	for _, n := range names {
		if strings.EqualFold(n, query) {
			return n, true
		}
	}

	ranks := fuzzy.RankFindFold(query, names)
	if len(ranks) == 0 {
		return "", false
	}
	sort.Sort(ranks)
	return ranks[0].Target, true
}

// ratio is wins/games rounded to three decimals.
func ratio(wins, games int64) float64 {
	if games == 0 {
		return 0
	}
	return math.Round(float64(wins)/float64(games)*1000) / 1000
}

func sortConditions(m map[string]int64) []WinConditionCount {
	out := make([]WinConditionCount, 0, len(m))
	for cond, n := range m {
		out = append(out, WinConditionCount{Condition: cond, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Condition < out[j].Condition
	})
	return out
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

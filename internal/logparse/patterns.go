package logparse

import (
	"errors"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Word classes are Unicode-aware so map and objective names with accented
// letters are accepted.
const (
	word       = `[\p{L}\p{N}_]`
	linePrefix = `^\[([0-9.]+)\]\s+DevBalanceStats:\s`
	statsLine  = linePrefix + `BALANCE\sSTATS:\s`
)

var (
	PlayerCountRegex = regexp.MustCompile(
		statsLine + "([\\p{L}\\p{N}_\\-'?`´.,]+)" + `\s\|\s.*\s\|\s([0-9]+)\splayers playing.*$`,
	)
	WinningTeamRegex = regexp.MustCompile(
		statsLine + `WinningTeam=(` + word + `+)\sTeams\sSwapped=\s(` + word + `+)$`,
	)
	TimeRemainingRegex = regexp.MustCompile(
		statsLine + `TimeRemaining=([0-9]+).*$`,
	)
	ReinforcementsRegex = regexp.MustCompile(
		statsLine + `AxisReinforcements=([\-0-9]+)\sAlliesReinforcements=([\-0-9]+).*$`,
	)
	ActiveObjectiveRegex = regexp.MustCompile(
		linePrefix + `\s*.*ActiveObjectives\s([0-9]+)\s=\s([\p{L}\p{N}_ \-.'?´` + "`" + `]+)\sStatus=(` + word + `+)$`,
	)
	WinConditionRegex = regexp.MustCompile(
		statsLine + `Win\sCondition\s([\-.\p{L}\p{N}_]+)\s.*$`,
	)
	MatchStopRegex = regexp.MustCompile(
		linePrefix + `\s*.*AxisTeamScore=([0-9.]+)\s+AlliesTeamScore=([0-9.]+)$`,
	)
)

// Recognizer binds one pattern to one event kind. Capture group 1 of every
// pattern is the bracketed relative time offset.
type Recognizer struct {
	Kind    EventKind
	Pattern *regexp.Regexp
	extract func(m []string, at float64) (Event, bool)
}

// Recognize tests the line and returns the event when the pattern matches
// and every numeric capture converts.
func (r Recognizer) Recognize(line string) (Event, bool) {
	m := r.Pattern.FindStringSubmatch(line)
	if m == nil {
		return nil, false
	}
	at, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return nil, false
	}
	return r.extract(m, at)
}

// Registry holds the fixed recognizer set. It is immutable after
// construction and safe for concurrent use.
type Registry struct {
	recognizers []Recognizer
}

// NewRegistry returns a registry with the standard recognizers.
func NewRegistry() *Registry {
	return &Registry{recognizers: []Recognizer{
		{Kind: KindPlayerCount, Pattern: PlayerCountRegex, extract: extractPlayerCount},
		{Kind: KindWinningTeam, Pattern: WinningTeamRegex, extract: extractWinningTeam},
		{Kind: KindTimeRemaining, Pattern: TimeRemainingRegex, extract: extractTimeRemaining},
		{Kind: KindReinforcements, Pattern: ReinforcementsRegex, extract: extractReinforcements},
		{Kind: KindActiveObjective, Pattern: ActiveObjectiveRegex, extract: extractActiveObjective},
		{Kind: KindWinCondition, Pattern: WinConditionRegex, extract: extractWinCondition},
		{Kind: KindMatchStop, Pattern: MatchStopRegex, extract: extractMatchStop},
	}}
}

// Default is the shared standard registry.
var Default = NewRegistry()

// Classify tests every recognizer against the line, or only those of the
// given kinds, and returns one event per match. Recognizers are independent:
// a line may yield several events.
func (r *Registry) Classify(line string, kinds ...EventKind) []Event {
	line = strings.TrimRight(line, "\r\n")

	var events []Event
	for _, rec := range r.recognizers {
		if len(kinds) > 0 && !containsKind(kinds, rec.Kind) {
			continue
		}
		if ev, ok := rec.Recognize(line); ok {
			events = append(events, ev)
		}
	}
	return events
}

// Recognize tests only the recognizer of the given kind.
func (r *Registry) Recognize(kind EventKind, line string) (Event, bool) {
	line = strings.TrimRight(line, "\r\n")
	for _, rec := range r.recognizers {
		if rec.Kind == kind {
			return rec.Recognize(line)
		}
	}
	return nil, false
}

func containsKind(kinds []EventKind, k EventKind) bool {
	for _, kind := range kinds {
		if kind == k {
			return true
		}
	}
	return false
}

func extractPlayerCount(m []string, at float64) (Event, bool) {
	players, err := strconv.Atoi(m[3])
	if err != nil {
		return nil, false
	}
	return PlayerCount{At: at, Map: m[2], Players: players}, true
}

func extractWinningTeam(m []string, at float64) (Event, bool) {
	return WinningTeam{At: at, Team: m[2], TeamsSwapped: ParseFlag(m[3])}, true
}

func extractTimeRemaining(m []string, at float64) (Event, bool) {
	seconds, err := strconv.Atoi(m[2])
	if err != nil {
		return nil, false
	}
	return TimeRemaining{At: at, Seconds: seconds}, true
}

func extractReinforcements(m []string, at float64) (Event, bool) {
	axis, err := strconv.Atoi(m[2])
	if err != nil {
		return nil, false
	}
	allies, err := strconv.Atoi(m[3])
	if err != nil {
		return nil, false
	}
	return Reinforcements{At: at, Axis: axis, Allies: allies}, true
}

func extractActiveObjective(m []string, at float64) (Event, bool) {
	index, err := strconv.Atoi(m[2])
	if err != nil {
		return nil, false
	}
	return ActiveObjective{At: at, Index: index, Name: m[3], Holder: m[4]}, true
}

func extractWinCondition(m []string, at float64) (Event, bool) {
	return WinCondition{At: at, Code: m[2]}, true
}

// extractMatchStop never rejects a line the pattern matched: the stop line
// closes a session, so a score that does not convert is recorded as 0.
func extractMatchStop(m []string, at float64) (Event, bool) {
	return MatchStop{At: at, AxisScore: truncScore(m[2]), AlliesScore: truncScore(m[3])}, true
}

// truncScore parses a float score and truncates it toward zero. Values that
// do not parse are 0; values beyond the int range are clamped.
func truncScore(s string) int {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return 0
	}
	switch {
	case math.IsNaN(f):
		return 0
	case f >= math.MaxInt:
		return math.MaxInt
	case f <= math.MinInt:
		return math.MinInt
	}
	return int(math.Trunc(f))
}

// ParseFlag converts a logged boolean literal ("True", "False", "1", "0").
// Unknown literals are false. The literal is read for its value, so
// "Teams Swapped= False" is false even though the capture is non-empty.
func ParseFlag(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes":
		return true
	default:
		return false
	}
}

package ingest

import (
	"fmt"
	"strings"

	"github.com/tinytelemetry/mapstats/internal/logparse"
	"github.com/tinytelemetry/mapstats/internal/model"
)

// ObjectiveOrder selects how a session's active objectives are listed.
type ObjectiveOrder int

const (
	// ObjectivesReversed lists objectives newest-first: the reverse of the
	// order they appear in the log. This is the historical output of the
	// extractor and stays the default so stored data remains comparable.
	ObjectivesReversed ObjectiveOrder = iota
	// ObjectivesLogOrder lists objectives in the order they were logged.
	ObjectivesLogOrder
)

func (o ObjectiveOrder) String() string {
	switch o {
	case ObjectivesLogOrder:
		return "log"
	default:
		return "reversed"
	}
}

// ParseObjectiveOrder parses "reversed" or "log". Empty means reversed.
func ParseObjectiveOrder(s string) (ObjectiveOrder, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "reversed", "reverse":
		return ObjectivesReversed, nil
	case "log", "arrival":
		return ObjectivesLogOrder, nil
	default:
		return ObjectivesReversed, fmt.Errorf("ingest: unknown objective order %q (want reversed or log)", s)
	}
}

func (o ObjectiveOrder) apply(objectives []model.Objective) []model.Objective {
	if o == ObjectivesLogOrder {
		return objectives
	}
	for i, j := 0, len(objectives)-1; i < j; i, j = i+1, j-1 {
		objectives[i], objectives[j] = objectives[j], objectives[i]
	}
	return objectives
}

// Accumulator folds one session's events into a MatchRecord.
type Accumulator struct {
	Order ObjectiveOrder
}

// Fold builds the record for a closed session. events must be in log order.
// Each scalar event kind owns its own fields; if a kind repeats, the first
// logged occurrence is kept. Fields no event touched keep their zero value.
// The caller stamps MatchDateTime and ServerID.
func (a Accumulator) Fold(events []logparse.Event) model.MatchRecord {
	var rec model.MatchRecord
	objectives := make([]model.Objective, 0)
	seen := make(map[logparse.EventKind]bool, 8)

	for _, ev := range events {
		if ev == nil {
			continue
		}
		kind := ev.Kind()
		if kind != logparse.KindActiveObjective {
			if seen[kind] {
				continue
			}
			seen[kind] = true
		}

		switch e := ev.(type) {
		case logparse.PlayerCount:
			rec.Name = e.Map
			rec.Players = e.Players
		case logparse.WinningTeam:
			rec.WinningTeam = e.Team
			rec.TeamsSwapped = e.TeamsSwapped
		case logparse.TimeRemaining:
			rec.TimeRemaining = e.Seconds
		case logparse.Reinforcements:
			rec.AxisReinforcements = e.Axis
			rec.AlliesReinforcements = e.Allies
		case logparse.ActiveObjective:
			objectives = append(objectives, model.Objective{
				Index:  e.Index,
				Name:   e.Name,
				Holder: e.Holder,
			})
		case logparse.WinCondition:
			rec.WinCondition = e.Code
		case logparse.MatchStop:
			rec.AxisTeamScore = e.AxisScore
			rec.AlliesTeamScore = e.AlliesScore
		}
	}

	rec.ActiveObjectives = a.Order.apply(objectives)
	return rec
}

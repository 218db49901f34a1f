package logparse

// EventKind identifies which recognizer produced an event.
type EventKind int

const (
	KindPlayerCount EventKind = iota + 1
	KindWinningTeam
	KindTimeRemaining
	KindReinforcements
	KindActiveObjective
	KindWinCondition
	KindMatchStop
)

func (k EventKind) String() string {
	switch k {
	case KindPlayerCount:
		return "PlayerCount"
	case KindWinningTeam:
		return "WinningTeam"
	case KindTimeRemaining:
		return "TimeRemaining"
	case KindReinforcements:
		return "Reinforcements"
	case KindActiveObjective:
		return "ActiveObjective"
	case KindWinCondition:
		return "WinCondition"
	case KindMatchStop:
		return "MatchStop"
	default:
		return "Unknown"
	}
}

// Event is one typed field update recognized in a log line.
// Offset is the bracketed relative time (seconds since the log file opened).
type Event interface {
	Kind() EventKind
	Offset() float64
}

// PlayerCount opens a match session.
type PlayerCount struct {
	At      float64
	Map     string
	Players int
}

// WinningTeam reports the winner and whether the teams were swapped.
type WinningTeam struct {
	At           float64
	Team         string
	TeamsSwapped bool
}

// TimeRemaining reports the match clock in seconds.
type TimeRemaining struct {
	At      float64
	Seconds int
}

// Reinforcements reports remaining tickets per side. Values may be negative.
type Reinforcements struct {
	At     float64
	Axis   int
	Allies int
}

// ActiveObjective reports one objective and its holder.
type ActiveObjective struct {
	At     float64
	Index  int
	Name   string
	Holder string
}

// WinCondition reports the code of the condition that ended the match.
type WinCondition struct {
	At   float64
	Code string
}

// MatchStop closes a match session.
type MatchStop struct {
	At          float64
	AxisScore   int
	AlliesScore int
}

func (e PlayerCount) Kind() EventKind     { return KindPlayerCount }
func (e WinningTeam) Kind() EventKind     { return KindWinningTeam }
func (e TimeRemaining) Kind() EventKind   { return KindTimeRemaining }
func (e Reinforcements) Kind() EventKind  { return KindReinforcements }
func (e ActiveObjective) Kind() EventKind { return KindActiveObjective }
func (e WinCondition) Kind() EventKind    { return KindWinCondition }
func (e MatchStop) Kind() EventKind       { return KindMatchStop }

func (e PlayerCount) Offset() float64     { return e.At }
func (e WinningTeam) Offset() float64     { return e.At }
func (e TimeRemaining) Offset() float64   { return e.At }
func (e Reinforcements) Offset() float64  { return e.At }
func (e ActiveObjective) Offset() float64 { return e.At }
func (e WinCondition) Offset() float64    { return e.At }
func (e MatchStop) Offset() float64       { return e.At }

package logparse

import (
	"math"
	"reflect"
	"strings"
	"testing"
)

const (
	linePlayers     = "[2000.50] DevBalanceStats: BALANCE STATS: TE-Hill400 | Offensive | 64 players playing on server"
	lineWinner      = "[2100.00] DevBalanceStats: BALANCE STATS: WinningTeam=Axis Teams Swapped= False"
	lineTime        = "[2100.00] DevBalanceStats: BALANCE STATS: TimeRemaining=120"
	lineReinforce   = "[2100.00] DevBalanceStats: BALANCE STATS: AxisReinforcements=-3 AlliesReinforcements=250"
	lineObjective   = "[2100.00] DevBalanceStats: BALANCE STATS: ActiveObjectives 1 = Hill 400 Status=Allies"
	lineWinCond     = "[2100.00] DevBalanceStats: BALANCE STATS: Win Condition AllObjectivesCaptured (objectives)"
	lineMatchStop   = "[2101.75] DevBalanceStats: MatchStop AxisTeamScore=4.9 AlliesTeamScore=1.75"
	lineUnmatched   = "[2101.75] LogNet: client connected"
	lineBadOffset   = "[1.2.3] DevBalanceStats: BALANCE STATS: TimeRemaining=120"
	lineTwoMatches  = "[2100.00] DevBalanceStats: BALANCE STATS: TimeRemaining=300 ActiveObjectives 2 = Bridge Status=Axis"
	lineUnicodeMap  = "[10.0] DevBalanceStats: BALANCE STATS: TE-Hürtgenwald | Frontline | 12 players playing"
	lineCRLFStop    = "[50.0] DevBalanceStats: AxisTeamScore=1 AlliesTeamScore=2\r\n"
	lineHugeScore   = "[50.0] DevBalanceStats: AxisTeamScore=99999999999999 AlliesTeamScore=2"
	lineWinnerTrue  = "[2100.00] DevBalanceStats: BALANCE STATS: WinningTeam=Allies Teams Swapped= True"
	lineDoubleMinus = "[2100.00] DevBalanceStats: BALANCE STATS: AxisReinforcements=--3 AlliesReinforcements=250"
)

func TestClassify_SingleRecognizers(t *testing.T) {
	tests := []struct {
		name string
		line string
		want Event
	}{
		{"player count", linePlayers, PlayerCount{At: 2000.5, Map: "TE-Hill400", Players: 64}},
		{"winning team", lineWinner, WinningTeam{At: 2100, Team: "Axis", TeamsSwapped: false}},
		{"winning team swapped", lineWinnerTrue, WinningTeam{At: 2100, Team: "Allies", TeamsSwapped: true}},
		{"time remaining", lineTime, TimeRemaining{At: 2100, Seconds: 120}},
		{"reinforcements", lineReinforce, Reinforcements{At: 2100, Axis: -3, Allies: 250}},
		{"active objective", lineObjective, ActiveObjective{At: 2100, Index: 1, Name: "Hill 400", Holder: "Allies"}},
		{"win condition", lineWinCond, WinCondition{At: 2100, Code: "AllObjectivesCaptured"}},
		{"match stop", lineMatchStop, MatchStop{At: 2101.75, AxisScore: 4, AlliesScore: 1}},
		{"unicode map name", lineUnicodeMap, PlayerCount{At: 10, Map: "TE-Hürtgenwald", Players: 12}},
		{"crlf line ending", lineCRLFStop, MatchStop{At: 50, AxisScore: 1, AlliesScore: 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Default.Classify(tt.line)
			if len(got) != 1 {
				t.Fatalf("Classify(%q) returned %d events, want 1: %#v", tt.line, len(got), got)
			}
			if !reflect.DeepEqual(got[0], tt.want) {
				t.Errorf("Classify(%q) = %#v, want %#v", tt.line, got[0], tt.want)
			}
		})
	}
}

func TestClassify_NoMatch(t *testing.T) {
	for _, line := range []string{"", lineUnmatched, lineBadOffset, lineDoubleMinus} {
		if got := Default.Classify(line); len(got) != 0 {
			t.Errorf("Classify(%q) = %#v, want no events", line, got)
		}
	}
}

func TestClassify_NonExclusive(t *testing.T) {
	got := Default.Classify(lineTwoMatches)
	if len(got) != 2 {
		t.Fatalf("Classify returned %d events, want 2: %#v", len(got), got)
	}
	kinds := []EventKind{got[0].Kind(), got[1].Kind()}
	want := []EventKind{KindTimeRemaining, KindActiveObjective}
	if !reflect.DeepEqual(kinds, want) {
		t.Errorf("kinds = %v, want %v", kinds, want)
	}

	stop := "[9.5] DevBalanceStats: BALANCE STATS: AxisReinforcements=0 AlliesReinforcements=7 AxisTeamScore=3 AlliesTeamScore=2"
	got = Default.Classify(stop)
	if len(got) != 2 {
		t.Fatalf("Classify returned %d events, want 2: %#v", len(got), got)
	}
	if got[0].Kind() != KindReinforcements || got[1].Kind() != KindMatchStop {
		t.Errorf("kinds = %v,%v, want Reinforcements,MatchStop", got[0].Kind(), got[1].Kind())
	}
}

func TestClassify_KindFilter(t *testing.T) {
	got := Default.Classify(lineTwoMatches, KindActiveObjective)
	if len(got) != 1 || got[0].Kind() != KindActiveObjective {
		t.Fatalf("Classify with filter = %#v, want one ActiveObjective", got)
	}

	if got := Default.Classify(lineTwoMatches, KindMatchStop); len(got) != 0 {
		t.Errorf("Classify with MatchStop filter = %#v, want none", got)
	}
}

func TestRecognize(t *testing.T) {
	ev, ok := Default.Recognize(KindMatchStop, lineMatchStop)
	if !ok {
		t.Fatal("Recognize(MatchStop) did not match")
	}
	if ev.Offset() != 2101.75 {
		t.Errorf("Offset() = %v, want 2101.75", ev.Offset())
	}

	if _, ok := Default.Recognize(KindPlayerCount, lineMatchStop); ok {
		t.Error("Recognize(PlayerCount) matched a MatchStop line")
	}
}

// A line matching the stop pattern always closes the session, whatever its
// scores look like.
func TestRecognize_MatchStopScores(t *testing.T) {
	tests := []struct {
		line   string
		axis   int
		allies int
	}{
		{lineMatchStop, 4, 1},
		{lineHugeScore, 99999999999999, 2},
		{"[50.0] DevBalanceStats: MatchStop AxisTeamScore=3000000000 AlliesTeamScore=2", 3000000000, 2},
		{"[50.0] DevBalanceStats: MatchStop AxisTeamScore=1.2.3 AlliesTeamScore=2", 0, 2},
		{"[50.0] DevBalanceStats: MatchStop AxisTeamScore=. AlliesTeamScore=..", 0, 0},
		{"[50.0] DevBalanceStats: MatchStop AxisTeamScore=" + strings.Repeat("9", 400) + " AlliesTeamScore=1", math.MaxInt, 1},
	}
	for _, tt := range tests {
		ev, ok := Default.Recognize(KindMatchStop, tt.line)
		if !ok {
			t.Errorf("Recognize(MatchStop, %q) did not match", tt.line)
			continue
		}
		stop := ev.(MatchStop)
		if stop.AxisScore != tt.axis || stop.AlliesScore != tt.allies {
			t.Errorf("%q: scores = %d/%d, want %d/%d", tt.line, stop.AxisScore, stop.AlliesScore, tt.axis, tt.allies)
		}
	}
}

func TestParseFlag(t *testing.T) {
	tests := []struct {
		input    string
		expected bool
	}{
		{"True", true}, {"true", true}, {"1", true}, {" TRUE ", true},
		{"False", false}, {"false", false}, {"0", false}, {"", false}, {"maybe", false},
	}
	// The literal's value decides, not whether anything was logged: "False"
	// reads as false on purpose.
	for _, tt := range tests {
		if got := ParseFlag(tt.input); got != tt.expected {
			t.Errorf("ParseFlag(%q) = %v, want %v", tt.input, got, tt.expected)
		}
	}
}

func TestEventKindString(t *testing.T) {
	if KindActiveObjective.String() != "ActiveObjective" {
		t.Errorf("String() = %q", KindActiveObjective.String())
	}
	if EventKind(0).String() != "Unknown" {
		t.Errorf("zero kind String() = %q, want Unknown", EventKind(0).String())
	}
}

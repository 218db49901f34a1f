package ingest

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	anchorLine    = "Log: Log file open, 01/01/22 00:00:00"
	playersLine   = "[10.00] DevBalanceStats: BALANCE STATS: TE-Carentan | Warfare | 50 players playing"
	playersLine2  = "[300.00] DevBalanceStats: BALANCE STATS: TE-Foy | Offensive | 70 players playing"
	winnerLine    = "[120.00] DevBalanceStats: BALANCE STATS: WinningTeam=Axis Teams Swapped= False"
	timeLine      = "[120.00] DevBalanceStats: BALANCE STATS: TimeRemaining=120"
	reinforceLine = "[120.00] DevBalanceStats: BALANCE STATS: AxisReinforcements=12 AlliesReinforcements=0"
	winCondLine   = "[120.00] DevBalanceStats: BALANCE STATS: Win Condition Reinforcements (tickets)"
	stopLine      = "[125.5] DevBalanceStats: MatchStop AxisTeamScore=3 AlliesTeamScore=2"
	stopLine2     = "[900.25] DevBalanceStats: MatchStop AxisTeamScore=1.9 AlliesTeamScore=4"
	noiseLine     = "[50.00] LogNet: Join succeeded: Player"
)

func objectiveLine(index int, name, holder string) string {
	return "[121.00] DevBalanceStats: BALANCE STATS: ActiveObjectives " +
		strconv.Itoa(index) + " = " + name + " Status=" + holder
}

func writeLog(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}

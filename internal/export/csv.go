// Package export writes and reads match records as CSV.
package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/tinytelemetry/mapstats/internal/model"
)

// Header is the CSV column order.
var Header = []string{
	"name",
	"players",
	"winning_team",
	"time_remaining",
	"teams_swapped",
	"axis_reinforcements",
	"allies_reinforcements",
	"win_condition",
	"axis_team_score",
	"allies_team_score",
	"active_objectives",
	"server_id",
	"match_datetime",
}

// ErrBadHeader reports a CSV file whose first row is not Header.
var ErrBadHeader = errors.New("export: unexpected csv header")

// WriteCSV writes a header row and one row per record.
func WriteCSV(w io.Writer, records []model.MatchRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("export: write header: %w", err)
	}
	for i := range records {
		row, err := toRow(&records[i])
		if err != nil {
			return err
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("export: write row %d: %w", i+1, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("export: flush: %w", err)
	}
	return nil
}

// WriteCSVFile writes records to path, creating parent directories.
func WriteCSVFile(path string, records []model.MatchRecord) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("export: create dir: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export: create %s: %w", path, err)
	}
	if err := WriteCSV(f, records); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("export: close %s: %w", path, err)
	}
	return nil
}

// ReadCSV parses rows written by WriteCSV.
func ReadCSV(r io.Reader) ([]model.MatchRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(Header)

	head, err := cr.Read()
	if err == io.EOF {
		return []model.MatchRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("export: read header: %w", err)
	}
	if len(head) > 0 {
		head[0] = strings.TrimPrefix(head[0], "\ufeff")
	}
	for i, col := range Header {
		if head[i] != col {
			return nil, fmt.Errorf("%w: column %d is %q, want %q", ErrBadHeader, i+1, head[i], col)
		}
	}

	records := make([]model.MatchRecord, 0)
	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("export: read row: %w", err)
		}
		rec, err := fromRow(row)
		if err != nil {
			return nil, fmt.Errorf("export: line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// ReadCSVFile parses the CSV file at path.
func ReadCSVFile(path string) ([]model.MatchRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("export: open %s: %w", path, err)
	}
	defer f.Close()
	return ReadCSV(f)
}

func toRow(r *model.MatchRecord) ([]string, error) {
	objectives := r.ActiveObjectives
	if objectives == nil {
		objectives = []model.Objective{}
	}
	objJSON, err := json.Marshal(objectives)
	if err != nil {
		return nil, fmt.Errorf("export: encode objectives for %s: %w", r.Name, err)
	}
	return []string{
		r.Name,
		strconv.Itoa(r.Players),
		r.WinningTeam,
		strconv.Itoa(r.TimeRemaining),
		strconv.FormatBool(r.TeamsSwapped),
		strconv.Itoa(r.AxisReinforcements),
		strconv.Itoa(r.AlliesReinforcements),
		r.WinCondition,
		strconv.Itoa(r.AxisTeamScore),
		strconv.Itoa(r.AlliesTeamScore),
		string(objJSON),
		r.ServerID,
		r.MatchDateTime.Format(time.RFC3339),
	}, nil
}

func fromRow(row []string) (model.MatchRecord, error) {
	var rec model.MatchRecord
	ints := []struct {
		col int
		dst *int
	}{
		{1, &rec.Players},
		{3, &rec.TimeRemaining},
		{5, &rec.AxisReinforcements},
		{6, &rec.AlliesReinforcements},
		{8, &rec.AxisTeamScore},
		{9, &rec.AlliesTeamScore},
	}
	for _, f := range ints {
		if row[f.col] == "" {
			continue
		}
		n, err := strconv.Atoi(row[f.col])
		if err != nil {
			return rec, fmt.Errorf("%s: %w", Header[f.col], err)
		}
		*f.dst = n
	}

	if row[4] != "" {
		swapped, err := strconv.ParseBool(row[4])
		if err != nil {
			return rec, fmt.Errorf("teams_swapped: %w", err)
		}
		rec.TeamsSwapped = swapped
	}

	rec.ActiveObjectives = []model.Objective{}
	if raw := strings.TrimSpace(row[10]); raw != "" {
		if err := json.Unmarshal([]byte(raw), &rec.ActiveObjectives); err != nil {
			return rec, fmt.Errorf("active_objectives: %w", err)
		}
	}

	at, err := time.Parse(time.RFC3339, row[12])
	if err != nil {
		return rec, fmt.Errorf("match_datetime: %w", err)
	}

	rec.Name = row[0]
	rec.WinningTeam = row[2]
	rec.WinCondition = row[7]
	rec.ServerID = row[11]
	rec.MatchDateTime = at
	return rec, nil
}

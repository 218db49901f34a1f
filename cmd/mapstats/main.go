package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
)

// Build variables - set by ldflags during build.
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
	goVersion = "unknown"
)

// GetVersionInfo returns the current version and commit information.
func GetVersionInfo() (string, string) {
	return version, commit
}

// flagKeys maps command-line flags to the config keys they override.
var flagKeys = map[string]string{
	"db":               "db-path",
	"workers":          "workers",
	"out":              "csv-out",
	"server-id":        "server-id",
	"report":           "report",
	"report-days":      "report-days",
	"player-threshold": "player-threshold",
	"map":              "report-map",
	"analyze":          "analyze",
	"webhook":          "webhook-url",
	"objective-order":  "objective-order",
	"timezone":         "anchor-timezone",
	"serve":            "serve",
	"strict":           "strict",
}

// cliArgs is the parsed command line.
type cliArgs struct {
	ConfigPath  string
	ShowVersion bool
	Patterns    []string
	Overrides   map[string]any
}

func parseArgs(args []string, output io.Writer) (cliArgs, error) {
	var cli cliArgs

	fs := flag.NewFlagSet("mapstats", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.Usage = func() {
		fmt.Fprintf(output, "Usage: mapstats [flags] <log-glob>...\n\n")
		fs.PrintDefaults()
	}

	fs.StringVar(&cli.ConfigPath, "config", "", "config file (default is $HOME/.config/mapstats/config.yml)")
	fs.BoolVar(&cli.ShowVersion, "version", false, "print version information")

	fs.String("db", "", "DuckDB database path; matches are only kept in memory when empty")
	fs.Int("workers", 0, "files scanned concurrently (default: number of CPUs)")
	fs.String("out", "", "write extracted matches to this CSV file")
	fs.String("server-id", "", "server identifier stored with every match")
	fs.Bool("report", false, "print a per-map win report")
	fs.Int("report-days", defaultReportDays, "report on the last `D` days (implies -report)")
	fs.Int("player-threshold", 0, "minimum players for a match to count in reports")
	fs.String("map", "", "restrict the report to one map (fuzzy matched)")
	fs.Bool("analyze", false, "report on every match in the -out CSV and write a summary file next to it")
	fs.String("webhook", "", "Discord webhook URL that receives the report")
	fs.String("objective-order", defaultObjectiveOrder, "active objective order: reversed or log")
	fs.String("timezone", defaultAnchorTimezone, "time zone of the log-open header")
	fs.Bool("serve", false, "serve the HTTP API after ingesting until interrupted")
	fs.Bool("strict", false, "exit non-zero when any file fails")

	if err := fs.Parse(args); err != nil {
		return cli, err
	}

	cli.Patterns = fs.Args()
	cli.Overrides = make(map[string]any)
	fs.Visit(func(f *flag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok {
			return
		}
		if g, ok := f.Value.(flag.Getter); ok {
			cli.Overrides[key] = g.Get()
		}
	})
	if _, ok := cli.Overrides["report-days"]; ok {
		cli.Overrides["report"] = true
	}
	return cli, nil
}

func main() {
	// MAPSTATS_* variables may live in a local .env file.
	_ = godotenv.Load()

	cli, err := parseArgs(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		os.Exit(2)
	}

	if cli.ShowVersion {
		fmt.Printf("mapstats - match statistics extractor\n")
		fmt.Printf("  Version:    %s\n", version)
		fmt.Printf("  Commit:     %s\n", commit)
		fmt.Printf("  Built:      %s\n", buildTime)
		fmt.Printf("  Go version: %s\n", goVersion)
		return
	}

	cfg, err := loadConfig(cli.ConfigPath, cli.Overrides)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if len(cli.Patterns) == 0 && !cfg.Serve {
		fmt.Fprintln(os.Stderr, "Error: no log files given")
		fmt.Fprintln(os.Stderr, "Usage: mapstats [flags] <log-glob>...")
		os.Exit(2)
	}

	code, err := run(cfg, cli.Patterns)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if code == 0 {
			code = 1
		}
	}
	os.Exit(code)
}

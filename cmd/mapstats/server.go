package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/sync/errgroup"

	"github.com/tinytelemetry/mapstats/internal/duckdb"
	"github.com/tinytelemetry/mapstats/internal/httpserver"
)

// serve exposes the store over HTTP until SIGINT or SIGTERM.
func serve(cfg appConfig, store *duckdb.Store) error {
	// Start retention cleaner for automatic match expiry
	retentionCleaner := duckdb.NewRetentionCleaner(store, duckdb.RetentionConfig{
		RetentionDays: cfg.RetentionDays,
	})
	if retentionCleaner != nil {
		defer retentionCleaner.Stop()
	}

	apiServer := httpserver.NewServer(cfg.APIAddr, store, httpserver.ServerConfig{
		ReportDays: cfg.ReportDays,
	})
	if err := apiServer.Start(); err != nil {
		return fmt.Errorf("failed to start API server: %w", err)
	}
	defer apiServer.Stop()

	// Set up context and signal handling before errgroup
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		<-sigCh
		fmt.Println("\nShutting down gracefully... (press Ctrl+C again to force)")
		cancel()

		// Shutdown deadline starts now, not at boot.
		deadline := time.NewTimer(10 * time.Second)
		defer deadline.Stop()

		select {
		case <-sigCh:
			fmt.Println("\nForce shutdown.")
		case <-deadline.C:
			fmt.Println("Shutdown timed out, forcing exit.")
		}
		os.Exit(1)
	}()

	printServeBanner(cfg, retentionCleaner != nil)

	g, gctx := errgroup.WithContext(ctx)

	// Wait for context cancellation (from signal handler) in the errgroup
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Printf("server: errgroup exited with error: %v", err)
	}
	return nil
}

var (
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	greenStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	cyanStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	yellowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	redStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	boldStyle   = lipgloss.NewStyle().Bold(true)
)

const separator = "    ─────────────────────────────────"

func printSummary(cfg appConfig, res runResult) {
	check := greenStyle.Render("●")
	dot := dimStyle.Render("●")
	warn := redStyle.Render("●")

	logo := cyanStyle.Bold(true).Render(`
    ╔╦╗╔═╗╔═╗╔═╗╔╦╗╔═╗╔╦╗╔═╗
    ║║║╠═╣╠═╝╚═╗ ║ ╠═╣ ║ ╚═╗
    ╩ ╩╩ ╩╩  ╚═╝ ╩ ╩ ╩ ╩ ╚═╝`)

	var lines []string
	lines = append(lines, "")
	lines = append(lines, logo)
	lines = append(lines, "    "+dimStyle.Render("v"+version+"  run "+res.RunID))
	lines = append(lines, "")
	lines = append(lines, dimStyle.Render(separator))
	lines = append(lines, "")

	// Ingest
	lines = append(lines, boldStyle.Render("    Ingest"))
	lines = append(lines, "")
	ok := res.Batch.Files - res.Batch.Failed()
	lines = append(lines, fmt.Sprintf("    %s  Files          %s", check, cyanStyle.Render(fmt.Sprintf("%d of %d", ok, res.Batch.Files))))
	lines = append(lines, fmt.Sprintf("    %s  Matches        %s", check, cyanStyle.Render(fmt.Sprint(len(res.Batch.Records)))))
	if res.Batch.Discarded > 0 {
		lines = append(lines, fmt.Sprintf("    %s  Unterminated   %s", dot, dimStyle.Render(fmt.Sprint(res.Batch.Discarded))))
	}
	lines = append(lines, fmt.Sprintf("    %s  Elapsed        %s", check, dimStyle.Render(res.Elapsed.Round(time.Millisecond).String())))
	for _, fe := range res.Batch.Errors {
		lines = append(lines, fmt.Sprintf("    %s  %s %s", warn, yellowStyle.Render(string(fe.Kind)), dimStyle.Render(shortenPath(fe.Path))))
	}
	lines = append(lines, "")

	// Output
	lines = append(lines, boldStyle.Render("    Output"))
	lines = append(lines, "")
	if res.Persisted {
		lines = append(lines, fmt.Sprintf("    %s  Storage        %s %s", check, dimStyle.Render(shortenPath(cfg.DBPath)), cyanStyle.Render(fmt.Sprintf("+%d new", res.Inserted))))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Storage        %s", dot, dimStyle.Render("disabled")))
	}
	if res.CSVPath != "" {
		lines = append(lines, fmt.Sprintf("    %s  CSV            %s", check, dimStyle.Render(shortenPath(res.CSVPath))))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  CSV            %s", dot, dimStyle.Render("disabled")))
	}
	if res.Snapshot != "" {
		lines = append(lines, fmt.Sprintf("    %s  Snapshot       %s", check, dimStyle.Render(shortenPath(res.Snapshot))))
	}

	lines = append(lines, "")
	if cfg.ConfigPath != "" {
		lines = append(lines, fmt.Sprintf("    %s  Config File    %s", check, dimStyle.Render(shortenPath(cfg.ConfigPath))))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Config File    %s", dot, dimStyle.Render("default (no file)")))
	}
	lines = append(lines, "")

	fmt.Println(strings.Join(lines, "\n"))
}

func printServeBanner(cfg appConfig, retention bool) {
	check := greenStyle.Render("●")
	dot := dimStyle.Render("●")

	var lines []string
	lines = append(lines, dimStyle.Render(separator))
	lines = append(lines, "")
	lines = append(lines, boldStyle.Render("    Serving"))
	lines = append(lines, "")
	lines = append(lines, fmt.Sprintf("    %s  HTTP API       %s", check, cyanStyle.Render(cfg.APIAddr)))
	lines = append(lines, fmt.Sprintf("    %s  Storage        %s", check, dimStyle.Render(shortenPath(cfg.DBPath))))
	if retention {
		lines = append(lines, fmt.Sprintf("    %s  Retention      %s", check, dimStyle.Render(fmt.Sprintf("%d days", cfg.RetentionDays))))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Retention      %s", dot, dimStyle.Render("disabled")))
	}
	lines = append(lines, "")
	lines = append(lines, "    "+dimStyle.Render("Press ")+yellowStyle.Render("Ctrl+C")+dimStyle.Render(" to stop"))
	lines = append(lines, "")

	fmt.Println(strings.Join(lines, "\n"))
}

func shortenPath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return path
}

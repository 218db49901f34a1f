package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/tinytelemetry/mapstats/internal/duckdb"
	"github.com/tinytelemetry/mapstats/internal/ingest"
	"github.com/tinytelemetry/mapstats/internal/model"
)

const (
	defaultBindHost            = "127.0.0.1"
	defaultAPIPort             = 3000
	defaultQueryTimeout        = model.DefaultQueryTimeout
	defaultMaxLineSize         = model.DefaultMaxLineSize
	defaultReportDays          = model.DefaultReportDays
	defaultObjectiveOrder      = "reversed"
	defaultAnchorTimezone      = "UTC"
	defaultInsertBatchSize     = duckdb.DefaultInsertBatchSize
	defaultInsertFlushInterval = 250 * time.Millisecond
	defaultInsertFlushQueue    = duckdb.DefaultFlushQueueSize
	defaultRetentionDays       = 0 // days, 0 = disabled
	defaultSnapshotKeep        = 5
)

// appConfig is internal runtime configuration.
// It is package-private to keep defaults and shape local to the CLI entrypoint.
type appConfig struct {
	DBPath              string        `mapstructure:"db-path"`
	Workers             int           `mapstructure:"workers"`
	MaxLineSize         int           `mapstructure:"max-line-size"`
	ObjectiveOrder      string        `mapstructure:"objective-order"`
	AnchorTimezone      string        `mapstructure:"anchor-timezone"`
	ServerID            string        `mapstructure:"server-id"`
	PlayerThreshold     int           `mapstructure:"player-threshold"`
	Report              bool          `mapstructure:"report"`
	ReportDays          int           `mapstructure:"report-days"`
	ReportMap           string        `mapstructure:"report-map"`
	Analyze             bool          `mapstructure:"analyze"`
	CSVOut              string        `mapstructure:"csv-out"`
	WebhookURL          string        `mapstructure:"webhook-url"`
	InsertBatchSize     int           `mapstructure:"insert-batch-size"`
	InsertFlushInterval time.Duration `mapstructure:"insert-flush-interval"`
	InsertFlushQueue    int           `mapstructure:"insert-flush-queue-size"`
	QueryTimeout        time.Duration `mapstructure:"query-timeout"`
	Serve               bool          `mapstructure:"serve"`
	APIPort             int           `mapstructure:"api-port"`
	APIAddr             string        `mapstructure:"api-addr"`
	RetentionDays       int           `mapstructure:"retention-days"`
	SnapshotDir         string        `mapstructure:"snapshot-dir"`
	SnapshotKeep        int           `mapstructure:"snapshot-keep"`
	LogFile             string        `mapstructure:"log-file"`
	Strict              bool          `mapstructure:"strict"`
	ConfigPath          string        `mapstructure:"-"` // not from config file

	order    ingest.ObjectiveOrder
	location *time.Location
}

func loadConfig(configPath string, overrides map[string]any) (appConfig, error) {
	var cfg appConfig

	home, err := os.UserHomeDir()
	if err != nil {
		return cfg, fmt.Errorf("finding home directory: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("MAPSTATS")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	v.SetDefault("db-path", "")
	v.SetDefault("workers", 0)
	v.SetDefault("max-line-size", defaultMaxLineSize)
	v.SetDefault("objective-order", defaultObjectiveOrder)
	v.SetDefault("anchor-timezone", defaultAnchorTimezone)
	v.SetDefault("server-id", "")
	v.SetDefault("player-threshold", 0)
	v.SetDefault("report", false)
	v.SetDefault("report-days", defaultReportDays)
	v.SetDefault("report-map", "")
	v.SetDefault("analyze", false)
	v.SetDefault("csv-out", "")
	v.SetDefault("webhook-url", "")
	v.SetDefault("insert-batch-size", defaultInsertBatchSize)
	v.SetDefault("insert-flush-interval", defaultInsertFlushInterval)
	v.SetDefault("insert-flush-queue-size", defaultInsertFlushQueue)
	v.SetDefault("query-timeout", defaultQueryTimeout)
	v.SetDefault("serve", false)
	v.SetDefault("api-port", defaultAPIPort)
	v.SetDefault("api-addr", "")
	v.SetDefault("retention-days", defaultRetentionDays)
	v.SetDefault("snapshot-dir", "")
	v.SetDefault("snapshot-keep", defaultSnapshotKeep)
	v.SetDefault("log-file", "")
	v.SetDefault("strict", false)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		defaultConfigPath := filepath.Join(home, ".config", "mapstats", "config.yml")
		v.SetConfigFile(defaultConfigPath)
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFound) && !os.IsNotExist(err) {
			return cfg, err
		}
	}

	// Explicitly set flags win over env and file.
	for key, val := range overrides {
		v.Set(key, val)
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	cfg.ConfigPath = v.ConfigFileUsed()
	if _, err := os.Stat(cfg.ConfigPath); err != nil {
		cfg.ConfigPath = ""
	}

	if cfg.APIPort <= 0 || cfg.APIPort > 65535 {
		return cfg, fmt.Errorf("invalid api-port: %d", cfg.APIPort)
	}
	if cfg.Workers < 0 {
		return cfg, fmt.Errorf("invalid workers: %d", cfg.Workers)
	}
	if cfg.MaxLineSize <= 0 {
		return cfg, fmt.Errorf("invalid max-line-size: %d", cfg.MaxLineSize)
	}

	if cfg.order, err = ingest.ParseObjectiveOrder(cfg.ObjectiveOrder); err != nil {
		return cfg, err
	}
	if cfg.location, err = time.LoadLocation(cfg.AnchorTimezone); err != nil {
		return cfg, fmt.Errorf("invalid anchor-timezone %q: %w", cfg.AnchorTimezone, err)
	}

	if cfg.Serve && cfg.DBPath == "" {
		return cfg, errors.New("serve requires db-path")
	}
	if cfg.Analyze && cfg.CSVOut == "" {
		return cfg, errors.New("analyze requires csv-out")
	}

	// Expand ~ in paths
	cfg.DBPath = expandHome(home, cfg.DBPath)
	cfg.CSVOut = expandHome(home, cfg.CSVOut)
	cfg.SnapshotDir = expandHome(home, cfg.SnapshotDir)
	cfg.LogFile = expandHome(home, cfg.LogFile)

	if cfg.APIAddr == "" {
		cfg.APIAddr = net.JoinHostPort(defaultBindHost, strconv.Itoa(cfg.APIPort))
	}

	return cfg, nil
}

func expandHome(home, path string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}

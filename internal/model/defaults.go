package model

import "time"

// Shared defaults used by the CLI and the library packages.
const (
	DefaultMaxLineSize  = 1024 * 1024 // 1MB
	DefaultReportDays   = 7
	DefaultQueryTimeout = 30 * time.Second
)

package duckdb

import (
	"log"
	"sync"
	"time"
)

// RetentionConfig holds configuration for the retention cleaner.
type RetentionConfig struct {
	RetentionDays int
	Interval      time.Duration // between sweeps, 1h when zero
}

// RetentionCleaner periodically deletes matches played before the retention window.
type RetentionCleaner struct {
	store         *Store
	retentionDays int
	interval      time.Duration
	now           func() time.Time
	done          chan struct{}
	wg            sync.WaitGroup
	stopOnce      sync.Once
}

// NewRetentionCleaner creates a retention cleaner and runs one sweep
// immediately. It returns nil when retention is 0 (disabled).
func NewRetentionCleaner(store *Store, conf ...RetentionConfig) *RetentionCleaner {
	var c RetentionConfig
	if len(conf) > 0 {
		c = conf[0]
	}
	if c.RetentionDays <= 0 || store == nil {
		return nil
	}
	if c.Interval <= 0 {
		c.Interval = time.Hour
	}

	rc := &RetentionCleaner{
		store:         store,
		retentionDays: c.RetentionDays,
		interval:      c.Interval,
		now:           time.Now,
		done:          make(chan struct{}),
	}

	// Startup sweep catches up after downtime.
	rc.cleanup()

	rc.wg.Add(1)
	go rc.tickLoop()

	return rc
}

func (rc *RetentionCleaner) tickLoop() {
	defer rc.wg.Done()
	ticker := time.NewTicker(rc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rc.cleanup()
		case <-rc.done:
			return
		}
	}
}

func (rc *RetentionCleaner) cleanup() int64 {
	cutoff := rc.now().AddDate(0, 0, -rc.retentionDays)

	rows, err := rc.store.DeleteBefore(cutoff)
	if err != nil {
		log.Printf("duckdb: retention cleanup error: %v", err)
		return 0
	}
	if rows > 0 {
		log.Printf("duckdb: retention cleanup deleted %d matches (older than %d days)", rows, rc.retentionDays)
	}
	return rows
}

// Stop signals the cleaner to stop and waits for it to finish.
func (rc *RetentionCleaner) Stop() {
	rc.stopOnce.Do(func() {
		close(rc.done)
		rc.wg.Wait()
	})
}

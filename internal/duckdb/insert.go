package duckdb

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"

	"github.com/tinytelemetry/mapstats/internal/model"
)

// DefaultFlushQueueSize is the number of batches that can be queued for async flushing.
const DefaultFlushQueueSize = 64

// DefaultInsertBatchSize is the number of records collected before a flush.
const DefaultInsertBatchSize = 500

// InsertBuffer batches match records and flushes them to DuckDB asynchronously.
// Add never blocks on DuckDB writes unless the flush queue is full.
type InsertBuffer struct {
	writer        model.MatchWriter
	mu            sync.Mutex
	pending       []*model.MatchRecord
	flushChan     chan []*model.MatchRecord
	maxBatch      int
	flushInterval time.Duration
	done          chan struct{}
	wg            sync.WaitGroup
	tickWg        sync.WaitGroup
	stopOnce      sync.Once

	// sendMu guards flushChan against sends after close.
	sendMu sync.RWMutex
	closed bool

	added    atomic.Int64
	inserted atomic.Int64
	failed   atomic.Int64

	backpressureCount atomic.Int64
	lastBPLog         atomic.Int64 // unix seconds of last backpressure log
}

// InsertBufferConfig holds tunable parameters for the insert buffer.
type InsertBufferConfig struct {
	BatchSize      int
	FlushInterval  time.Duration
	FlushQueueSize int
}

// NewInsertBuffer creates an insert buffer that flushes to writer.
func NewInsertBuffer(writer model.MatchWriter, conf ...InsertBufferConfig) *InsertBuffer {
	batchSize := DefaultInsertBatchSize
	flushInterval := 250 * time.Millisecond
	flushQueueSize := DefaultFlushQueueSize
	if len(conf) > 0 {
		if conf[0].BatchSize > 0 {
			batchSize = conf[0].BatchSize
		}
		if conf[0].FlushInterval > 0 {
			flushInterval = conf[0].FlushInterval
		}
		if conf[0].FlushQueueSize > 0 {
			flushQueueSize = conf[0].FlushQueueSize
		}
	}

	b := &InsertBuffer{
		writer:        writer,
		pending:       make([]*model.MatchRecord, 0, batchSize),
		flushChan:     make(chan []*model.MatchRecord, flushQueueSize),
		maxBatch:      batchSize,
		flushInterval: flushInterval,
		done:          make(chan struct{}),
	}

	b.wg.Add(1)
	go b.flushWorker()

	b.wg.Add(1)
	b.tickWg.Add(1)
	go b.tickLoop()

	return b
}

func (b *InsertBuffer) tickLoop() {
	defer b.wg.Done()
	defer b.tickWg.Done()
	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.drainPending()
		case <-b.done:
			b.drainPending()
			return
		}
	}
}

// logBackpressure emits a throttled warning (at most once per 10 seconds) when
// the flush channel is full and an inline flush is triggered.
func (b *InsertBuffer) logBackpressure() {
	count := b.backpressureCount.Add(1)
	now := time.Now().Unix()
	last := b.lastBPLog.Load()
	if now-last >= 10 && b.lastBPLog.CompareAndSwap(last, now) {
		log.Printf("duckdb: backpressure, %d inline flushes (flush queue full)", count)
	}
}

func (b *InsertBuffer) drainPending() {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.pending
	b.pending = make([]*model.MatchRecord, 0, b.maxBatch)
	b.mu.Unlock()

	b.enqueue(batch)
}

func (b *InsertBuffer) enqueue(batch []*model.MatchRecord) {
	b.sendMu.RLock()
	defer b.sendMu.RUnlock()
	if b.closed {
		b.flushBatch(batch)
		return
	}
	select {
	case b.flushChan <- batch:
	default:
		b.logBackpressure()
		b.flushBatch(batch)
	}
}

func (b *InsertBuffer) flushWorker() {
	defer b.wg.Done()
	for batch := range b.flushChan {
		b.flushBatch(batch)
	}
}

// Add queues a record for batch insertion. It is safe for concurrent use.
// Records added after Stop are dropped.
func (b *InsertBuffer) Add(record *model.MatchRecord) {
	if record == nil {
		return
	}
	select {
	case <-b.done:
		log.Printf("duckdb: insert buffer stopped, dropping match %s", record.Name)
		return
	default:
	}

	b.added.Add(1)

	b.mu.Lock()
	b.pending = append(b.pending, record)
	var batch []*model.MatchRecord
	if len(b.pending) >= b.maxBatch {
		batch = b.pending
		b.pending = make([]*model.MatchRecord, 0, b.maxBatch)
	}
	b.mu.Unlock()

	if batch != nil {
		b.enqueue(batch)
	}
}

// Stop flushes remaining records and waits for all writes to complete.
func (b *InsertBuffer) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		// tickLoop performs the final drain; flushChan closes only after it.
		b.tickWg.Wait()
		b.sendMu.Lock()
		b.closed = true
		close(b.flushChan)
		b.sendMu.Unlock()
		b.wg.Wait()

		// Records that raced with shutdown are written inline.
		b.mu.Lock()
		rest := b.pending
		b.pending = nil
		b.mu.Unlock()
		b.flushBatch(rest)
	})
}

// Added returns how many records were accepted by Add.
func (b *InsertBuffer) Added() int64 { return b.added.Load() }

// Inserted returns how many records became new rows.
func (b *InsertBuffer) Inserted() int64 { return b.inserted.Load() }

// Failed returns how many records could not be written.
func (b *InsertBuffer) Failed() int64 { return b.failed.Load() }

func (b *InsertBuffer) flushBatch(batch []*model.MatchRecord) {
	if len(batch) == 0 {
		return
	}
	n, err := b.writer.InsertMatchBatch(batch)
	b.inserted.Add(int64(n))
	if err != nil {
		b.failed.Add(int64(len(batch) - n))
		log.Printf("duckdb: flush error: %v", err)
	}
}

// InsertMatchBatch writes records with insert-or-ignore semantics on the
// natural key (name, match_datetime, server_id) and returns how many became
// new rows. The batch runs in one transaction; if that fails it is retried
// record by record to salvage what it can.
func (s *Store) InsertMatchBatch(records []*model.MatchRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.QueryTimeout)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	inserted, err := s.insertBatchTx(ctx, records)
	if err == nil {
		return inserted, nil
	}
	log.Printf("duckdb: batch of %d failed, retrying per record: %v", len(records), err)

	inserted = 0
	var failed int
	var lastErr error
	for _, r := range records {
		n, rerr := s.insertBatchTx(ctx, []*model.MatchRecord{r})
		if rerr != nil {
			failed++
			lastErr = rerr
			log.Printf("duckdb: dropping match (map=%s at=%s): %v", r.Name, r.MatchDateTime.Format(time.RFC3339), rerr)
			continue
		}
		inserted += n
	}
	if failed > 0 {
		log.Printf("duckdb: batch partially failed, %d/%d records dropped", failed, len(records))
	}
	if failed == len(records) {
		return 0, fmt.Errorf("duckdb: insert matches: %w", lastErr)
	}
	return inserted, nil
}

func (s *Store) insertBatchTx(ctx context.Context, records []*model.MatchRecord) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	matchStmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO matches (
		name, players, winning_team, time_remaining, teams_swapped,
		axis_reinforcements, allies_reinforcements, win_condition,
		axis_team_score, allies_team_score, active_objectives,
		match_datetime, server_id
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer matchStmt.Close()

	objStmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO match_objectives (
		match_datetime, server_id, map_name, obj_name, position, obj_index, holder
	) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer objStmt.Close()

	inserted := 0
	for _, r := range records {
		objectives, err := encodeObjectives(r.ActiveObjectives)
		if err != nil {
			return 0, fmt.Errorf("encode objectives: %w", err)
		}

		at := r.MatchDateTime.UTC()
		res, err := matchStmt.ExecContext(ctx,
			r.Name, r.Players, r.WinningTeam, r.TimeRemaining, r.TeamsSwapped,
			r.AxisReinforcements, r.AlliesReinforcements, r.WinCondition,
			r.AxisTeamScore, r.AlliesTeamScore, objectives,
			at, r.ServerID,
		)
		if err != nil {
			return 0, fmt.Errorf("match insert: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			inserted += int(n)
		}

		for pos, o := range r.ActiveObjectives {
			if _, err := objStmt.ExecContext(ctx, at, r.ServerID, r.Name, o.Name, pos, o.Index, o.Holder); err != nil {
				return 0, fmt.Errorf("objective insert: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	committed = true
	return inserted, nil
}

func encodeObjectives(objectives []model.Objective) (string, error) {
	if len(objectives) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(objectives)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeObjectives(raw string) ([]model.Objective, error) {
	objectives := make([]model.Objective, 0)
	if raw == "" || raw == "[]" {
		return objectives, nil
	}
	if err := json.Unmarshal([]byte(raw), &objectives); err != nil {
		return nil, err
	}
	return objectives, nil
}

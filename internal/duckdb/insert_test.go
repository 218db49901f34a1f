package duckdb

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tinytelemetry/mapstats/internal/model"
)

func storedCount(t *testing.T, store *Store) int64 {
	t.Helper()
	count, err := store.MatchCount(model.MatchFilter{})
	if err != nil {
		t.Fatalf("MatchCount: %v", err)
	}
	return count
}

func TestInsertBuffer_AddAndStop(t *testing.T) {
	store := newTestStore(t)
	buf := NewInsertBuffer(store)

	for i := 0; i < 10; i++ {
		buf.Add(testMatch("TE-Utah", baseTime.Add(time.Duration(i)*time.Minute), "Axis"))
	}

	// Stop flushes everything still pending.
	buf.Stop()

	if count := storedCount(t, store); count != 10 {
		t.Errorf("after Stop, MatchCount = %d, want 10", count)
	}
	if buf.Added() != 10 || buf.Inserted() != 10 {
		t.Errorf("Added=%d Inserted=%d, want 10/10", buf.Added(), buf.Inserted())
	}
}

func TestInsertBuffer_BatchThreshold(t *testing.T) {
	store := newTestStore(t)
	buf := NewInsertBuffer(store, InsertBufferConfig{BatchSize: 50, FlushInterval: time.Hour})

	for i := 0; i < 120; i++ {
		buf.Add(testMatch("TE-Foy", baseTime.Add(time.Duration(i)*time.Second), "Allies"))
	}
	buf.Stop()

	if count := storedCount(t, store); count != 120 {
		t.Errorf("after batch insert, MatchCount = %d, want 120", count)
	}
}

func TestInsertBuffer_Duplicates(t *testing.T) {
	store := newTestStore(t)
	buf := NewInsertBuffer(store)

	for i := 0; i < 3; i++ {
		buf.Add(testMatch("TE-Foy", baseTime, "Allies"))
	}
	buf.Stop()

	if count := storedCount(t, store); count != 1 {
		t.Errorf("MatchCount = %d, want 1", count)
	}
	if buf.Inserted() != 1 || buf.Failed() != 0 {
		t.Errorf("Inserted=%d Failed=%d, want 1/0", buf.Inserted(), buf.Failed())
	}
}

func TestInsertBuffer_ConcurrentAdd(t *testing.T) {
	store := newTestStore(t)
	buf := NewInsertBuffer(store, InsertBufferConfig{BatchSize: 16})

	var wg sync.WaitGroup
	numGoroutines := 10
	recordsPerGoroutine := 50

	for g := 0; g < numGoroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < recordsPerGoroutine; i++ {
				at := baseTime.Add(time.Duration(g*recordsPerGoroutine+i) * time.Second)
				buf.Add(testMatch("TE-Kursk", at, "Axis"))
			}
		}(g)
	}

	wg.Wait()
	buf.Stop()

	expected := int64(numGoroutines * recordsPerGoroutine)
	if count := storedCount(t, store); count != expected {
		t.Errorf("concurrent insert MatchCount = %d, want %d", count, expected)
	}
}

func TestInsertBuffer_StopIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	buf := NewInsertBuffer(store)

	buf.Add(testMatch("TE-Utah", baseTime, "Axis"))
	buf.Stop()
	buf.Stop()

	if count := storedCount(t, store); count != 1 {
		t.Errorf("after double Stop, MatchCount = %d, want 1", count)
	}

	buf.Add(testMatch("TE-Utah", baseTime.Add(time.Hour), "Axis"))
	if buf.Added() != 1 {
		t.Errorf("Add after Stop was accepted")
	}
}

type failingWriter struct {
	mu    sync.Mutex
	calls int
}

func (w *failingWriter) InsertMatchBatch(records []*model.MatchRecord) (int, error) {
	w.mu.Lock()
	w.calls++
	w.mu.Unlock()
	return 0, errors.New("disk full")
}

func TestInsertBuffer_WriterFailure(t *testing.T) {
	w := &failingWriter{}
	buf := NewInsertBuffer(w, InsertBufferConfig{BatchSize: 2})

	for i := 0; i < 5; i++ {
		buf.Add(testMatch("TE-Utah", baseTime.Add(time.Duration(i)*time.Minute), "Axis"))
	}
	buf.Stop()

	if buf.Failed() != 5 || buf.Inserted() != 0 {
		t.Errorf("Failed=%d Inserted=%d, want 5/0", buf.Failed(), buf.Inserted())
	}
	if w.calls != 3 {
		t.Errorf("writer calls = %d, want 3", w.calls)
	}
}

package duckdb

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// ErrInMemoryStore indicates the store uses an in-memory DB and cannot be snapshotted.
var ErrInMemoryStore = errors.New("duckdb: in-memory store cannot be snapshotted")

const snapshotPattern = "mapstats-*.duckdb"

// DBPath returns the configured DuckDB path. Empty means in-memory DB.
func (s *Store) DBPath() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dbPath
}

// Snapshot checkpoints the database and copies it into dir as
// mapstats-<utc time>.duckdb, then keeps only the newest keep snapshots
// (all of them when keep <= 0). It returns the new snapshot path.
func (s *Store) Snapshot(dir string, keep int) (string, error) {
	name := fmt.Sprintf("mapstats-%s.duckdb", time.Now().UTC().Format("20060102-150405.000"))
	dst := filepath.Join(dir, name)
	if err := s.SnapshotTo(dst); err != nil {
		return "", err
	}
	if err := pruneSnapshots(dir, keep); err != nil {
		log.Printf("duckdb: prune snapshots in %s: %v", dir, err)
	}
	return dst, nil
}

// SnapshotTo copies the on-disk database file to dstPath. CHECKPOINT runs
// under the write lock; the copy itself runs outside it.
func (s *Store) SnapshotTo(dstPath string) error {
	if err := os.MkdirAll(filepath.Dir(dstPath), 0755); err != nil {
		return fmt.Errorf("duckdb: create snapshot dir: %w", err)
	}

	s.mu.Lock()
	dbPath := s.dbPath
	if dbPath == "" {
		s.mu.Unlock()
		return ErrInMemoryStore
	}
	if _, err := s.db.Exec("CHECKPOINT"); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("duckdb: checkpoint: %w", err)
	}
	s.mu.Unlock()

	if err := copyFile(dbPath, dstPath); err != nil {
		return fmt.Errorf("duckdb: copy database file: %w", err)
	}
	return nil
}

func pruneSnapshots(dir string, keep int) error {
	if keep <= 0 {
		return nil
	}
	matches, err := filepath.Glob(filepath.Join(dir, snapshotPattern))
	if err != nil {
		return err
	}
	if len(matches) <= keep {
		return nil
	}

	// The embedded timestamp sorts lexically in time order.
	sort.Sort(sort.Reverse(sort.StringSlice(matches)))
	for _, old := range matches[keep:] {
		if err := os.Remove(old); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

func copyFile(srcPath, dstPath string) (err error) {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	tmp := dstPath + ".tmp"
	dst, err := os.Create(tmp)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			dst.Close()
			_ = os.Remove(tmp)
		}
	}()

	if _, err = io.Copy(dst, src); err != nil {
		return err
	}
	if err = dst.Sync(); err != nil {
		return err
	}
	if err = dst.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, dstPath)
}

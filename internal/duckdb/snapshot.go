package duckdb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrInMemoryStore indicates the store uses an in-memory DB and cannot be snapshotted.
var ErrInMemoryStore = errors.New("duckdb: in-memory store cannot be snapshotted")

// DBPath returns the configured DuckDB path. Empty means in-memory DB.
func (s *Store) DBPath() string {
	return s.dbPath
}

// Snapshot checkpoints the database and streams the database file to w.
// The checkpoint holds the write lock so no parse run is half-committed in
// the copy; the copy itself only holds the read lock.
func (s *Store) Snapshot(ctx context.Context, w io.Writer) (int64, error) {
	if s.dbPath == "" {
		return 0, ErrInMemoryStore
	}

	s.mu.Lock()
	_, err := s.db.ExecContext(ctx, "CHECKPOINT")
	s.mu.Unlock()
	if err != nil {
		return 0, fmt.Errorf("checkpoint: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	f, err := os.Open(s.dbPath)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	n, err := io.Copy(w, &ctxReader{ctx: ctx, r: f})
	if err != nil {
		return n, fmt.Errorf("copy database file: %w", err)
	}
	return n, nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

package duckdb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrInMemoryStore is returned when snapshotting a case opened in memory.
var ErrInMemoryStore = errors.New("duckdb: in-memory case cannot be snapshotted")

// DBPath returns the case database path; empty for an in-memory case.
func (s *Store) DBPath() string {
	return s.dbPath
}

// SnapshotTo checkpoints the case database and copies the file to dstPath.
// Writers are held off only for the checkpoint, not for the copy.
func (s *Store) SnapshotTo(ctx context.Context, dstPath string) error {
	if s.dbPath == "" {
		return ErrInMemoryStore
	}
	if err := os.MkdirAll(filepath.Dir(dstPath), 0755); err != nil {
		return fmt.Errorf("duckdb: create snapshot dir: %w", err)
	}

	s.mu.Lock()
	_, err := s.db.ExecContext(ctx, "CHECKPOINT")
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("duckdb: checkpoint: %w", err)
	}

	if err := copyFileAtomic(ctx, s.dbPath, dstPath); err != nil {
		return fmt.Errorf("duckdb: copy case file: %w", err)
	}
	return nil
}

// copyFileAtomic writes through a temp file renamed into place, so a
// partially copied snapshot never carries the final name.
func copyFileAtomic(ctx context.Context, srcPath, dstPath string) (err error) {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dstPath), filepath.Base(dstPath)+".*.tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, err = io.Copy(tmp, ctxReader{ctx: ctx, r: src}); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dstPath)
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

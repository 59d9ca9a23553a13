// Package snapshot keeps rolling point-in-time copies of a case database so
// a review session can be rolled back to an earlier state of the evidence.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"
)

const (
	defaultInterval = time.Hour
	defaultKeep     = 12

	filePrefix = "case-"
	fileSuffix = ".duckdb"
	stampFmt   = "20060102-150405.000000000"
)

// ErrDisabled is returned by RunOnce on a nil Manager.
var ErrDisabled = errors.New("snapshot: disabled")

// Config controls periodic case snapshots.
type Config struct {
	Enabled  bool
	Interval time.Duration
	Dir      string
	Keep     int
}

// Source is the case store being copied.
type Source interface {
	DBPath() string
	SnapshotTo(ctx context.Context, dstPath string) error
}

// Manager takes a snapshot on start, then one per interval, keeping the
// newest Keep copies.
type Manager struct {
	src Source
	cfg Config
	now func() time.Time

	mu   sync.Mutex // serializes RunOnce
	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup
}

// NewManager validates cfg and starts the snapshot loop. It returns a nil
// Manager when snapshots are disabled.
func NewManager(src Source, cfg Config) (*Manager, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if src == nil {
		return nil, fmt.Errorf("snapshot: nil source")
	}
	if strings.TrimSpace(src.DBPath()) == "" {
		return nil, fmt.Errorf("snapshot: case database is in memory")
	}
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, fmt.Errorf("snapshot: dir is required when snapshots are enabled")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.Keep <= 0 {
		cfg.Keep = defaultKeep
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("snapshot: create dir: %w", err)
	}

	m := newManager(src, cfg)
	if _, err := m.RunOnce(m.ctx); err != nil {
		log.Printf("snapshot: startup snapshot failed: %v", err)
	}
	m.wg.Add(1)
	go m.loop()
	return m, nil
}

func newManager(src Source, cfg Config) *Manager {
	ctx, stop := context.WithCancel(context.Background())
	return &Manager{src: src, cfg: cfg, now: time.Now, ctx: ctx, stop: stop}
}

func (m *Manager) loop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := m.RunOnce(m.ctx); err != nil && m.ctx.Err() == nil {
				log.Printf("snapshot: periodic snapshot failed: %v", err)
			}
		case <-m.ctx.Done():
			return
		}
	}
}

// RunOnce writes one snapshot, prunes old ones and returns the new path.
func (m *Manager) RunOnce(ctx context.Context) (string, error) {
	if m == nil {
		return "", ErrDisabled
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	path := filepath.Join(m.cfg.Dir, filePrefix+m.now().UTC().Format(stampFmt)+fileSuffix)
	if err := m.src.SnapshotTo(ctx, path); err != nil {
		return "", fmt.Errorf("snapshot: %w", err)
	}
	log.Printf("snapshot: wrote %s", path)

	if err := prune(m.cfg.Dir, m.cfg.Keep); err != nil {
		return path, fmt.Errorf("snapshot: prune: %w", err)
	}
	return path, nil
}

// List returns the snapshot paths, newest first.
func (m *Manager) List() ([]string, error) {
	if m == nil {
		return nil, ErrDisabled
	}
	return list(m.cfg.Dir)
}

// Stop ends the loop and cancels a snapshot in progress.
func (m *Manager) Stop() {
	if m == nil {
		return
	}
	m.stop()
	m.wg.Wait()
}

func list(dir string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(dir, filePrefix+"*"+fileSuffix))
	if err != nil {
		return nil, err
	}
	// The stamp sorts lexically in time order.
	slices.Sort(paths)
	slices.Reverse(paths)
	return paths, nil
}

func prune(dir string, keep int) error {
	paths, err := list(dir)
	if err != nil {
		return err
	}
	if len(paths) <= keep {
		return nil
	}
	for _, p := range paths[keep:] {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

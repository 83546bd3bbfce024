// Package backup keeps rotating, xz-compressed snapshots of the trace
// database.
package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ulikunitz/xz"
	"go.uber.org/zap"
)

const (
	defaultInterval = 6 * time.Hour
	defaultKeepLast = 24

	filePrefix = "rutrace-"
	fileSuffix = ".duckdb.xz"
)

// Snapshotter streams a consistent copy of the database.
type Snapshotter interface {
	DBPath() string
	Snapshot(ctx context.Context, w io.Writer) (int64, error)
}

// Config controls periodic snapshots.
type Config struct {
	Enabled  bool
	Interval time.Duration
	Dir      string
	KeepLast int
	Logger   *zap.Logger
}

// Manager writes a snapshot on start and then once per interval, keeping
// the newest KeepLast files.
type Manager struct {
	store Snapshotter
	cfg   Config
	log   *zap.Logger
	now   func() time.Time

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewManager validates cfg and starts the snapshot loop. It returns nil
// when snapshots are disabled.
func NewManager(store Snapshotter, cfg Config) (*Manager, error) {
	m, err := newManager(store, cfg)
	if m == nil || err != nil {
		return nil, err
	}

	if _, err := m.RunOnce(context.Background()); err != nil {
		m.log.Warn("startup snapshot failed", zap.Error(err))
	}
	m.wg.Add(1)
	go m.loop()
	return m, nil
}

func newManager(store Snapshotter, cfg Config) (*Manager, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if store == nil {
		return nil, errors.New("backup: nil snapshotter")
	}
	if strings.TrimSpace(store.DBPath()) == "" {
		return nil, errors.New("backup: db-path is empty (in-memory store)")
	}
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, errors.New("backup: dir is required when backups are enabled")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.KeepLast <= 0 {
		cfg.KeepLast = defaultKeepLast
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("backup: create dir: %w", err)
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		store: store,
		cfg:   cfg,
		log:   log.Named("backup"),
		now:   time.Now,
		done:  make(chan struct{}),
	}, nil
}

func (m *Manager) loop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := m.RunOnce(context.Background()); err != nil {
				m.log.Warn("periodic snapshot failed", zap.Error(err))
			}
		case <-m.done:
			return
		}
	}
}

// RunOnce writes one compressed snapshot and prunes old ones. It returns
// the path of the new snapshot.
func (m *Manager) RunOnce(ctx context.Context) (string, error) {
	name := filePrefix + m.now().UTC().Format("20060102-150405") + fileSuffix
	path := filepath.Join(m.cfg.Dir, name)

	size, err := m.write(ctx, path)
	if err != nil {
		return "", err
	}
	m.log.Info("created snapshot", zap.String("path", path), zap.Int64("db_bytes", size))

	if err := prune(m.cfg.Dir, m.cfg.KeepLast); err != nil {
		return path, fmt.Errorf("prune snapshots: %w", err)
	}
	return path, nil
}

func (m *Manager) write(ctx context.Context, path string) (int64, error) {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return 0, err
	}
	fail := func(err error) (int64, error) {
		f.Close()
		_ = os.Remove(tmp)
		return 0, err
	}

	zw, err := xz.NewWriter(f)
	if err != nil {
		return fail(fmt.Errorf("xz writer: %w", err))
	}
	size, err := m.store.Snapshot(ctx, zw)
	if err != nil {
		return fail(fmt.Errorf("snapshot: %w", err))
	}
	if err := zw.Close(); err != nil {
		return fail(fmt.Errorf("xz close: %w", err))
	}
	if err := f.Sync(); err != nil {
		return fail(err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return 0, err
	}
	return size, os.Rename(tmp, path)
}

// Stop terminates the snapshot loop. It is safe to call more than once.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.done)
	})
	m.wg.Wait()
}

func prune(dir string, keepLast int) error {
	matches, err := filepath.Glob(filepath.Join(dir, filePrefix+"*"+fileSuffix))
	if err != nil {
		return err
	}
	if len(matches) <= keepLast {
		return nil
	}

	// timestamp is embedded in the name, so lexical order is chronological
	sort.Sort(sort.Reverse(sort.StringSlice(matches)))

	for _, old := range matches[keepLast:] {
		if err := os.Remove(old); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

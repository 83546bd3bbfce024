package duckdb

import (
	"errors"
	"io/fs"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RetentionConfig holds configuration for the retention cleaner.
type RetentionConfig struct {
	RetentionDays int
	Interval      time.Duration // defaults to one hour
	Logger        *zap.Logger
}

// RetentionCleaner periodically deletes parse runs older than the
// configured retention period, together with their stored trace files.
type RetentionCleaner struct {
	store         *Store
	retentionDays int
	interval      time.Duration
	log           *zap.Logger
	done          chan struct{}
	wg            sync.WaitGroup
	stopOnce      sync.Once
}

// NewRetentionCleaner creates a retention cleaner that deletes expired files.
// Returns nil when retention is 0 (disabled).
func NewRetentionCleaner(store *Store, conf ...RetentionConfig) *RetentionCleaner {
	days := 30
	interval := time.Hour
	log := zap.NewNop()
	if len(conf) > 0 {
		days = conf[0].RetentionDays
		if conf[0].Interval > 0 {
			interval = conf[0].Interval
		}
		if conf[0].Logger != nil {
			log = conf[0].Logger
		}
	}
	if days <= 0 {
		return nil
	}

	rc := &RetentionCleaner{
		store:         store,
		retentionDays: days,
		interval:      interval,
		log:           log,
		done:          make(chan struct{}),
	}

	// Startup cleanup to catch up after downtime.
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

func (rc *RetentionCleaner) cleanup() {
	cutoff := time.Now().UTC().Add(-time.Duration(rc.retentionDays) * 24 * time.Hour)

	files, err := rc.store.FilesBefore(cutoff)
	if err != nil {
		rc.log.Error("duckdb: retention cleanup error", zap.Error(err))
		return
	}

	var removed int
	for _, f := range files {
		if _, err := rc.store.DeleteFile(f.ID); err != nil {
			rc.log.Warn("duckdb: retention delete failed", zap.Int64("file_id", f.ID), zap.Error(err))
			continue
		}
		if f.Path != "" {
			if err := os.Remove(f.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				rc.log.Warn("duckdb: retention could not remove stored file", zap.String("path", f.Path), zap.Error(err))
			}
		}
		removed++
	}
	if removed > 0 {
		rc.log.Info("duckdb: retention cleanup deleted expired files",
			zap.Int("files", removed), zap.Int("retention_days", rc.retentionDays))
	}
}

// Stop signals the cleaner to stop and waits for it to finish.
func (rc *RetentionCleaner) Stop() {
	rc.stopOnce.Do(func() {
		close(rc.done)
	})
	rc.wg.Wait()
}

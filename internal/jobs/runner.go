// Package jobs runs parse jobs for stored trace files on a bounded worker
// pool.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tinytelemetry/rutrace/internal/ingest"
	"github.com/tinytelemetry/rutrace/internal/logsource"
	"github.com/tinytelemetry/rutrace/internal/metrics"
	"github.com/tinytelemetry/rutrace/internal/model"
)

// ErrQueueFull is returned by Submit when no queue slot is free.
var ErrQueueFull = errors.New("parse queue is full")

const (
	defaultWorkers   = 2
	defaultQueueSize = 64
)

// OpenFunc opens a stored trace for reading. Reads must fail once ctx is done.
type OpenFunc func(ctx context.Context, path string) (io.ReadCloser, error)

// Config configures a Runner.
type Config struct {
	Workers   int
	QueueSize int
	// Timeout bounds one parse run. Zero means model.DefaultParseTimeout.
	Timeout time.Duration

	Engine *ingest.Engine
	Files  model.FileStore
	// Sinks returns the record sink for one file's run.
	Sinks func(fileID int64) ingest.RecordSink
	// Open defaults to logsource.Open.
	Open    OpenFunc
	Metrics *metrics.Registry
	Logger  *zap.Logger
}

// Runner owns the parse queue. Files move pending -> parsing ->
// completed|failed; a failed run keeps the records delivered before the
// failure.
type Runner struct {
	cfg   Config
	log   *zap.Logger
	queue chan int64

	mu     sync.Mutex
	queued map[int64]bool
}

// NewRunner creates a Runner. Call Run to start its workers.
func NewRunner(cfg Config) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = model.DefaultParseTimeout
	}
	if cfg.Engine == nil {
		cfg.Engine = ingest.NewEngine(ingest.Options{})
	}
	if cfg.Open == nil {
		cfg.Open = logsource.Open
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{
		cfg:    cfg,
		log:    log.Named("jobs"),
		queue:  make(chan int64, cfg.QueueSize),
		queued: make(map[int64]bool),
	}
}

// Submit queues a parse of fileID. A file already waiting in the queue is
// not queued twice.
func (r *Runner) Submit(fileID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.queued[fileID] {
		return nil
	}
	select {
	case r.queue <- fileID:
		r.queued[fileID] = true
		r.setDepth()
		return nil
	default:
		return ErrQueueFull
	}
}

// Reparse clears the previous results of fileID and queues it again.
func (r *Runner) Reparse(fileID int64) error {
	if err := r.cfg.Files.ResetRecords(fileID); err != nil {
		return fmt.Errorf("reset file %d: %w", fileID, err)
	}
	return r.Submit(fileID)
}

// Resume re-queues files left pending or parsing by a previous process.
// Files that do not fit in the queue are marked failed.
func (r *Runner) Resume() error {
	files, err := r.cfg.Files.UnfinishedFiles()
	if err != nil {
		return fmt.Errorf("list unfinished files: %w", err)
	}
	for _, f := range files {
		if f.Status == model.StatusParsing {
			if err := r.cfg.Files.ResetRecords(f.ID); err != nil {
				r.log.Warn("reset interrupted run failed", zap.Int64("file_id", f.ID), zap.Error(err))
				continue
			}
		}
		if err := r.Submit(f.ID); err != nil {
			r.log.Warn("could not re-queue file", zap.Int64("file_id", f.ID), zap.Error(err))
			if merr := r.cfg.Files.MarkFailed(f.ID, model.Counts{}, err); merr != nil {
				r.log.Error("record re-queue failure", zap.Int64("file_id", f.ID), zap.Error(merr))
			}
			continue
		}
	}
	if len(files) > 0 {
		r.log.Info("re-queued unfinished files", zap.Int("files", len(files)))
	}
	return nil
}

// Run processes queued files until ctx is cancelled. Runs in flight when
// ctx ends are aborted and recorded as failed.
func (r *Runner) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < r.cfg.Workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case id := <-r.queue:
					r.dequeued(id)
					r.process(gctx, id)
				}
			}
		})
	}
	return g.Wait()
}

func (r *Runner) dequeued(id int64) {
	r.mu.Lock()
	delete(r.queued, id)
	r.setDepth()
	r.mu.Unlock()
}

func (r *Runner) setDepth() {
	if r.cfg.Metrics != nil {
		r.cfg.Metrics.QueueDepth.Set(float64(len(r.queue)))
	}
}

func (r *Runner) process(ctx context.Context, id int64) {
	start := time.Now()
	log := r.log.With(zap.Int64("file_id", id))

	status, counts, err := r.parse(ctx, id)
	elapsed := time.Since(start)
	if r.cfg.Metrics != nil {
		r.cfg.Metrics.ObserveRun(status, counts, elapsed)
	}

	switch {
	case errors.Is(err, model.ErrNotFound):
		log.Info("file deleted before parsing")
	case err != nil:
		log.Warn("parse failed", zap.Duration("elapsed", elapsed), zap.Error(err))
		if merr := r.cfg.Files.MarkFailed(id, counts, err); merr != nil {
			log.Error("record parse failure", zap.Error(merr))
		}
	default:
		log.Info("parse completed",
			zap.Int("lines", counts.Lines),
			zap.Int("messages", counts.Messages),
			zap.Int("errors", counts.Errors),
			zap.Duration("elapsed", elapsed))
		if merr := r.cfg.Files.MarkCompleted(id, counts); merr != nil {
			log.Error("record parse completion", zap.Error(merr))
		}
	}
}

func (r *Runner) parse(ctx context.Context, id int64) (model.ParseStatus, model.Counts, error) {
	f, err := r.cfg.Files.GetFile(id)
	if err != nil {
		return model.StatusFailed, model.Counts{}, err
	}
	if err := r.cfg.Files.MarkParsing(id); err != nil {
		return model.StatusFailed, model.Counts{}, err
	}

	runCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	src, err := r.cfg.Open(runCtx, f.Path)
	if err != nil {
		return model.StatusFailed, model.Counts{}, err
	}
	defer src.Close()

	var sink ingest.RecordSink = r.cfg.Sinks(id)
	if r.cfg.Metrics != nil {
		sink = r.cfg.Metrics.Wrap(sink)
	}
	counts, err := r.cfg.Engine.Parse(src, sink)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("parse timed out after %s: %w", r.cfg.Timeout, err)
		}
		return model.StatusFailed, counts, err
	}
	return model.StatusCompleted, counts, nil
}

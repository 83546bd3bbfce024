// Package intake stores uploaded trace files and archives and queues the
// traces they contain for parsing.
package intake

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tinytelemetry/rutrace/internal/logsource"
	"github.com/tinytelemetry/rutrace/internal/metrics"
	"github.com/tinytelemetry/rutrace/internal/model"
)

var (
	// ErrNotTrace rejects uploads that are neither a trace file nor a
	// supported archive.
	ErrNotTrace = errors.New("intake: only rpc.log trace files or archives (.zip, .tar, .tgz, .gz, .bz2, .xz) are accepted")
	// ErrNoTraces is returned for archives without any trace member.
	ErrNoTraces = errors.New("intake: no rpc.log trace files found in archive")
	// ErrTooLarge is returned for plain trace uploads above the size limit.
	ErrTooLarge = errors.New("intake: file exceeds size limit")
)

// Submitter queues a stored file for parsing.
type Submitter interface {
	Submit(fileID int64) error
}

// Config configures an Intake.
type Config struct {
	UploadDir   string
	MaxFileSize int64 // defaults to model.DefaultMaxFileSize
	MaxNesting  int

	Files   model.FileStore
	Jobs    Submitter
	Metrics *metrics.Registry
	Logger  *zap.Logger
}

// Intake turns uploads into stored, queued trace files.
type Intake struct {
	cfg Config
	log *zap.Logger
}

// New creates an Intake and its upload directory.
func New(cfg Config) (*Intake, error) {
	if cfg.UploadDir == "" {
		return nil, errors.New("intake: upload dir is required")
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = model.DefaultMaxFileSize
	}
	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("intake: create upload dir: %w", err)
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Intake{cfg: cfg, log: log.Named("intake")}, nil
}

// AcceptPath ingests a file already on disk, such as one dropped into the
// inbox directory.
func (in *Intake) AcceptPath(ctx context.Context, path string) ([]model.LogFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("intake: %w", err)
	}
	defer f.Close()
	return in.Accept(ctx, filepath.Base(path), f)
}

// Accept stores an upload named name. A trace file becomes one LogFile;
// an archive becomes one LogFile per trace member, named
// "<archive>:<member path>". Every created file is queued for parsing.
func (in *Intake) Accept(ctx context.Context, name string, src io.Reader) ([]model.LogFile, error) {
	name = filepath.Base(filepath.FromSlash(name))
	isArchive := logsource.IsArchive(name)
	if !isArchive && !logsource.IsTraceName(name) {
		in.count("rejected")
		return nil, fmt.Errorf("%w: %s", ErrNotTrace, name)
	}

	tmp, err := os.MkdirTemp(in.cfg.UploadDir, ".intake-")
	if err != nil {
		return nil, fmt.Errorf("intake: temp dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	limit := in.cfg.MaxFileSize
	if isArchive {
		limit = 0
	}
	upload := filepath.Join(tmp, name)
	size, err := save(upload, src, limit)
	if err != nil {
		in.count("rejected")
		return nil, err
	}

	if !isArchive {
		f, err := in.store(upload, name, name, size)
		if err != nil {
			return nil, err
		}
		return []model.LogFile{f}, nil
	}

	members, err := logsource.Expand(ctx, upload, filepath.Join(tmp, "x"), logsource.ExpandOptions{
		MaxSize:    in.cfg.MaxFileSize,
		MaxNesting: in.cfg.MaxNesting,
		Skipped: func(member string, err error) {
			in.count("skipped")
			in.log.Info("skipped archive member", zap.String("archive", name), zap.String("member", member), zap.Error(err))
		},
	})
	if err != nil {
		in.count("rejected")
		return nil, fmt.Errorf("intake: expand %s: %w", name, err)
	}
	if len(members) == 0 {
		in.count("rejected")
		return nil, fmt.Errorf("%w: %s", ErrNoTraces, name)
	}

	files := make([]model.LogFile, 0, len(members))
	for _, m := range members {
		f, err := in.store(m.Path, filepath.Base(m.Path), name+":"+m.Name, m.Size)
		if err != nil {
			return files, err
		}
		files = append(files, f)
	}
	in.log.Info("archive accepted", zap.String("archive", name), zap.Int("traces", len(files)))
	return files, nil
}

// store moves one trace into the upload dir under a unique name, records
// it and queues it.
func (in *Intake) store(path, base, original string, size int64) (model.LogFile, error) {
	stored := uuid.NewString() + "_" + base
	dest := filepath.Join(in.cfg.UploadDir, stored)
	if err := os.Rename(path, dest); err != nil {
		return model.LogFile{}, fmt.Errorf("intake: store %s: %w", original, err)
	}

	f := model.LogFile{
		Filename:         stored,
		OriginalFilename: original,
		Path:             dest,
		Size:             size,
		Status:           model.StatusPending,
	}
	if _, err := in.cfg.Files.CreateFile(&f); err != nil {
		_ = os.Remove(dest)
		return model.LogFile{}, fmt.Errorf("intake: record %s: %w", original, err)
	}
	in.count("accepted")

	if err := in.cfg.Jobs.Submit(f.ID); err != nil {
		in.log.Warn("parse not queued", zap.Int64("file_id", f.ID), zap.Error(err))
		if merr := in.cfg.Files.MarkFailed(f.ID, model.Counts{}, err); merr != nil {
			in.log.Error("record queue failure", zap.Int64("file_id", f.ID), zap.Error(merr))
		}
		f.Status = model.StatusFailed
		f.ParseError = err.Error()
	}
	return f, nil
}

func (in *Intake) count(outcome string) {
	if in.cfg.Metrics != nil {
		in.cfg.Metrics.Uploads.WithLabelValues(outcome).Inc()
	}
}

// save copies src to path, failing with ErrTooLarge past limit bytes.
func save(path string, src io.Reader, limit int64) (int64, error) {
	out, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("intake: %w", err)
	}
	r := src
	if limit > 0 {
		r = io.LimitReader(src, limit+1)
	}
	n, err := io.Copy(out, r)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("intake: save upload: %w", err)
	}
	if limit > 0 && n > limit {
		return n, fmt.Errorf("%w (%d MB)", ErrTooLarge, limit>>20)
	}
	return n, nil
}

// IsCandidate reports whether name could be accepted by intake.
func IsCandidate(name string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	return logsource.IsArchive(base) || logsource.IsTraceName(base)
}

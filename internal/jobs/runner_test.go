package jobs

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/tinytelemetry/rutrace/internal/ingest"
	"github.com/tinytelemetry/rutrace/internal/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const trace = `2024-05-01T10:00:00.000Z INFO: [10.0.0.2:830] Session 3: Sending message: <rpc message-id="1" xmlns="urn:ietf:params:xml:ns:netconf:base:1.0"><get/></rpc>
2024-05-01T10:00:00.250Z INFO: [10.0.0.2:830] Session 3: Received message: <rpc-reply message-id="1" xmlns="urn:ietf:params:xml:ns:netconf:base:1.0"><ok/></rpc-reply>
`

// memFiles is an in-memory FileStore.
type memFiles struct {
	mu     sync.Mutex
	files  map[int64]*model.LogFile
	resets []int64
}

func newMemFiles(files ...model.LogFile) *memFiles {
	m := &memFiles{files: make(map[int64]*model.LogFile)}
	for i := range files {
		f := files[i]
		m.files[f.ID] = &f
	}
	return m
}

func (m *memFiles) CreateFile(f *model.LogFile) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f.ID = int64(len(m.files) + 1)
	cp := *f
	m.files[f.ID] = &cp
	return f.ID, nil
}

func (m *memFiles) GetFile(id int64) (*model.LogFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	cp := *f
	return &cp, nil
}

func (m *memFiles) ListFiles() ([]model.LogFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.LogFile
	for _, f := range m.files {
		out = append(out, *f)
	}
	return out, nil
}

func (m *memFiles) DeleteFile(id int64) (*model.LogFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	delete(m.files, id)
	return f, nil
}

func (m *memFiles) update(id int64, fn func(*model.LogFile)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[id]
	if !ok {
		return model.ErrNotFound
	}
	fn(f)
	return nil
}

func (m *memFiles) MarkParsing(id int64) error {
	return m.update(id, func(f *model.LogFile) { f.Status = model.StatusParsing })
}

func (m *memFiles) MarkCompleted(id int64, c model.Counts) error {
	return m.update(id, func(f *model.LogFile) { f.Status = model.StatusCompleted; f.Counts = c })
}

func (m *memFiles) MarkFailed(id int64, c model.Counts, cause error) error {
	return m.update(id, func(f *model.LogFile) {
		f.Status = model.StatusFailed
		f.Counts = c
		f.ParseError = cause.Error()
	})
}

func (m *memFiles) ResetRecords(id int64) error {
	m.mu.Lock()
	m.resets = append(m.resets, id)
	m.mu.Unlock()
	return m.update(id, func(f *model.LogFile) { f.Status = model.StatusPending; f.Counts = model.Counts{} })
}

func (m *memFiles) UnfinishedFiles() ([]model.LogFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.LogFile
	for id := int64(1); id <= int64(len(m.files))+10; id++ {
		if f, ok := m.files[id]; ok && (f.Status == model.StatusPending || f.Status == model.StatusParsing) {
			out = append(out, *f)
		}
	}
	return out, nil
}

func writeTrace(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "du_rpc.log")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

type sinks struct {
	mu   sync.Mutex
	byID map[int64]*ingest.MemorySink
}

func (s *sinks) get(id int64) ingest.RecordSink {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byID == nil {
		s.byID = make(map[int64]*ingest.MemorySink)
	}
	sink := &ingest.MemorySink{}
	s.byID[id] = sink
	return sink
}

// runUntil starts the runner, waits until cond holds and stops it.
func runUntil(t *testing.T, r *Runner, cond func() bool) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			cancel()
			<-done
			t.Fatal("condition not reached")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func statusOf(files *memFiles, id int64) model.ParseStatus {
	f, err := files.GetFile(id)
	if err != nil {
		return ""
	}
	return f.Status
}

func TestRunnerCompletesParse(t *testing.T) {
	files := newMemFiles(model.LogFile{ID: 1, Path: writeTrace(t, trace), Status: model.StatusPending})
	var s sinks
	r := NewRunner(Config{Files: files, Sinks: s.get})

	if err := r.Submit(1); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	runUntil(t, r, func() bool { return statusOf(files, 1) == model.StatusCompleted })

	f, _ := files.GetFile(1)
	if f.Messages != 2 || f.Lines != 2 {
		t.Errorf("counts = %+v", f.Counts)
	}
	if got := len(s.byID[1].Messages); got != 2 {
		t.Errorf("sink messages = %d", got)
	}
}

func TestRunnerRecordsOpenFailure(t *testing.T) {
	files := newMemFiles(model.LogFile{ID: 1, Path: filepath.Join(t.TempDir(), "gone_rpc.log"), Status: model.StatusPending})
	var s sinks
	r := NewRunner(Config{Files: files, Sinks: s.get})

	_ = r.Submit(1)
	runUntil(t, r, func() bool { return statusOf(files, 1) == model.StatusFailed })

	f, _ := files.GetFile(1)
	if !strings.Contains(f.ParseError, "open trace") {
		t.Errorf("parse error = %q", f.ParseError)
	}
}

type stallingReader struct{ ctx context.Context }

func (s stallingReader) Read([]byte) (int, error) {
	<-s.ctx.Done()
	return 0, s.ctx.Err()
}

func (stallingReader) Close() error { return nil }

func TestRunnerTimeout(t *testing.T) {
	files := newMemFiles(model.LogFile{ID: 1, Path: "stalled_rpc.log", Status: model.StatusPending})
	var s sinks
	r := NewRunner(Config{
		Files:   files,
		Sinks:   s.get,
		Timeout: 20 * time.Millisecond,
		Open: func(ctx context.Context, _ string) (io.ReadCloser, error) {
			return stallingReader{ctx: ctx}, nil
		},
	})

	_ = r.Submit(1)
	runUntil(t, r, func() bool { return statusOf(files, 1) == model.StatusFailed })

	f, _ := files.GetFile(1)
	if !strings.Contains(f.ParseError, "timed out") {
		t.Errorf("parse error = %q", f.ParseError)
	}
}

func TestSubmitQueueFull(t *testing.T) {
	r := NewRunner(Config{Files: newMemFiles(), QueueSize: 1})

	if err := r.Submit(1); err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	if err := r.Submit(1); err != nil {
		t.Fatalf("duplicate Submit: %v", err)
	}
	if err := r.Submit(2); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Submit err = %v, want ErrQueueFull", err)
	}
}

func TestResumeRequeuesUnfinished(t *testing.T) {
	path := writeTrace(t, trace)
	files := newMemFiles(
		model.LogFile{ID: 1, Path: path, Status: model.StatusPending},
		model.LogFile{ID: 2, Path: path, Status: model.StatusParsing},
		model.LogFile{ID: 3, Path: path, Status: model.StatusCompleted},
	)
	var s sinks
	r := NewRunner(Config{Files: files, Sinks: s.get})

	if err := r.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if len(files.resets) != 1 || files.resets[0] != 2 {
		t.Errorf("resets = %v, want [2]", files.resets)
	}
	runUntil(t, r, func() bool {
		return statusOf(files, 1) == model.StatusCompleted && statusOf(files, 2) == model.StatusCompleted
	})
}

// markFailFiles refuses to record failures.
type markFailFiles struct{ *memFiles }

func (m markFailFiles) MarkFailed(int64, model.Counts, error) error {
	return errors.New("database is read-only")
}

func TestResumeLogsUnrecordedRequeueFailure(t *testing.T) {
	path := writeTrace(t, trace)
	files := newMemFiles(
		model.LogFile{ID: 1, Path: path, Status: model.StatusPending},
		model.LogFile{ID: 2, Path: path, Status: model.StatusPending},
	)
	core, logs := observer.New(zap.WarnLevel)
	var s sinks
	r := NewRunner(Config{QueueSize: 1, Files: markFailFiles{files}, Sinks: s.get, Logger: zap.New(core)})

	if err := r.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	entries := logs.FilterMessage("record re-queue failure").All()
	if len(entries) != 1 {
		t.Fatalf("logged %d re-queue failures, want 1: %v", len(entries), logs.All())
	}
	if got := entries[0].ContextMap()["file_id"]; got != int64(2) {
		t.Errorf("file_id = %v, want 2", got)
	}
}

func TestReparseResetsFirst(t *testing.T) {
	files := newMemFiles(model.LogFile{ID: 1, Path: writeTrace(t, trace), Status: model.StatusCompleted})
	var s sinks
	r := NewRunner(Config{Files: files, Sinks: s.get})

	if err := r.Reparse(1); err != nil {
		t.Fatalf("Reparse: %v", err)
	}
	if statusOf(files, 1) != model.StatusPending {
		t.Fatalf("status after reset = %s", statusOf(files, 1))
	}
	runUntil(t, r, func() bool { return statusOf(files, 1) == model.StatusCompleted })

	if err := r.Reparse(99); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("Reparse missing err = %v", err)
	}
}

func TestRunnerSkipsDeletedFile(t *testing.T) {
	files := newMemFiles()
	var s sinks
	r := NewRunner(Config{Files: files, Sinks: s.get})

	_ = r.Submit(7)
	runUntil(t, r, func() bool { return len(r.queue) == 0 })
}

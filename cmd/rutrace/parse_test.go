package main

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tinytelemetry/rutrace/internal/ingest"
)

const sampleTrace = `2024-05-01T10:00:00.000Z INFO: [10.0.0.2:830] Session 1: Sending message: <rpc message-id="1" xmlns="urn:ietf:params:xml:ns:netconf:base:1.0"><get/></rpc>
2024-05-01T10:00:00.250Z INFO: [10.0.0.2:830] Session 1: Received message: <rpc-reply message-id="1" xmlns="urn:ietf:params:xml:ns:netconf:base:1.0"><rpc-error><error-type>protocol</error-type><error-tag>operation-failed</error-tag></rpc-error></rpc-reply>
`

func newTestParser(buf *bytes.Buffer, asJSON bool) *offlineParser {
	return &offlineParser{
		engine: ingest.NewEngine(ingest.Options{}),
		out:    buf,
		json:   asJSON,
	}
}

func writeTrace(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(sampleTrace), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestOfflineParseJSON(t *testing.T) {
	path := writeTrace(t, t.TempDir(), "du_rpc.log")

	var buf bytes.Buffer
	if err := newTestParser(&buf, true).run(context.Background(), []string{path}); err != nil {
		t.Fatalf("run: %v", err)
	}

	var reports []traceReport
	if err := json.Unmarshal(buf.Bytes(), &reports); err != nil {
		t.Fatalf("decode: %v\n%s", err, buf.String())
	}
	if len(reports) != 1 {
		t.Fatalf("reports = %d, want 1", len(reports))
	}
	r := reports[0]
	if r.Counts.Lines != 2 || r.Counts.Messages != 2 || r.Counts.Errors != 1 {
		t.Errorf("counts = %+v", r.Counts)
	}
	if len(r.Messages) != 2 || r.Messages[0].LatencyMS == nil || *r.Messages[0].LatencyMS != 250 {
		t.Errorf("messages = %+v", r.Messages)
	}
}

func TestOfflineParseSummary(t *testing.T) {
	path := writeTrace(t, t.TempDir(), "du_rpc.log")

	var buf bytes.Buffer
	if err := newTestParser(&buf, false).run(context.Background(), []string{path}); err != nil {
		t.Fatalf("run: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"du_rpc.log", "rpc=1", "rpc-reply=1", "rpc-error=1"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}

func TestOfflineParseArchive(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "bundle.zip")
	f, err := os.Create(archive)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	for _, name := range []string{"a/du_rpc.log", "b/ru_rpc.log", "notes.txt"} {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		w.Write([]byte(sampleTrace))
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	f.Close()

	var buf bytes.Buffer
	if err := newTestParser(&buf, true).run(context.Background(), []string{archive}); err != nil {
		t.Fatalf("run: %v", err)
	}
	var reports []traceReport
	if err := json.Unmarshal(buf.Bytes(), &reports); err != nil {
		t.Fatal(err)
	}
	if len(reports) != 2 {
		t.Fatalf("reports = %d, want 2 trace members", len(reports))
	}
	if !strings.HasPrefix(reports[0].Name, "bundle.zip:") {
		t.Errorf("name = %q", reports[0].Name)
	}
}

func TestOfflineParseMissingFile(t *testing.T) {
	var buf bytes.Buffer
	err := newTestParser(&buf, false).run(context.Background(), []string{filepath.Join(t.TempDir(), "gone_rpc.log")})
	if err == nil {
		t.Fatal("expected error for a missing file")
	}
}

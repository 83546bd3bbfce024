package logsource

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/ulikunitz/xz"
)

const sample = "2024-05-01T10:00:00.000Z INFO: [ru] Session 1: Sending message: <rpc message-id=\"1\"><get/></rpc>\n"

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func xzBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := xz.NewWriter(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestIsTraceName(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"RU1_RPC.log", true},
		{"netconf-rpc.log.1", true},
		{"dir/sub/rpc.log", true},
		{"rpc.log.gz", false},
		{"rpc.log.zip", false},
		{"syslog.txt", false},
		{"rpc.txt", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTraceName(tt.name); got != tt.want {
				t.Errorf("IsTraceName(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		data []byte
	}{
		{"plain_rpc.log", []byte(sample)},
		{"gz_rpc.log.gz", gzipBytes(t, []byte(sample))},
		{"xz_rpc.log.xz", xzBytes(t, []byte(sample))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name)
			writeFile(t, path, tt.data)
			rc, err := Open(context.Background(), path)
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer rc.Close()
			got, err := io.ReadAll(rc)
			if err != nil {
				t.Fatalf("ReadAll: %v", err)
			}
			if string(got) != sample {
				t.Errorf("content = %q", got)
			}
		})
	}
}

func TestOpenMissing(t *testing.T) {
	_, err := Open(context.Background(), filepath.Join(t.TempDir(), "nope_rpc.log"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v, want ErrNotExist", err)
	}
}

func TestOpenCorruptCompression(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad_rpc.log.gz")
	writeFile(t, path, []byte("not gzip"))
	if _, err := Open(context.Background(), path); err == nil {
		t.Error("expected error for corrupt gzip")
	}
}

func TestOpenStopsOnCancel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c_rpc.log")
	writeFile(t, path, []byte(sample))
	ctx, cancel := context.WithCancel(context.Background())
	rc, err := Open(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	cancel()
	if _, err := rc.Read(make([]byte, 16)); !errors.Is(err, context.Canceled) {
		t.Errorf("Read after cancel err = %v, want context.Canceled", err)
	}
}

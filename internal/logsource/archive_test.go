package logsource

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
)

func zipBytes(t *testing.T, files map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write(files[name]); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func tarBytes(t *testing.T, files map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(files[name])), Typeflag: tar.TypeReg}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write(files[name]); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func memberNames(ms []Member) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.Name
	}
	return out
}

func TestExpandZip(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "bundle.zip")
	writeFile(t, archive, zipBytes(t, map[string][]byte{
		"logs/RU1_RPC.log": []byte(sample),
		"logs/syslog.txt":  []byte("ignored"),
		"readme.md":        []byte("ignored"),
	}))

	members, err := Expand(context.Background(), archive, filepath.Join(dir, "out"), ExpandOptions{})
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if got := memberNames(members); len(got) != 1 || got[0] != "logs/RU1_RPC.log" {
		t.Fatalf("members = %v", got)
	}
	data, err := os.ReadFile(members[0].Path)
	if err != nil || string(data) != sample {
		t.Errorf("extracted content = %q, %v", data, err)
	}
	if members[0].Size != int64(len(sample)) {
		t.Errorf("size = %d", members[0].Size)
	}
}

func TestExpandNested(t *testing.T) {
	dir := t.TempDir()
	inner := gzipBytes(t, tarBytes(t, map[string][]byte{"du/a_rpc.log": []byte(sample)}))
	outer := zipBytes(t, map[string][]byte{
		"site/bundle.tar.gz": inner,
		"site/b_rpc.log.xz":  xzBytes(t, []byte(sample)),
	})
	archive := filepath.Join(dir, "upload.zip")
	writeFile(t, archive, outer)

	members, err := Expand(context.Background(), archive, filepath.Join(dir, "out"), ExpandOptions{})
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	got := memberNames(members)
	want := []string{"site/b_rpc.log", "site/bundle.tar/du/a_rpc.log"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("members = %v, want %v", got, want)
	}
}

func TestExpandSingleCompressed(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "RU_RPC.log.gz")
	writeFile(t, archive, gzipBytes(t, []byte(sample)))

	members, err := Expand(context.Background(), archive, filepath.Join(dir, "out"), ExpandOptions{})
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if got := memberNames(members); len(got) != 1 || got[0] != "RU_RPC.log" {
		t.Errorf("members = %v", got)
	}
}

func TestExpandRejectsUnsafePaths(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "evil.tar")
	writeFile(t, archive, tarBytes(t, map[string][]byte{"../../escape_rpc.log": []byte(sample)}))

	_, err := Expand(context.Background(), archive, filepath.Join(dir, "out"), ExpandOptions{})
	if !errors.Is(err, ErrUnsafePath) {
		t.Fatalf("err = %v, want ErrUnsafePath", err)
	}
	if _, statErr := os.Stat(filepath.Join(dir, "escape_rpc.log")); !os.IsNotExist(statErr) {
		t.Error("entry was written outside the extraction dir")
	}
}

func TestExpandSkipsOversized(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "big.zip")
	writeFile(t, archive, zipBytes(t, map[string][]byte{
		"big_rpc.log":   bytes.Repeat([]byte("x"), 1024),
		"small_rpc.log": []byte("ok"),
	}))

	var skipped []string
	members, err := Expand(context.Background(), archive, filepath.Join(dir, "out"), ExpandOptions{
		MaxSize: 100,
		Skipped: func(name string, _ error) { skipped = append(skipped, name) },
	})
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if got := memberNames(members); len(got) != 1 || got[0] != "small_rpc.log" {
		t.Errorf("members = %v", got)
	}
	if len(skipped) != 1 || skipped[0] != "big_rpc.log" {
		t.Errorf("skipped = %v", skipped)
	}
}

func TestExpandNestingLimit(t *testing.T) {
	dir := t.TempDir()
	level2 := zipBytes(t, map[string][]byte{"deep_rpc.log": []byte(sample)})
	level1 := zipBytes(t, map[string][]byte{"l2.zip": level2})
	archive := filepath.Join(dir, "l0.zip")
	writeFile(t, archive, zipBytes(t, map[string][]byte{"l1.zip": level1}))

	members, err := Expand(context.Background(), archive, filepath.Join(dir, "out"), ExpandOptions{MaxNesting: 1})
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(members) != 0 {
		t.Errorf("members = %v, want none past the nesting limit", memberNames(members))
	}
}

func TestExpandCancelled(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "a.zip")
	writeFile(t, archive, zipBytes(t, map[string][]byte{"a_rpc.log": []byte(sample)}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Expand(ctx, archive, filepath.Join(dir, "out"), ExpandOptions{}); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

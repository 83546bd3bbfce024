// Package logsource opens trace files for the engine and expands uploaded
// archives into the trace files they contain.
package logsource

import (
	"bufio"
	"compress/bzip2"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ulikunitz/xz"
)

// TraceMarker is the case-insensitive name fragment that identifies a
// NETCONF RPC trace file.
const TraceMarker = "rpc.log"

var archiveExts = []string{".zip", ".tar", ".tgz", ".tbz2", ".txz", ".gz", ".bz2", ".xz"}

// IsArchive reports whether name has a supported archive or compression
// extension.
func IsArchive(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range archiveExts {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// IsTraceName reports whether name looks like a plain RPC trace file.
// Archives never qualify, even when their name carries the marker.
func IsTraceName(name string) bool {
	base := strings.ToLower(filepath.Base(name))
	return !IsArchive(base) && strings.Contains(base, TraceMarker)
}

// Open opens a trace file for reading. Files ending in .gz, .bz2 or .xz
// are decompressed on the fly. Reads fail with the context's error once
// ctx is done.
func Open(ctx context.Context, path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open trace: %w", err)
	}
	r, err := decompress(bufio.NewReader(f), path)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("open trace %s: %w", filepath.Base(path), err)
	}
	return &readCloser{Reader: &contextReader{ctx: ctx, r: r}, closer: f}, nil
}

// OpenStdin reads a trace from standard input.
func OpenStdin(ctx context.Context) io.Reader {
	return &contextReader{ctx: ctx, r: bufio.NewReader(os.Stdin)}
}

func decompress(r io.Reader, name string) (io.Reader, error) {
	switch lower := strings.ToLower(name); {
	case strings.HasSuffix(lower, ".gz"), strings.HasSuffix(lower, ".tgz"):
		return gzip.NewReader(r)
	case strings.HasSuffix(lower, ".bz2"), strings.HasSuffix(lower, ".tbz2"):
		return bzip2.NewReader(r), nil
	case strings.HasSuffix(lower, ".xz"), strings.HasSuffix(lower, ".txz"):
		return xz.NewReader(r)
	}
	return r, nil
}

// contextReader stops a long read loop when its context is cancelled.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

type readCloser struct {
	io.Reader
	closer io.Closer
}

func (r *readCloser) Close() error { return r.closer.Close() }

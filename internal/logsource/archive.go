package logsource

import (
	"archive/tar"
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
)

var (
	// ErrUnsafePath is returned for archive entries that would land outside
	// the extraction directory.
	ErrUnsafePath = errors.New("logsource: unsafe archive entry path")
	// ErrUnsupportedArchive is returned for names without a known extension.
	ErrUnsupportedArchive = errors.New("logsource: unsupported archive format")

	errTooLarge = errors.New("logsource: member exceeds size limit")
)

// DefaultMaxNesting is how many archive levels Expand follows by default.
const DefaultMaxNesting = 4

// Member is one trace file found inside an archive.
type Member struct {
	// Name is the path of the file inside the upload; entries of nested
	// archives are joined below the nested archive's own path.
	Name string
	// Path is where the extracted file lives on disk.
	Path string
	Size int64
}

// ExpandOptions bounds archive expansion.
type ExpandOptions struct {
	// MaxSize skips extracted files larger than this many bytes. Zero
	// means no limit.
	MaxSize int64
	// MaxNesting bounds how deep archives inside archives are followed.
	MaxNesting int
	// Skipped, when set, is called for every file left out because of a
	// limit or an extraction failure of a nested archive.
	Skipped func(name string, err error)
}

// Expand extracts archivePath into dest, following nested archives, and
// returns the trace files found in file order. Non-trace members are
// extracted only when they are archives themselves.
func Expand(ctx context.Context, archivePath, dest string, opts ExpandOptions) ([]Member, error) {
	if opts.MaxNesting <= 0 {
		opts.MaxNesting = DefaultMaxNesting
	}
	x := &expander{ctx: ctx, opts: opts, dest: dest}
	if err := x.expand(archivePath, "", 0); err != nil {
		return nil, err
	}
	return x.members, nil
}

type expander struct {
	ctx     context.Context
	opts    ExpandOptions
	dest    string
	seq     int
	members []Member
}

func (x *expander) nextDir() (string, error) {
	x.seq++
	dir := filepath.Join(x.dest, "x"+strconv.Itoa(x.seq))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create extraction dir: %w", err)
	}
	return dir, nil
}

// expand unpacks one archive. prefix is the archive's own path inside the
// upload, empty for the upload itself.
func (x *expander) expand(archivePath, prefix string, depth int) error {
	if err := x.ctx.Err(); err != nil {
		return err
	}
	dir, err := x.nextDir()
	if err != nil {
		return err
	}
	lower := strings.ToLower(archivePath)
	switch {
	case strings.HasSuffix(lower, ".zip"):
		return x.unzip(archivePath, dir, prefix, depth)
	case strings.HasSuffix(lower, ".tar"):
		f, err := os.Open(archivePath)
		if err != nil {
			return fmt.Errorf("open archive: %w", err)
		}
		defer f.Close()
		return x.untar(f, dir, prefix, depth)
	case IsArchive(lower):
		return x.uncompress(archivePath, dir, prefix, depth)
	}
	return fmt.Errorf("%w: %s", ErrUnsupportedArchive, filepath.Base(archivePath))
}

func (x *expander) unzip(archivePath, dir, prefix string, depth int) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("open zip: %w", err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		if err := x.ctx.Err(); err != nil {
			return err
		}
		if f.FileInfo().IsDir() || !wanted(f.Name) {
			continue
		}
		target, err := safeJoin(dir, f.Name)
		if err != nil {
			return err
		}
		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("open zip entry %s: %w", f.Name, err)
		}
		err = x.store(rc, target, path.Join(prefix, f.Name), depth)
		_ = rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func (x *expander) untar(r io.Reader, dir, prefix string, depth int) error {
	tr := tar.NewReader(r)
	for {
		if err := x.ctx.Err(); err != nil {
			return err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read tar: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg || !wanted(hdr.Name) {
			continue
		}
		target, err := safeJoin(dir, hdr.Name)
		if err != nil {
			return err
		}
		if err := x.store(tr, target, path.Join(prefix, hdr.Name), depth); err != nil {
			return err
		}
	}
}

// uncompress handles single-stream compression. The output replaces the
// compressed file under its name without the extension, so x.tar.gz
// continues as x.tar.
func (x *expander) uncompress(archivePath, dir, prefix string, depth int) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()
	r, err := decompress(f, archivePath)
	if err != nil {
		return fmt.Errorf("decompress %s: %w", filepath.Base(archivePath), err)
	}
	name := stripCompression(filepath.Base(archivePath))
	return x.store(r, filepath.Join(dir, name), path.Join(path.Dir(prefix), name), depth)
}

// store writes one extracted member and classifies it.
func (x *expander) store(r io.Reader, target, name string, depth int) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", name, err)
	}
	size, err := copyLimited(target, r, x.opts.MaxSize)
	if errors.Is(err, errTooLarge) {
		x.skip(name, err)
		return nil
	}
	if err != nil {
		return fmt.Errorf("extract %s: %w", name, err)
	}

	base := filepath.Base(target)
	switch {
	case IsTraceName(base):
		x.members = append(x.members, Member{Name: name, Path: target, Size: size})
	case IsArchive(base):
		if depth+1 > x.opts.MaxNesting {
			x.skip(name, fmt.Errorf("nesting deeper than %d", x.opts.MaxNesting))
			return nil
		}
		if err := x.expand(target, name, depth+1); err != nil {
			if errors.Is(err, ErrUnsafePath) || x.ctx.Err() != nil {
				return err
			}
			x.skip(name, err)
		}
	}
	return nil
}

func (x *expander) skip(name string, err error) {
	if x.opts.Skipped != nil {
		x.opts.Skipped(name, err)
	}
}

func wanted(name string) bool {
	base := path.Base(name)
	return IsTraceName(base) || IsArchive(base)
}

func copyLimited(target string, r io.Reader, limit int64) (int64, error) {
	out, err := os.Create(target)
	if err != nil {
		return 0, err
	}
	src := r
	if limit > 0 {
		src = io.LimitReader(r, limit+1)
	}
	n, err := io.Copy(out, src)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err == nil && limit > 0 && n > limit {
		err = errTooLarge
	}
	if err != nil {
		_ = os.Remove(target)
	}
	return n, err
}

func safeJoin(dir, name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	return filepath.Join(dir, clean), nil
}

func stripCompression(name string) string {
	lower := strings.ToLower(name)
	for _, ext := range []string{".tgz", ".tbz2", ".txz"} {
		if strings.HasSuffix(lower, ext) {
			return name[:len(name)-len(ext)] + ".tar"
		}
	}
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// Package migrate applies the embedded, numbered schema migrations of the
// trace store.
package migrate

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"strconv"
	"strings"
)

//go:embed migrations/*.sql
var migrations embed.FS

// ErrModified is returned when an applied migration no longer matches the
// script it was applied from.
var ErrModified = errors.New("applied migration was modified")

// Runner applies migrations named NNN_description.sql in version order.
// Each applied version is recorded with a checksum of its script.
type Runner struct {
	db  *sql.DB
	src fs.FS
}

// NewRunner creates a migration runner for the given database connection.
func NewRunner(db *sql.DB) *Runner {
	sub, _ := fs.Sub(migrations, "migrations")
	return &Runner{db: db, src: sub}
}

type migration struct {
	version  int
	name     string
	script   string
	checksum string
}

func (r *Runner) load() ([]migration, error) {
	names, err := fs.Glob(r.src, "*.sql")
	if err != nil {
		return nil, err
	}

	migs := make([]migration, 0, len(names))
	seen := make(map[int]string, len(names))
	for _, name := range names {
		prefix, _, ok := strings.Cut(name, "_")
		if !ok {
			return nil, fmt.Errorf("migration %s: name must be NNN_description.sql", name)
		}
		ver, err := strconv.Atoi(prefix)
		if err != nil || ver <= 0 {
			return nil, fmt.Errorf("migration %s: bad version %q", name, prefix)
		}
		if prev, dup := seen[ver]; dup {
			return nil, fmt.Errorf("migrations %s and %s share version %d", prev, name, ver)
		}
		seen[ver] = name

		data, err := fs.ReadFile(r.src, name)
		if err != nil {
			return nil, err
		}
		sum := sha256.Sum256(data)
		migs = append(migs, migration{
			version:  ver,
			name:     name,
			script:   string(data),
			checksum: hex.EncodeToString(sum[:]),
		})
	}

	slices.SortFunc(migs, func(a, b migration) int { return a.version - b.version })
	return migs, nil
}

func (r *Runner) ensureTable(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		name       VARCHAR NOT NULL,
		checksum   VARCHAR NOT NULL,
		applied_at TIMESTAMP DEFAULT current_timestamp
	)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	return nil
}

// applied maps each recorded version to its checksum.
func (r *Runner) applied(ctx context.Context) (map[int]string, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT version, checksum FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}
	defer rows.Close()

	out := make(map[int]string)
	for rows.Next() {
		var (
			v   int
			sum string
		)
		if err := rows.Scan(&v, &sum); err != nil {
			return nil, err
		}
		out[v] = sum
	}
	return out, rows.Err()
}

// Run applies every migration not yet recorded, each in its own
// transaction. It fails with ErrModified, before applying anything, when a
// recorded migration's script has changed.
func (r *Runner) Run() error {
	return r.RunContext(context.Background())
}

// RunContext is Run with a context.
func (r *Runner) RunContext(ctx context.Context) error {
	pending, err := r.pending(ctx)
	if err != nil {
		return err
	}
	for _, m := range pending {
		if err := r.apply(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) pending(ctx context.Context) ([]migration, error) {
	if err := r.ensureTable(ctx); err != nil {
		return nil, err
	}
	migs, err := r.load()
	if err != nil {
		return nil, err
	}
	done, err := r.applied(ctx)
	if err != nil {
		return nil, err
	}

	var out []migration
	for _, m := range migs {
		sum, ok := done[m.version]
		switch {
		case !ok:
			out = append(out, m)
		case sum != m.checksum:
			return nil, fmt.Errorf("%w: %s", ErrModified, m.name)
		}
	}
	return out, nil
}

func (r *Runner) apply(ctx context.Context, m migration) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s: %w", m.name, err)
	}
	defer tx.Rollback()

	for i, stmt := range statements(m.script) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("executing %s statement %d: %w", m.name, i+1, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, name, checksum) VALUES (?, ?, ?)",
		m.version, m.name, m.checksum); err != nil {
		return fmt.Errorf("recording %s: %w", m.name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", m.name, err)
	}
	return nil
}

// statements splits a migration into its statements, dropping comment-only
// and empty fragments. Migrations must not use semicolons inside literals.
func statements(script string) []string {
	var out []string
	for part := range strings.SplitSeq(script, ";") {
		var lines []string
		for line := range strings.SplitSeq(part, "\n") {
			if t := strings.TrimSpace(line); t != "" && !strings.HasPrefix(t, "--") {
				lines = append(lines, line)
			}
		}
		if len(lines) > 0 {
			out = append(out, strings.TrimSpace(strings.Join(lines, "\n")))
		}
	}
	return out
}

// Status returns the highest applied version and the number of migrations
// still to apply.
func (r *Runner) Status() (current int, pending int, err error) {
	ctx := context.Background()
	todo, err := r.pending(ctx)
	if err != nil {
		return 0, 0, err
	}
	done, err := r.applied(ctx)
	if err != nil {
		return 0, 0, err
	}
	for v := range done {
		current = max(current, v)
	}
	return current, len(todo), nil
}

package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tinytelemetry/rutrace/internal/model"
)

// recordTables lists the per-file record tables, children before parents.
var recordTables = []string{"carrier_events", "error_messages", "rpc_messages"}

const fileColumns = `id, filename, original_filename, file_path, file_size, upload_time,
	parse_status, parse_error, total_lines, total_messages, error_count, started_at, finished_at`

// CreateFile registers a stored trace file in pending state and returns its id.
func (s *Store) CreateFile(f *model.LogFile) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	if f.UploadTime.IsZero() {
		f.UploadTime = time.Now().UTC()
	}
	if f.Status == "" {
		f.Status = model.StatusPending
	}

	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO log_files (filename, original_filename, file_path, file_size, upload_time, parse_status)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id`,
		f.Filename, f.OriginalFilename, f.Path, f.Size, f.UploadTime, string(f.Status),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create file %s: %w", f.Filename, err)
	}
	f.ID = id
	return id, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFile(row rowScanner) (model.LogFile, error) {
	var (
		f                 model.LogFile
		status            string
		parseErr          sql.NullString
		started, finished sql.NullTime
	)
	err := row.Scan(&f.ID, &f.Filename, &f.OriginalFilename, &f.Path, &f.Size, &f.UploadTime,
		&status, &parseErr, &f.Lines, &f.Messages, &f.Errors, &started, &finished)
	if err != nil {
		return f, err
	}
	f.Status = model.ParseStatus(status)
	f.ParseError = parseErr.String
	f.UploadTime = f.UploadTime.UTC()
	f.StartedAt = timePtr(started)
	f.FinishedAt = timePtr(finished)
	return f, nil
}

// GetFile returns one stored file, or ErrNotFound.
func (s *Store) GetFile(id int64) (*model.LogFile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()
	return s.getFile(ctx, s.db, id)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) getFile(ctx context.Context, q queryRower, id int64) (*model.LogFile, error) {
	f, err := scanFile(q.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM log_files WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return &f, nil
}

// ListFiles returns all stored files, newest upload first.
func (s *Store) ListFiles() ([]model.LogFile, error) {
	return s.listFiles(`SELECT ` + fileColumns + ` FROM log_files ORDER BY upload_time DESC, id DESC`)
}

// UnfinishedFiles returns files whose parse never completed, oldest first.
func (s *Store) UnfinishedFiles() ([]model.LogFile, error) {
	return s.listFiles(`SELECT `+fileColumns+` FROM log_files WHERE parse_status IN (?, ?) ORDER BY id`,
		string(model.StatusPending), string(model.StatusParsing))
}

func (s *Store) listFiles(query string, args ...any) ([]model.LogFile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	files := []model.LogFile{}
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan log file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// DeleteFile removes a file row and all of its records in one transaction
// and returns the removed row so callers can clean up the stored file.
func (s *Store) DeleteFile(id int64) (*model.LogFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	f, err := s.getFile(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := deleteRecords(ctx, tx, id); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM log_files WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("delete file %d: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return f, nil
}

func deleteRecords(ctx context.Context, tx *sql.Tx, fileID int64) error {
	for _, table := range recordTables {
		// Table names are constants.
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE file_id = ?`, table), fileID); err != nil {
			return fmt.Errorf("delete %s of file %d: %w", table, fileID, err)
		}
	}
	return nil
}

// ResetRecords drops every record of a file and returns it to pending.
func (s *Store) ResetRecords(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := deleteRecords(ctx, tx, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE log_files
		SET parse_status = ?, parse_error = NULL, total_lines = 0, total_messages = 0,
		    error_count = 0, started_at = NULL, finished_at = NULL
		WHERE id = ?`, string(model.StatusPending), id)
	if err != nil {
		return fmt.Errorf("reset file %d: %w", id, err)
	}
	if err := requireRow(res); err != nil {
		return err
	}
	return tx.Commit()
}

// MarkParsing moves a file into the parsing state.
func (s *Store) MarkParsing(id int64) error {
	return s.updateFile(`
		UPDATE log_files SET parse_status = ?, parse_error = NULL, started_at = ?, finished_at = NULL
		WHERE id = ?`, string(model.StatusParsing), time.Now().UTC(), id)
}

// MarkCompleted records a successful run and its counts.
func (s *Store) MarkCompleted(id int64, counts model.Counts) error {
	return s.updateFile(`
		UPDATE log_files
		SET parse_status = ?, parse_error = NULL, total_lines = ?, total_messages = ?, error_count = ?, finished_at = ?
		WHERE id = ?`,
		string(model.StatusCompleted), counts.Lines, counts.Messages, counts.Errors, time.Now().UTC(), id)
}

// MarkFailed records a failed run. Counts cover whatever was delivered
// before the failure.
func (s *Store) MarkFailed(id int64, counts model.Counts, cause error) error {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	return s.updateFile(`
		UPDATE log_files
		SET parse_status = ?, parse_error = ?, total_lines = ?, total_messages = ?, error_count = ?, finished_at = ?
		WHERE id = ?`,
		string(model.StatusFailed), msg, counts.Lines, counts.Messages, counts.Errors, time.Now().UTC(), id)
}

func (s *Store) updateFile(query string, args ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// FilesBefore returns files uploaded before cutoff.
func (s *Store) FilesBefore(cutoff time.Time) ([]model.LogFile, error) {
	return s.listFiles(`SELECT `+fileColumns+` FROM log_files WHERE upload_time < ? ORDER BY id`, cutoff)
}

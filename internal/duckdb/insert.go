package duckdb

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/tinytelemetry/rutrace/internal/model"
)

// DefaultInsertChunk is the number of records written per transaction.
const DefaultInsertChunk = 2000

const (
	insertMessageSQL = `INSERT INTO rpc_messages (file_id, id, line_number, timestamp, session_id, host,
		message_id, message_type, direction, operation, yang_module, response_time_ms, has_response,
		is_error, xml_content) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	insertErrorSQL = `INSERT INTO error_messages (file_id, id, rpc_message_id, line_number, timestamp,
		session_id, error_type, error_layer, error_tag, error_severity, error_message, error_path,
		fault_id, fault_source, is_cleared, xml_content) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	insertCarrierSQL = `INSERT INTO carrier_events (file_id, id, rpc_message_id, line_number, timestamp,
		session_id, event_type, carrier_type, carrier_name, state, previous_state, operation, direction,
		message_type, carrier_details, xml_content) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
)

// RunWriter persists the records of one parse run for a single file.
// It satisfies the ingest record sink contract.
type RunWriter struct {
	store  *Store
	fileID int64
	chunk  int
}

// NewRunWriter returns a writer that stores records under fileID.
func (s *Store) NewRunWriter(fileID int64) *RunWriter {
	return &RunWriter{store: s, fileID: fileID, chunk: DefaultInsertChunk}
}

// AddMessages stores reconstructed messages.
func (w *RunWriter) AddMessages(msgs []model.Message) error {
	return insertChunked(w, "rpc_messages", insertMessageSQL, msgs, func(m model.Message) []any {
		return []any{
			w.fileID, m.ID, m.LineNumber, nullTime(m.Timestamp), m.SessionID, nullString(m.Host),
			nullString(m.MessageID), string(m.Kind), string(m.Direction), nullString(m.Operation),
			nullString(m.Module), nullFloat(m.LatencyMS), m.Responded, m.IsError, nullString(m.Content),
		}
	})
}

// AddErrors stores protocol errors and faults.
func (w *RunWriter) AddErrors(errs []model.ErrorEvent) error {
	return insertChunked(w, "error_messages", insertErrorSQL, errs, func(e model.ErrorEvent) []any {
		return []any{
			w.fileID, e.ID, nullRef(e.MessageRef), e.LineNumber, nullTime(e.Timestamp), e.SessionID,
			string(e.Kind), nullString(e.Layer), nullString(e.Tag), nullString(e.Severity),
			nullString(e.Text), nullString(e.Path), nullString(e.FaultID), nullString(e.FaultSource),
			e.Cleared, nullString(e.Content),
		}
	})
}

// AddCarrierEvents stores carrier events. Details are kept as a JSON object.
func (w *RunWriter) AddCarrierEvents(events []model.CarrierEvent) error {
	return insertChunked(w, "carrier_events", insertCarrierSQL, events, func(c model.CarrierEvent) []any {
		var details any
		if len(c.Details) > 0 {
			if data, err := json.Marshal(c.Details); err != nil {
				w.store.logger().Warn("duckdb: carrier details not stored", zap.Int64("file_id", w.fileID), zap.Error(err))
			} else {
				details = string(data)
			}
		}
		return []any{
			w.fileID, c.ID, nullRef(c.MessageRef), c.LineNumber, nullTime(c.Timestamp), c.SessionID,
			string(c.Kind), c.CarrierType, c.CarrierName, nullString(c.State), nullString(c.PreviousState),
			nullString(c.Operation), string(c.Direction), string(c.MessageKind), details, nullString(c.Content),
		}
	})
}

// insertChunked writes items in chunks, one transaction per chunk. A chunk
// that fails is retried record by record to salvage what can be stored.
func insertChunked[T any](w *RunWriter, table, query string, items []T, args func(T) []any) error {
	if len(items) == 0 {
		return nil
	}
	s := w.store
	log := s.logger()

	s.mu.Lock()
	defer s.mu.Unlock()

	var dropped int
	for start := 0; start < len(items); start += w.chunk {
		end := min(start+w.chunk, len(items))
		rows := make([][]any, 0, end-start)
		for _, it := range items[start:end] {
			rows = append(rows, args(it))
		}

		ctx, cancel := s.queryCtx()
		err := s.insertTx(ctx, query, rows)
		if err != nil {
			if ctx.Err() != nil {
				cancel()
				return fmt.Errorf("insert %s for file %d: %w", table, w.fileID, err)
			}
			log.Warn("duckdb: chunk insert failed, retrying per record",
				zap.String("table", table), zap.Int("records", len(rows)), zap.Error(err))
			for _, row := range rows {
				if rerr := s.insertTx(ctx, query, [][]any{row}); rerr != nil {
					dropped++
					log.Warn("duckdb: dropping record", zap.String("table", table), zap.Any("id", row[1]), zap.Error(rerr))
				}
			}
		}
		cancel()
	}
	if dropped == len(items) {
		return fmt.Errorf("insert %s for file %d: all %d records failed", table, w.fileID, dropped)
	}
	if dropped > 0 {
		log.Warn("duckdb: batch partially failed", zap.String("table", table), zap.Int("dropped", dropped), zap.Int("total", len(items)))
	}
	return nil
}

// insertTx inserts rows in a single transaction.
func (s *Store) insertTx(ctx context.Context, query string, rows [][]any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return fmt.Errorf("record insert: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

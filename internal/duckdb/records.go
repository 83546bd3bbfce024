package duckdb

import (
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/tinytelemetry/rutrace/internal/model"
)

// where accumulates AND-ed conditions and their arguments.
type where struct {
	conds []string
	args  []any
}

func scopedTo(fileID int64) *where {
	return &where{conds: []string{"file_id = ?"}, args: []any{fileID}}
}

func (w *where) eq(column, value string) {
	if value == "" {
		return
	}
	w.conds = append(w.conds, column+" = ?")
	w.args = append(w.args, value)
}

// contains adds a case-insensitive substring condition.
func (w *where) contains(column, value string) {
	if value == "" {
		return
	}
	w.conds = append(w.conds, "contains(lower("+column+"), lower(?))")
	w.args = append(w.args, value)
}

func (w *where) String() string {
	return "WHERE " + strings.Join(w.conds, " AND ")
}

const messageColumns = `id, line_number, timestamp, session_id, host, message_id, message_type,
	direction, operation, yang_module, response_time_ms, has_response, is_error`

func scanMessage(row rowScanner, withContent bool) (model.Message, error) {
	var (
		m                          model.Message
		ts                         sql.NullTime
		host, msgID, op, mod, body sql.NullString
		kind, dir                  string
		latency                    sql.NullFloat64
	)
	dest := []any{&m.ID, &m.LineNumber, &ts, &m.SessionID, &host, &msgID, &kind,
		&dir, &op, &mod, &latency, &m.Responded, &m.IsError}
	if withContent {
		dest = append(dest, &body)
	}
	if err := row.Scan(dest...); err != nil {
		return m, err
	}
	m.Timestamp = timePtr(ts)
	m.Host = host.String
	m.MessageID = msgID.String
	m.Kind = model.MessageKind(kind)
	m.Direction = model.Direction(dir)
	m.Operation = op.String
	m.Module = mod.String
	m.LatencyMS = floatPtr(latency)
	m.Content = body.String
	return m, nil
}

// ListMessages returns one page of a file's messages and the total match count.
// Listings omit the raw content; GetMessage includes it.
func (s *Store) ListMessages(fileID int64, f model.MessageFilter) ([]model.Message, int64, error) {
	w := scopedTo(fileID)
	w.eq("message_type", string(f.Kind))
	w.eq("direction", string(f.Direction))
	w.contains("operation", f.Operation)
	w.contains("xml_content", f.Keyword)

	order := "line_number, id"
	if f.SortBy == "response_time" {
		dir := "ASC"
		if f.Desc {
			dir = "DESC"
		}
		order = "response_time_ms " + dir + " NULLS LAST, line_number, id"
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rpc_messages `+w.String(), w.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count messages: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM rpc_messages %s ORDER BY %s LIMIT ? OFFSET ?`, messageColumns, w, order)
	rows, err := s.db.QueryContext(ctx, query, append(w.args, f.Limit(), f.Offset())...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	msgs := []model.Message{}
	for rows.Next() {
		m, err := scanMessage(rows, false)
		if err != nil {
			s.logger().Warn("duckdb: scan error", zap.String("query", "ListMessages"), zap.Error(err))
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, total, rows.Err()
}

// GetMessage returns one message with its raw content.
func (s *Store) GetMessage(fileID, id int64) (*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+`, xml_content FROM rpc_messages WHERE file_id = ? AND id = ?`, fileID, id)
	m, err := scanMessage(row, true)
	if err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

const errorColumns = `id, rpc_message_id, line_number, timestamp, session_id, error_type, error_layer,
	error_tag, error_severity, error_message, error_path, fault_id, fault_source, is_cleared, xml_content`

func scanError(row rowScanner) (model.ErrorEvent, error) {
	var (
		e                                      model.ErrorEvent
		ref                                    sql.NullInt64
		ts                                     sql.NullTime
		kind                                   string
		layer, tag, sev, text, path, fid, fsrc sql.NullString
		body                                   sql.NullString
	)
	if err := row.Scan(&e.ID, &ref, &e.LineNumber, &ts, &e.SessionID, &kind, &layer,
		&tag, &sev, &text, &path, &fid, &fsrc, &e.Cleared, &body); err != nil {
		return e, err
	}
	e.MessageRef = ref.Int64
	e.Timestamp = timePtr(ts)
	e.Kind = model.ErrorKind(kind)
	e.Layer = layer.String
	e.Tag = tag.String
	e.Severity = sev.String
	e.Text = text.String
	e.Path = path.String
	e.FaultID = fid.String
	e.FaultSource = fsrc.String
	e.Content = body.String
	return e, nil
}

// ListErrors returns one page of a file's errors in line order.
func (s *Store) ListErrors(fileID int64, f model.ErrorFilter) ([]model.ErrorEvent, int64, error) {
	w := scopedTo(fileID)
	w.eq("error_type", string(f.Kind))

	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM error_messages `+w.String(), w.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count errors: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM error_messages %s ORDER BY line_number, id LIMIT ? OFFSET ?`, errorColumns, w)
	rows, err := s.db.QueryContext(ctx, query, append(w.args, f.Limit(), f.Offset())...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	errs := []model.ErrorEvent{}
	for rows.Next() {
		e, err := scanError(rows)
		if err != nil {
			s.logger().Warn("duckdb: scan error", zap.String("query", "ListErrors"), zap.Error(err))
			continue
		}
		errs = append(errs, e)
	}
	return errs, total, rows.Err()
}

// GetError returns one error event.
func (s *Store) GetError(fileID, id int64) (*model.ErrorEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	e, err := scanError(s.db.QueryRowContext(ctx, `SELECT `+errorColumns+` FROM error_messages WHERE file_id = ? AND id = ?`, fileID, id))
	if err != nil {
		return nil, notFound(err)
	}
	return &e, nil
}

const carrierColumns = `id, rpc_message_id, line_number, timestamp, session_id, event_type, carrier_type,
	carrier_name, state, previous_state, operation, direction, message_type, carrier_details, xml_content`

func (s *Store) scanCarrier(row rowScanner) (model.CarrierEvent, error) {
	var (
		c                        model.CarrierEvent
		ref                      sql.NullInt64
		ts                       sql.NullTime
		kind, dir, msgKind       string
		state, prev, op, details sql.NullString
		body                     sql.NullString
	)
	if err := row.Scan(&c.ID, &ref, &c.LineNumber, &ts, &c.SessionID, &kind, &c.CarrierType,
		&c.CarrierName, &state, &prev, &op, &dir, &msgKind, &details, &body); err != nil {
		return c, err
	}
	c.MessageRef = ref.Int64
	c.Timestamp = timePtr(ts)
	c.Kind = model.CarrierEventKind(kind)
	c.State = state.String
	c.PreviousState = prev.String
	c.Operation = op.String
	c.Direction = model.Direction(dir)
	c.MessageKind = model.MessageKind(msgKind)
	c.Content = body.String
	if details.String != "" {
		c.Details = make(map[string]string)
		if err := parseJSONMap(details.String, c.Details); err != nil {
			s.logger().Warn("duckdb: bad carrier details", zap.Int64("id", c.ID), zap.Error(err))
		}
	}
	return c, nil
}

func (s *Store) queryCarriers(query string, args ...any) ([]model.CarrierEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []model.CarrierEvent{}
	for rows.Next() {
		c, err := s.scanCarrier(rows)
		if err != nil {
			s.logger().Warn("duckdb: scan error", zap.String("query", "carrier_events"), zap.Error(err))
			continue
		}
		events = append(events, c)
	}
	return events, rows.Err()
}

// ListCarrierEvents returns one page of a file's carrier events in line order.
func (s *Store) ListCarrierEvents(fileID int64, f model.CarrierFilter) ([]model.CarrierEvent, int64, error) {
	w := scopedTo(fileID)
	w.eq("carrier_type", f.CarrierType)
	w.eq("event_type", string(f.Kind))
	w.contains("carrier_name", f.Name)
	w.eq("direction", string(f.Direction))

	var total int64
	if err := s.countRows(`SELECT COUNT(*) FROM carrier_events `+w.String(), w.args, &total); err != nil {
		return nil, 0, fmt.Errorf("count carrier events: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM carrier_events %s ORDER BY line_number, id LIMIT ? OFFSET ?`, carrierColumns, w)
	events, err := s.queryCarriers(query, append(w.args, f.Limit(), f.Offset())...)
	return events, total, err
}

func (s *Store) countRows(query string, args []any, dest *int64) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()
	return s.db.QueryRowContext(ctx, query, args...).Scan(dest)
}

// GetCarrierEvent returns one carrier event.
func (s *Store) GetCarrierEvent(fileID, id int64) (*model.CarrierEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	c, err := s.scanCarrier(s.db.QueryRowContext(ctx, `SELECT `+carrierColumns+` FROM carrier_events WHERE file_id = ? AND id = ?`, fileID, id))
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

// CarrierTimeline returns every event of one named carrier in time order.
func (s *Store) CarrierTimeline(fileID int64, name string) ([]model.CarrierEvent, error) {
	return s.queryCarriers(`SELECT `+carrierColumns+` FROM carrier_events
		WHERE file_id = ? AND carrier_name = ?
		ORDER BY timestamp NULLS LAST, line_number, id`, fileID, name)
}

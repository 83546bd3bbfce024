package duckdb

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tinytelemetry/rutrace/internal/model"
)

// groupCounts runs a two-column (key, count) query into a map.
func (s *Store) groupCounts(ctx context.Context, query string, args ...any) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var key string
		var n int64
		if err := rows.Scan(&key, &n); err != nil {
			return nil, err
		}
		out[key] = n
	}
	return out, rows.Err()
}

// Statistics summarizes one file's messages, errors and reply latencies.
func (s *Store) Statistics(fileID int64) (*model.ParseStatistics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	f, err := s.getFile(ctx, s.db, fileID)
	if err != nil {
		return nil, err
	}
	st := &model.ParseStatistics{TotalLines: f.Lines, TotalMessages: f.Messages}

	kinds, err := s.groupCounts(ctx, `SELECT message_type, COUNT(*) FROM rpc_messages WHERE file_id = ? GROUP BY message_type`, fileID)
	if err != nil {
		return nil, fmt.Errorf("message kinds: %w", err)
	}
	st.RequestCount = kinds[string(model.KindRequest)]
	st.ReplyCount = kinds[string(model.KindReply)]
	st.NotificationCount = kinds[string(model.KindNotification)]

	if st.Operations, err = s.groupCounts(ctx, `SELECT operation, COUNT(*) FROM rpc_messages
		WHERE file_id = ? AND operation IS NOT NULL GROUP BY operation`, fileID); err != nil {
		return nil, fmt.Errorf("operations: %w", err)
	}
	if st.Directions, err = s.groupCounts(ctx, `SELECT direction, COUNT(*) FROM rpc_messages
		WHERE file_id = ? GROUP BY direction`, fileID); err != nil {
		return nil, fmt.Errorf("directions: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*), COUNT(*) FILTER (WHERE error_type = ?)
		FROM error_messages WHERE file_id = ?`, string(model.ErrorFault), fileID).Scan(&st.ErrorCount, &st.FaultCount)
	if err != nil {
		return nil, fmt.Errorf("error counts: %w", err)
	}

	var avg, maxMS, minMS sql.NullFloat64
	err = s.db.QueryRowContext(ctx, `SELECT avg(response_time_ms), max(response_time_ms), min(response_time_ms)
		FROM rpc_messages WHERE file_id = ? AND response_time_ms IS NOT NULL`, fileID).Scan(&avg, &maxMS, &minMS)
	if err != nil {
		return nil, fmt.Errorf("latency: %w", err)
	}
	st.AvgLatencyMS = floatPtr(avg)
	st.MaxLatencyMS = floatPtr(maxMS)
	st.MinLatencyMS = floatPtr(minMS)
	return st, nil
}

// CarrierStatistics summarizes one file's carrier events.
func (s *Store) CarrierStatistics(fileID int64) (*model.CarrierStatistics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	if _, err := s.getFile(ctx, s.db, fileID); err != nil {
		return nil, err
	}

	st := &model.CarrierStatistics{CarrierNames: []string{}}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM carrier_events WHERE file_id = ?`, fileID).Scan(&st.TotalEvents); err != nil {
		return nil, fmt.Errorf("carrier total: %w", err)
	}

	var err error
	if st.ByCarrierType, err = s.groupCounts(ctx, `SELECT carrier_type, COUNT(*) FROM carrier_events
		WHERE file_id = ? GROUP BY carrier_type`, fileID); err != nil {
		return nil, fmt.Errorf("carrier types: %w", err)
	}
	if st.ByEventType, err = s.groupCounts(ctx, `SELECT event_type, COUNT(*) FROM carrier_events
		WHERE file_id = ? GROUP BY event_type`, fileID); err != nil {
		return nil, fmt.Errorf("carrier event types: %w", err)
	}
	if st.ByState, err = s.groupCounts(ctx, `SELECT state, COUNT(*) FROM carrier_events
		WHERE file_id = ? AND state IS NOT NULL GROUP BY state`, fileID); err != nil {
		return nil, fmt.Errorf("carrier states: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT carrier_name FROM carrier_events
		WHERE file_id = ? ORDER BY carrier_name`, fileID)
	if err != nil {
		return nil, fmt.Errorf("carrier names: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		st.CarrierNames = append(st.CarrierNames, name)
	}
	return st, rows.Err()
}

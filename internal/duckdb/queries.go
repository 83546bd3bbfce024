package duckdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/tinytelemetry/rutrace/internal/model"
)

// writeKeywords are statements a read-only query must never contain,
// wherever they appear.
var writeKeywords = regexp.MustCompile(
	`(?i)\b(INSERT|UPDATE|DELETE|DROP|CREATE|ALTER|TRUNCATE|COPY|ATTACH|DETACH|LOAD|EXPORT|IMPORT|INSTALL|CALL|EXECUTE|PRAGMA|SET|CHECKPOINT)\b`,
)

// fileFunctions are DuckDB table functions that read the host filesystem
// or the network.
var fileFunctions = regexp.MustCompile(
	`(?i)\b(read_\w+|glob|parquet_\w+|sniff_csv|iceberg_\w+|delta_scan|sqlite_scan|postgres_scan|mysql_scan)\s*\(`,
)

var blockComment = regexp.MustCompile(`/\*[\s\S]*?\*/`)

// stripSQLComments removes -- line comments and /* */ block comments.
func stripSQLComments(query string) string {
	var b strings.Builder
	for line := range strings.SplitSeq(blockComment.ReplaceAllString(query, " "), "\n") {
		if i := strings.Index(line, "--"); i >= 0 {
			line = line[:i]
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return strings.TrimSpace(b.String())
}

// checkReadOnly rejects anything but a single SELECT or WITH statement
// over the trace tables.
func checkReadOnly(query string) error {
	if strings.Contains(query, ";") {
		return errors.New("query must not contain semicolons")
	}
	stripped := stripSQLComments(query)
	upper := strings.ToUpper(stripped)
	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return errors.New("only SELECT/WITH queries are allowed")
	}
	if m := writeKeywords.FindString(stripped); m != "" {
		return fmt.Errorf("query contains disallowed keyword: %s", strings.ToUpper(m))
	}
	if m := fileFunctions.FindStringSubmatch(stripped); m != nil {
		return fmt.Errorf("query calls disallowed function: %s", strings.ToLower(m[1]))
	}
	return nil
}

// ExecuteQuery runs a read-only query and returns at most limit rows, with
// columns in select order. A limit of zero or less means DefaultQueryRows.
func (s *Store) ExecuteQuery(ctx context.Context, query string, limit int) (model.QueryResult, error) {
	var res model.QueryResult
	query = strings.TrimSpace(query)
	if err := checkReadOnly(query); err != nil {
		return res, err
	}
	if limit <= 0 {
		limit = model.DefaultQueryRows
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, s.QueryTimeout)
	defer cancel()
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return res, err
	}
	defer rows.Close()

	if res.Columns, err = rows.Columns(); err != nil {
		return res, err
	}
	res.Rows = [][]any{}
	for rows.Next() {
		if len(res.Rows) == limit {
			res.Truncated = true
			break
		}
		values := make([]any, len(res.Columns))
		ptrs := make([]any, len(values))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			s.logger().Warn("scan query row", zap.Error(err))
			continue
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		res.Rows = append(res.Rows, values)
	}
	return res, rows.Err()
}

// GetSchemaDescription returns a human-readable schema description for ad-hoc queries.
func (s *Store) GetSchemaDescription() string {
	return `Table 'log_files': id (BIGINT), filename (VARCHAR), original_filename (VARCHAR), ` +
		`file_size (BIGINT), upload_time (TIMESTAMP), parse_status (VARCHAR: pending/parsing/completed/failed), ` +
		`parse_error (VARCHAR), total_lines (INTEGER), total_messages (INTEGER), error_count (INTEGER). ` +
		`Table 'rpc_messages': file_id (BIGINT), id (BIGINT), line_number (INTEGER), timestamp (TIMESTAMP), ` +
		`session_id (INTEGER), host (VARCHAR), message_id (VARCHAR), message_type (VARCHAR: rpc/rpc-reply/notification), ` +
		`direction (VARCHAR: DU->RU/RU->DU), operation (VARCHAR), yang_module (VARCHAR), response_time_ms (DOUBLE), ` +
		`has_response (BOOLEAN), is_error (BOOLEAN), xml_content (VARCHAR). ` +
		`Table 'error_messages': file_id, id, rpc_message_id (-> rpc_messages.id), line_number, timestamp, session_id, ` +
		`error_type (VARCHAR: rpc-error/fault), error_layer, error_tag, error_severity, error_message, error_path, ` +
		`fault_id, fault_source, is_cleared (BOOLEAN), xml_content. ` +
		`Table 'carrier_events': file_id, id, rpc_message_id, line_number, timestamp, session_id, ` +
		`event_type (VARCHAR: create/update/delete/state-change/query/data), carrier_type, carrier_name, state, ` +
		`previous_state, operation, direction, message_type, carrier_details (JSON object), xml_content.`
}

// TableRowCounts returns the row count for each known table using a hardcoded allowlist.
func (s *Store) TableRowCounts() (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	allowedTables := []string{"log_files", "rpc_messages", "error_messages", "carrier_events"}
	counts := make(map[string]int64, len(allowedTables))

	for _, table := range allowedTables {
		var count int64
		// Table names are hardcoded constants, not user input.
		err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count)
		if err != nil {
			continue
		}
		counts[table] = count
	}
	return counts, nil
}

// parseJSONMap parses a JSON object into a map[string]string.
func parseJSONMap(jsonStr string, dest map[string]string) error {
	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(jsonStr), &raw); err != nil {
		return err
	}
	for k, v := range raw {
		dest[k] = fmt.Sprintf("%v", v)
	}
	return nil
}

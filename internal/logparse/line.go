package logparse

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tinytelemetry/rutrace/internal/model"
)

// TimestampLayout is the fixed millisecond UTC layout of trace line timestamps.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// lineRegex matches one trace record:
//
//	2024-05-01T10:00:00.123Z INFO: [10.0.0.2:830] Session 7: Sending message: <rpc ...
//
// The severity colon is optional.
var lineRegex = regexp.MustCompile(
	`^(\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d{3}Z)\s+(\w+):?\s+\[([^\]]+)\]\s+Session\s+(\d+):\s*(.*)$`)

var directionRegex = regexp.MustCompile(`^(Sending|Received)\s+message:(.*)$`)

// Record is one matched trace line. Timestamp is nil when the timestamp
// token has the right shape but is not a valid instant.
type Record struct {
	Timestamp *time.Time
	Severity  string
	Level     string
	Host      string
	SessionID int
	Text      string
}

// MatchLine parses one raw trace line. It reports false for lines that do
// not have the record shape; those are not errors.
func MatchLine(line string) (Record, bool) {
	m := lineRegex.FindStringSubmatch(strings.TrimRight(line, "\r\n"))
	if m == nil {
		return Record{}, false
	}
	session, err := strconv.Atoi(m[4])
	if err != nil {
		// digits only, so this is overflow
		return Record{}, false
	}
	rec := Record{
		Severity:  m[2],
		Level:     NormalizeSeverity(m[2]),
		Host:      m[3],
		SessionID: session,
		Text:      m[5],
	}
	if ts, err := time.Parse(TimestampLayout, m[1]); err == nil {
		rec.Timestamp = &ts
	}
	return rec, true
}

// SplitDirection detects the send/receive marker at the start of a record's
// text and returns the direction and the trimmed markup payload.
func SplitDirection(text string) (model.Direction, string, bool) {
	m := directionRegex.FindStringSubmatch(text)
	if m == nil {
		return "", "", false
	}
	dir := model.FromRadio
	if m[1] == "Sending" {
		dir = model.ToRadio
	}
	return dir, strings.TrimSpace(m[2]), true
}

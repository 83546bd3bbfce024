package logparse

import "strings"

// Normalized severity levels carried on a Record.
const (
	LevelTrace = "TRACE"
	LevelDebug = "DEBUG"
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
	LevelFatal = "FATAL"
)

var severityAliases = map[string]string{
	"TRACE": LevelTrace, "TRAC": LevelTrace, "TRC": LevelTrace,
	"DEBUG": LevelDebug, "DEBU": LevelDebug, "DBG": LevelDebug,
	"INFO": LevelInfo, "INFORMATION": LevelInfo, "INF": LevelInfo, "NOTICE": LevelInfo,
	"WARN": LevelWarn, "WARNING": LevelWarn, "WRN": LevelWarn,
	"ERROR": LevelError, "ERR": LevelError, "ERRO": LevelError,
	"FATAL": LevelFatal, "CRITICAL": LevelFatal, "CRIT": LevelFatal, "PANIC": LevelFatal,
}

// NormalizeSeverity maps the severity token of a trace line to one of the
// Level constants. A trailing colon is ignored. Unknown tokens map to INFO.
func NormalizeSeverity(severity string) string {
	s := strings.ToUpper(strings.TrimSpace(severity))
	s = strings.TrimSuffix(s, ":")
	if lvl, ok := severityAliases[s]; ok {
		return lvl
	}
	if len(s) >= 4 {
		if lvl, ok := severityAliases[s[:4]]; ok {
			return lvl
		}
	}
	return LevelInfo
}

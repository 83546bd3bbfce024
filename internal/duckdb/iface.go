package duckdb

import "github.com/tinytelemetry/rutrace/internal/model"

var (
	_ model.FileStore     = (*Store)(nil)
	_ model.RecordQuerier = (*Store)(nil)
	_ model.SchemaQuerier = (*Store)(nil)
	_ model.ReadAPI       = (*Store)(nil)
)

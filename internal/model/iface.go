package model

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a requested file or record does not exist.
var ErrNotFound = errors.New("not found")

// Page selects one page of a listing. Page is 1-based.
type Page struct {
	Page     int
	PageSize int
}

// Offset returns the row offset for the page, clamping invalid values.
func (p Page) Offset() int {
	if p.Page < 1 {
		return 0
	}
	return (p.Page - 1) * p.Limit()
}

// Limit returns the page size, falling back to DefaultPageSize.
func (p Page) Limit() int {
	if p.PageSize <= 0 {
		return DefaultPageSize
	}
	return p.PageSize
}

// MessageFilter holds optional filters for message listings.
type MessageFilter struct {
	Page
	Kind      MessageKind
	Direction Direction
	Operation string // substring match
	Keyword   string // substring match on raw content
	SortBy    string // "response_time" or empty for line order
	Desc      bool
}

// ErrorFilter holds optional filters for error listings.
type ErrorFilter struct {
	Page
	Kind ErrorKind
}

// CarrierFilter holds optional filters for carrier event listings.
type CarrierFilter struct {
	Page
	CarrierType string
	Kind        CarrierEventKind
	Name        string // substring match
	Direction   Direction
}

// FileStore manages stored trace files and their parse status.
type FileStore interface {
	CreateFile(f *LogFile) (int64, error)
	GetFile(id int64) (*LogFile, error)
	ListFiles() ([]LogFile, error)
	DeleteFile(id int64) (*LogFile, error)
	MarkParsing(id int64) error
	MarkCompleted(id int64, counts Counts) error
	MarkFailed(id int64, counts Counts, cause error) error
	ResetRecords(id int64) error
	UnfinishedFiles() ([]LogFile, error)
}

// RecordQuerier provides read-only queries over parsed records.
type RecordQuerier interface {
	ListMessages(fileID int64, f MessageFilter) ([]Message, int64, error)
	GetMessage(fileID, id int64) (*Message, error)
	ListErrors(fileID int64, f ErrorFilter) ([]ErrorEvent, int64, error)
	GetError(fileID, id int64) (*ErrorEvent, error)
	ListCarrierEvents(fileID int64, f CarrierFilter) ([]CarrierEvent, int64, error)
	GetCarrierEvent(fileID, id int64) (*CarrierEvent, error)
	Statistics(fileID int64) (*ParseStatistics, error)
	CarrierStatistics(fileID int64) (*CarrierStatistics, error)
	CarrierTimeline(fileID int64, name string) ([]CarrierEvent, error)
}

// SchemaQuerier provides schema introspection and arbitrary read-only queries.
type SchemaQuerier interface {
	ExecuteQuery(ctx context.Context, query string, limit int) (QueryResult, error)
	GetSchemaDescription() string
	TableRowCounts() (map[string]int64, error)
}

// ReadAPI is the unified read contract for the HTTP surface.
type ReadAPI interface {
	RecordQuerier
	SchemaQuerier
}

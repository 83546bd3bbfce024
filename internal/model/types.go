package model

import "time"

// MessageKind is the top-level NETCONF element a message was classified as.
type MessageKind string

const (
	KindRequest      MessageKind = "rpc"
	KindReply        MessageKind = "rpc-reply"
	KindNotification MessageKind = "notification"
)

// Direction is the flow of a message between the DU and the RU.
type Direction string

const (
	ToRadio   Direction = "DU->RU" // "Sending message:"
	FromRadio Direction = "RU->DU" // "Received message:"
)

// ErrorKind classifies an ErrorEvent.
type ErrorKind string

const (
	ErrorProtocol ErrorKind = "rpc-error"
	ErrorFault    ErrorKind = "fault"
	ErrorWarning  ErrorKind = "warning"
)

// CarrierEventKind is the lifecycle change a CarrierEvent describes.
type CarrierEventKind string

const (
	CarrierCreate      CarrierEventKind = "create"
	CarrierUpdate      CarrierEventKind = "update"
	CarrierDelete      CarrierEventKind = "delete"
	CarrierStateChange CarrierEventKind = "state-change"
	CarrierQuery       CarrierEventKind = "query"
	CarrierData        CarrierEventKind = "data"
)

// ParseStatus is the lifecycle state of one parse run.
type ParseStatus string

const (
	StatusPending   ParseStatus = "pending"
	StatusParsing   ParseStatus = "parsing"
	StatusCompleted ParseStatus = "completed"
	StatusFailed    ParseStatus = "failed"
)

// Message is one fully reassembled NETCONF exchange unit.
// ID is the 1-based position of the message within its parse run.
// LatencyMS and Responded are set on a request once its reply is seen;
// the reply carries a copy of the latency for display.
type Message struct {
	ID         int64       `json:"id"`
	LineNumber int         `json:"line_number"`
	Timestamp  *time.Time  `json:"timestamp"`
	SessionID  int         `json:"session_id"`
	Host       string      `json:"host"`
	MessageID  string      `json:"message_id,omitempty"`
	Kind       MessageKind `json:"message_type"`
	Direction  Direction   `json:"direction"`
	Operation  string      `json:"operation,omitempty"`
	Module     string      `json:"yang_module,omitempty"`
	LatencyMS  *float64    `json:"response_time_ms"`
	Responded  bool        `json:"has_response"`
	IsError    bool        `json:"is_error"`
	Content    string      `json:"xml_content,omitempty"`
}

// ErrorEvent is one protocol error or fault condition.
type ErrorEvent struct {
	ID          int64      `json:"id"`
	MessageRef  int64      `json:"rpc_message_id,omitempty"`
	LineNumber  int        `json:"line_number"`
	Timestamp   *time.Time `json:"timestamp"`
	SessionID   int        `json:"session_id"`
	Kind        ErrorKind  `json:"error_type"`
	Layer       string     `json:"error_layer,omitempty"` // rpc-error error-type: transport/rpc/protocol/application
	Tag         string     `json:"error_tag,omitempty"`
	Severity    string     `json:"error_severity,omitempty"`
	Text        string     `json:"error_message,omitempty"`
	Path        string     `json:"error_path,omitempty"`
	FaultID     string     `json:"fault_id,omitempty"`
	FaultSource string     `json:"fault_source,omitempty"`
	Cleared     bool       `json:"is_cleared"`
	Content     string     `json:"xml_content,omitempty"`
}

// CarrierEvent is one observed state or lifecycle change of a radio resource.
// PreviousState is never populated by the engine.
type CarrierEvent struct {
	ID            int64             `json:"id"`
	MessageRef    int64             `json:"rpc_message_id,omitempty"`
	LineNumber    int               `json:"line_number"`
	Timestamp     *time.Time        `json:"timestamp"`
	SessionID     int               `json:"session_id"`
	Kind          CarrierEventKind  `json:"event_type"`
	CarrierType   string            `json:"carrier_type"`
	CarrierName   string            `json:"carrier_name"`
	State         string            `json:"state,omitempty"`
	PreviousState string            `json:"previous_state,omitempty"`
	Operation     string            `json:"operation"`
	Direction     Direction         `json:"direction"`
	MessageKind   MessageKind       `json:"message_type"`
	Details       map[string]string `json:"carrier_details,omitempty"`
	Content       string            `json:"xml_content,omitempty"`
}

// Counts is the summary a parse run reports for status tracking.
type Counts struct {
	Lines    int `json:"total_lines"`
	Messages int `json:"total_messages"`
	Errors   int `json:"error_count"`
}

// LogFile is one stored trace file and the state of its parse run.
type LogFile struct {
	ID               int64       `json:"id"`
	Filename         string      `json:"filename"`
	OriginalFilename string      `json:"original_filename"`
	Path             string      `json:"-"`
	Size             int64       `json:"file_size"`
	UploadTime       time.Time   `json:"upload_time"`
	Status           ParseStatus `json:"parse_status"`
	ParseError       string      `json:"parse_error,omitempty"`
	Counts
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// ParseStatistics summarizes the messages and errors of one file.
type ParseStatistics struct {
	TotalLines        int              `json:"total_lines"`
	TotalMessages     int              `json:"total_messages"`
	RequestCount      int64            `json:"rpc_count"`
	ReplyCount        int64            `json:"rpc_reply_count"`
	NotificationCount int64            `json:"notification_count"`
	ErrorCount        int64            `json:"error_count"`
	FaultCount        int64            `json:"fault_count"`
	Operations        map[string]int64 `json:"operation_stats"`
	Directions        map[string]int64 `json:"direction_stats"`
	AvgLatencyMS      *float64         `json:"avg_response_time_ms"`
	MaxLatencyMS      *float64         `json:"max_response_time_ms"`
	MinLatencyMS      *float64         `json:"min_response_time_ms"`
}

// CarrierStatistics summarizes the carrier events of one file.
type CarrierStatistics struct {
	TotalEvents   int64            `json:"total_events"`
	ByCarrierType map[string]int64 `json:"by_carrier_type"`
	ByEventType   map[string]int64 `json:"by_event_type"`
	ByState       map[string]int64 `json:"by_state"`
	CarrierNames  []string         `json:"carrier_names"`
}

// QueryResult is the outcome of an ad-hoc read-only query.
type QueryResult struct {
	Columns   []string `json:"columns"`
	Rows      [][]any  `json:"rows"`
	Truncated bool     `json:"truncated"`
}

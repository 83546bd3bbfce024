package model

import "time"

// Shared defaults used by the server and the offline CLI.
const (
	DefaultPageSize     = 50
	MaxMessagePageSize  = 200
	MaxCarrierPageSize  = 1000
	DefaultMaxFileSize  = 100 << 20
	DefaultParseTimeout = 10 * time.Minute
	DefaultQueryRows    = 1000
	MaxQueryRows        = 10000
)

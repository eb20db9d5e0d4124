package ingest

import "errors"

var (
	// ErrAgentUnavailable means the search agent call itself failed.
	ErrAgentUnavailable = errors.New("search agent unavailable")
	// ErrInvalidFormat means the agent answered but not with a JSON array.
	ErrInvalidFormat = errors.New("invalid data format received from intelligence agent")
)

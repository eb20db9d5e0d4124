package delivery

import (
	"time"

	"github.com/JakeFAU/importscout/internal/lead"
)

// TimestampLayout is ISO-8601 with millisecond precision, always rendered in UTC.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Probe envelope constants.
const (
	ProbeType    = "TEST_PING"
	ProbeMessage = "Connection operational. Hello from ImportScout!"
)

// DefaultSource labels batch envelopes when no source is configured.
const DefaultSource = "ImportScout App"

// BatchEnvelope is the body sent by DispatchBatch.
type BatchEnvelope struct {
	Source    string      `json:"source"`
	Timestamp string      `json:"timestamp"`
	User      string      `json:"user,omitempty"`
	Leads     []lead.Lead `json:"leads"`
}

// ProbeEnvelope is the body sent by Probe.
type ProbeEnvelope struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Package progress defines the events emitted by ingestion runs and deliveries.
package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart Stage = "RUN_START"
	StageRunState Stage = "RUN_STATE"
	StageRunDone  Stage = "RUN_DONE"
	StageRunError Stage = "RUN_ERROR"
	StageDelivery Stage = "DELIVERY"
)

// Event captures a single ingestion or delivery milestone.
type Event struct {
	// ID is the run ID for RUN_* stages and the delivery ID for DELIVERY.
	ID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// State is the pipeline state entered (RUN_STATE only).
	State string
	// Product, Region and Limit describe the query (RUN_START only).
	Product string
	Region  string
	Limit   int
	// Leads is the number of leads produced or delivered.
	Leads int
	// ArchiveURI locates the archived raw agent response, if any.
	ArchiveURI string
	// Kind is "batch" or "probe" for deliveries.
	Kind string
	// Outcome is the delivery outcome label.
	Outcome string
	// Host is the webhook host; full URLs are never recorded.
	Host string
	// Dur captures run or delivery latency.
	Dur time.Duration
	// Note carries low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.ID == "" {
		return errors.New("event id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError:
	case StageRunState:
		if e.State == "" {
			return errors.New("run state requires state")
		}
	case StageDelivery:
		if e.Kind == "" {
			return errors.New("delivery requires kind")
		}
		if e.Outcome == "" {
			return errors.New("delivery requires outcome")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	if e.Leads < 0 {
		return errors.New("leads must be >= 0")
	}
	return nil
}

// Package store declares interfaces for persisting ingestion run and delivery history.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("run record not found")

// RunStatus mirrors the ingestion_runs status column.
type RunStatus string

// Run statuses persisted in ingestion_runs.status.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// Run models one ingestion run for API responses.
type Run struct {
	ID      string
	Product string
	Region  string
	Limit   int
	// StartedAt captures when the run was first marked running.
	StartedAt time.Time
	// FinishedAt is nil until the run is marked success/error.
	FinishedAt *time.Time
	Status     RunStatus
	LeadCount  int
	// ArchiveURI locates the raw agent response when archiving succeeded.
	ArchiveURI   *string
	ErrorMessage *string
}

// Delivery models one webhook dispatch or probe.
type Delivery struct {
	ID           string
	Kind         string
	EndpointHost string
	Outcome      string
	LeadCount    int
	DeliveredAt  time.Time
	Duration     time.Duration
	ErrorMessage *string
}

// RunCompletion carries the terminal fields written when a run finishes.
type RunCompletion struct {
	FinishedAt   time.Time
	Status       RunStatus
	LeadCount    int
	ArchiveURI   *string
	ErrorMessage *string
}

// RunRepository persists ingestion runs and deliveries.
type RunRepository interface {
	// StartRun inserts a running row; repeated starts for the same ID are ignored.
	StartRun(ctx context.Context, run Run) error
	// CompleteRun marks the run finished or returns ErrNotFound.
	CompleteRun(ctx context.Context, runID string, completion RunCompletion) error
	// RecordDelivery appends a delivery row.
	RecordDelivery(ctx context.Context, delivery Delivery) error

	// GetRun loads a single run or returns ErrNotFound.
	GetRun(ctx context.Context, runID string) (Run, error)
	// ListRuns returns runs newest first, filtered by optional status.
	ListRuns(ctx context.Context, status *RunStatus, limit, offset int) ([]Run, error)
	// ListDeliveries returns deliveries newest first.
	ListDeliveries(ctx context.Context, limit, offset int) ([]Delivery, error)
}

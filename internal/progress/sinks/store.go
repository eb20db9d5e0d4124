package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/importscout/internal/progress"
	"github.com/JakeFAU/importscout/internal/store"
)

// StoreSink persists run lifecycle and delivery events via a
// store.RunRepository. State transitions are not persisted.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume writes events in order and stops at the first repository error.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	for _, evt := range batch {
		if err := s.consumeEvent(ctx, evt); err != nil {
			return err
		}
	}
	return nil
}

func (s *StoreSink) consumeEvent(ctx context.Context, evt progress.Event) error {
	switch evt.Stage {
	case progress.StageRunStart:
		run := store.Run{
			ID:        evt.ID,
			Product:   evt.Product,
			Region:    evt.Region,
			Limit:     evt.Limit,
			StartedAt: evt.TS,
			Status:    store.RunRunning,
		}
		if err := s.repo.StartRun(ctx, run); err != nil {
			return fmt.Errorf("start run: %w", err)
		}
	case progress.StageRunDone:
		completion := store.RunCompletion{
			FinishedAt: evt.TS,
			Status:     store.RunSuccess,
			LeadCount:  evt.Leads,
			ArchiveURI: optional(evt.ArchiveURI),
		}
		if err := s.repo.CompleteRun(ctx, evt.ID, completion); err != nil {
			return fmt.Errorf("complete run: %w", err)
		}
	case progress.StageRunError:
		completion := store.RunCompletion{
			FinishedAt:   evt.TS,
			Status:       store.RunError,
			ArchiveURI:   optional(evt.ArchiveURI),
			ErrorMessage: optional(evt.Note),
		}
		if err := s.repo.CompleteRun(ctx, evt.ID, completion); err != nil {
			return fmt.Errorf("complete run: %w", err)
		}
	case progress.StageDelivery:
		delivery := store.Delivery{
			ID:           evt.ID,
			Kind:         evt.Kind,
			EndpointHost: evt.Host,
			Outcome:      evt.Outcome,
			LeadCount:    evt.Leads,
			DeliveredAt:  evt.TS,
			Duration:     evt.Dur,
			ErrorMessage: optional(evt.Note),
		}
		if err := s.repo.RecordDelivery(ctx, delivery); err != nil {
			return fmt.Errorf("record delivery: %w", err)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

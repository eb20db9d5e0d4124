package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/importscout/internal/progress"
)

// LogSink emits structured logs for each progress event. It is useful during
// development when no run history store is configured.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event with only the fields relevant to its stage.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("id", evt.ID),
			zap.String("stage", string(evt.Stage)),
			zap.Time("ts", evt.TS),
		}
		switch evt.Stage {
		case progress.StageRunStart:
			fields = append(fields,
				zap.String("product", evt.Product),
				zap.String("region", evt.Region),
				zap.Int("limit", evt.Limit),
			)
		case progress.StageRunState:
			fields = append(fields, zap.String("state", evt.State))
		case progress.StageRunDone:
			fields = append(fields,
				zap.Int("leads", evt.Leads),
				zap.String("archive_uri", evt.ArchiveURI),
				zap.Duration("dur", evt.Dur),
			)
		case progress.StageRunError:
			fields = append(fields, zap.String("note", evt.Note), zap.Duration("dur", evt.Dur))
		case progress.StageDelivery:
			fields = append(fields,
				zap.String("kind", evt.Kind),
				zap.String("outcome", evt.Outcome),
				zap.String("host", evt.Host),
				zap.Int("leads", evt.Leads),
				zap.Duration("dur", evt.Dur),
				zap.String("note", evt.Note),
			)
		}
		s.logger.Info("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}

package events

import (
	"context"

	"go.uber.org/zap"

	"github.com/pitabwire/chargecfg/internal/observability"
)

// LogPublisher writes events to the request logger, or to its own logger
// when the context carries none.
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher creates a LogPublisher falling back to logger.
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogPublisher{logger: logger}
}

// Publish implements Publisher.
func (p *LogPublisher) Publish(ctx context.Context, e Event) error {
	observability.RequestLogger(ctx, p.logger).Info("domain event",
		zap.String("event_id", e.ID),
		zap.String("event_type", e.Type),
		zap.String("charge_code", e.ChargeCode),
		zap.String("subject_id", e.SubjectID),
		zap.Time("occurred_at", e.OccurredAt),
		zap.Any("payload", e.Payload),
	)
	return nil
}

// Close implements Publisher.
func (p *LogPublisher) Close() error {
	return nil
}

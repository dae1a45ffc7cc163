package events

import (
	"context"

	"go.uber.org/zap"
)

// LogPublisher writes events to the log. Used when no broker is configured.
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.Named("events")}
}

func (p *LogPublisher) Publish(_ context.Context, e Event) error {
	fields := []zap.Field{
		zap.String("event_id", e.ID.String()),
		zap.String("type", string(e.Type)),
		zap.String("plan_id", e.PlanID.String()),
		zap.String("amount", e.Amount.String()),
	}
	if e.PaymentID != nil {
		fields = append(fields, zap.String("payment_id", e.PaymentID.String()), zap.String("due_date", e.DueDate))
	}
	p.logger.Info("event", fields...)
	return nil
}

func (p *LogPublisher) Close() error { return nil }

package events

import (
	"context"
	"log/slog"
)

// LogPublisher stands in when no broker is configured. Events are logged and
// dropped.
type LogPublisher struct {
	log *slog.Logger
}

var _ Publisher = (*LogPublisher)(nil)

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{log: logger}
}

func (p *LogPublisher) Publish(_ context.Context, key string, msg Envelope) error {
	p.log.Info("event not published, no broker configured",
		slog.String("key", key),
		slog.String("event_id", msg.Meta.ID),
	)
	return nil
}

func (p *LogPublisher) Close() error { return nil }

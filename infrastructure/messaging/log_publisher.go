// Package messaging holds the event publishers that need no external bus.
package messaging

import (
	"context"

	"go.uber.org/zap"

	"lessonmap-backend/application/ports"
)

// LogPublisher writes commit events to the log instead of a bus. It is used
// when EVENTS_BACKEND is "none".
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogPublisher{logger: logger.Named("events")}
}

func (p *LogPublisher) PublishCommit(_ context.Context, event ports.CommitEvent) error {
	p.logger.Info("Graph committed",
		zap.String("graph_id", event.GraphID),
		zap.String("actor", event.Actor),
		zap.String("operation", event.Operation),
		zap.Int("version", event.Version),
		zap.Int("records", len(event.Records)),
	)
	return nil
}

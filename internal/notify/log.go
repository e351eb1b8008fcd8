package notify

import (
	"context"

	"github.com/rs/zerolog"
)

// LogNotifier writes events to the application log. Used when no outside channel is configured.
type LogNotifier struct {
	logger *zerolog.Logger
}

func NewLogNotifier(logger *zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Name() string { return "log" }

func (n *LogNotifier) Notify(_ context.Context, eventType string, payload []byte) error {
	n.logger.Info().Str("event_type", eventType).RawJSON("payload", payload).Msg("domain event")
	return nil
}

package worker

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-manager/internal/events"
)

// StartEventLogger writes every published ticket event to the log.
func StartEventLogger(dispatcher events.Dispatcher, logger *zap.Logger) {
	if dispatcher == nil {
		return
	}
	dispatcher.SubscribeAll(func(_ context.Context, event events.Event) error {
		fields := []zap.Field{
			zap.String("event_id", event.ID),
			zap.Any("payload", event.Payload),
		}
		if event.TicketID != 0 {
			fields = append(fields, zap.Int64("ticket_id", event.TicketID))
		}
		if event.Actor != "" {
			fields = append(fields, zap.String("actor", event.Actor))
		}
		logger.Info(string(event.Type), fields...)
		return nil
	})
}

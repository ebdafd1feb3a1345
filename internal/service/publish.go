package service

import (
	"context"
	"log/slog"

	"github.com/Reptilefury/prediction-markets-sub000/internal/events"
)

// eventSink публикует события без возврата ошибки вызывающему:
// неудачная публикация только логируется.
type eventSink struct {
	publisher events.Publisher
	logger    *slog.Logger
}

func (s *eventSink) set(p events.Publisher) {
	s.publisher = p
}

func (s *eventSink) emit(ctx context.Context, eventType, subject string, data any) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, events.New(eventType, subject, data)); err != nil {
		s.logger.Warn("Не удалось опубликовать событие",
			slog.String("type", eventType),
			slog.String("subject", subject),
			slog.String("error", err.Error()),
		)
	}
}

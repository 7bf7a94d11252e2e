package run

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/roadmapd/internal/events"
)

// EventSink persists a run's events to its log. Events must carry the
// "seq" field added by events.Sequence; events without one are dropped.
type EventSink struct {
	store  Store
	runID  string
	logger *zap.Logger
}

// NewEventSink creates a sink for one run.
func NewEventSink(store Store, runID string, logger *zap.Logger) *EventSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventSink{store: store, runID: runID, logger: logger}
}

func (s *EventSink) Emit(ctx context.Context, e events.Event) {
	seq, ok := e.Get("seq").(int64)
	if !ok {
		s.logger.Warn("run event without sequence number", zap.String("run_id", s.runID), zap.String("event_type", e.Type))
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.store.AppendEvent(ctx, s.runID, seq, e); err != nil {
		s.logger.Warn("failed to store run event",
			zap.String("run_id", s.runID),
			zap.String("event_type", e.Type),
			zap.Error(err))
	}
}

var _ events.Sink = (*EventSink)(nil)

package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/roadmapd/internal/logging"
)

// Sink receives run events.
type Sink interface {
	Emit(ctx context.Context, e Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e Event)

func (f SinkFunc) Emit(ctx context.Context, e Event) { f(ctx, e) }

// Nop discards events.
var Nop Sink = SinkFunc(func(context.Context, Event) {})

// OrNop returns s, or Nop when s is nil.
func OrNop(s Sink) Sink {
	if s == nil {
		return Nop
	}
	return s
}

type multi []Sink

// Multi fans an event out to every non-nil sink in order.
func Multi(sinks ...Sink) Sink {
	out := make(multi, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (m multi) Emit(ctx context.Context, e Event) {
	for _, s := range m {
		s.Emit(ctx, e)
	}
}

// Sequence stamps each event with an increasing "seq" field starting at 1.
// Use one per run.
func Sequence(next Sink) Sink {
	return &sequencer{next: OrNop(next)}
}

type sequencer struct {
	next Sink
	seq  atomic.Int64
}

func (s *sequencer) Emit(ctx context.Context, e Event) {
	s.next.Emit(ctx, e.With("seq", s.seq.Add(1)))
}

// LogSink writes events to a zap logger at debug level, warn for error events.
type LogSink struct {
	logger *logging.Logger
}

// NewLogSink creates a LogSink. A nil logger discards.
func NewLogSink(logger *logging.Logger) *LogSink {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Emit(ctx context.Context, e Event) {
	fields := []zap.Field{zap.String("event_type", e.Type), zap.Any("fields", e.Fields)}
	if strings.HasSuffix(e.Type, "_error") || e.Type == TypeLLMExtractionFallback {
		s.logger.Warn(ctx, "run event", fields...)
		return
	}
	s.logger.Debug(ctx, "run event", fields...)
}

// NATSSink publishes events as JSON to <prefix>.runs.<run_id>.events.
// The run ID comes from the event's run_id field or the context.
type NATSSink struct {
	conn   *nats.Conn
	prefix string
	logger *logging.Logger
}

// NewNATSSink creates a NATSSink. prefix defaults to "roadmapd".
func NewNATSSink(conn *nats.Conn, prefix string, logger *logging.Logger) *NATSSink {
	if prefix == "" {
		prefix = "roadmapd"
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &NATSSink{conn: conn, prefix: prefix, logger: logger}
}

// Subject returns the subject used for runID.
func (s *NATSSink) Subject(runID string) string {
	if runID == "" {
		runID = "unscoped"
	}
	return fmt.Sprintf("%s.runs.%s.events", s.prefix, runID)
}

func (s *NATSSink) Emit(ctx context.Context, e Event) {
	runID := e.String("run_id")
	if runID == "" {
		runID = logging.RunIDFromContext(ctx)
	}
	data, err := json.Marshal(e)
	if err != nil {
		s.logger.Warn(ctx, "failed to encode run event", zap.String("event_type", e.Type), zap.Error(err))
		return
	}
	if err := s.conn.Publish(s.Subject(runID), data); err != nil {
		s.logger.Warn(ctx, "failed to publish run event", zap.String("event_type", e.Type), zap.Error(err))
	}
}

// Recorder keeps every event in memory. Safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType returns recorded events of the given type.
func (r *Recorder) OfType(eventType string) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// Count returns how many events of the given type were recorded.
func (r *Recorder) Count(eventType string) int {
	return len(r.OfType(eventType))
}

package audit

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event is the canonical audit record emitted by the engine.
type Event struct {
	Timestamp  time.Time         `json:"timestamp"`
	EventType  string            `json:"event_type"`
	IdentityID string            `json:"identity_id,omitempty"`
	SessionID  string            `json:"session_id,omitempty"`
	IP         string            `json:"ip,omitempty"`
	Success    bool              `json:"success"`
	Error      string            `json:"error,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Sink receives emitted audit events.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// SinkFunc adapts a function to [Sink].
type SinkFunc func(ctx context.Context, event Event)

func (f SinkFunc) Emit(ctx context.Context, event Event) { f(ctx, event) }

// NoOpSink drops audit events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// ChannelSink writes audit events into a buffered channel.
type ChannelSink struct {
	events chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		events: make(chan Event, buffer),
	}
}

func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{
		writer: w,
	}
}

func (s *JSONWriterSink) Emit(ctx context.Context, event Event) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}

// ZapSink logs each event as one structured entry. Failed events are logged
// at warn level, the rest at info.
type ZapSink struct {
	logger *zap.Logger
}

func NewZapSink(logger *zap.Logger) *ZapSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapSink{logger: logger.Named("audit")}
}

func (s *ZapSink) Emit(_ context.Context, event Event) {
	if s == nil {
		return
	}
	fields := make([]zap.Field, 0, 6+len(event.Metadata))
	fields = append(fields,
		zap.Time("timestamp", event.Timestamp),
		zap.Bool("success", event.Success),
	)
	if event.IdentityID != "" {
		fields = append(fields, zap.String("identity_id", event.IdentityID))
	}
	if event.SessionID != "" {
		fields = append(fields, zap.String("session_id", event.SessionID))
	}
	if event.IP != "" {
		fields = append(fields, zap.String("ip", event.IP))
	}
	if event.Error != "" {
		fields = append(fields, zap.String("error", event.Error))
	}
	for k, v := range event.Metadata {
		fields = append(fields, zap.String("meta."+k, v))
	}

	if event.Success {
		s.logger.Info(event.EventType, fields...)
		return
	}
	s.logger.Warn(event.EventType, fields...)
}

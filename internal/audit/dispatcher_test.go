package audit

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type gateSink struct {
	gate chan struct{}
}

func newGateSink() *gateSink {
	return &gateSink{gate: make(chan struct{})}
}

func (s *gateSink) Emit(context.Context, Event) {
	<-s.gate
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestDispatcherDisabledIsNil(t *testing.T) {
	d := NewDispatcher(Config{Enabled: false}, NoOpSink{})
	if d != nil {
		t.Fatal("expected nil dispatcher when disabled")
	}
	// Nil receivers are safe.
	d.Emit(context.Background(), Event{EventType: "x"})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("expected zero drops on nil dispatcher")
	}
}

func TestDispatcherDeliversToSink(t *testing.T) {
	sink := NewChannelSink(4)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 4}, sink)
	defer d.Close()

	d.Emit(context.Background(), Event{EventType: "login_success", IdentityID: "id-1"})

	select {
	case ev := <-sink.Events():
		if ev.EventType != "login_success" || ev.IdentityID != "id-1" {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected event to be delivered")
	}
}

func TestDispatcherDropIfFullDoesNotBlock(t *testing.T) {
	sink := newGateSink()
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)
	defer func() {
		close(sink.gate)
		d.Close()
	}()

	d.Emit(context.Background(), Event{EventType: "e1"})
	d.Emit(context.Background(), Event{EventType: "e2"})

	start := time.Now()
	d.Emit(context.Background(), Event{EventType: "e3"})
	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("expected non-blocking emit when DropIfFull is true")
	}
	if d.Dropped() == 0 {
		t.Fatal("expected dropped counter to increment when queue is full")
	}
}

func TestDispatcherBlocksUntilSpace(t *testing.T) {
	sink := newGateSink()
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1}, sink)
	defer func() {
		close(sink.gate)
		d.Close()
	}()

	d.Emit(context.Background(), Event{EventType: "e1"})
	d.Emit(context.Background(), Event{EventType: "e2"})

	done := make(chan struct{})
	go func() {
		d.Emit(context.Background(), Event{EventType: "e3"})
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("expected emit to block while buffer is full")
	case <-time.After(150 * time.Millisecond):
	}

	sink.gate <- struct{}{}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected blocked emit to proceed after space is available")
	}
}

func TestDispatcherCloseIdempotent(t *testing.T) {
	d := NewDispatcher(Config{Enabled: true, BufferSize: 2}, NoOpSink{})
	d.Close()
	d.Close()
	d.Emit(context.Background(), Event{EventType: "after_close"})
}

func TestJSONWriterSinkWritesLines(t *testing.T) {
	var buf syncBuffer
	sink := NewJSONWriterSink(&buf)
	sink.Emit(context.Background(), Event{
		Timestamp:  time.Now().UTC(),
		EventType:  "login_success",
		IdentityID: "id-1",
		IP:         "127.0.0.1",
		Success:    true,
	})

	out := buf.String()
	if !strings.Contains(out, `"event_type":"login_success"`) {
		t.Fatalf("missing event type in %q", out)
	}
	if !strings.Contains(out, `"identity_id":"id-1"`) {
		t.Fatalf("missing identity id in %q", out)
	}
	if !strings.HasSuffix(out, "\n") {
		t.Fatal("expected newline-terminated record")
	}
}

func TestZapSinkLevels(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	sink := NewZapSink(zap.New(core))

	sink.Emit(context.Background(), Event{EventType: "login_success", IdentityID: "id-1", Success: true})
	sink.Emit(context.Background(), Event{
		EventType: "login_failure",
		IP:        "203.0.113.9",
		Error:     "invalid_credentials",
		Metadata:  map[string]string{"route": "login"},
	})

	entries := logs.AllUntimed()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Level != zapcore.InfoLevel || entries[0].Message != "login_success" {
		t.Fatalf("unexpected first entry %+v", entries[0].Entry)
	}
	if entries[1].Level != zapcore.WarnLevel {
		t.Fatalf("expected warn for failed event, got %v", entries[1].Level)
	}
	fields := entries[1].ContextMap()
	if fields["ip"] != "203.0.113.9" || fields["meta.route"] != "login" {
		t.Fatalf("unexpected fields %v", fields)
	}
	if entries[0].LoggerName != "audit" {
		t.Fatalf("expected named logger, got %q", entries[0].LoggerName)
	}
}

func TestDispatcherCloseFlushesQueue(t *testing.T) {
	sink := NewChannelSink(8)
	gate := newGateSink()
	d := NewDispatcher(Config{Enabled: true, BufferSize: 8}, SinkFunc(func(ctx context.Context, ev Event) {
		if ev.EventType == "first" {
			<-gate.gate
		}
		sink.Emit(ctx, ev)
	}))

	d.Emit(context.Background(), Event{EventType: "first"})
	d.Emit(context.Background(), Event{EventType: "second"})
	d.Emit(context.Background(), Event{EventType: "third"})

	close(gate.gate)
	d.Close()
	if d.Pending() != 0 {
		t.Fatalf("expected empty queue after close, got %d", d.Pending())
	}
	if got := len(sink.Events()); got != 3 {
		t.Fatalf("expected 3 delivered events, got %d", got)
	}
}

func TestDispatcherCancelledContextCountsDrop(t *testing.T) {
	sink := newGateSink()
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1}, sink)
	defer func() {
		close(sink.gate)
		d.Close()
	}()

	d.Emit(context.Background(), Event{EventType: "e1"})
	d.Emit(context.Background(), Event{EventType: "e2"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Emit(ctx, Event{EventType: "e3"})
	if d.Dropped() != 1 {
		t.Fatalf("expected one drop, got %d", d.Dropped())
	}
}

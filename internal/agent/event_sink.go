package agent

import (
	"context"
	"sync/atomic"

	"github.com/loomkit/adk/pkg/models"
)

// ChanSink sends events to a channel, dropping on backpressure rather than
// blocking the emitting call. Grounded on the teacher's ChanSink
// (internal/agent/event_sink.go).
type ChanSink struct {
	ch chan<- models.CoreEvent
}

// NewChanSink creates a sink that sends to ch. ch should be buffered.
func NewChanSink(ch chan<- models.CoreEvent) *ChanSink {
	return &ChanSink{ch: ch}
}

func (s *ChanSink) Emit(ctx context.Context, e models.CoreEvent) {
	select {
	case s.ch <- e:
	case <-ctx.Done():
	default:
	}
}

// MultiSink fans out to several sinks. Grounded on the teacher's MultiSink.
type MultiSink struct {
	sinks []EventSink
}

// NewMultiSink constructs a MultiSink, dropping nil entries.
func NewMultiSink(sinks ...EventSink) *MultiSink {
	filtered := make([]EventSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			filtered = append(filtered, s)
		}
	}
	return &MultiSink{sinks: filtered}
}

func (s *MultiSink) Emit(ctx context.Context, e models.CoreEvent) {
	for _, sink := range s.sinks {
		sink.Emit(ctx, e)
	}
}

// CallbackSink wraps a function as an EventSink.
type CallbackSink struct {
	fn func(ctx context.Context, e models.CoreEvent)
}

// NewCallbackSink constructs a CallbackSink.
func NewCallbackSink(fn func(ctx context.Context, e models.CoreEvent)) *CallbackSink {
	return &CallbackSink{fn: fn}
}

func (s *CallbackSink) Emit(ctx context.Context, e models.CoreEvent) {
	if s.fn != nil {
		s.fn(ctx, e)
	}
}

// NopSink discards every event. Useful in tests that don't assert on events.
type NopSink struct{}

func (NopSink) Emit(context.Context, models.CoreEvent) {}

// BackpressureSink is a bounded, non-blocking sink that never loses an
// event silently without counting it — spec.md §7's propagation policy
// forbids errors mutating into silent success, and a dropped
// TaskFailedEvent would be exactly that. Grounded on the teacher's
// BackpressureSink (internal/agent/event_sink.go), narrowed to a single
// lane since every CoreEventType here carries terminal/audit significance
// (there is no droppable "model delta" analogue in this spec's event set).
type BackpressureSink struct {
	ch      chan models.CoreEvent
	dropped uint64
	closed  uint32
}

// NewBackpressureSink constructs a BackpressureSink with the given buffer
// depth (default 256) and returns the channel callers should drain.
func NewBackpressureSink(buffer int) (*BackpressureSink, <-chan models.CoreEvent) {
	if buffer <= 0 {
		buffer = 256
	}
	s := &BackpressureSink{ch: make(chan models.CoreEvent, buffer)}
	return s, s.ch
}

func (s *BackpressureSink) Emit(ctx context.Context, e models.CoreEvent) {
	if atomic.LoadUint32(&s.closed) == 1 {
		return
	}
	select {
	case s.ch <- e:
	default:
		atomic.AddUint64(&s.dropped, 1)
	}
}

// DroppedCount returns the number of events dropped due to a full buffer.
// A non-zero count here means an observer downstream is not keeping up and
// some events were never delivered — surface it as a health signal.
func (s *BackpressureSink) DroppedCount() uint64 {
	return atomic.LoadUint64(&s.dropped)
}

// Close stops accepting events and closes the output channel.
func (s *BackpressureSink) Close() {
	if !atomic.CompareAndSwapUint32(&s.closed, 0, 1) {
		return
	}
	close(s.ch)
}

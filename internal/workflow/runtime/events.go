// Package runtime drives graph execution: node dispatch, retries, timeouts,
// suspension, cancellation, and the event stream.
package runtime

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// EventType names one point in the strictly ordered event stream a run
// emits: workflow_start → step_start → (text|tool_*)* → step_end → … →
// workflow_end.
type EventType string

const (
	EventWorkflowStart EventType = "workflow_start"
	EventStepStart     EventType = "step_start"
	EventStepEnd       EventType = "step_end"
	EventToolStart     EventType = "tool_start"
	EventToolDone      EventType = "tool_done"
	EventTextChunk     EventType = "text_chunk"
	EventWorkflowEnd   EventType = "workflow_end"
	EventSuspended     EventType = "suspended"
)

// Event is one entry in the runtime's observable stream. ID is a ULID
// (monotonic, time-sortable), so a consumer reading events out of order
// — e.g. from a replayed NATS subject — can still recover emission order
// without trusting clock-skewed Timestamp comparisons alone. Data carries
// event-specific detail (e.g. outcome/error for step_end).
type Event struct {
	ID        string
	Type      EventType
	RunID     string
	NodeID    string
	StepID    string
	Timestamp time.Time
	Data      map[string]any
}

var (
	eventEntropyMu sync.Mutex
	eventEntropy   = ulid.Monotonic(rand.Reader, 0)
)

// newEventID generates a time-sortable event identifier. Ids minted within
// the same millisecond draw from one monotonic entropy source, so they still
// sort in the order they were generated.
func newEventID() string {
	eventEntropyMu.Lock()
	defer eventEntropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), eventEntropy).String()
}

// Observer receives runtime events. Implementations must not block the
// runtime for long: the default ChannelObserver buffers and drops the
// oldest event on overflow rather than stalling execution.
type Observer interface {
	Emit(Event)
}

// ChannelObserver is the default in-process Observer: a single buffered
// channel consumers drain with Events(). Construct with NewChannelObserver.
type ChannelObserver struct {
	mu     sync.Mutex
	ch     chan Event
	closed bool
}

// NewChannelObserver creates a ChannelObserver with the given buffer size.
func NewChannelObserver(buffer int) *ChannelObserver {
	if buffer <= 0 {
		buffer = 64
	}
	return &ChannelObserver{ch: make(chan Event, buffer)}
}

// Emit sends ev to the channel, dropping the oldest queued event instead of
// blocking if the buffer is full.
func (o *ChannelObserver) Emit(ev Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	select {
	case o.ch <- ev:
	default:
		select {
		case <-o.ch:
		default:
		}
		select {
		case o.ch <- ev:
		default:
		}
	}
}

// Events returns the read side of the event channel.
func (o *ChannelObserver) Events() <-chan Event { return o.ch }

// Close stops further emission and closes the channel. Safe to call once
// the run has finished draining.
func (o *ChannelObserver) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.closed {
		o.closed = true
		close(o.ch)
	}
}

// multiObserver fans events out to every observer in the set.
type multiObserver struct {
	observers []Observer
}

func (m multiObserver) Emit(ev Event) {
	for _, o := range m.observers {
		o.Emit(ev)
	}
}

// Fanout combines multiple observers into one, e.g. the default channel bus
// plus a NATS-backed one (runtime/eventbus).
func Fanout(observers ...Observer) Observer {
	return multiObserver{observers: observers}
}

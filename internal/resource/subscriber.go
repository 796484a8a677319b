package resource

import (
	"sync/atomic"

	"github.com/r3e-network/reactive-streams/pkg/logger"
)

// EventType is the SSE/WebSocket event discriminator (spec §4.7).
type EventType string

const (
	EventInit   EventType = "init"
	EventUpdate EventType = "update"
	EventClose  EventType = "close"
)

// Event is one message delivered to a subscriber's queue.
type Event struct {
	Type EventType
	// Init carries a full snapshot; Update carries the changes from one
	// coordinated update; Close carries a reason string.
	Init   []KeyValue
	Update []ChangeEvent
	Reason string
}

// Subscriber is a bounded event queue for one instance's stream (spec §4.7
// "weak reference to a bounded queue"). Go has no weak references, so
// liveness here is expressed the way the spec's fallback describes it: a
// handle (Unsubscribe) whose caller-side drop (e.g. an HTTP handler
// returning after a client disconnect) is what actually frees it — the
// engine itself evicts on a failed, non-blocking enqueue rather than
// waiting to observe the handle being dropped.
type Subscriber struct {
	instanceID string
	queue      chan Event
	dropped    atomic.Int64
	evicted    atomic.Bool
	log        *logger.Logger
}

// NewSubscriber allocates a subscriber with a bounded queue of the given
// capacity.
func NewSubscriber(instanceID string, capacity int, log *logger.Logger) *Subscriber {
	if capacity <= 0 {
		capacity = 32
	}
	if log == nil {
		log = logger.NewDefault("resource.subscriber")
	}
	return &Subscriber{instanceID: instanceID, queue: make(chan Event, capacity), log: log}
}

// Events returns the receive side of the subscriber's queue for a stream
// handler to drain.
func (s *Subscriber) Events() <-chan Event { return s.queue }

// Evicted reports whether this subscriber has been dropped due to a full
// queue (spec "SubscriberLost": handled locally, not surfaced to writers).
func (s *Subscriber) Evicted() bool { return s.evicted.Load() }

// enqueue is a non-blocking, fire-and-forget send (spec §5 "enqueue never
// blocks the engine"). On a full queue the subscriber is marked evicted and
// the event is dropped; the caller (InstanceRegistry) removes it from the
// instance's subscriber set on the next pass.
func (s *Subscriber) enqueue(ev Event) {
	if s.evicted.Load() {
		return
	}
	select {
	case s.queue <- ev:
	default:
		s.dropped.Add(1)
		s.evicted.Store(true)
		s.log.WithField("instance_id", s.instanceID).Warn("subscriber queue full, evicting")
	}
}

// README: Best-effort emitter; publish failures are logged and never surface to callers.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultPublishTimeout = 2 * time.Second
	drainTimeout          = 3 * time.Second
)

type Notifier struct {
	pub     Publisher
	log     zerolog.Logger
	timeout time.Duration
	now     func() time.Time
	queue   chan Event
}

type NotifierOption func(*Notifier)

// WithQueue makes Emit enqueue into a buffer of size events drained by Run.
// A full buffer drops the event. Without it Emit publishes inline.
func WithQueue(size int) NotifierOption {
	return func(n *Notifier) {
		if size > 0 {
			n.queue = make(chan Event, size)
		}
	}
}

func WithPublishTimeout(d time.Duration) NotifierOption {
	return func(n *Notifier) {
		if d > 0 {
			n.timeout = d
		}
	}
}

func NewNotifier(pub Publisher, log zerolog.Logger, opts ...NotifierOption) *Notifier {
	n := &Notifier{pub: pub, log: log, timeout: defaultPublishTimeout, now: time.Now}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Emit publishes one event. It runs detached from ctx cancellation because it is
// only called after the state change it reports has committed. With a queue it
// never waits on the publisher.
func (n *Notifier) Emit(ctx context.Context, topic, eventType string, payload any) {
	if n == nil || n.pub == nil {
		return
	}
	evt := Event{Type: eventType, Topic: topic, Payload: payload, At: n.now().UTC()}
	if n.queue == nil {
		n.publish(context.WithoutCancel(ctx), evt)
		return
	}
	select {
	case n.queue <- evt:
	default:
		n.log.Warn().Str("topic", topic).Str("event", eventType).Msg("event queue full, dropping event")
	}
}

// Run publishes queued events in order until ctx ends, then flushes what is
// already buffered within drainTimeout.
func (n *Notifier) Run(ctx context.Context) {
	if n == nil || n.queue == nil {
		return
	}
	for {
		select {
		case evt := <-n.queue:
			n.publish(ctx, evt)
		case <-ctx.Done():
			n.drain()
			return
		}
	}
}

func (n *Notifier) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for {
		select {
		case evt := <-n.queue:
			n.publish(ctx, evt)
		default:
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (n *Notifier) publish(ctx context.Context, evt Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
	defer cancel()
	if err := n.pub.Publish(ctx, evt); err != nil {
		n.log.Warn().Err(err).Str("topic", evt.Topic).Str("event", evt.Type).Msg("publish failed")
	}
}

// Recorder is an in-process Publisher that keeps every event; useful for tests and dry runs.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	Err    error
}

func (r *Recorder) Publish(_ context.Context, evt Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.events = append(r.events, evt)
	return nil
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Topics returns the event types published to topic, in order.
func (r *Recorder) Topics(topic string) []string {
	var out []string
	for _, e := range r.Events() {
		if e.Topic == topic {
			out = append(out, e.Type)
		}
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

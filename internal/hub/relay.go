package hub

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

const (
	defaultRelayBuffer         = 100
	defaultRelayEnqueueTimeout = 250 * time.Millisecond
)

type RelayOptions struct {
	// Buffer is the capacity of the inbound event channel. Zero means 100.
	Buffer int
	// EnqueueTimeout is how long Notify waits for room in a full channel. Zero means
	// 250ms; a negative value makes Notify give up immediately.
	EnqueueTimeout time.Duration
	Clock          clockwork.Clock
}

// Relay turns events raised by the backend (uploads, deletions) into envelopes sent
// by the server identity to every registered session. Run is its only consumer.
type Relay struct {
	hub     *Hub
	events  chan Message
	timeout time.Duration
	clock   clockwork.Clock

	mutex   sync.RWMutex
	stopped bool
}

func NewRelay(h *Hub, opts RelayOptions) *Relay {
	if opts.Buffer <= 0 {
		opts.Buffer = defaultRelayBuffer
	}
	if opts.EnqueueTimeout == 0 {
		opts.EnqueueTimeout = defaultRelayEnqueueTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Relay{
		hub:     h,
		events:  make(chan Message, opts.Buffer),
		timeout: opts.EnqueueTimeout,
		clock:   opts.Clock,
	}
}

// Notify queues msg for broadcast. It waits at most the enqueue timeout when the
// channel is full and reports whether the event was accepted. Dropped events are
// logged; callers never fail because of them.
func (r *Relay) Notify(msg Message) bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	if r.stopped {
		slog.Warn("relay stopped, dropping event", "type", msg.Type())
		return false
	}

	select {
	case r.events <- msg:
		return true
	default:
	}
	if r.timeout < 0 {
		slog.Warn("relay channel full, dropping event", "type", msg.Type())
		return false
	}

	select {
	case r.events <- msg:
		return true
	case <-r.clock.After(r.timeout):
		slog.Warn("relay channel full, dropping event", "type", msg.Type(), "waited", r.timeout)
		return false
	}
}

// Run consumes events until ctx is cancelled, then broadcasts whatever is still
// buffered and returns. Panics are not recovered: losing the relay takes the process
// down with it.
func (r *Relay) Run(ctx context.Context) error {
	slog.Info("notification relay started", "server_id", r.hub.ServerID())
	for {
		select {
		case <-ctx.Done():
			r.stop()
			r.drain()
			slog.Info("notification relay stopped")
			return nil
		case msg := <-r.events:
			r.broadcast(msg)
		}
	}
}

// stop refuses new events. Taking the write lock waits out producers blocked in
// Notify.
func (r *Relay) stop() {
	r.mutex.Lock()
	r.stopped = true
	r.mutex.Unlock()
}

func (r *Relay) drain() {
	for {
		select {
		case msg := <-r.events:
			r.broadcast(msg)
		default:
			return
		}
	}
}

func (r *Relay) broadcast(msg Message) {
	frame, err := EncodeEnvelope(Envelope{SenderID: r.hub.ServerID(), Message: msg})
	if err != nil {
		slog.Error("failed to encode relay event", "type", msg.Type(), "error", err)
		return
	}
	r.hub.Registry().BroadcastAll(uuid.Nil, frame)
}

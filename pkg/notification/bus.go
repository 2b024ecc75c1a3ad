// Package notification implements the in-process pub/sub bus that merges
// events from all compute proxies and controller-local state changes, and
// fans them out to per-project and controller-wide subscriber streams.
package notification

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/netloom/netloom/internal/logger"
)

// Well-known actions. Compute proxies forward whatever action the compute
// emitted; the constants below are the ones the controller itself produces.
const (
	ActionPing            = "ping"
	ActionLogWarning      = "log.warning"
	ActionLogError        = "log.error"
	ActionLogInfo         = "log.info"
	ActionComputeCreated  = "compute.created"
	ActionComputeUpdated  = "compute.updated"
	ActionComputeDeleted  = "compute.deleted"
	ActionProjectUpdated  = "project.updated"
	ActionProjectClosed   = "project.closed"
	ActionSettingsUpdated = "settings.updated"
	ActionSnapshotRestore = "snapshot.restored"
)

// Event is the unit carried by every notification stream.
type Event struct {
	Action    string `json:"action"`
	Event     any    `json:"event"`
	ProjectID string `json:"project_id,omitempty"`
}

// DefaultQueueSize bounds each subscriber's queue. A subscriber that falls
// further behind loses its oldest events.
const DefaultQueueSize = 1000

// DefaultPingInterval is how often a ping event is sent on every stream to
// keep intermediaries from closing idle connections.
const DefaultPingInterval = 10 * time.Second

// Subscription is one client stream attached to the bus.
type Subscription struct {
	id        string
	projectID string // "" for the controller-wide stream
	ch        chan Event

	closeOnce sync.Once
	done      chan struct{}
}

// Events returns the stream channel. It is closed when the subscription
// ends (unsubscribe, project close, or bus shutdown).
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Done is closed when the subscription ends.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

func (s *Subscription) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		close(s.ch)
	})
}

// Bus merges events from all sources and fans them out.
//
// Delivery is best-effort and in-order per source: Publish is called
// synchronously from each compute proxy's stream reader, so one compute's
// emission order is preserved for every subscriber; events from different
// computes may interleave.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]*Subscription

	queueSize    int
	pingInterval time.Duration

	closed bool

	// onDrop is invoked (outside the lock) whenever a subscriber loses an
	// event to queue overflow. Used by metrics.
	onDrop func()
}

// Option configures a Bus.
type Option func(*Bus)

// WithQueueSize overrides the per-subscriber queue bound.
func WithQueueSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.queueSize = n
		}
	}
}

// WithPingInterval overrides the keep-alive interval.
func WithPingInterval(d time.Duration) Option {
	return func(b *Bus) {
		if d > 0 {
			b.pingInterval = d
		}
	}
}

// WithDropHook registers a callback fired on every overflow drop.
func WithDropHook(fn func()) Option {
	return func(b *Bus) {
		b.onDrop = fn
	}
}

// NewBus creates a notification bus.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		subs:         make(map[string]*Subscription),
		queueSize:    DefaultQueueSize,
		pingInterval: DefaultPingInterval,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Run emits keep-alive pings until ctx is cancelled.
func (b *Bus) Run(ctx context.Context) {
	ticker := time.NewTicker(b.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.Publish(Event{Action: ActionPing, Event: map[string]any{}})
		}
	}
}

// Subscribe attaches a stream. projectID == "" subscribes to the
// controller-wide stream (compute.*, log.*, settings.updated).
func (b *Bus) Subscribe(projectID string) *Subscription {
	sub := &Subscription{
		id:        uuid.New().String(),
		projectID: projectID,
		ch:        make(chan Event, b.queueSize),
		done:      make(chan struct{}),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		sub.close()
		return sub
	}
	b.subs[sub.id] = sub
	return sub
}

// Unsubscribe detaches a stream and closes its channel.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	delete(b.subs, sub.id)
	b.mu.Unlock()
	sub.close()
}

// SubscriberCount returns the number of streams attached for the given
// project ("" counts controller-wide streams).
func (b *Bus) SubscriberCount(projectID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := 0
	for _, sub := range b.subs {
		if sub.projectID == projectID {
			n++
		}
	}
	return n
}

// Publish routes an event to every matching subscriber.
//
// Routing rules:
//   - ping goes everywhere
//   - events with a project id go to that project's streams
//   - compute.* and log.* and settings.updated go to the controller stream
//     and are additionally broadcast to every project stream
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, sub := range b.subs {
		if !matches(sub, ev) {
			continue
		}
		b.send(sub, ev)
	}
}

func matches(sub *Subscription, ev Event) bool {
	if ev.Action == ActionPing {
		return true
	}
	broadcast := strings.HasPrefix(ev.Action, "compute.") ||
		strings.HasPrefix(ev.Action, "log.") ||
		ev.Action == ActionSettingsUpdated
	if sub.projectID == "" {
		return broadcast || ev.ProjectID == ""
	}
	if broadcast {
		return true
	}
	return ev.ProjectID == sub.projectID
}

// send enqueues without blocking. On overflow the oldest event is dropped
// and a subscriber-lag warning is queued in its place.
func (b *Bus) send(sub *Subscription, ev Event) {
	select {
	case <-sub.done:
		return
	default:
	}

	select {
	case sub.ch <- ev:
		return
	default:
	}

	// Queue full: drop the oldest event to make room.
	select {
	case <-sub.ch:
	default:
	}

	warning := Event{
		Action:    ActionLogWarning,
		ProjectID: ev.ProjectID,
		Event:     map[string]any{"message": "subscriber lag, oldest event dropped"},
	}

	select {
	case sub.ch <- warning:
	default:
	}
	select {
	case sub.ch <- ev:
	default:
	}

	if b.onDrop != nil {
		b.onDrop()
	}
	logger.Warn("notification subscriber lagging, dropped oldest event",
		logger.KeySubscriber, sub.id,
		logger.KeyAction, ev.Action,
		logger.KeyProjectID, ev.ProjectID,
	)
}

// CloseProject delivers the terminal project.closed event to every stream of
// the project and closes those streams.
func (b *Bus) CloseProject(projectID string) {
	terminal := Event{Action: ActionProjectClosed, ProjectID: projectID, Event: map[string]any{"project_id": projectID}}

	b.mu.Lock()
	var closing []*Subscription
	for id, sub := range b.subs {
		if sub.projectID == projectID {
			closing = append(closing, sub)
			delete(b.subs, id)
		}
	}
	b.mu.Unlock()

	for _, sub := range closing {
		b.send(sub, terminal)
		sub.close()
	}
}

// Close shuts the bus down, closing every stream.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*Subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	b.subs = make(map[string]*Subscription)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}

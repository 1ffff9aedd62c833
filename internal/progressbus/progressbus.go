// Package progressbus implements the Progress Bus (C6): a fan-out hub that
// pushes job progress and status-change events to WebSocket subscribers,
// with per-connection bounded queues and an oldest-first-eviction
// backpressure policy. Grounded on ws_poc's internal/shared broadcast.go
// (non-blocking select-default send) and gorilla/websocket as used in
// jontk-slurm-client's pkg/streaming/websocket.go (upgrader, ping/pong
// keepalive, read/write pumps), generalized from a single global broadcast
// channel into per-job subscription filtering, §4.6.
package progressbus

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"transcodeserver/pkg/models"
)

const (
	defaultQueueSize  = 256
	statusChangeSlots = 32 // reserved, never evicted ahead of a status_change
	maxConnections    = 1000
	pingPeriod        = 20 * time.Second
	pongTimeout       = 40 * time.Second

	// disconnectAfter is how long a subscriber may go without a
	// successfully queued send before it is treated as stuck and dropped,
	// §4.6. A slow reader draining at 1 msg/s against a 10 events/s
	// producer must NOT be disconnected inside this window; it just loses
	// its oldest buffered events to eviction instead.
	disconnectAfter = 30 * time.Second
)

// Option configures a Hub at construction.
type Option func(*Hub)

// withClock overrides the Hub's time source, for deterministic tests of the
// disconnectAfter staleness window.
func withClock(now func() time.Time) Option {
	return func(h *Hub) { h.clock = now }
}

// Subscriber is one /ws/progress connection's mailbox, owned by the
// connection's write pump.
type Subscriber struct {
	id       int64
	send     chan models.ServerMessage
	priority chan models.ServerMessage // status_change events, reserved slots
	clock    func() time.Time

	all  atomic.Bool
	jobs sync.Map // jobID string -> struct{}

	lastRoomAt atomic.Int64 // UnixNano of the last send that found room without evicting
	closed     atomic.Bool
}

// deliver attempts to queue msg, following the §4.6 backpressure policy: a
// full queue evicts its oldest buffered message to make room for the
// newest rather than rejecting the new one outright, so a slow-but-alive
// reader keeps seeing fresh progress instead of stalling behind its own
// backlog. status_change events get their own reserved queue, evicted the
// same way when saturated. lastRoomAt only advances when a send lands
// without needing to evict; a subscriber whose queue is chronically full
// stops earning credit there, which is what stale measures against.
func (s *Subscriber) deliver(msg models.ServerMessage) (dropped bool) {
	if s.closed.Load() {
		return true
	}

	ch := s.send
	if msg.Type == "status_change" {
		ch = s.priority
	}

	if trySend(ch, msg) {
		s.lastRoomAt.Store(s.clock().UnixNano())
		return false
	}

	// Queue full: evict the oldest buffered entry so the newest event
	// still lands, but this subscriber does not get credit for "had room".
	select {
	case <-ch:
	default:
	}
	return !trySend(ch, msg)
}

func trySend(ch chan models.ServerMessage, msg models.ServerMessage) bool {
	select {
	case ch <- msg:
		return true
	default:
		return false
	}
}

// stale reports whether this subscriber has gone disconnectAfter without its
// queue ever having free room, i.e. it has not genuinely drained in that
// window. Measured from registration until the first eviction-free send.
func (s *Subscriber) stale() bool {
	last := s.lastRoomAt.Load()
	if last == 0 {
		return false
	}
	return s.clock().Sub(time.Unix(0, last)) > disconnectAfter
}

// Subscribe restricts this subscriber's progress feed to the given job ids.
func (s *Subscriber) Subscribe(jobIDs []string) {
	s.all.Store(false)
	for _, id := range jobIDs {
		s.jobs.Store(id, struct{}{})
	}
}

// SubscribeAll opts this subscriber into every job's progress feed.
func (s *Subscriber) SubscribeAll() { s.all.Store(true) }

// Unsubscribe removes the given job ids from this subscriber's feed.
func (s *Subscriber) Unsubscribe(jobIDs []string) {
	for _, id := range jobIDs {
		s.jobs.Delete(id)
	}
}

func (s *Subscriber) wants(jobID string) bool {
	if s.all.Load() {
		return true
	}
	_, ok := s.jobs.Load(jobID)
	return ok
}

// Outbox returns the channels a connection's write pump should select over,
// in priority order (priority first).
func (s *Subscriber) Outbox() (priority <-chan models.ServerMessage, normal <-chan models.ServerMessage) {
	return s.priority, s.send
}

// Hub is the process-wide progress broadcast fan-out.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[int64]*Subscriber
	nextID      atomic.Int64
	clock       func() time.Time
	log         zerolog.Logger
}

// New constructs an empty Hub.
func New(log zerolog.Logger, opts ...Option) *Hub {
	h := &Hub{subscribers: map[int64]*Subscriber{}, clock: time.Now, log: log}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register admits a new subscriber, refusing it once maxConnections is
// reached per §4.6's connection cap.
func (h *Hub) Register() (*Subscriber, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.subscribers) >= maxConnections {
		return nil, false
	}

	sub := &Subscriber{
		id:       h.nextID.Add(1),
		send:     make(chan models.ServerMessage, defaultQueueSize),
		priority: make(chan models.ServerMessage, statusChangeSlots),
		clock:    h.clock,
	}
	sub.lastRoomAt.Store(h.clock().UnixNano())
	h.subscribers[sub.id] = sub
	return sub, true
}

// Unregister removes a subscriber, marking it closed so late deliver calls
// are no-ops instead of panicking on a closed channel.
func (h *Hub) Unregister(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sub.closed.Store(true)
	delete(h.subscribers, sub.id)
}

// Publish fans msg out to every subscriber that wants jobID's events,
// evicting oldest-buffered events for slow readers and disconnecting ones
// that have gone disconnectAfter without ever draining, per §4.6.
func (h *Hub) Publish(jobID string, msg models.ServerMessage) {
	h.mu.RLock()
	targets := make([]*Subscriber, 0, len(h.subscribers))
	for _, sub := range h.subscribers {
		if sub.wants(jobID) {
			targets = append(targets, sub)
		}
	}
	h.mu.RUnlock()

	var toDrop []*Subscriber
	for _, sub := range targets {
		sub.deliver(msg)
		if sub.stale() {
			toDrop = append(toDrop, sub)
		}
	}

	for _, sub := range toDrop {
		h.log.Warn().Int64("subscriber_id", sub.id).Msg("disconnecting slow progress subscriber")
		h.Unregister(sub)
	}
}

// Progress builds and publishes a progress-type message for a job.
func (h *Hub) Progress(jobID string, progress float64, frame int64, fps, timeS, speed float64) {
	h.Publish(jobID, models.ServerMessage{
		Type:     "progress",
		JobID:    jobID,
		Progress: progress,
		Frame:    frame,
		FPS:      fps,
		TimeS:    timeS,
		Speed:    speed,
	})
}

// StatusChange builds and publishes a status_change-type message for a job.
func (h *Hub) StatusChange(jobID, status, errorMessage string) {
	h.Publish(jobID, models.ServerMessage{
		Type:         "status_change",
		JobID:        jobID,
		Status:       status,
		ErrorMessage: errorMessage,
	})
}

// PingPeriod and PongTimeout are exported for the WebSocket handler's
// upgrader/pump configuration.
func PingPeriod() time.Duration  { return pingPeriod }
func PongTimeout() time.Duration { return pongTimeout }

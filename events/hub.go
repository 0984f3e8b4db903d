package events

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/BaSui01/nodeflow/workflow"
)

const defaultBufferSize = 64

// Subscription receives the events of one run. C is closed after the run's
// terminal event, or when the subscription is cancelled.
type Subscription struct {
	C <-chan workflow.RunEvent

	runID   string
	ch      chan workflow.RunEvent
	hub     *Hub
	dropped atomic.Int64
	once    sync.Once
}

// RunID returns the run this subscription follows.
func (s *Subscription) RunID() string { return s.runID }

// Dropped returns how many events were discarded because the reader lagged.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

// Cancel detaches the subscription and closes C. Safe to call more than once.
func (s *Subscription) Cancel() {
	s.hub.remove(s)
}

func (s *Subscription) close() {
	s.once.Do(func() { close(s.ch) })
}

// offer 非阻塞写入；缓冲满时丢弃最旧的一条
func (s *Subscription) offer(ev workflow.RunEvent) {
	for {
		select {
		case s.ch <- ev:
			return
		default:
		}
		select {
		case <-s.ch:
			s.dropped.Add(1)
		default:
		}
	}
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithBufferSize sets the per-subscriber buffer.
func WithBufferSize(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.bufferSize = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) HubOption {
	return func(h *Hub) { h.logger = logger }
}

// Hub fans run events out to per-run subscribers. Publish never blocks the
// run's goroutine.
type Hub struct {
	mu         sync.Mutex
	subs       map[string]map[*Subscription]struct{}
	bufferSize int
	published  atomic.Int64
	logger     *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		subs:       make(map[string]map[*Subscription]struct{}),
		bufferSize: defaultBufferSize,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}
	h.logger = h.logger.With(zap.String("component", "event_hub"))
	return h
}

// Subscribe follows runID from now on. Earlier events are not replayed.
func (h *Hub) Subscribe(runID string) *Subscription {
	ch := make(chan workflow.RunEvent, h.bufferSize)
	s := &Subscription{C: ch, runID: runID, ch: ch, hub: h}

	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[runID]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[runID] = set
	}
	set[s] = struct{}{}
	return s
}

// Publish delivers ev to every subscriber of its run. A terminal event closes
// and removes those subscriptions.
func (h *Hub) Publish(ev workflow.RunEvent) {
	h.published.Add(1)

	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.subs[ev.RunID]
	if len(set) == 0 {
		return
	}
	for s := range set {
		s.offer(ev)
	}
	if ev.Type.Terminal() {
		for s := range set {
			s.close()
			if n := s.Dropped(); n > 0 {
				h.logger.Debug("subscriber lagged",
					zap.String("run_id", ev.RunID),
					zap.Int64("dropped", n))
			}
		}
		delete(h.subs, ev.RunID)
	}
}

// Emitter adapts the hub to workflow.WithExecutorEventEmitter.
func (h *Hub) Emitter() workflow.EventEmitter {
	return h.Publish
}

// Subscribers counts live subscriptions of runID.
func (h *Hub) Subscribers(runID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[runID])
}

// Published counts every event handed to Publish.
func (h *Hub) Published() int64 {
	return h.published.Load()
}

// Close ends every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for runID, set := range h.subs {
		for s := range set {
			s.close()
		}
		delete(h.subs, runID)
	}
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.subs[s.runID]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(h.subs, s.runID)
		}
	}
	s.close()
}

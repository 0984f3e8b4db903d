package resilience

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// NodeLiveness is the last known heartbeat of one in-flight node.
type NodeLiveness struct {
	RunID         string    `json:"run_id"`
	NodeID        string    `json:"node_id"`
	NodeType      string    `json:"node_type"`
	Stage         string    `json:"stage,omitempty"`
	Percent       float64   `json:"percent"`
	StartedAt     time.Time `json:"started_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// Silence is how long the node has gone without a heartbeat at now.
func (l NodeLiveness) Silence(now time.Time) time.Duration {
	return now.Sub(l.LastHeartbeat)
}

type livenessKey struct {
	runID  string
	nodeID string
}

// HeartbeatMonitor tracks liveness of in-flight nodes across runs so a
// supervisor can tell a hung node from a crashed worker. It never influences
// execution.
type HeartbeatMonitor struct {
	mu     sync.RWMutex
	nodes  map[livenessKey]*NodeLiveness
	now    func() time.Time
	logger *zap.Logger
}

// NewHeartbeatMonitor 创建心跳监控器
func NewHeartbeatMonitor(logger *zap.Logger) *HeartbeatMonitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HeartbeatMonitor{
		nodes:  make(map[livenessKey]*NodeLiveness),
		now:    time.Now,
		logger: logger.With(zap.String("component", "heartbeat_monitor")),
	}
}

// Start registers a node as in flight. Starting counts as the first heartbeat.
func (m *HeartbeatMonitor) Start(runID, nodeID, nodeType string) {
	now := m.now()
	m.mu.Lock()
	m.nodes[livenessKey{runID, nodeID}] = &NodeLiveness{
		RunID:         runID,
		NodeID:        nodeID,
		NodeType:      nodeType,
		StartedAt:     now,
		LastHeartbeat: now,
	}
	m.mu.Unlock()
}

// Beat records a heartbeat. Unknown nodes are ignored.
func (m *HeartbeatMonitor) Beat(runID, nodeID, stage string, percent float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.nodes[livenessKey{runID, nodeID}]
	if !ok {
		return
	}
	l.LastHeartbeat = m.now()
	l.Stage = stage
	l.Percent = percent
}

// Finish removes a node from tracking.
func (m *HeartbeatMonitor) Finish(runID, nodeID string) {
	m.mu.Lock()
	delete(m.nodes, livenessKey{runID, nodeID})
	m.mu.Unlock()
}

// Snapshot returns every tracked node ordered by run then node id.
func (m *HeartbeatMonitor) Snapshot() []NodeLiveness {
	m.mu.RLock()
	out := make([]NodeLiveness, 0, len(m.nodes))
	for _, l := range m.nodes {
		out = append(out, *l)
	}
	m.mu.RUnlock()

	sortLiveness(out)
	return out
}

// Stalled returns nodes silent for at least threshold.
func (m *HeartbeatMonitor) Stalled(threshold time.Duration) []NodeLiveness {
	now := m.now()
	var out []NodeLiveness
	m.mu.RLock()
	for _, l := range m.nodes {
		if l.Silence(now) >= threshold {
			out = append(out, *l)
		}
	}
	m.mu.RUnlock()

	sortLiveness(out)
	return out
}

// Watch calls onStall for every stalled node each interval until ctx is done.
func (m *HeartbeatMonitor) Watch(ctx context.Context, interval, threshold time.Duration, onStall func(NodeLiveness)) {
	if interval <= 0 {
		interval = threshold / 2
	}
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, l := range m.Stalled(threshold) {
				m.logger.Warn("node heartbeat stalled",
					zap.String("run_id", l.RunID),
					zap.String("node_id", l.NodeID),
					zap.String("node_type", l.NodeType),
					zap.String("stage", l.Stage),
					zap.Duration("silence", l.Silence(m.now())))
				if onStall != nil {
					onStall(l)
				}
			}
		}
	}
}

func sortLiveness(ls []NodeLiveness) {
	sort.Slice(ls, func(i, j int) bool {
		if ls[i].RunID != ls[j].RunID {
			return ls[i].RunID < ls[j].RunID
		}
		return ls[i].NodeID < ls[j].NodeID
	})
}

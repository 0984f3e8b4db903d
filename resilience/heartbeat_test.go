package resilience

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeartbeatMonitor_StallDetection(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	m := NewHeartbeatMonitor(nil)
	m.now = clock.Now

	m.Start("run-1", "video_gen", "remote_generation")
	m.Start("run-2", "image_gen", "remote_generation")

	clock.Advance(30 * time.Second)
	m.Beat("run-2", "image_gen", "rendering", 40)
	clock.Advance(40 * time.Second)

	stalled := m.Stalled(time.Minute)
	require.Len(t, stalled, 1)
	assert.Equal(t, "run-1", stalled[0].RunID)
	assert.Equal(t, 70*time.Second, stalled[0].Silence(clock.Now()))

	snap := m.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "rendering", snap[1].Stage)
	assert.Equal(t, 40.0, snap[1].Percent)

	m.Finish("run-1", "video_gen")
	assert.Empty(t, m.Stalled(time.Minute))
}

func TestHeartbeatMonitor_BeatUnknownIgnored(t *testing.T) {
	t.Parallel()

	m := NewHeartbeatMonitor(nil)
	m.Beat("nope", "nope", "x", 10)
	assert.Empty(t, m.Snapshot())
}

func TestHeartbeatMonitor_Watch(t *testing.T) {
	t.Parallel()

	m := NewHeartbeatMonitor(nil)
	m.Start("run-1", "n1", "delay")

	var mu sync.Mutex
	var got []NodeLiveness
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Watch(ctx, 5*time.Millisecond, time.Nanosecond, func(l NodeLiveness) {
			mu.Lock()
			got = append(got, l)
			mu.Unlock()
		})
		close(done)
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) > 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
	assert.Equal(t, "n1", got[0].NodeID)
}

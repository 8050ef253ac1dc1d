package netmon

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-sync/internal/hostenv"
)

type fakeProbe struct {
	online atomic.Bool
	events chan hostenv.Event
}

func newFakeProbe() *fakeProbe {
	return &fakeProbe{events: make(chan hostenv.Event, 8)}
}

func (p *fakeProbe) Online() bool                 { return p.online.Load() }
func (p *fakeProbe) Visible() bool                { return true }
func (p *fakeProbe) Events() <-chan hostenv.Event { return p.events }

type fakeCoord struct {
	mu     sync.Mutex
	online []bool
	syncs  int
}

func (c *fakeCoord) SetOnline(online bool) {
	c.mu.Lock()
	c.online = append(c.online, online)
	c.mu.Unlock()
}

func (c *fakeCoord) SyncAll(context.Context, string) error {
	c.mu.Lock()
	c.syncs++
	c.mu.Unlock()
	return nil
}

func (c *fakeCoord) syncCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.syncs
}

func (c *fakeCoord) onlineFlags() []bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]bool(nil), c.online...)
}

type fakeChannel struct {
	onlines  atomic.Int32
	visibles atomic.Int32
}

func (c *fakeChannel) NotifyOnline()  { c.onlines.Add(1) }
func (c *fakeChannel) NotifyVisible() { c.visibles.Add(1) }

func newTestMonitor(probe *fakeProbe, coord *fakeCoord, ch *fakeChannel) *Monitor {
	return New(probe, coord, ch, "tok", 5*time.Second, time.Hour, zerolog.Nop())
}

func TestMonitor_OnlineEdge(t *testing.T) {
	probe := newFakeProbe()
	coord := &fakeCoord{}
	ch := &fakeChannel{}
	m := newTestMonitor(probe, coord, ch)
	m.Start()
	defer m.Stop()

	probe.events <- hostenv.Event{Kind: hostenv.Online}

	require.Eventually(t, func() bool { return coord.syncCount() == 1 },
		time.Second, time.Millisecond)
	assert.Equal(t, []bool{true}, coord.onlineFlags())
	assert.Equal(t, int32(1), ch.onlines.Load())
}

func TestMonitor_EdgeSyncDebounced(t *testing.T) {
	probe := newFakeProbe()
	coord := &fakeCoord{}
	ch := &fakeChannel{}
	m := newTestMonitor(probe, coord, ch)

	var clockMu sync.Mutex
	base := time.Now()
	current := base
	m.now = func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		return current
	}
	m.Start()
	defer m.Stop()

	// a flapping link: three online edges inside the debounce window
	probe.events <- hostenv.Event{Kind: hostenv.Online}
	probe.events <- hostenv.Event{Kind: hostenv.Offline}
	probe.events <- hostenv.Event{Kind: hostenv.Online}
	probe.events <- hostenv.Event{Kind: hostenv.Offline}
	probe.events <- hostenv.Event{Kind: hostenv.Online}

	require.Eventually(t, func() bool { return ch.onlines.Load() == 3 },
		time.Second, time.Millisecond)
	assert.Equal(t, 1, coord.syncCount(), "only the first edge inside the window syncs")
	assert.Equal(t, []bool{true, false, true, false, true}, coord.onlineFlags())

	// past the window, the next edge syncs again
	clockMu.Lock()
	current = base.Add(6 * time.Second)
	clockMu.Unlock()
	probe.events <- hostenv.Event{Kind: hostenv.Online}
	require.Eventually(t, func() bool { return coord.syncCount() == 2 },
		time.Second, time.Millisecond)
}

func TestMonitor_OfflineFlagOnly(t *testing.T) {
	probe := newFakeProbe()
	coord := &fakeCoord{}
	ch := &fakeChannel{}
	m := newTestMonitor(probe, coord, ch)
	m.Start()
	defer m.Stop()

	probe.events <- hostenv.Event{Kind: hostenv.Offline}

	require.Eventually(t, func() bool { return len(coord.onlineFlags()) == 1 },
		time.Second, time.Millisecond)
	assert.Equal(t, []bool{false}, coord.onlineFlags())
	assert.Equal(t, 0, coord.syncCount())
	assert.Equal(t, int32(0), ch.onlines.Load())
}

func TestMonitor_VisibilityEdge(t *testing.T) {
	probe := newFakeProbe()
	coord := &fakeCoord{}
	ch := &fakeChannel{}
	m := newTestMonitor(probe, coord, ch)
	m.Start()
	defer m.Stop()

	probe.events <- hostenv.Event{Kind: hostenv.Visible}
	probe.events <- hostenv.Event{Kind: hostenv.Hidden}

	require.Eventually(t, func() bool { return ch.visibles.Load() == 1 },
		time.Second, time.Millisecond)
	assert.Equal(t, 0, coord.syncCount(), "visibility edges never sync")
}

func TestMonitor_PeriodicResync(t *testing.T) {
	probe := newFakeProbe()
	probe.online.Store(true)
	coord := &fakeCoord{}
	ch := &fakeChannel{}
	m := New(probe, coord, ch, "tok", 5*time.Second, 20*time.Millisecond, zerolog.Nop())
	m.Start()
	defer m.Stop()

	require.Eventually(t, func() bool { return coord.syncCount() >= 2 },
		time.Second, time.Millisecond)
}

func TestMonitor_PeriodicResyncSkippedOffline(t *testing.T) {
	probe := newFakeProbe()
	coord := &fakeCoord{}
	ch := &fakeChannel{}
	m := New(probe, coord, ch, "tok", 5*time.Second, 10*time.Millisecond, zerolog.Nop())
	m.Start()
	defer m.Stop()

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 0, coord.syncCount(), "no resync while offline")
}

func TestMonitor_StopWithoutStart(t *testing.T) {
	m := newTestMonitor(newFakeProbe(), &fakeCoord{}, &fakeChannel{})

	done := make(chan struct{})
	go func() {
		m.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop on an unstarted monitor must return")
	}
}

func TestMonitor_StopTerminatesLoop(t *testing.T) {
	probe := newFakeProbe()
	coord := &fakeCoord{}
	m := newTestMonitor(probe, coord, &fakeChannel{})
	m.Start()
	m.Stop()
	m.Stop()

	probe.events <- hostenv.Event{Kind: hostenv.Online}
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, coord.syncCount())
}

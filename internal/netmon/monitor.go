// Package netmon watches the host's connectivity and visibility signals and
// drives resynchronization and live-channel recovery when they come back.
package netmon

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"fleet-sync/internal/hostenv"
)

// Coordinator is the slice of the fleet coordinator the monitor drives.
type Coordinator interface {
	SetOnline(online bool)
	SyncAll(ctx context.Context, token string) error
}

// Channel is the slice of the live channel the monitor drives.
type Channel interface {
	NotifyOnline()
	NotifyVisible()
}

// Monitor converts probe edges into coordinator and channel actions: online
// recovery triggers a bulk sync (debounced against flapping links) and an
// immediate channel reconnect; a periodic resync corrects for silently
// missed live updates while online.
type Monitor struct {
	probe   hostenv.Probe
	coord   Coordinator
	channel Channel
	token   string
	log     zerolog.Logger

	syncDebounce  time.Duration
	resyncEvery   time.Duration
	lastEdgeSync  time.Time
	now           func() time.Time

	stopOnce sync.Once
	cancel   context.CancelFunc
	done     chan struct{}
}

// New creates a monitor. syncDebounce suppresses edge-triggered syncs that
// follow another within the window; resyncEvery is the periodic resync
// cadence while online.
func New(probe hostenv.Probe, coord Coordinator, channel Channel, token string, syncDebounce, resyncEvery time.Duration, log zerolog.Logger) *Monitor {
	return &Monitor{
		probe:        probe,
		coord:        coord,
		channel:      channel,
		token:        token,
		log:          log.With().Str("component", "netmon").Logger(),
		syncDebounce: syncDebounce,
		resyncEvery:  resyncEvery,
		now:          time.Now,
		done:         make(chan struct{}),
	}
}

// Start launches the watch loop.
func (m *Monitor) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	go m.run(ctx)
}

// Stop terminates the watch loop and waits for it to exit. Stopping a
// monitor that was never started is a no-op.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		if m.cancel == nil {
			return
		}
		m.cancel()
		<-m.done
	})
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.resyncEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-m.probe.Events():
			if !ok {
				return
			}
			m.handle(ctx, ev)
		case <-ticker.C:
			if !m.probe.Online() {
				continue
			}
			m.log.Debug().Msg("periodic resync")
			if err := m.coord.SyncAll(ctx, m.token); err != nil {
				m.log.Warn().Err(err).Msg("periodic resync failed")
			}
		}
	}
}

func (m *Monitor) handle(ctx context.Context, ev hostenv.Event) {
	switch ev.Kind {
	case hostenv.Online:
		m.coord.SetOnline(true)
		m.channel.NotifyOnline()

		now := m.now()
		if now.Sub(m.lastEdgeSync) < m.syncDebounce {
			m.log.Debug().Msg("recent reconnect, skipping edge sync")
			return
		}
		m.lastEdgeSync = now
		m.log.Info().Msg("connectivity restored, resyncing")
		if err := m.coord.SyncAll(ctx, m.token); err != nil {
			m.log.Warn().Err(err).Msg("recovery sync failed")
		}
	case hostenv.Offline:
		// flag only: in-memory state survives the outage
		m.coord.SetOnline(false)
		m.log.Warn().Msg("connectivity lost")
	case hostenv.Visible:
		m.channel.NotifyVisible()
	case hostenv.Hidden:
		// nothing to do: the channel arms no timers while hidden
	}
}

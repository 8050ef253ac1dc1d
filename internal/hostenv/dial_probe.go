package hostenv

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultPollInterval = 10 * time.Second
	dialTimeout         = 3 * time.Second
)

// DialProbe detects connectivity by periodically dialing a TCP address
// (normally the upstream API host). It is always visible.
type DialProbe struct {
	addr     string
	interval time.Duration
	log      zerolog.Logger

	online atomic.Bool
	events chan Event

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewDialProbe starts a probe against addr. An empty interval falls back to
// the default poll cadence.
func NewDialProbe(addr string, interval time.Duration, log zerolog.Logger) *DialProbe {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	p := &DialProbe{
		addr:     addr,
		interval: interval,
		log:      log.With().Str("component", "probe").Logger(),
		events:   make(chan Event, 8),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	p.online.Store(p.check())
	go p.run()
	return p
}

func (p *DialProbe) Online() bool  { return p.online.Load() }
func (p *DialProbe) Visible() bool { return true }

func (p *DialProbe) Events() <-chan Event { return p.events }

// Stop terminates the poll loop and closes the event channel.
func (p *DialProbe) Stop() {
	p.stopOnce.Do(func() {
		close(p.stop)
		<-p.done
		close(p.events)
	})
}

func (p *DialProbe) run() {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			now := p.check()
			if now == p.online.Load() {
				continue
			}
			p.online.Store(now)
			kind := Offline
			if now {
				kind = Online
			}
			p.log.Info().Str("transition", string(kind)).Msg("connectivity changed")
			select {
			case p.events <- Event{Kind: kind}:
			default:
				// a slow consumer only misses intermediate edges;
				// Online() still reflects the latest state
			}
		}
	}
}

func (p *DialProbe) check() bool {
	conn, err := net.DialTimeout("tcp", p.addr, dialTimeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// Package channel implements the reconnecting live-update connection to the
// fleet API. Its lifecycle is an explicit state machine; reconnection uses
// bounded exponential backoff and defers to the connectivity monitor while
// the host is offline or hidden.
package channel

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/looplab/fsm"
	"github.com/rs/zerolog"

	"fleet-sync/internal/fleet"
	"fleet-sync/internal/hostenv"
)

// Lifecycle states.
const (
	StateDisconnected = "disconnected"
	StateConnecting   = "connecting"
	StateConnected    = "connected"
	StateBackoff      = "backoff"
	StateFatal        = "fatal"
)

// State machine events.
const (
	eventDial  = "dial"
	eventOpen  = "open"
	eventDrop  = "drop"
	eventFatal = "fatal"
	eventStop  = "stop"
)

// CloseCodeAuthRejected is the application close code meaning the credential
// was rejected. It is terminal: the token must be refreshed and a new
// channel created.
const CloseCodeAuthRejected = 4401

const (
	backoffBase   = 800 * time.Millisecond
	backoffCap    = 15 * time.Second
	backoffJitter = 400 * time.Millisecond
	maxAttempts   = 10
)

// Subscription is an opaque registration token. Unsubscribing compares
// identity, so a stale token can never detach a later registrant.
type Subscription struct {
	telemetryFn func(fleet.TelemetryPoint)
	alertFn     func(fleet.Alert)
}

// Channel is a reconnecting, authenticated live-update connection.
// A Channel constructed with an empty token is silently inert. Disconnect is
// permanent; a disconnected instance never reconnects itself.
type Channel struct {
	url    string
	token  string
	dialer Dialer
	probe  hostenv.Probe
	log    zerolog.Logger

	// retry tuning, overridable in tests
	retryBase   time.Duration
	retryCap    time.Duration
	retryJitter time.Duration

	mu          sync.Mutex
	machine     *fsm.FSM
	conn        Conn
	attempt     int
	retryTimer  *time.Timer
	stopped     bool
	onTelemetry *Subscription
	onAlert     *Subscription
}

// New creates a channel against rawURL authenticating with token.
func New(rawURL, token string, dialer Dialer, probe hostenv.Probe, log zerolog.Logger) *Channel {
	c := &Channel{
		url:         rawURL,
		token:       token,
		dialer:      dialer,
		probe:       probe,
		log:         log.With().Str("component", "channel").Logger(),
		retryBase:   backoffBase,
		retryCap:    backoffCap,
		retryJitter: backoffJitter,
	}
	c.machine = fsm.NewFSM(StateDisconnected, fsm.Events{
		{Name: eventDial, Src: []string{StateDisconnected, StateBackoff}, Dst: StateConnecting},
		{Name: eventOpen, Src: []string{StateConnecting}, Dst: StateConnected},
		{Name: eventDrop, Src: []string{StateConnecting, StateConnected}, Dst: StateBackoff},
		{Name: eventFatal, Src: []string{StateConnecting, StateConnected, StateBackoff}, Dst: StateFatal},
		{Name: eventStop, Src: []string{StateDisconnected, StateConnecting, StateConnected, StateBackoff, StateFatal}, Dst: StateDisconnected},
	}, fsm.Callbacks{})
	return c
}

// State returns the current lifecycle state.
func (c *Channel) State() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.machine.Current()
}

// Connect starts connecting. It is a no-op when the token is empty, when
// already connecting or connected, after a fatal close, or after Disconnect.
func (c *Channel) Connect() {
	if c.token == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped || !c.machine.Is(StateDisconnected) && !c.machine.Is(StateBackoff) {
		return
	}
	c.cancelRetryLocked()
	c.transitionLocked(eventDial)
	go c.dial()
}

// Disconnect permanently shuts the channel down: pending retry cancelled,
// transport closed with a normal-closure code, callbacks dropped. Idempotent.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.cancelRetryLocked()
	conn := c.conn
	c.conn = nil
	c.onTelemetry = nil
	c.onAlert = nil
	c.transitionLocked(eventStop)
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close(websocket.CloseNormalClosure)
	}
	c.log.Info().Msg("channel disconnected")
}

// NotifyOnline is the connectivity-restored recovery hook: it cancels any
// armed backoff timer, resets the retry budget and dials immediately unless
// already connected.
func (c *Channel) NotifyOnline() { c.externalRetry("connectivity restored") }

// NotifyVisible is the visibility recovery hook, with the same semantics as
// NotifyOnline.
func (c *Channel) NotifyVisible() { c.externalRetry("became visible") }

func (c *Channel) externalRetry(reason string) {
	if c.token == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped || c.machine.Is(StateFatal) || c.machine.Is(StateConnected) || c.machine.Is(StateConnecting) {
		return
	}
	c.cancelRetryLocked()
	c.attempt = 0
	c.log.Info().Str("reason", reason).Msg("external reconnect trigger")
	c.transitionLocked(eventDial)
	go c.dial()
}

// OnTelemetry registers the telemetry callback. At most one callback is
// delivered to; the last registration wins.
func (c *Channel) OnTelemetry(fn func(fleet.TelemetryPoint)) *Subscription {
	sub := &Subscription{telemetryFn: fn}
	c.mu.Lock()
	c.onTelemetry = sub
	c.mu.Unlock()
	return sub
}

// OnAlert registers the alert callback. Last registration wins.
func (c *Channel) OnAlert(fn func(fleet.Alert)) *Subscription {
	sub := &Subscription{alertFn: fn}
	c.mu.Lock()
	c.onAlert = sub
	c.mu.Unlock()
	return sub
}

// Unsubscribe detaches sub if it is still the active registration for its
// channel type. Idempotent.
func (c *Channel) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.onTelemetry == sub {
		c.onTelemetry = nil
	}
	if c.onAlert == sub {
		c.onAlert = nil
	}
}

func (c *Channel) dial() {
	conn, err := c.dialer.Dial(context.Background(), endpointURL(c.url, c.token))

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close(websocket.CloseNormalClosure)
		}
		return
	}
	if err != nil {
		c.log.Warn().Err(err).Msg("dial failed")
		c.handleDropLocked(CloseCode(err))
		c.mu.Unlock()
		return
	}
	c.conn = conn
	c.attempt = 0
	c.transitionLocked(eventOpen)
	c.mu.Unlock()

	c.log.Info().Msg("live channel connected")
	go c.readLoop(conn)
}

func (c *Channel) readLoop(conn Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if c.stopped || c.conn != conn {
				c.mu.Unlock()
				return
			}
			c.conn = nil
			c.log.Warn().Err(err).Msg("live channel closed")
			c.handleDropLocked(CloseCode(err))
			c.mu.Unlock()
			return
		}
		c.dispatch(data)
	}
}

// handleDropLocked decides what an unexpected transport loss means: a
// terminal credential rejection, a timed retry, or waiting for an external
// recovery signal.
func (c *Channel) handleDropLocked(code int) {
	if code == CloseCodeAuthRejected {
		c.transitionLocked(eventFatal)
		c.log.Error().Msg("credential rejected, channel is fatal until re-login")
		return
	}

	c.transitionLocked(eventDrop)

	c.attempt++
	if c.attempt > maxAttempts {
		c.log.Warn().Int("attempts", maxAttempts).Msg("retry budget exhausted, waiting for external trigger")
		return
	}
	if !c.probe.Online() || !c.probe.Visible() {
		// no timer: the connectivity monitor re-triggers on recovery
		c.log.Debug().Msg("host offline or hidden, reconnect deferred")
		return
	}

	delay := retryDelay(c.attempt, c.retryBase, c.retryCap, c.retryJitter)
	c.log.Info().Int("attempt", c.attempt).Dur("delay", delay).Msg("scheduling reconnect")
	c.retryTimer = time.AfterFunc(delay, c.retryFire)
}

func (c *Channel) retryFire() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retryTimer = nil
	if c.stopped || !c.machine.Is(StateBackoff) {
		return
	}
	c.transitionLocked(eventDial)
	go c.dial()
}

func (c *Channel) cancelRetryLocked() {
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
}

func (c *Channel) transitionLocked(event string) {
	if err := c.machine.Event(context.Background(), event); err != nil {
		c.log.Debug().Str("event", event).Str("state", c.machine.Current()).Err(err).Msg("ignored transition")
	}
}

func (c *Channel) dispatch(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.log.Warn().Err(err).Msg("unparsable channel message dropped")
		return
	}

	c.mu.Lock()
	telemetrySub := c.onTelemetry
	alertSub := c.onAlert
	c.mu.Unlock()

	switch env.Channel {
	case ChannelTelemetry:
		var msg TelemetryMessage
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			c.log.Warn().Err(err).Msg("invalid telemetry message dropped")
			return
		}
		if telemetrySub != nil && telemetrySub.telemetryFn != nil {
			telemetrySub.telemetryFn(msg.Point())
		}
	case ChannelAlert:
		var msg AlertMessage
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			c.log.Warn().Err(err).Msg("invalid alert message dropped")
			return
		}
		alert, err := msg.Alert()
		if err != nil {
			c.log.Warn().Err(err).Msg("alert message with bad payload dropped")
			return
		}
		if alertSub != nil && alertSub.alertFn != nil {
			alertSub.alertFn(alert)
		}
	default:
		c.log.Warn().Str("channel", env.Channel).Msg("unknown channel discriminator dropped")
	}
}

// retryDelay computes the backoff delay for the given 1-based attempt:
// exponential from the base, capped, plus jitter.
func retryDelay(attempt int, base, limit, jitter time.Duration) time.Duration {
	delay := base << (attempt - 1)
	if delay > limit || delay <= 0 {
		delay = limit
	}
	return delay + time.Duration(rand.Int63n(int64(jitter)))
}

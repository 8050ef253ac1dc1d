package fleet

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"fleet-sync/internal/cache"
	"fleet-sync/internal/hostenv"
)

// maxHistoryPoints bounds the retained telemetry history per device; the
// oldest points are evicted first.
const maxHistoryPoints = 1000

// defaultFuelLevel is assigned to roster entries until live telemetry
// reports a real reading.
const defaultFuelLevel = 100

// RosterFetcher fetches the authoritative device roster from the remote API.
type RosterFetcher interface {
	Fetch(ctx context.Context, token string) ([]RosterDevice, error)
}

// Notifier receives alerts for out-of-band fan-out (web push). Dispatch must
// not block.
type Notifier interface {
	Dispatch(alert Alert)
}

// Coordinator is the central state machine of the synchronization engine: it
// holds the device roster, bounded per-device telemetry history and the
// alert log; hydrates them from the durable cache at startup; replaces the
// roster on bulk sync; patches device state on live ingestion; and coalesces
// telemetry mutations into debounced durable writes.
type Coordinator struct {
	store    *cache.Store
	roster   RosterFetcher
	probe    hostenv.Probe
	notifier Notifier
	log      zerolog.Logger

	flushDebounce time.Duration

	mu        sync.Mutex
	devices   []Device
	alerts    []Alert
	telemetry map[string][]TelemetryPoint
	lastSync  *time.Time
	online    bool

	flushTimer *time.Timer
	flushDirty map[string]struct{}
	closed     bool
}

// Option tweaks coordinator construction.
type Option func(*Coordinator)

// WithFlushDebounce overrides the telemetry flush debounce window.
func WithFlushDebounce(d time.Duration) Option {
	return func(c *Coordinator) { c.flushDebounce = d }
}

// WithNotifier attaches an alert notifier.
func WithNotifier(n Notifier) Option {
	return func(c *Coordinator) { c.notifier = n }
}

// NewCoordinator creates a coordinator over the given durable cache, roster
// client and environment probe.
func NewCoordinator(store *cache.Store, roster RosterFetcher, probe hostenv.Probe, log zerolog.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:         store,
		roster:        roster,
		probe:         probe,
		log:           log.With().Str("component", "coordinator").Logger(),
		flushDebounce: time.Second,
		telemetry:     make(map[string][]TelemetryPoint),
		flushDirty:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Initialize hydrates in-memory state from the durable cache and, when the
// host is currently online, performs one bulk sync. A failed sync is logged
// and the hydrated cache state remains visible; Initialize never fails
// because the network did.
func (c *Coordinator) Initialize(ctx context.Context, token string) error {
	var (
		devices   []Device
		alerts    []Alert
		telemetry map[string][]TelemetryPoint
		lastSync  int64
	)

	if _, err := c.store.Get(ctx, cache.KeyDevices, true, &devices); err != nil {
		return err
	}
	if _, err := c.store.Get(ctx, cache.KeyAlerts, true, &alerts); err != nil {
		return err
	}
	if _, err := c.store.Get(ctx, cache.KeyTelemetryGlobal, false, &telemetry); err != nil {
		return err
	}
	hasSync, err := c.store.Get(ctx, cache.KeyLastSync, false, &lastSync)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.devices = devices
	c.alerts = alerts
	if telemetry != nil {
		c.telemetry = telemetry
	}
	if hasSync {
		t := time.UnixMilli(lastSync)
		c.lastSync = &t
	}
	c.online = c.probe.Online()
	online := c.online
	c.mu.Unlock()

	c.log.Info().
		Int("devices", len(devices)).
		Int("alerts", len(alerts)).
		Bool("online", online).
		Msg("state hydrated from cache")

	if online {
		if err := c.SyncAll(ctx, token); err != nil {
			c.log.Error().Err(err).Msg("initial sync failed, keeping cached state")
		}
	}
	return nil
}

// SyncAll fetches the authoritative roster and replaces the in-memory device
// list wholesale. Offline it is an explicit no-op; retrying is the
// connectivity monitor's job, not this method's. Roster fields the bulk
// endpoint does not provide are reset to defaults and repopulated only by
// subsequent live telemetry.
func (c *Coordinator) SyncAll(ctx context.Context, token string) error {
	if !c.Online() {
		c.log.Debug().Msg("offline, sync deferred")
		return nil
	}

	records, err := c.roster.Fetch(ctx, token)
	if err != nil {
		return err
	}

	now := time.Now()
	devices := make([]Device, 0, len(records))
	for _, r := range records {
		devices = append(devices, Device{
			ID:         r.ID,
			ExternalID: r.ExternalID,
			MaskedID:   r.MaskedID,
			Status:     StatusActive,
			FuelLevel:  defaultFuelLevel,
			LastUpdate: now,
		})
	}

	c.mu.Lock()
	c.devices = devices
	c.lastSync = &now
	c.mu.Unlock()

	if err := c.store.Set(ctx, cache.KeyDevices, devices, cache.RosterTTL, true); err != nil {
		c.log.Warn().Err(err).Msg("failed to persist roster")
	}
	if err := c.store.Set(ctx, cache.KeyLastSync, now.UnixMilli(), cache.RosterTTL, false); err != nil {
		c.log.Warn().Err(err).Msg("failed to persist sync timestamp")
	}

	c.log.Info().Int("devices", len(devices)).Msg("bulk sync complete")
	return nil
}

// IngestTelemetry appends a live observation to the device's bounded history,
// patches the device's state fields, and schedules a debounced durable flush
// of both the history and the patched roster, so last-known positions
// survive an offline restart. Points for devices absent from the roster are
// dropped; the live path never creates roster entries.
func (c *Coordinator) IngestTelemetry(point TelemetryPoint) {
	c.mu.Lock()

	idx := -1
	for i := range c.devices {
		if c.devices[i].ID == point.DeviceID {
			idx = i
			break
		}
	}
	if idx < 0 {
		c.mu.Unlock()
		c.log.Debug().Str("device_id", point.DeviceID).Msg("telemetry for unknown device dropped")
		return
	}

	history := append(c.telemetry[point.DeviceID], point)
	if len(history) > maxHistoryPoints {
		history = history[len(history)-maxHistoryPoints:]
	}
	c.telemetry[point.DeviceID] = history

	d := &c.devices[idx]
	d.Lat = point.Lat
	d.Lng = point.Lng
	d.Speed = point.Speed
	d.FuelLevel = point.FuelLevel
	d.Temperature = point.Temperature
	d.Status = ClassifyStatus(point.Speed)
	d.LastUpdate = time.Now()

	c.flushDirty[point.DeviceID] = struct{}{}
	c.scheduleFlushLocked()
	c.mu.Unlock()
}

// scheduleFlushLocked arms the flush timer unless one is already pending.
// The timer fires on whatever state has accumulated by then, not the state
// present when it was armed.
func (c *Coordinator) scheduleFlushLocked() {
	if c.flushTimer != nil || c.closed {
		return
	}
	c.flushTimer = time.AfterFunc(c.flushDebounce, c.flushTelemetry)
}

func (c *Coordinator) flushTelemetry() {
	c.mu.Lock()
	c.flushTimer = nil
	if c.closed {
		c.mu.Unlock()
		return
	}
	snapshot := make(map[string][]TelemetryPoint, len(c.telemetry))
	for id, points := range c.telemetry {
		cp := make([]TelemetryPoint, len(points))
		copy(cp, points)
		snapshot[id] = cp
	}
	devices := make([]Device, len(c.devices))
	copy(devices, c.devices)
	dirty := c.flushDirty
	c.flushDirty = make(map[string]struct{})
	c.mu.Unlock()

	ctx := context.Background()
	if err := c.store.Set(ctx, cache.KeyTelemetryGlobal, snapshot, cache.TelemetryTTL, false); err != nil {
		c.log.Warn().Err(err).Msg("telemetry flush failed")
		return
	}
	if err := c.store.Set(ctx, cache.KeyDevices, devices, cache.RosterTTL, true); err != nil {
		c.log.Warn().Err(err).Msg("failed to persist patched roster")
	}
	for id := range dirty {
		if err := c.store.Set(ctx, cache.TelemetryKey(id), snapshot[id], cache.TelemetryTTL, false); err != nil {
			c.log.Warn().Str("device_id", id).Err(err).Msg("per-device telemetry flush failed")
		}
	}
}

// IngestAlert appends to the alert log and persists it immediately. Alerts
// are low-frequency and high-value, so they bypass the telemetry debounce.
func (c *Coordinator) IngestAlert(alert Alert) {
	c.mu.Lock()
	c.alerts = append(c.alerts, alert)
	alerts := make([]Alert, len(c.alerts))
	copy(alerts, c.alerts)
	c.mu.Unlock()

	if err := c.store.Set(context.Background(), cache.KeyAlerts, alerts, cache.RosterTTL, true); err != nil {
		c.log.Warn().Err(err).Msg("failed to persist alerts")
	}

	if c.notifier != nil {
		c.notifier.Dispatch(alert)
	}
}

// Acknowledge marks an alert acknowledged in memory and reports whether the
// alert was found. The flag is session-local.
func (c *Coordinator) Acknowledge(alertID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.alerts {
		if c.alerts[i].ID == alertID {
			c.alerts[i].Acknowledged = true
			return true
		}
	}
	return false
}

// ClearCache wipes all durable keys and resets in-memory state. Safe to call
// while a sync or flush is in flight; a racing flush simply rewrites a key
// that the next ClearCache or sync will settle.
func (c *Coordinator) ClearCache(ctx context.Context) error {
	c.mu.Lock()
	if c.flushTimer != nil {
		c.flushTimer.Stop()
		c.flushTimer = nil
	}
	c.devices = nil
	c.alerts = nil
	c.telemetry = make(map[string][]TelemetryPoint)
	c.flushDirty = make(map[string]struct{})
	c.lastSync = nil
	c.mu.Unlock()

	for _, key := range []string{cache.KeyDevices, cache.KeyAlerts, cache.KeyTelemetryGlobal, cache.KeyLastSync} {
		if err := c.store.Remove(ctx, key); err != nil {
			return err
		}
	}
	return c.store.RemovePrefix(ctx, cache.TelemetryKeyPrefix)
}

// Close cancels any pending flush timer. The coordinator must not be used
// after Close.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.flushTimer != nil {
		c.flushTimer.Stop()
		c.flushTimer = nil
	}
}

// Devices returns a copy of the current roster.
func (c *Coordinator) Devices() []Device {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Device, len(c.devices))
	copy(out, c.devices)
	return out
}

// Telemetry returns a copy of the retained history for one device.
func (c *Coordinator) Telemetry(deviceID string) []TelemetryPoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	points := c.telemetry[deviceID]
	out := make([]TelemetryPoint, len(points))
	copy(out, points)
	return out
}

// Alerts returns a copy of the alert log.
func (c *Coordinator) Alerts() []Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Alert, len(c.alerts))
	copy(out, c.alerts)
	return out
}

// Online reports the coordinator's connectivity flag.
func (c *Coordinator) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

// SetOnline flips the connectivity flag. Going offline never tears down
// in-memory state.
func (c *Coordinator) SetOnline(online bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.online = online
}

// LastSync returns the time of the last successful bulk sync, or nil.
func (c *Coordinator) LastSync() *time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastSync == nil {
		return nil
	}
	t := *c.lastSync
	return &t
}

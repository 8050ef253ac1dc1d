package fleet

import "time"

// Status is the derived activity state of a device. Active and idle come
// from live telemetry (see ClassifyStatus); offline is asserted only by bulk
// sync or explicit absence, never by the live path.
type Status string

const (
	StatusActive  Status = "active"
	StatusIdle    Status = "idle"
	StatusOffline Status = "offline"
)

// Device is one roster entry plus its last known live state. Identity fields
// (ID, ExternalID, MaskedID) are owned by bulk sync and replaced wholesale;
// state fields are patched in place by live telemetry.
type Device struct {
	ID          string    `json:"id"`
	ExternalID  string    `json:"external_id"`
	MaskedID    string    `json:"masked_id"`
	Status      Status    `json:"status"`
	Lat         float64   `json:"lat"`
	Lng         float64   `json:"lng"`
	Speed       float64   `json:"speed"`
	FuelLevel   float64   `json:"fuel_level"`
	Temperature float64   `json:"temperature"`
	LastUpdate  time.Time `json:"last_update"`
}

// TelemetryPoint is a single immutable observation for a device.
type TelemetryPoint struct {
	DeviceID    string    `json:"device_id"`
	Lat         float64   `json:"lat"`
	Lng         float64   `json:"lng"`
	Speed       float64   `json:"speed"`
	FuelLevel   float64   `json:"fuel_level"`
	Temperature float64   `json:"temperature"`
	TS          time.Time `json:"ts"`
}

// Alert is a fleet alert delivered over the live channel. Acknowledged is a
// session-local flag; it is neither persisted nor sent upstream.
type Alert struct {
	ID            string    `json:"id"`
	DeviceID      string    `json:"deviceId"`
	DeviceName    string    `json:"deviceName"`
	Message       string    `json:"message"`
	Timestamp     time.Time `json:"timestamp"`
	Acknowledged  bool      `json:"acknowledged"`
	AutonomyHours float64   `json:"autonomyHours"`
}

// RosterDevice is a device identity record as returned by the bulk roster
// endpoint. Live state is deliberately absent: bulk sync establishes
// identity, the live stream establishes state.
type RosterDevice struct {
	ID         string `json:"id"`
	ExternalID string `json:"external_id"`
	MaskedID   string `json:"masked_id"`
}

package channel

import (
	"encoding/json"
	"fmt"
	"time"

	"fleet-sync/internal/fleet"
)

// Channel discriminators carried in the inbound envelope.
const (
	ChannelTelemetry = "telemetry"
	ChannelAlert     = "alert"
)

// envelope is the wire framing of every inbound message.
type envelope struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

// wireID is an identifier that arrives as either a JSON string or a JSON
// number, depending on the emitting service. Numbers coerce to their decimal
// string form; roster IDs are free-form strings, so strings pass through.
type wireID string

func (w *wireID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*w = wireID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("identifier is neither string nor number: %w", err)
	}
	*w = wireID(n.String())
	return nil
}

// TelemetryMessage is the wire form of a telemetry sample.
type TelemetryMessage struct {
	DeviceID    wireID    `json:"device_id"`
	Lat         float64   `json:"lat"`
	Lng         float64   `json:"lng"`
	Speed       float64   `json:"speed"`
	Fuel        float64   `json:"fuel"`
	Temperature float64   `json:"temperature"`
	TS          time.Time `json:"ts"`
}

// Point converts the wire sample to a fleet telemetry point.
func (m TelemetryMessage) Point() fleet.TelemetryPoint {
	return fleet.TelemetryPoint{
		DeviceID:    string(m.DeviceID),
		Lat:         m.Lat,
		Lng:         m.Lng,
		Speed:       m.Speed,
		FuelLevel:   m.Fuel,
		Temperature: m.Temperature,
		TS:          m.TS,
	}
}

// AlertMessage is the wire form of an alert event. Payload is a nested JSON
// document carrying fields the alerting service adds out-of-band.
type AlertMessage struct {
	ID        wireID    `json:"id"`
	DeviceID  wireID    `json:"device_id"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Payload   string    `json:"payload"`
}

type alertPayload struct {
	DeviceName    string  `json:"device_name"`
	Acknowledged  bool    `json:"acknowledged"`
	AutonomyHours float64 `json:"autonomy_hours"`
}

// Alert converts the wire event to a fleet alert. An unparsable payload
// fails the whole event; a half-decoded alert is worse than a dropped one.
func (m AlertMessage) Alert() (fleet.Alert, error) {
	var p alertPayload
	if err := json.Unmarshal([]byte(m.Payload), &p); err != nil {
		return fleet.Alert{}, fmt.Errorf("invalid alert payload: %w", err)
	}
	name := p.DeviceName
	if name == "" {
		name = "unknown"
	}
	return fleet.Alert{
		ID:            string(m.ID),
		DeviceID:      string(m.DeviceID),
		DeviceName:    name,
		Message:       m.Message,
		Timestamp:     m.Timestamp,
		Acknowledged:  p.Acknowledged,
		AutonomyHours: p.AutonomyHours,
	}, nil
}

package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"fleet-sync/internal/fleet"
	"fleet-sync/internal/identity"
)

// deviceResponse is the role-projected view of a roster entry. The raw
// external identifier never appears for unprivileged callers.
type deviceResponse struct {
	ID          string       `json:"id"`
	DisplayID   string       `json:"display_id"`
	Status      fleet.Status `json:"status"`
	Lat         float64      `json:"lat"`
	Lng         float64      `json:"lng"`
	Speed       float64      `json:"speed"`
	FuelLevel   float64      `json:"fuel_level"`
	Temperature float64      `json:"temperature"`
	LastUpdate  time.Time    `json:"last_update"`
}

// GetDevices handles GET /api/devices.
func (h *Handler) GetDevices(c *gin.Context) {
	role := callerRole(c.GetHeader("X-Role"))

	devices := h.coord.Devices()
	response := make([]deviceResponse, 0, len(devices))
	for _, d := range devices {
		response = append(response, deviceResponse{
			ID:          d.ID,
			DisplayID:   identity.Display(d.ExternalID, d.MaskedID, role),
			Status:      d.Status,
			Lat:         d.Lat,
			Lng:         d.Lng,
			Speed:       d.Speed,
			FuelLevel:   d.FuelLevel,
			Temperature: d.Temperature,
			LastUpdate:  d.LastUpdate,
		})
	}
	c.JSON(http.StatusOK, response)
}

// GetDeviceTelemetry handles GET /api/devices/{device_id}/telemetry.
func (h *Handler) GetDeviceTelemetry(c *gin.Context) {
	deviceID := c.Param("device_id")
	points := h.coord.Telemetry(deviceID)
	c.JSON(http.StatusOK, points)
}

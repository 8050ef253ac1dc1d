package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetAlerts handles GET /api/alerts.
func (h *Handler) GetAlerts(c *gin.Context) {
	c.JSON(http.StatusOK, h.coord.Alerts())
}

// AcknowledgeAlert handles POST /api/alerts/{alert_id}/ack. The flag is
// session-local; it is not written back upstream.
func (h *Handler) AcknowledgeAlert(c *gin.Context) {
	alertID := c.Param("alert_id")
	if !h.coord.Acknowledge(alertID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "alert not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

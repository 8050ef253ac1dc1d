package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type statusResponse struct {
	Online   bool       `json:"online"`
	LastSync *time.Time `json:"last_sync"`
	Devices  int        `json:"devices"`
	Alerts   int        `json:"alerts"`
}

// GetStatus handles GET /api/status.
func (h *Handler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, statusResponse{
		Online:   h.coord.Online(),
		LastSync: h.coord.LastSync(),
		Devices:  len(h.coord.Devices()),
		Alerts:   len(h.coord.Alerts()),
	})
}

// PostSync handles POST /api/sync, a manual bulk sync request.
func (h *Handler) PostSync(c *gin.Context) {
	if !h.coord.Online() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "offline, sync deferred"})
		return
	}
	if err := h.coord.SyncAll(c.Request.Context(), h.token); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"last_sync": h.coord.LastSync()})
}

// PostLogout handles POST /api/logout: the durable cache is wiped and
// in-memory state reset.
func (h *Handler) PostLogout(c *gin.Context) {
	if err := h.coord.ClearCache(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

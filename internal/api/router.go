package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"fleet-sync/config"
	"fleet-sync/internal/fleet"
	"fleet-sync/internal/mw"
)

// NewRouter creates and configures the presentation API router.
func NewRouter(cfg *config.Config, coord *fleet.Coordinator, db *gorm.DB, token string) *gin.Engine {
	r := gin.Default()

	handler := NewHandler(coord, db, token, cfg.Push.PublicKey)

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.Server.RateLimitPerSec), cfg.Server.RateLimitBurst)

	// Responses track a live in-memory state, so the cache window stays
	// short; it only smooths polling bursts.
	cacheTTL := time.Duration(cfg.Server.CacheTTLSeconds) * time.Second
	cacheStore := cache.New(cacheTTL, 10*cacheTTL)
	caching := mw.Cache(cacheStore, cacheTTL)

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		api.GET("/devices", caching, handler.GetDevices)
		api.GET("/devices/:device_id/telemetry", handler.GetDeviceTelemetry)

		api.GET("/alerts", handler.GetAlerts)
		api.POST("/alerts/:alert_id/ack", handler.AcknowledgeAlert)

		api.GET("/status", handler.GetStatus)
		api.POST("/sync", handler.PostSync)
		api.POST("/logout", handler.PostLogout)

		api.GET("/subscriptions", handler.GetSubscription)
		api.PUT("/subscriptions", handler.PutSubscription)
		api.DELETE("/subscriptions", handler.DeleteSubscription)
		api.GET("/vapid_public_key", handler.GetVAPIDPublicKey)
	}

	return r
}

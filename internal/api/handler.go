package api

import (
	"gorm.io/gorm"

	"fleet-sync/internal/fleet"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	coord          *fleet.Coordinator
	db             *gorm.DB
	token          string
	vapidPublicKey string
}

// NewHandler creates a new API handler. token is the upstream credential
// used for manual syncs; it is owned by the authentication collaborator and
// consumed read-only here.
func NewHandler(coord *fleet.Coordinator, db *gorm.DB, token, vapidPublicKey string) *Handler {
	return &Handler{
		coord:          coord,
		db:             db,
		token:          token,
		vapidPublicKey: vapidPublicKey,
	}
}

// callerRole extracts the caller's role. The authentication layer in front
// of this service sets the header; absent means unprivileged.
func callerRole(header string) string {
	if header == "" {
		return "user"
	}
	return header
}

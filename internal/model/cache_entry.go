package model

import "time"

// CacheEntry is a single row of the durable key-value cache. Payload holds
// the serialized (and possibly encrypted) envelope; expiry lives inside the
// envelope, not in a column, so the store alone interprets it.
type CacheEntry struct {
	Key       string `gorm:"primaryKey;size:256"`
	Payload   []byte `gorm:"type:blob"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"fleet-sync/internal/model"
)

// Well-known keys of the synchronization engine.
const (
	KeyDevices         = "devices"
	KeyAlerts          = "alerts"
	KeyTelemetryGlobal = "telemetry_global"
	KeyLastSync        = "last_sync"

	// TelemetryKeyPrefix prefixes the per-device telemetry keys.
	TelemetryKeyPrefix = "telemetry_"
)

// Default entry lifetimes, matching the sync engine's hydration windows.
const (
	RosterTTL    = 24 * time.Hour
	TelemetryTTL = 6 * time.Hour
)

// envelope is the serialized form of a cache entry. ExpiresAt is unix
// milliseconds; nil means the entry never expires.
type envelope struct {
	Value     json.RawMessage `json:"value"`
	ExpiresAt *int64          `json:"expiresAt,omitempty"`
}

// Store is a durable key-value cache with per-entry TTL and optional
// symmetric encryption. Expiry is enforced lazily at read time: an expired
// entry reads as a miss and is deleted as a side effect. Corrupt entries
// (undecryptable or unparsable) are also misses, never errors; readers of
// this store keep showing last-known-good state no matter what is on disk.
type Store struct {
	db     *gorm.DB
	cipher *cipherBox
	log    zerolog.Logger
	now    func() time.Time
}

// New creates a Store on top of db. secret seeds the encryption key for
// entries written with encrypted=true.
func New(db *gorm.DB, secret string, log zerolog.Logger) *Store {
	return &Store{
		db:     db,
		cipher: newCipherBox(secret),
		log:    log.With().Str("component", "cache").Logger(),
		now:    time.Now,
	}
}

// Set serializes value together with its expiry and overwrites any prior
// entry for key. A ttl of zero stores the entry without expiry.
func (s *Store) Set(ctx context.Context, key string, value any, ttl time.Duration, encrypted bool) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}

	env := envelope{Value: raw}
	if ttl > 0 {
		deadline := s.now().Add(ttl).UnixMilli()
		env.ExpiresAt = &deadline
	}

	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if encrypted {
		sealed, err := s.cipher.seal(payload)
		if err != nil {
			return err
		}
		payload = sealed
	}

	entry := model.CacheEntry{Key: key, Payload: payload}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at"}),
	}).Create(&entry).Error
}

// Get reads key into dest and reports whether a live value was found.
// Absent, expired, undecryptable and unparsable entries all read as misses;
// expired entries are deleted on the way out.
func (s *Store) Get(ctx context.Context, key string, encrypted bool, dest any) (bool, error) {
	var entry model.CacheEntry
	err := s.db.WithContext(ctx).First(&entry, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	payload := entry.Payload
	if encrypted {
		plain, err := s.cipher.open(payload)
		if err != nil {
			s.log.Warn().Str("key", key).Err(err).Msg("dropping undecryptable cache entry")
			return false, nil
		}
		payload = plain
	}

	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		s.log.Warn().Str("key", key).Err(err).Msg("dropping unparsable cache entry")
		return false, nil
	}

	if env.ExpiresAt != nil && *env.ExpiresAt < s.now().UnixMilli() {
		if err := s.Remove(ctx, key); err != nil {
			s.log.Warn().Str("key", key).Err(err).Msg("failed to evict expired cache entry")
		}
		return false, nil
	}

	if err := json.Unmarshal(env.Value, dest); err != nil {
		s.log.Warn().Str("key", key).Err(err).Msg("cached value does not match expected shape")
		return false, nil
	}
	return true, nil
}

// Remove deletes key. Removing an absent key is not an error.
func (s *Store) Remove(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Delete(&model.CacheEntry{}, "key = ?", key).Error
}

// RemovePrefix deletes every key with the given prefix.
func (s *Store) RemovePrefix(ctx context.Context, prefix string) error {
	return s.db.WithContext(ctx).Delete(&model.CacheEntry{}, "key LIKE ?", prefix+"%").Error
}

// Clear unconditionally deletes every entry. Used on logout.
func (s *Store) Clear(ctx context.Context) error {
	return s.db.WithContext(ctx).Where("1 = 1").Delete(&model.CacheEntry{}).Error
}

// Keys lists all stored keys, including ones whose entries have expired but
// have not been read since.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	err := s.db.WithContext(ctx).Model(&model.CacheEntry{}).Pluck("key", &keys).Error
	return keys, err
}

// TelemetryKey returns the per-device telemetry cache key.
func TelemetryKey(deviceID string) string {
	return TelemetryKeyPrefix + deviceID
}

package model

import "time"

// PushSubscription holds the information for a browser push subscription.
// DeviceIDs limits which device alerts the subscriber is notified about;
// empty means all devices.
type PushSubscription struct {
	Endpoint  string    `gorm:"primaryKey"`
	P256DH    string    `gorm:"column:p256dh;not null"`
	Auth      string    `gorm:"not null"`
	DeviceIDs string    `gorm:"size:2048"` // comma-separated device IDs
	CreatedAt time.Time `gorm:"not null"`
}

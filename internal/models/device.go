package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// DefaultPlatform is assigned when a device is registered without a platform tag.
const DefaultPlatform = "ios"

// Device is a managed handset owned by exactly one user.
type Device struct {
	BaseModel
	UserID   string `gorm:"size:36;not null;index" json:"user_id"`
	User     *User  `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Name     string `gorm:"not null;size:64" json:"name"`
	Platform string `gorm:"size:32;not null;default:ios" json:"platform"`

	// LockUntil is the only stored lock state; "locked" is always derived from it.
	LockUntil *time.Time `gorm:"index" json:"lock_until"`

	Supervised       bool `gorm:"not null;default:false" json:"supervised"`
	ProfileInstalled bool `gorm:"not null;default:false" json:"profile_installed"`

	// BlockingSettings overrides the owner's settings when present.
	BlockingSettings datatypes.JSON `json:"-"`
}

// IsLocked reports whether the lock window is still open at now.
func (d *Device) IsLocked(now time.Time) bool {
	return d != nil && d.LockUntil != nil && d.LockUntil.After(now)
}

// MarshalJSON adds the derived "locked" flag evaluated at serialisation time.
func (d Device) MarshalJSON() ([]byte, error) {
	type device Device
	return json.Marshal(struct {
		device
		Locked bool `json:"locked"`
	}{
		device: device(d),
		Locked: d.IsLocked(time.Now()),
	})
}

// DeviceSlot reserves one of the owner's device positions. The (user_id, slot) primary key
// makes concurrent registrations beyond the cap fail at the database.
type DeviceSlot struct {
	UserID    string `gorm:"primaryKey;size:36"`
	Slot      int    `gorm:"primaryKey;autoIncrement:false"`
	DeviceID  string `gorm:"size:36;not null;uniqueIndex"`
	CreatedAt time.Time
}

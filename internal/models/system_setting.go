package models

import "time"

// SystemSetting is a key/value row for installation-wide state, such as a generated
// token signing secret that must survive restarts.
type SystemSetting struct {
	Key       string `gorm:"primaryKey;size:128"`
	Value     string `gorm:"type:text;not null"`
	UpdatedAt time.Time
}

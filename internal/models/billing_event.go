package models

import "time"

// BillingEvent records a processed billing webhook so redeliveries are ignored.
type BillingEvent struct {
	ID         string    `gorm:"primaryKey;size:255"`
	Type       string    `gorm:"size:128;not null"`
	CustomerID string    `gorm:"size:255;index"`
	CreatedAt  time.Time `gorm:"index"`
}

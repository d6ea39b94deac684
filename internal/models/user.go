package models

import (
	"time"

	"gorm.io/datatypes"
)

// Plan identifiers mirrored from the billing provider's price catalogue.
const (
	PlanMonth      = "MONTH"
	PlanThreeMonth = "THREE_MONTH"
	PlanSixMonth   = "SIX_MONTH"
	PlanYear       = "YEAR"
)

// PlanStatusActive is the only status that authorises device mutation and profile downloads.
// Every other value is opaque and reported as-is from billing.
const (
	PlanStatusActive   = "active"
	PlanStatusInactive = "inactive"
	PlanStatusCanceled = "canceled"
)

// User is an account holder. Email is stored lowercased so uniqueness is case-insensitive.
type User struct {
	BaseModel
	Email        string `gorm:"uniqueIndex;not null;size:320" json:"email"`
	PasswordHash string `gorm:"not null" json:"-"`

	Plan                 string  `gorm:"size:32;not null;default:MONTH" json:"plan"`
	PlanStatus           string  `gorm:"size:32;not null;default:inactive;index" json:"plan_status"`
	StripeCustomerID     *string `gorm:"uniqueIndex;size:255" json:"-"`
	StripeSubscriptionID string  `gorm:"size:255" json:"-"`

	BlockingSettings datatypes.JSON `json:"-"`

	LastLoginAt *time.Time `json:"last_login_at"`

	Devices []Device `gorm:"foreignKey:UserID" json:"devices,omitempty"`
}

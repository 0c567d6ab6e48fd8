package models

import (
	"time"

	"gorm.io/gorm"
)

// PrepaidSubscription holds billing state for a payment whose email has no
// matching account yet. One row per email, last write wins. The row is
// consumed when an account with that email first authenticates.
type PrepaidSubscription struct {
	gorm.Model
	Email            string `gorm:"unique;not null"`
	StripeCustomerID string
	SubscriptionID   string
	Status           string `gorm:"not null;default:'none'"`
	CurrentPeriodEnd time.Time
	EventAt          time.Time
}

package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Subscription statuses mirror the payment provider's vocabulary. An account
// without a linked Stripe customer is always "none".
const (
	SubscriptionStatusNone     = "none"
	SubscriptionStatusTrialing = "trialing"
	SubscriptionStatusActive   = "active"
	SubscriptionStatusPastDue  = "past_due"
	SubscriptionStatusCanceled = "canceled"
)

type User struct {
	gorm.Model
	ID       uuid.UUID `gorm:"type:uuid;primary_key"`
	Auth0ID  string    `gorm:"unique;not null"`
	Email    string    `gorm:"unique;not null"`
	Name     string
	Nickname string

	StripeCustomerID   string `gorm:"index"`
	SubscriptionID     string
	SubscriptionStatus string `gorm:"not null;default:'none'"`
	CurrentPeriodEnd   time.Time
	// Creation time of the provider event that last wrote the subscription
	// fields. Older events must not overwrite newer state.
	SubscriptionEventAt time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

// BeforeCreate assigns the primary key so inserts work the same on every
// database the store runs against.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

// HasActiveSubscription reports whether the user may reach gated features.
func (u *User) HasActiveSubscription() bool {
	return u.SubscriptionStatus == SubscriptionStatusActive ||
		u.SubscriptionStatus == SubscriptionStatusTrialing
}

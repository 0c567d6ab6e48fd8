package services

import (
	"errors"
	"strings"

	"walter_go_backend/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// DefaultBillingStore implements AccountStore and PrepaidStore on GORM.
type DefaultBillingStore struct {
	db *gorm.DB
}

func NewBillingStoreDB(db *gorm.DB) *DefaultBillingStore {
	return &DefaultBillingStore{db: db}
}

func (s *DefaultBillingStore) FirstOrCreateUser(auth0ID, email, name, nickname string) (*models.User, error) {
	user := models.User{
		Auth0ID:            auth0ID,
		Email:              email,
		Name:               name,
		Nickname:           nickname,
		SubscriptionStatus: models.SubscriptionStatusNone,
	}
	result := s.db.Where(models.User{Auth0ID: auth0ID}).FirstOrCreate(&user)
	if result.Error != nil {
		return nil, result.Error
	}
	return &user, nil
}

func (s *DefaultBillingStore) GetUserByID(id uuid.UUID) (*models.User, error) {
	var user models.User
	result := s.db.Where("id = ?", id).First(&user)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return &user, nil
}

func (s *DefaultBillingStore) GetUserByCustomerID(customerID string) (*models.User, error) {
	var user models.User
	result := s.db.Where("stripe_customer_id = ?", customerID).First(&user)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return &user, nil
}

func (s *DefaultBillingStore) GetUserByEmail(email string) (*models.User, error) {
	var user models.User
	result := s.db.Where("LOWER(email) = LOWER(?)", email).First(&user)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return &user, nil
}

func (s *DefaultBillingStore) SetStripeCustomerID(userID uuid.UUID, customerID string) error {
	return s.db.Model(&models.User{}).
		Where("id = ?", userID).
		Update("stripe_customer_id", customerID).Error
}

// ApplySubscriptionUpdate writes one event's effect onto the account row.
// The write is gated on the stored event time, so a stale event replayed or
// delivered late affects nothing.
func (s *DefaultBillingStore) ApplySubscriptionUpdate(userID uuid.UUID, update SubscriptionUpdate) error {
	fields := map[string]interface{}{
		"subscription_status":   update.Status,
		"subscription_event_at": update.EventAt,
	}
	if update.StripeCustomerID != "" {
		fields["stripe_customer_id"] = update.StripeCustomerID
	}
	if update.SubscriptionID != "" {
		fields["subscription_id"] = update.SubscriptionID
	}
	if update.SetPeriodEnd {
		fields["current_period_end"] = update.PeriodEnd
	}

	result := s.db.Model(&models.User{}).
		Where("id = ? AND subscription_event_at <= ?", userID, update.EventAt).
		Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		log.Debug().
			Str("userID", userID.String()).
			Time("eventAt", update.EventAt).
			Msg("Skipped stale subscription update")
	}
	return nil
}

// UpsertPrepaid records billing state for an email with no account yet,
// last writer by event time wins. The email keys the row, so it is stored
// lowercased; case-variant deliveries for the same address hit one record.
func (s *DefaultBillingStore) UpsertPrepaid(rec models.PrepaidSubscription) error {
	rec.Email = strings.ToLower(rec.Email)
	existing, err := s.GetPrepaidByEmail(rec.Email)
	if err != nil {
		return err
	}
	if existing != nil && existing.EventAt.After(rec.EventAt) {
		log.Debug().Str("email", rec.Email).Msg("Skipped stale prepaid update")
		return nil
	}

	target := models.PrepaidSubscription{Email: rec.Email}
	return s.db.Where(models.PrepaidSubscription{Email: rec.Email}).
		Assign(map[string]interface{}{
			"stripe_customer_id": rec.StripeCustomerID,
			"subscription_id":    rec.SubscriptionID,
			"status":             rec.Status,
			"current_period_end": rec.CurrentPeriodEnd,
			"event_at":           rec.EventAt,
		}).
		FirstOrCreate(&target).Error
}

func (s *DefaultBillingStore) GetPrepaidByEmail(email string) (*models.PrepaidSubscription, error) {
	var rec models.PrepaidSubscription
	result := s.db.Where("LOWER(email) = LOWER(?)", email).First(&rec)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return &rec, nil
}

// PromotePrepaid migrates a prepaid record onto a freshly seen account and
// consumes it.
func (s *DefaultBillingStore) PromotePrepaid(user *models.User, rec *models.PrepaidSubscription) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.User{}).
			Where("id = ? AND subscription_event_at <= ?", user.ID, rec.EventAt).
			Updates(map[string]interface{}{
				"stripe_customer_id":    rec.StripeCustomerID,
				"subscription_id":       rec.SubscriptionID,
				"subscription_status":   rec.Status,
				"current_period_end":    rec.CurrentPeriodEnd,
				"subscription_event_at": rec.EventAt,
			})
		if result.Error != nil {
			return result.Error
		}
		return tx.Delete(rec).Error
	})
}

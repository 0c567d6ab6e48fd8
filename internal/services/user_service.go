package services

import (
	"walter_go_backend/internal/models"

	"github.com/rs/zerolog/log"
)

// UserService upserts accounts from identity-provider claims and consumes any
// prepaid billing state waiting on the account's email.
type UserService struct {
	accounts AccountStore
	prepaid  PrepaidStore
}

func NewUserService(accounts AccountStore, prepaid PrepaidStore) *UserService {
	return &UserService{
		accounts: accounts,
		prepaid:  prepaid,
	}
}

func (s *UserService) CreateOrUpdateUser(auth0ID, email, name, nickname string) (*models.User, error) {
	user, err := s.accounts.FirstOrCreateUser(auth0ID, email, name, nickname)
	if err != nil {
		return nil, err
	}

	// A payment may have arrived before this account existed. Migrate the
	// prepaid record the first time the account shows up without a billing
	// link.
	if user.StripeCustomerID == "" {
		rec, err := s.prepaid.GetPrepaidByEmail(user.Email)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			if err := s.prepaid.PromotePrepaid(user, rec); err != nil {
				return nil, err
			}
			user.StripeCustomerID = rec.StripeCustomerID
			user.SubscriptionID = rec.SubscriptionID
			user.SubscriptionStatus = rec.Status
			user.CurrentPeriodEnd = rec.CurrentPeriodEnd
			user.SubscriptionEventAt = rec.EventAt
			log.Info().
				Str("userID", user.ID.String()).
				Str("status", rec.Status).
				Msg("Promoted prepaid subscription to account")
		}
	}

	return user, nil
}

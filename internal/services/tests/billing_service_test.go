package services_test

import (
	"encoding/json"
	"testing"
	"time"

	"walter_go_backend/internal/models"
	"walter_go_backend/internal/services"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stripe/stripe-go/v79"
)

const defaultPeriod = 30 * 24 * time.Hour

func newBillingService(provider *MockPaymentProvider, accounts *MockAccountStore, prepaid *MockPrepaidStore) *services.BillingService {
	return services.NewBillingService(provider, accounts, prepaid, defaultPeriod)
}

func newEvent(t *testing.T, eventType string, created time.Time, payload map[string]interface{}) stripe.Event {
	t.Helper()
	raw, err := json.Marshal(payload)
	assert.NoError(t, err)
	return stripe.Event{
		Type:    stripe.EventType(eventType),
		Created: created.Unix(),
		Data:    &stripe.EventData{Raw: raw},
	}
}

func within(actual, expected time.Time, tolerance time.Duration) bool {
	diff := actual.Sub(expected)
	if diff < 0 {
		diff = -diff
	}
	return diff <= tolerance
}

func validStatus(status string) bool {
	switch status {
	case models.SubscriptionStatusNone,
		models.SubscriptionStatusTrialing,
		models.SubscriptionStatusActive,
		models.SubscriptionStatusPastDue,
		models.SubscriptionStatusCanceled:
		return true
	}
	return false
}

func TestCheckoutSessionCompleted(t *testing.T) {
	eventTime := time.Now().Add(-time.Minute).Truncate(time.Second)
	periodEnd := time.Now().Add(14 * 24 * time.Hour).Truncate(time.Second)

	metadataUser := &models.User{ID: uuid.New(), Email: "meta@example.com"}
	referenceUser := &models.User{ID: uuid.New(), Email: "ref@example.com"}

	basePayload := func() map[string]interface{} {
		return map[string]interface{}{
			"id":           "cs_123",
			"customer":     "cus_123",
			"subscription": "sub_123",
		}
	}

	t.Run("metadata account id wins over client reference", func(t *testing.T) {
		provider := new(MockPaymentProvider)
		accounts := new(MockAccountStore)
		prepaid := new(MockPrepaidStore)
		service := newBillingService(provider, accounts, prepaid)

		payload := basePayload()
		payload["metadata"] = map[string]string{"userId": metadataUser.ID.String()}
		payload["client_reference_id"] = referenceUser.ID.String()

		provider.On("GetSubscription", "sub_123").Return(&stripe.Subscription{CurrentPeriodEnd: periodEnd.Unix()}, nil).Once()
		accounts.On("GetUserByID", metadataUser.ID).Return(metadataUser, nil).Once()
		accounts.On("ApplySubscriptionUpdate", metadataUser.ID, mock.MatchedBy(func(u services.SubscriptionUpdate) bool {
			return u.Status == models.SubscriptionStatusActive &&
				u.StripeCustomerID == "cus_123" &&
				u.SubscriptionID == "sub_123" &&
				u.SetPeriodEnd && u.PeriodEnd.Equal(periodEnd) &&
				u.EventAt.Equal(eventTime)
		})).Return(nil).Once()

		err := service.HandleEvent(newEvent(t, "checkout.session.completed", eventTime, payload))

		assert.NoError(t, err)
		provider.AssertExpectations(t)
		accounts.AssertExpectations(t)
		accounts.AssertNotCalled(t, "GetUserByID", referenceUser.ID)
	})

	t.Run("client reference id resolves when metadata is absent", func(t *testing.T) {
		provider := new(MockPaymentProvider)
		accounts := new(MockAccountStore)
		prepaid := new(MockPrepaidStore)
		service := newBillingService(provider, accounts, prepaid)

		payload := basePayload()
		payload["client_reference_id"] = referenceUser.ID.String()

		provider.On("GetSubscription", "sub_123").Return(&stripe.Subscription{CurrentPeriodEnd: periodEnd.Unix()}, nil).Once()
		accounts.On("GetUserByID", referenceUser.ID).Return(referenceUser, nil).Once()
		accounts.On("ApplySubscriptionUpdate", referenceUser.ID, mock.MatchedBy(func(u services.SubscriptionUpdate) bool {
			return u.Status == models.SubscriptionStatusActive
		})).Return(nil).Once()

		err := service.HandleEvent(newEvent(t, "checkout.session.completed", eventTime, payload))

		assert.NoError(t, err)
		accounts.AssertExpectations(t)
	})

	t.Run("email reverse lookup resolves existing account", func(t *testing.T) {
		provider := new(MockPaymentProvider)
		accounts := new(MockAccountStore)
		prepaid := new(MockPrepaidStore)
		service := newBillingService(provider, accounts, prepaid)

		payload := basePayload()
		payload["customer_details"] = map[string]interface{}{"email": "Meta@Example.com"}

		provider.On("GetSubscription", "sub_123").Return(&stripe.Subscription{CurrentPeriodEnd: periodEnd.Unix()}, nil).Once()
		accounts.On("GetUserByEmail", "Meta@Example.com").Return(metadataUser, nil).Once()
		accounts.On("ApplySubscriptionUpdate", metadataUser.ID, mock.Anything).Return(nil).Once()

		err := service.HandleEvent(newEvent(t, "checkout.session.completed", eventTime, payload))

		assert.NoError(t, err)
		accounts.AssertExpectations(t)
	})

	t.Run("email without account lands in the prepaid ledger", func(t *testing.T) {
		provider := new(MockPaymentProvider)
		accounts := new(MockAccountStore)
		prepaid := new(MockPrepaidStore)
		service := newBillingService(provider, accounts, prepaid)

		payload := basePayload()
		payload["customer_details"] = map[string]interface{}{"email": "early@example.com"}

		provider.On("GetSubscription", "sub_123").Return(&stripe.Subscription{CurrentPeriodEnd: periodEnd.Unix()}, nil).Once()
		accounts.On("GetUserByEmail", "early@example.com").Return(nil, nil).Once()
		prepaid.On("UpsertPrepaid", mock.MatchedBy(func(rec models.PrepaidSubscription) bool {
			return rec.Email == "early@example.com" &&
				rec.StripeCustomerID == "cus_123" &&
				rec.SubscriptionID == "sub_123" &&
				validStatus(rec.Status) &&
				rec.CurrentPeriodEnd.Equal(periodEnd)
		})).Return(nil).Once()

		err := service.HandleEvent(newEvent(t, "checkout.session.completed", eventTime, payload))

		assert.NoError(t, err)
		prepaid.AssertExpectations(t)
	})

	t.Run("provider fetch failure degrades to a default period end", func(t *testing.T) {
		provider := new(MockPaymentProvider)
		accounts := new(MockAccountStore)
		prepaid := new(MockPrepaidStore)
		service := newBillingService(provider, accounts, prepaid)

		payload := basePayload()
		payload["metadata"] = map[string]string{"userId": metadataUser.ID.String()}

		provider.On("GetSubscription", "sub_123").Return(nil, assert.AnError).Once()
		accounts.On("GetUserByID", metadataUser.ID).Return(metadataUser, nil).Once()
		accounts.On("ApplySubscriptionUpdate", metadataUser.ID, mock.MatchedBy(func(u services.SubscriptionUpdate) bool {
			return within(u.PeriodEnd, time.Now().Add(defaultPeriod), time.Minute)
		})).Return(nil).Once()

		err := service.HandleEvent(newEvent(t, "checkout.session.completed", eventTime, payload))

		assert.NoError(t, err)
		accounts.AssertExpectations(t)
	})

	t.Run("replaying the identical event applies the identical update", func(t *testing.T) {
		provider := new(MockPaymentProvider)
		accounts := new(MockAccountStore)
		prepaid := new(MockPrepaidStore)
		service := newBillingService(provider, accounts, prepaid)

		payload := basePayload()
		payload["metadata"] = map[string]string{"userId": metadataUser.ID.String()}
		event := newEvent(t, "checkout.session.completed", eventTime, payload)

		provider.On("GetSubscription", "sub_123").Return(&stripe.Subscription{CurrentPeriodEnd: periodEnd.Unix()}, nil).Twice()
		accounts.On("GetUserByID", metadataUser.ID).Return(metadataUser, nil).Twice()
		accounts.On("ApplySubscriptionUpdate", metadataUser.ID, mock.MatchedBy(func(u services.SubscriptionUpdate) bool {
			return u.Status == models.SubscriptionStatusActive &&
				u.PeriodEnd.Equal(periodEnd) &&
				u.EventAt.Equal(eventTime)
		})).Return(nil).Twice()

		assert.NoError(t, service.HandleEvent(event))
		assert.NoError(t, service.HandleEvent(event))
		accounts.AssertExpectations(t)
	})
}

func TestSubscriptionUpdated(t *testing.T) {
	eventTime := time.Now().Truncate(time.Second)
	periodEnd := time.Now().Add(7 * 24 * time.Hour).Truncate(time.Second)
	user := &models.User{ID: uuid.New(), StripeCustomerID: "cus_42"}

	payload := map[string]interface{}{
		"id":                 "sub_42",
		"customer":           "cus_42",
		"status":             "past_due",
		"current_period_end": periodEnd.Unix(),
	}

	t.Run("writes the provider-reported status verbatim", func(t *testing.T) {
		provider := new(MockPaymentProvider)
		accounts := new(MockAccountStore)
		prepaid := new(MockPrepaidStore)
		service := newBillingService(provider, accounts, prepaid)

		accounts.On("GetUserByCustomerID", "cus_42").Return(user, nil).Once()
		accounts.On("ApplySubscriptionUpdate", user.ID, mock.MatchedBy(func(u services.SubscriptionUpdate) bool {
			return u.Status == models.SubscriptionStatusPastDue &&
				u.SubscriptionID == "sub_42" &&
				u.SetPeriodEnd && u.PeriodEnd.Equal(periodEnd) &&
				validStatus(u.Status)
		})).Return(nil).Once()

		err := service.HandleEvent(newEvent(t, "customer.subscription.updated", eventTime, payload))

		assert.NoError(t, err)
		accounts.AssertExpectations(t)
	})

	t.Run("unknown customer is logged and dropped", func(t *testing.T) {
		provider := new(MockPaymentProvider)
		accounts := new(MockAccountStore)
		prepaid := new(MockPrepaidStore)
		service := newBillingService(provider, accounts, prepaid)

		accounts.On("GetUserByCustomerID", "cus_42").Return(nil, nil).Once()

		err := service.HandleEvent(newEvent(t, "customer.subscription.updated", eventTime, payload))

		assert.NoError(t, err)
		accounts.AssertNotCalled(t, "ApplySubscriptionUpdate", mock.Anything, mock.Anything)
	})
}

func TestSubscriptionDeleted(t *testing.T) {
	eventTime := time.Now().Truncate(time.Second)
	user := &models.User{ID: uuid.New(), StripeCustomerID: "cus_7"}

	provider := new(MockPaymentProvider)
	accounts := new(MockAccountStore)
	prepaid := new(MockPrepaidStore)
	service := newBillingService(provider, accounts, prepaid)

	accounts.On("GetUserByCustomerID", "cus_7").Return(user, nil).Once()
	accounts.On("ApplySubscriptionUpdate", user.ID, mock.MatchedBy(func(u services.SubscriptionUpdate) bool {
		// Access is revoked now, not at the old period end.
		return u.Status == models.SubscriptionStatusCanceled &&
			u.SetPeriodEnd &&
			within(u.PeriodEnd, time.Now(), time.Minute)
	})).Return(nil).Once()

	err := service.HandleEvent(newEvent(t, "customer.subscription.deleted", eventTime, map[string]interface{}{
		"id":       "sub_7",
		"customer": "cus_7",
		"status":   "canceled",
	}))

	assert.NoError(t, err)
	accounts.AssertExpectations(t)
}

func TestInvoicePaymentFailed(t *testing.T) {
	eventTime := time.Now().Truncate(time.Second)
	user := &models.User{ID: uuid.New(), StripeCustomerID: "cus_9"}

	provider := new(MockPaymentProvider)
	accounts := new(MockAccountStore)
	prepaid := new(MockPrepaidStore)
	service := newBillingService(provider, accounts, prepaid)

	accounts.On("GetUserByCustomerID", "cus_9").Return(user, nil).Once()
	accounts.On("ApplySubscriptionUpdate", user.ID, mock.MatchedBy(func(u services.SubscriptionUpdate) bool {
		// The paid-through date must stay untouched.
		return u.Status == models.SubscriptionStatusPastDue && !u.SetPeriodEnd
	})).Return(nil).Once()

	err := service.HandleEvent(newEvent(t, "invoice.payment_failed", eventTime, map[string]interface{}{
		"id":       "in_9",
		"customer": "cus_9",
	}))

	assert.NoError(t, err)
	accounts.AssertExpectations(t)
}

func TestInvoicePaymentSucceeded(t *testing.T) {
	eventTime := time.Now().Truncate(time.Second)
	periodEnd := time.Now().Add(30 * 24 * time.Hour).Truncate(time.Second)
	user := &models.User{ID: uuid.New(), Email: "paid@example.com"}

	payload := map[string]interface{}{
		"id":             "in_1",
		"customer":       "cus_1",
		"customer_email": "paid@example.com",
		"subscription":   "sub_1",
	}

	t.Run("customer-linked account is reactivated", func(t *testing.T) {
		provider := new(MockPaymentProvider)
		accounts := new(MockAccountStore)
		prepaid := new(MockPrepaidStore)
		service := newBillingService(provider, accounts, prepaid)

		provider.On("GetSubscription", "sub_1").Return(&stripe.Subscription{CurrentPeriodEnd: periodEnd.Unix()}, nil).Once()
		accounts.On("GetUserByCustomerID", "cus_1").Return(user, nil).Once()
		accounts.On("ApplySubscriptionUpdate", user.ID, mock.MatchedBy(func(u services.SubscriptionUpdate) bool {
			return u.Status == models.SubscriptionStatusActive &&
				u.SubscriptionID == "sub_1" &&
				u.SetPeriodEnd && u.PeriodEnd.Equal(periodEnd)
		})).Return(nil).Once()

		err := service.HandleEvent(newEvent(t, "invoice.payment_succeeded", eventTime, payload))

		assert.NoError(t, err)
		accounts.AssertExpectations(t)
	})

	t.Run("email fallback links the customer id", func(t *testing.T) {
		provider := new(MockPaymentProvider)
		accounts := new(MockAccountStore)
		prepaid := new(MockPrepaidStore)
		service := newBillingService(provider, accounts, prepaid)

		provider.On("GetSubscription", "sub_1").Return(&stripe.Subscription{CurrentPeriodEnd: periodEnd.Unix()}, nil).Once()
		accounts.On("GetUserByCustomerID", "cus_1").Return(nil, nil).Once()
		accounts.On("GetUserByEmail", "paid@example.com").Return(user, nil).Once()
		accounts.On("ApplySubscriptionUpdate", user.ID, mock.MatchedBy(func(u services.SubscriptionUpdate) bool {
			return u.StripeCustomerID == "cus_1"
		})).Return(nil).Once()

		err := service.HandleEvent(newEvent(t, "invoice.payment_succeeded", eventTime, payload))

		assert.NoError(t, err)
		accounts.AssertExpectations(t)
	})

	t.Run("no account at all upserts the prepaid ledger", func(t *testing.T) {
		provider := new(MockPaymentProvider)
		accounts := new(MockAccountStore)
		prepaid := new(MockPrepaidStore)
		service := newBillingService(provider, accounts, prepaid)

		provider.On("GetSubscription", "sub_1").Return(&stripe.Subscription{CurrentPeriodEnd: periodEnd.Unix()}, nil).Once()
		accounts.On("GetUserByCustomerID", "cus_1").Return(nil, nil).Once()
		accounts.On("GetUserByEmail", "paid@example.com").Return(nil, nil).Once()
		prepaid.On("UpsertPrepaid", mock.MatchedBy(func(rec models.PrepaidSubscription) bool {
			return rec.Email == "paid@example.com" && rec.StripeCustomerID == "cus_1"
		})).Return(nil).Once()

		err := service.HandleEvent(newEvent(t, "invoice.payment_succeeded", eventTime, payload))

		assert.NoError(t, err)
		prepaid.AssertExpectations(t)
	})
}

func TestPortalURLRequiresBillingLink(t *testing.T) {
	provider := new(MockPaymentProvider)
	accounts := new(MockAccountStore)
	prepaid := new(MockPrepaidStore)
	service := newBillingService(provider, accounts, prepaid)

	_, err := service.PortalURL(&models.User{ID: uuid.New()})
	assert.ErrorIs(t, err, services.ErrNoBillingAccount)
}

func TestCheckoutURLCreatesCustomerOnce(t *testing.T) {
	provider := new(MockPaymentProvider)
	accounts := new(MockAccountStore)
	prepaid := new(MockPrepaidStore)
	service := newBillingService(provider, accounts, prepaid)

	user := &models.User{ID: uuid.New(), Email: "new@example.com"}

	provider.On("CreateCustomer", "new@example.com", user.ID).Return("cus_new", nil).Once()
	accounts.On("SetStripeCustomerID", user.ID, "cus_new").Return(nil).Once()
	provider.On("CreateCheckoutSession", "cus_new", user.ID, true).
		Return(&stripe.CheckoutSession{URL: "https://checkout.example/cs_1"}, nil).Once()

	url, err := service.CheckoutURL(user, true)

	assert.NoError(t, err)
	assert.Equal(t, "https://checkout.example/cs_1", url)
	provider.AssertExpectations(t)
	accounts.AssertExpectations(t)
}

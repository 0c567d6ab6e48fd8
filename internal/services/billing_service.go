package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"walter_go_backend/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/stripe/stripe-go/v79"
)

// ErrNoBillingAccount is returned when a portal session is requested for an
// account that never went through checkout.
var ErrNoBillingAccount = errors.New("no billing account linked to user")

// SubscriptionUpdate carries one event's effect on an account's subscription
// fields. EventAt is the provider event's creation time; the store ignores
// updates older than the last applied one.
type SubscriptionUpdate struct {
	Status           string
	StripeCustomerID string
	SubscriptionID   string
	PeriodEnd        time.Time
	SetPeriodEnd     bool
	EventAt          time.Time
}

// BillingService applies provider webhook events to account subscription
// state. Events arrive unordered and at least once; every write is a
// key-scoped upsert guarded by event time, so replays and stale deliveries
// are absorbed at the storage layer.
type BillingService struct {
	provider      PaymentProvider
	accounts      AccountStore
	prepaid       PrepaidStore
	defaultPeriod time.Duration
}

func NewBillingService(provider PaymentProvider, accounts AccountStore, prepaid PrepaidStore, defaultPeriod time.Duration) *BillingService {
	return &BillingService{
		provider:      provider,
		accounts:      accounts,
		prepaid:       prepaid,
		defaultPeriod: defaultPeriod,
	}
}

// CheckoutURL creates (or reuses) the Stripe customer for the user and opens
// a subscription checkout session.
func (s *BillingService) CheckoutURL(user *models.User, withTrial bool) (string, error) {
	customerID := user.StripeCustomerID
	if customerID == "" {
		created, err := s.provider.CreateCustomer(user.Email, user.ID)
		if err != nil {
			return "", fmt.Errorf("failed to create customer: %w", err)
		}
		if err := s.accounts.SetStripeCustomerID(user.ID, created); err != nil {
			return "", fmt.Errorf("failed to store customer id: %w", err)
		}
		customerID = created
	}

	session, err := s.provider.CreateCheckoutSession(customerID, user.ID, withTrial)
	if err != nil {
		return "", fmt.Errorf("failed to create checkout session: %w", err)
	}
	return session.URL, nil
}

// PortalURL opens the hosted billing portal for an already-linked account.
func (s *BillingService) PortalURL(user *models.User) (string, error) {
	if user.StripeCustomerID == "" {
		return "", ErrNoBillingAccount
	}
	session, err := s.provider.CreatePortalSession(user.StripeCustomerID)
	if err != nil {
		return "", fmt.Errorf("failed to create portal session: %w", err)
	}
	return session.URL, nil
}

// HandleEvent routes one verified webhook event through the state machine.
// A returned error means a storage failure the provider should retry;
// unattributable events are logged and dropped without error.
func (s *BillingService) HandleEvent(event stripe.Event) error {
	switch event.Type {
	case "checkout.session.completed":
		return s.handleCheckoutCompleted(event)
	case "customer.subscription.updated":
		return s.handleSubscriptionUpdated(event)
	case "customer.subscription.deleted":
		return s.handleSubscriptionDeleted(event)
	case "invoice.payment_succeeded":
		return s.handleInvoicePaymentSucceeded(event)
	case "invoice.payment_failed":
		return s.handleInvoicePaymentFailed(event)
	default:
		log.Debug().Str("type", string(event.Type)).Msg("Unhandled webhook event type")
		return nil
	}
}

// resolution classifies the owner of a billing event: a known account, an
// email with no account yet, or nothing usable at all.
type resolution struct {
	user  *models.User
	email string
}

// resolveCheckoutOwner walks the attribution chain for a checkout session:
// account id in session metadata, then the client reference id, then a
// case-insensitive email lookup.
func (s *BillingService) resolveCheckoutOwner(session *stripe.CheckoutSession) (resolution, error) {
	for _, candidate := range []string{session.Metadata["userId"], session.ClientReferenceID} {
		if candidate == "" {
			continue
		}
		id, err := uuid.Parse(candidate)
		if err != nil {
			log.Warn().Str("value", candidate).Msg("Checkout owner reference is not a valid account id")
			continue
		}
		user, err := s.accounts.GetUserByID(id)
		if err != nil {
			return resolution{}, err
		}
		if user != nil {
			return resolution{user: user}, nil
		}
	}

	email := checkoutEmail(session)
	if email != "" {
		user, err := s.accounts.GetUserByEmail(email)
		if err != nil {
			return resolution{}, err
		}
		if user != nil {
			return resolution{user: user}, nil
		}
	}
	return resolution{email: email}, nil
}

func checkoutEmail(session *stripe.CheckoutSession) string {
	if session.CustomerDetails != nil && session.CustomerDetails.Email != "" {
		return session.CustomerDetails.Email
	}
	return session.CustomerEmail
}

func (s *BillingService) handleCheckoutCompleted(event stripe.Event) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return fmt.Errorf("failed to parse checkout session: %w", err)
	}

	var customerID, subscriptionID string
	if session.Customer != nil {
		customerID = session.Customer.ID
	}
	if session.Subscription != nil {
		subscriptionID = session.Subscription.ID
	}

	update := SubscriptionUpdate{
		Status:           models.SubscriptionStatusActive,
		StripeCustomerID: customerID,
		SubscriptionID:   subscriptionID,
		PeriodEnd:        s.resolvePeriodEnd(subscriptionID),
		SetPeriodEnd:     true,
		EventAt:          time.Unix(event.Created, 0),
	}

	owner, err := s.resolveCheckoutOwner(&session)
	if err != nil {
		return err
	}
	switch {
	case owner.user != nil:
		return s.accounts.ApplySubscriptionUpdate(owner.user.ID, update)
	case owner.email != "":
		return s.upsertPrepaidFromUpdate(owner.email, update)
	default:
		log.Warn().Str("session", session.ID).Msg("Checkout session has no account reference or email, dropping")
		return nil
	}
}

func (s *BillingService) handleSubscriptionUpdated(event stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("failed to parse subscription: %w", err)
	}

	user, err := s.userByCustomer(&sub)
	if err != nil || user == nil {
		return err
	}

	return s.accounts.ApplySubscriptionUpdate(user.ID, SubscriptionUpdate{
		Status:         normalizeStatus(string(sub.Status)),
		SubscriptionID: sub.ID,
		PeriodEnd:      time.Unix(sub.CurrentPeriodEnd, 0),
		SetPeriodEnd:   true,
		EventAt:        time.Unix(event.Created, 0),
	})
}

func (s *BillingService) handleSubscriptionDeleted(event stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("failed to parse subscription: %w", err)
	}

	user, err := s.userByCustomer(&sub)
	if err != nil || user == nil {
		return err
	}

	// Access is revoked immediately, not at the old period end.
	return s.accounts.ApplySubscriptionUpdate(user.ID, SubscriptionUpdate{
		Status:       models.SubscriptionStatusCanceled,
		PeriodEnd:    time.Now(),
		SetPeriodEnd: true,
		EventAt:      time.Unix(event.Created, 0),
	})
}

func (s *BillingService) handleInvoicePaymentSucceeded(event stripe.Event) error {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		return fmt.Errorf("failed to parse invoice: %w", err)
	}

	var customerID, subscriptionID string
	if invoice.Customer != nil {
		customerID = invoice.Customer.ID
	}
	if invoice.Subscription != nil {
		subscriptionID = invoice.Subscription.ID
	}

	update := SubscriptionUpdate{
		Status:         models.SubscriptionStatusActive,
		SubscriptionID: subscriptionID,
		PeriodEnd:      s.resolvePeriodEnd(subscriptionID),
		SetPeriodEnd:   true,
		EventAt:        time.Unix(event.Created, 0),
	}

	if customerID != "" {
		user, err := s.accounts.GetUserByCustomerID(customerID)
		if err != nil {
			return err
		}
		if user != nil {
			return s.accounts.ApplySubscriptionUpdate(user.ID, update)
		}
	}

	// Payment arrived before the customer link was stored: fall back to the
	// invoice email, linking the customer id along the way.
	update.StripeCustomerID = customerID
	if invoice.CustomerEmail != "" {
		user, err := s.accounts.GetUserByEmail(invoice.CustomerEmail)
		if err != nil {
			return err
		}
		if user != nil {
			return s.accounts.ApplySubscriptionUpdate(user.ID, update)
		}
		return s.upsertPrepaidFromUpdate(invoice.CustomerEmail, update)
	}

	log.Warn().Str("invoice", invoice.ID).Msg("Invoice has no resolvable customer or email, dropping")
	return nil
}

func (s *BillingService) handleInvoicePaymentFailed(event stripe.Event) error {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		return fmt.Errorf("failed to parse invoice: %w", err)
	}
	if invoice.Customer == nil {
		log.Warn().Str("invoice", invoice.ID).Msg("Payment-failed invoice has no customer, dropping")
		return nil
	}

	user, err := s.accounts.GetUserByCustomerID(invoice.Customer.ID)
	if err != nil {
		return err
	}
	if user == nil {
		log.Warn().Str("customer", invoice.Customer.ID).Msg("Payment failed for unknown customer")
		return nil
	}

	// Period end is left untouched: the old paid-through date still stands.
	return s.accounts.ApplySubscriptionUpdate(user.ID, SubscriptionUpdate{
		Status:  models.SubscriptionStatusPastDue,
		EventAt: time.Unix(event.Created, 0),
	})
}

func (s *BillingService) userByCustomer(sub *stripe.Subscription) (*models.User, error) {
	if sub.Customer == nil {
		log.Warn().Str("subscription", sub.ID).Msg("Subscription event has no customer, dropping")
		return nil, nil
	}
	user, err := s.accounts.GetUserByCustomerID(sub.Customer.ID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		log.Warn().Str("customer", sub.Customer.ID).Msg("Subscription event for unknown customer")
	}
	return user, nil
}

// resolvePeriodEnd asks the provider for the subscription's paid-through
// time. A fetch failure degrades to a default window instead of aborting the
// event.
func (s *BillingService) resolvePeriodEnd(subscriptionID string) time.Time {
	if subscriptionID == "" {
		return time.Now().Add(s.defaultPeriod)
	}
	sub, err := s.provider.GetSubscription(subscriptionID)
	if err != nil {
		log.Warn().Err(err).Str("subscription", subscriptionID).Msg("Failed to retrieve subscription, using default period end")
		return time.Now().Add(s.defaultPeriod)
	}
	return time.Unix(sub.CurrentPeriodEnd, 0)
}

func (s *BillingService) upsertPrepaidFromUpdate(email string, update SubscriptionUpdate) error {
	return s.prepaid.UpsertPrepaid(models.PrepaidSubscription{
		Email:            email,
		StripeCustomerID: update.StripeCustomerID,
		SubscriptionID:   update.SubscriptionID,
		Status:           update.Status,
		CurrentPeriodEnd: update.PeriodEnd,
		EventAt:          update.EventAt,
	})
}

// normalizeStatus keeps provider-reported statuses inside the account enum.
// The handful of checkout-flow statuses Stripe can report that we do not
// model (incomplete, unpaid, paused) all mean "not currently paid up".
func normalizeStatus(status string) string {
	switch status {
	case models.SubscriptionStatusTrialing,
		models.SubscriptionStatusActive,
		models.SubscriptionStatusPastDue,
		models.SubscriptionStatusCanceled,
		models.SubscriptionStatusNone:
		return status
	default:
		log.Warn().Str("status", status).Msg("Unrecognized provider subscription status")
		return models.SubscriptionStatusPastDue
	}
}

package services

import (
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v79"
	portalsession "github.com/stripe/stripe-go/v79/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v79/checkout/session"
	"github.com/stripe/stripe-go/v79/customer"
	"github.com/stripe/stripe-go/v79/subscription"
	"github.com/stripe/stripe-go/v79/webhook"
)

// StripeService implements PaymentProvider against the live Stripe API.
type StripeService struct {
	publicKey       string
	secretKey       string
	webhookSecret   string
	priceID         string
	appURL          string
	trialPeriodDays int64
}

func NewStripeService(publicKey, secretKey, webhookSecret, priceID, appURL string, trialPeriodDays int64) *StripeService {
	stripe.Key = secretKey
	return &StripeService{
		publicKey:       publicKey,
		secretKey:       secretKey,
		webhookSecret:   webhookSecret,
		priceID:         priceID,
		appURL:          appURL,
		trialPeriodDays: trialPeriodDays,
	}
}

// CreateCustomer registers the account with Stripe so the customer id can be
// stored on the profile before checkout.
func (s *StripeService) CreateCustomer(email string, userID uuid.UUID) (string, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(email),
	}
	params.AddMetadata("userId", userID.String())

	c, err := customer.New(params)
	if err != nil {
		return "", err
	}
	return c.ID, nil
}

// CreateCheckoutSession opens a subscription-mode checkout. The account id
// travels both in the session metadata and as the client reference id, and is
// copied onto the subscription so later webhook events can be attributed.
func (s *StripeService) CreateCheckoutSession(customerID string, userID uuid.UUID, withTrial bool) (*stripe.CheckoutSession, error) {
	trialDays := int64(0)
	if withTrial {
		trialDays = s.trialPeriodDays
	}

	params := &stripe.CheckoutSessionParams{
		Customer: stripe.String(customerID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(s.priceID),
				Quantity: stripe.Int64(1),
			},
		},
		Mode:                stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		AllowPromotionCodes: stripe.Bool(true),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			TrialPeriodDays: stripe.Int64(trialDays),
			Metadata: map[string]string{
				"userId": userID.String(),
			},
		},
		SuccessURL:        stripe.String(s.appURL + "/chat?success=true"),
		CancelURL:         stripe.String(s.appURL + "/chat?canceled=true"),
		ClientReferenceID: stripe.String(userID.String()),
	}
	params.AddMetadata("userId", userID.String())

	return checkoutsession.New(params)
}

// CreatePortalSession opens the hosted billing portal for an existing customer.
func (s *StripeService) CreatePortalSession(customerID string) (*stripe.BillingPortalSession, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(s.appURL + "/settings"),
	}
	return portalsession.New(params)
}

// GetSubscription fetches the authoritative subscription record, used to
// refresh the billing-period end after payment events.
func (s *StripeService) GetSubscription(subscriptionID string) (*stripe.Subscription, error) {
	return subscription.Get(subscriptionID, nil)
}

// VerifyWebhook checks the event signature against the shared endpoint secret.
func (s *StripeService) VerifyWebhook(payload []byte, signatureHeader string) (stripe.Event, error) {
	return webhook.ConstructEvent(payload, signatureHeader, s.webhookSecret)
}

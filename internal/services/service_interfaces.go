package services

import (
	"context"

	"walter_go_backend/internal/models"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v79"
)

// AccountStore is the persistence boundary for accounts and their
// subscription fields. Lookup methods return (nil, nil) when no row matches,
// so callers can distinguish "not found" from a storage failure.
type AccountStore interface {
	FirstOrCreateUser(auth0ID, email, name, nickname string) (*models.User, error)
	GetUserByID(id uuid.UUID) (*models.User, error)
	GetUserByCustomerID(customerID string) (*models.User, error)
	GetUserByEmail(email string) (*models.User, error)
	SetStripeCustomerID(userID uuid.UUID, customerID string) error
	ApplySubscriptionUpdate(userID uuid.UUID, update SubscriptionUpdate) error
}

// PrepaidStore holds billing state for payments that precede account creation.
type PrepaidStore interface {
	UpsertPrepaid(rec models.PrepaidSubscription) error
	GetPrepaidByEmail(email string) (*models.PrepaidSubscription, error)
	PromotePrepaid(user *models.User, rec *models.PrepaidSubscription) error
}

// ConversationStore is the persistence boundary for conversations and their
// ordered messages.
type ConversationStore interface {
	CreateConversation(userID uuid.UUID, title string) (*models.Conversation, error)
	GetConversationByID(id uuid.UUID) (*models.Conversation, error)
	ListConversationsByUser(userID uuid.UUID) ([]models.Conversation, error)
	SaveMessage(conversationID uuid.UUID, role, content string) error
	GetRecentMessages(conversationID uuid.UUID, limit int) ([]models.Message, error)
	GetMessages(conversationID uuid.UUID) ([]models.Message, error)
}

// PaymentProvider wraps the hosted-payment collaborator. Injected everywhere
// so handlers and the billing engine can be exercised with fakes.
type PaymentProvider interface {
	CreateCustomer(email string, userID uuid.UUID) (string, error)
	CreateCheckoutSession(customerID string, userID uuid.UUID, withTrial bool) (*stripe.CheckoutSession, error)
	CreatePortalSession(customerID string) (*stripe.BillingPortalSession, error)
	GetSubscription(subscriptionID string) (*stripe.Subscription, error)
	VerifyWebhook(payload []byte, signatureHeader string) (stripe.Event, error)
}

// TokenStream yields model output one chunk at a time. Next returns io.EOF
// when the model has finished.
type TokenStream interface {
	Next() (string, error)
}

// ChatStreamer turns an ordered message history, whose final element is the
// pending user message, into a live token stream.
type ChatStreamer interface {
	StreamChat(ctx context.Context, history []models.Message) (TokenStream, error)
}

package services_test

import (
	"context"
	"io"

	"walter_go_backend/internal/models"
	"walter_go_backend/internal/services"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stripe/stripe-go/v79"
)

type MockAccountStore struct {
	mock.Mock
}

func (m *MockAccountStore) FirstOrCreateUser(auth0ID, email, name, nickname string) (*models.User, error) {
	args := m.Called(auth0ID, email, name, nickname)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockAccountStore) GetUserByID(id uuid.UUID) (*models.User, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockAccountStore) GetUserByCustomerID(customerID string) (*models.User, error) {
	args := m.Called(customerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockAccountStore) GetUserByEmail(email string) (*models.User, error) {
	args := m.Called(email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockAccountStore) SetStripeCustomerID(userID uuid.UUID, customerID string) error {
	args := m.Called(userID, customerID)
	return args.Error(0)
}

func (m *MockAccountStore) ApplySubscriptionUpdate(userID uuid.UUID, update services.SubscriptionUpdate) error {
	args := m.Called(userID, update)
	return args.Error(0)
}

type MockPrepaidStore struct {
	mock.Mock
}

func (m *MockPrepaidStore) UpsertPrepaid(rec models.PrepaidSubscription) error {
	args := m.Called(rec)
	return args.Error(0)
}

func (m *MockPrepaidStore) GetPrepaidByEmail(email string) (*models.PrepaidSubscription, error) {
	args := m.Called(email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PrepaidSubscription), args.Error(1)
}

func (m *MockPrepaidStore) PromotePrepaid(user *models.User, rec *models.PrepaidSubscription) error {
	args := m.Called(user, rec)
	return args.Error(0)
}

type MockPaymentProvider struct {
	mock.Mock
}

func (m *MockPaymentProvider) CreateCustomer(email string, userID uuid.UUID) (string, error) {
	args := m.Called(email, userID)
	return args.String(0), args.Error(1)
}

func (m *MockPaymentProvider) CreateCheckoutSession(customerID string, userID uuid.UUID, withTrial bool) (*stripe.CheckoutSession, error) {
	args := m.Called(customerID, userID, withTrial)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*stripe.CheckoutSession), args.Error(1)
}

func (m *MockPaymentProvider) CreatePortalSession(customerID string) (*stripe.BillingPortalSession, error) {
	args := m.Called(customerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*stripe.BillingPortalSession), args.Error(1)
}

func (m *MockPaymentProvider) GetSubscription(subscriptionID string) (*stripe.Subscription, error) {
	args := m.Called(subscriptionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*stripe.Subscription), args.Error(1)
}

func (m *MockPaymentProvider) VerifyWebhook(payload []byte, signatureHeader string) (stripe.Event, error) {
	args := m.Called(payload, signatureHeader)
	return args.Get(0).(stripe.Event), args.Error(1)
}

type MockConversationStore struct {
	mock.Mock
}

func (m *MockConversationStore) CreateConversation(userID uuid.UUID, title string) (*models.Conversation, error) {
	args := m.Called(userID, title)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Conversation), args.Error(1)
}

func (m *MockConversationStore) GetConversationByID(id uuid.UUID) (*models.Conversation, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Conversation), args.Error(1)
}

func (m *MockConversationStore) ListConversationsByUser(userID uuid.UUID) ([]models.Conversation, error) {
	args := m.Called(userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Conversation), args.Error(1)
}

func (m *MockConversationStore) SaveMessage(conversationID uuid.UUID, role, content string) error {
	args := m.Called(conversationID, role, content)
	return args.Error(0)
}

func (m *MockConversationStore) GetRecentMessages(conversationID uuid.UUID, limit int) ([]models.Message, error) {
	args := m.Called(conversationID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Message), args.Error(1)
}

func (m *MockConversationStore) GetMessages(conversationID uuid.UUID) ([]models.Message, error) {
	args := m.Called(conversationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Message), args.Error(1)
}

type MockChatStreamer struct {
	mock.Mock
}

func (m *MockChatStreamer) StreamChat(ctx context.Context, history []models.Message) (services.TokenStream, error) {
	args := m.Called(ctx, history)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(services.TokenStream), args.Error(1)
}

// fakeTokenStream yields its tokens then io.EOF, or failErr when set.
type fakeTokenStream struct {
	tokens  []string
	failErr error
	pos     int
}

func (f *fakeTokenStream) Next() (string, error) {
	if f.pos < len(f.tokens) {
		token := f.tokens[f.pos]
		f.pos++
		return token, nil
	}
	if f.failErr != nil {
		return "", f.failErr
	}
	return "", io.EOF
}

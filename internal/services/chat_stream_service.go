package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"walter_go_backend/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ErrConversationNotFound covers both a missing conversation and one owned by
// another account; callers get no hint which.
var ErrConversationNotFound = errors.New("conversation not found")

const systemInstruction = `You are Walter, a friendly, patient AI companion for older adults.

Guidelines:
1. Be warm, concise, and helpful.
2. Use Markdown formatting to make your answers easy to read.
3. Use headings (##) to organize topics.
4. Use bullet points for lists.
5. Bold key terms.
6. Avoid technical jargon unless asked.`

const conversationTitleLimit = 30

// ChatStreamService coordinates one chat exchange: lazy conversation
// creation, the durable user-message write, history retrieval, the model
// stream, and the post-stream assistant write. Concurrent sends against the
// same conversation are not serialized; their messages interleave by
// creation time.
type ChatStreamService struct {
	streamer      ChatStreamer
	conversations ConversationStore
	historyWindow int
}

func NewChatStreamService(streamer ChatStreamer, conversations ConversationStore, historyWindow int) *ChatStreamService {
	return &ChatStreamService{
		streamer:      streamer,
		conversations: conversations,
		historyWindow: historyWindow,
	}
}

// ChatExchange is one in-flight model invocation. The conversation id is
// available before any stream byte, so transports can put it in their
// out-of-band channel first.
type ChatExchange struct {
	Conversation  *models.Conversation
	stream        TokenStream
	conversations ConversationStore
}

// BeginExchange persists the user message and starts the model stream. The
// user message is durable before the model is invoked; a failure here leaves
// no assistant message behind and is surfaced to the caller.
func (s *ChatStreamService) BeginExchange(ctx context.Context, user *models.User, conversationID, message string) (*ChatExchange, error) {
	conversation, err := s.resolveConversation(user, conversationID, message)
	if err != nil {
		return nil, err
	}

	if err := s.conversations.SaveMessage(conversation.ID, models.RoleUser, message); err != nil {
		return nil, fmt.Errorf("failed to save user message: %w", err)
	}

	history, err := s.conversations.GetRecentMessages(conversation.ID, s.historyWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation history: %w", err)
	}

	stream, err := s.streamer.StreamChat(ctx, history)
	if err != nil {
		return nil, fmt.Errorf("failed to start model stream: %w", err)
	}

	return &ChatExchange{
		Conversation:  conversation,
		stream:        stream,
		conversations: s.conversations,
	}, nil
}

func (s *ChatStreamService) resolveConversation(user *models.User, conversationID, message string) (*models.Conversation, error) {
	if conversationID == "" {
		conversation, err := s.conversations.CreateConversation(user.ID, deriveTitle(message))
		if err != nil {
			return nil, fmt.Errorf("failed to create conversation: %w", err)
		}
		return conversation, nil
	}

	id, err := uuid.Parse(conversationID)
	if err != nil {
		return nil, ErrConversationNotFound
	}
	conversation, err := s.conversations.GetConversationByID(id)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	if conversation == nil || conversation.UserID != user.ID {
		return nil, ErrConversationNotFound
	}
	return conversation, nil
}

// Stream relays tokens to send as they arrive while buffering the full text.
// After the stream ends the buffer is persisted as one assistant message; a
// persistence failure is logged but never retracts what the client already
// received. If send fails (client gone) the partial buffer is still saved.
// A model failure mid-stream is returned and nothing is persisted.
func (e *ChatExchange) Stream(send func(token string) error) error {
	var full strings.Builder
	var sendErr error

	for {
		token, err := e.stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("model stream failed: %w", err)
		}
		full.WriteString(token)
		if err := send(token); err != nil {
			sendErr = err
			break
		}
	}

	if full.Len() > 0 {
		if err := e.conversations.SaveMessage(e.Conversation.ID, models.RoleAssistant, full.String()); err != nil {
			log.Error().
				Err(err).
				Str("conversationID", e.Conversation.ID.String()).
				Msg("Failed to save assistant message after stream")
		}
	}
	return sendErr
}

// deriveTitle builds the conversation title from the opening message.
func deriveTitle(message string) string {
	runes := []rune(message)
	if len(runes) > conversationTitleLimit {
		runes = runes[:conversationTitleLimit]
	}
	return string(runes) + "..."
}

package services

import (
	"errors"
	"time"

	"walter_go_backend/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DefaultConversationStore implements ConversationStore on GORM.
type DefaultConversationStore struct {
	db *gorm.DB
}

func NewConversationStoreDB(db *gorm.DB) *DefaultConversationStore {
	return &DefaultConversationStore{db: db}
}

func (s *DefaultConversationStore) CreateConversation(userID uuid.UUID, title string) (*models.Conversation, error) {
	conversation := &models.Conversation{
		UserID: userID,
		Title:  title,
	}
	if err := s.db.Create(conversation).Error; err != nil {
		return nil, err
	}
	return conversation, nil
}

// GetConversationByID returns (nil, nil) when no conversation matches.
func (s *DefaultConversationStore) GetConversationByID(id uuid.UUID) (*models.Conversation, error) {
	var conversation models.Conversation
	result := s.db.Where("id = ?", id).First(&conversation)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return &conversation, nil
}

func (s *DefaultConversationStore) ListConversationsByUser(userID uuid.UUID) ([]models.Conversation, error) {
	var conversations []models.Conversation
	result := s.db.Where("user_id = ?", userID).Order("updated_at desc").Find(&conversations)
	if result.Error != nil {
		return nil, result.Error
	}
	return conversations, nil
}

// SaveMessage appends a message and bumps the conversation's update time so
// recently active conversations sort first.
func (s *DefaultConversationStore) SaveMessage(conversationID uuid.UUID, role, content string) error {
	message := &models.Message{
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      time.Now(),
	}
	if err := s.db.Create(message).Error; err != nil {
		return err
	}
	return s.db.Model(&models.Conversation{}).
		Where("id = ?", conversationID).
		Update("updated_at", time.Now()).Error
}

// GetRecentMessages returns the newest limit messages in ascending creation
// order, the window handed to the model as context.
func (s *DefaultConversationStore) GetRecentMessages(conversationID uuid.UUID, limit int) ([]models.Message, error) {
	var messages []models.Message
	result := s.db.Where("conversation_id = ?", conversationID).
		Order("created_at desc").
		Limit(limit).
		Find(&messages)
	if result.Error != nil {
		return nil, result.Error
	}
	// Flip back to chronological order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (s *DefaultConversationStore) GetMessages(conversationID uuid.UUID) ([]models.Message, error) {
	var messages []models.Message
	result := s.db.Where("conversation_id = ?", conversationID).
		Order("created_at asc").
		Find(&messages)
	if result.Error != nil {
		return nil, result.Error
	}
	return messages, nil
}

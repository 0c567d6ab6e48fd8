package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Conversation struct {
	gorm.Model
	ID        uuid.UUID `gorm:"type:uuid;primary_key"`
	UserID    uuid.UUID `gorm:"type:uuid;index"`
	Title     string
	Messages  []Message `gorm:"foreignKey:ConversationID"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (c *Conversation) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

type Message struct {
	gorm.Model
	ConversationID uuid.UUID `gorm:"type:uuid;index"`
	Role           string    `gorm:"not null"`
	Content        string    `gorm:"type:text"`
	CreatedAt      time.Time `gorm:"index"`
}

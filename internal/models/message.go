package models

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/wavechat/wavechat-backend/pkg/utils"
)

const (
	// MaxMessageLength is the content cap in characters (not bytes).
	MaxMessageLength = 5000

	// EditWindow is how long after creation a message stays editable.
	EditWindow = 15 * time.Minute
)

// Message is a single chat message inside a conversation.
type Message struct {
	ID             string    `gorm:"primaryKey;type:text" json:"id"`
	ConversationID string    `gorm:"index;type:text;not null" json:"conversationId"`
	SenderID       string    `gorm:"index;type:text;not null" json:"senderId"`
	Content        string    `gorm:"type:text;not null" json:"content"`
	IsDelivered    bool      `gorm:"default:false" json:"isDelivered"`
	IsRead         bool      `gorm:"default:false" json:"isRead"`
	IsEdited       bool      `gorm:"default:false" json:"isEdited"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`

	Sender User `gorm:"foreignKey:SenderID" json:"sender,omitempty"`
}

func validateContent(content string) (string, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "", ErrEmptyMessage
	}
	if utf8.RuneCountInString(trimmed) > MaxMessageLength {
		return "", ErrMessageTooLong
	}
	return trimmed, nil
}

// NewMessage validates content and returns a message with all flags unset.
func NewMessage(conversationID, senderID, content string) (*Message, error) {
	trimmed, err := validateContent(content)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	return &Message{
		ID:             utils.GenerateID(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        trimmed,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// MarkDelivered is idempotent; repeated calls do not bump updatedAt again.
func (m *Message) MarkDelivered() {
	if m.IsDelivered {
		return
	}
	m.IsDelivered = true
	m.UpdatedAt = time.Now()
}

// MarkRead is idempotent; repeated calls do not bump updatedAt again.
func (m *Message) MarkRead() {
	if m.IsRead {
		return
	}
	m.IsRead = true
	m.UpdatedAt = time.Now()
}

// Edit replaces the content and flags the message as edited. The edit window
// and sender checks are the caller's job (CanBeEdited / CanBeEditedBy); the
// entity only guards content validity.
func (m *Message) Edit(newContent string) error {
	trimmed, err := validateContent(newContent)
	if err != nil {
		return err
	}
	m.Content = trimmed
	m.IsEdited = true
	m.UpdatedAt = time.Now()
	return nil
}

// CanBeEdited reports whether the edit window is still open.
func (m *Message) CanBeEdited() bool {
	return time.Since(m.CreatedAt) <= EditWindow
}

// CanBeEditedBy reports whether userID is the original sender.
func (m *Message) CanBeEditedBy(userID string) bool {
	return userID == m.SenderID
}

// Preview returns the content truncated for list views.
func (m *Message) Preview(max int) string {
	runes := []rune(m.Content)
	if len(runes) <= max {
		return m.Content
	}
	return string(runes[:max]) + "..."
}

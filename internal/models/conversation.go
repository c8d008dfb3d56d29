package models

import (
	"strings"
	"time"

	"github.com/wavechat/wavechat-backend/pkg/utils"
)

type ConversationType string

const (
	ConversationDirect ConversationType = "DIRECT"
	ConversationGroup  ConversationType = "GROUP"
)

// MinGroupParticipants is the membership floor for GROUP conversations.
const MinGroupParticipants = 2

// Conversation is the aggregate root for a chat thread. All membership and
// message rules are enforced here before anything is persisted.
type Conversation struct {
	ID        string           `gorm:"primaryKey;type:text" json:"id"`
	Name      *string          `gorm:"type:text" json:"name"`
	Type      ConversationType `gorm:"type:text;not null;index" json:"type"`
	CreatedBy string           `gorm:"type:text;not null;index" json:"createdBy"`
	IsActive  bool             `gorm:"default:true" json:"isActive"`
	CreatedAt time.Time        `json:"createdAt"`
	UpdatedAt time.Time        `json:"updatedAt"`

	Participants []ConversationParticipant `gorm:"foreignKey:ConversationID" json:"participants,omitempty"`
	Messages     []Message                 `gorm:"foreignKey:ConversationID" json:"messages,omitempty"`
}

// ConversationParticipant tracks who is in a conversation. LeftAt nil means
// active; LastReadAt drives unread counts.
type ConversationParticipant struct {
	ConversationID string     `gorm:"primaryKey;type:text" json:"conversationId"`
	UserID         string     `gorm:"primaryKey;type:text" json:"userId"`
	JoinedAt       time.Time  `json:"joinedAt"`
	LeftAt         *time.Time `json:"leftAt"`
	LastReadAt     *time.Time `json:"lastReadAt"`
}

// NewConversation validates the type/participant rules and builds the
// aggregate. The creator is always included even if absent from the list.
// DIRECT conversations never carry a name; GROUP conversations must.
func NewConversation(name *string, ctype ConversationType, createdBy string, participantIDs []string) (*Conversation, error) {
	seen := make(map[string]bool, len(participantIDs)+1)
	ids := make([]string, 0, len(participantIDs)+1)
	for _, id := range append(participantIDs, createdBy) {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}

	switch ctype {
	case ConversationDirect:
		if len(ids) != 2 {
			return nil, ErrInvalidParticipantCount
		}
		name = nil
	case ConversationGroup:
		if len(ids) < MinGroupParticipants {
			return nil, ErrInvalidParticipantCount
		}
		if name == nil || strings.TrimSpace(*name) == "" {
			return nil, ErrGroupNameRequired
		}
	default:
		return nil, ErrInvalidParticipantCount
	}

	now := time.Now()
	conv := &Conversation{
		ID:        utils.GenerateID(),
		Name:      name,
		Type:      ctype,
		CreatedBy: createdBy,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, id := range ids {
		conv.Participants = append(conv.Participants, ConversationParticipant{
			ConversationID: conv.ID,
			UserID:         id,
			JoinedAt:       now,
		})
	}
	return conv, nil
}

// IsParticipant reports whether userID is an active participant.
func (c *Conversation) IsParticipant(userID string) bool {
	for i := range c.Participants {
		p := &c.Participants[i]
		if p.UserID == userID && p.LeftAt == nil {
			return true
		}
	}
	return false
}

// ActiveParticipantIDs returns the ids of everyone currently in the thread.
func (c *Conversation) ActiveParticipantIDs() []string {
	ids := make([]string, 0, len(c.Participants))
	for i := range c.Participants {
		if c.Participants[i].LeftAt == nil {
			ids = append(ids, c.Participants[i].UserID)
		}
	}
	return ids
}

func (c *Conversation) activeCount() int {
	n := 0
	for i := range c.Participants {
		if c.Participants[i].LeftAt == nil {
			n++
		}
	}
	return n
}

func (c *Conversation) touch() {
	c.UpdatedAt = time.Now()
}

// AddMessage appends a message from an active participant. The conversation
// must not be archived.
func (c *Conversation) AddMessage(senderID, content string) (*Message, error) {
	if !c.IsActive {
		return nil, ErrConversationInactive
	}
	if !c.IsParticipant(senderID) {
		return nil, ErrNotParticipant
	}
	msg, err := NewMessage(c.ID, senderID, content)
	if err != nil {
		return nil, err
	}
	c.Messages = append(c.Messages, *msg)
	c.touch()
	return msg, nil
}

// AddParticipant lets an existing member add userID. A member who left
// earlier rejoins with a fresh joinedAt and no read state.
func (c *Conversation) AddParticipant(userID, addedBy string) error {
	if !c.IsParticipant(addedBy) {
		return ErrNotParticipant
	}
	if c.Type == ConversationDirect {
		return ErrCannotModifyDirectMembership
	}
	if c.IsParticipant(userID) {
		return ErrAlreadyParticipant
	}

	now := time.Now()
	for i := range c.Participants {
		if c.Participants[i].UserID == userID {
			c.Participants[i].LeftAt = nil
			c.Participants[i].JoinedAt = now
			c.Participants[i].LastReadAt = nil
			c.touch()
			return nil
		}
	}
	c.Participants = append(c.Participants, ConversationParticipant{
		ConversationID: c.ID,
		UserID:         userID,
		JoinedAt:       now,
	})
	c.touch()
	return nil
}

// RemoveParticipant marks userID as left. Groups never drop below the
// 2-member floor.
func (c *Conversation) RemoveParticipant(userID, removedBy string) error {
	if !c.IsParticipant(removedBy) {
		return ErrNotParticipant
	}
	if c.Type == ConversationDirect {
		return ErrCannotModifyDirectMembership
	}
	if !c.IsParticipant(userID) {
		return ErrNotParticipant
	}
	if c.activeCount()-1 < MinGroupParticipants {
		return ErrMinimumParticipants
	}

	now := time.Now()
	for i := range c.Participants {
		if c.Participants[i].UserID == userID && c.Participants[i].LeftAt == nil {
			c.Participants[i].LeftAt = &now
			break
		}
	}
	c.touch()
	return nil
}

// UpdateName renames a group conversation.
func (c *Conversation) UpdateName(newName, updatedBy string) error {
	if c.Type == ConversationDirect {
		return ErrCannotRenameDirect
	}
	if !c.IsParticipant(updatedBy) {
		return ErrNotParticipant
	}
	trimmed := strings.TrimSpace(newName)
	if trimmed == "" {
		return ErrGroupNameRequired
	}
	c.Name = &trimmed
	c.touch()
	return nil
}

// Archive soft-deletes the conversation. History stays queryable.
func (c *Conversation) Archive(by string) error {
	if !c.IsParticipant(by) {
		return ErrNotParticipant
	}
	c.IsActive = false
	c.touch()
	return nil
}

// Reactivate undoes Archive.
func (c *Conversation) Reactivate(by string) error {
	if !c.IsParticipant(by) {
		return ErrNotParticipant
	}
	c.IsActive = true
	c.touch()
	return nil
}

// UnreadCount counts loaded messages from other senders newer than the
// participant's lastReadAt. Non-participants always see zero.
func (c *Conversation) UnreadCount(userID string) int {
	var lastRead *time.Time
	found := false
	for i := range c.Participants {
		p := &c.Participants[i]
		if p.UserID == userID && p.LeftAt == nil {
			lastRead = p.LastReadAt
			found = true
			break
		}
	}
	if !found {
		return 0
	}

	count := 0
	for i := range c.Messages {
		m := &c.Messages[i]
		if m.SenderID == userID {
			continue
		}
		if lastRead == nil || m.CreatedAt.After(*lastRead) {
			count++
		}
	}
	return count
}

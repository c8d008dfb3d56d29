package models

import "errors"

// Domain rule violations. These are sentinel values so callers can map them
// to transport codes with errors.Is.
var (
	ErrInvalidParticipantCount      = errors.New("invalid participant count for conversation type")
	ErrGroupNameRequired            = errors.New("group conversations require a name")
	ErrConversationInactive         = errors.New("conversation is archived")
	ErrNotParticipant               = errors.New("user is not a participant of this conversation")
	ErrAlreadyParticipant           = errors.New("user is already a participant of this conversation")
	ErrCannotModifyDirectMembership = errors.New("direct conversation membership cannot be changed")
	ErrCannotRenameDirect           = errors.New("direct conversations cannot be renamed")
	ErrMinimumParticipants          = errors.New("group conversations require at least 2 participants")
	ErrEmptyMessage                 = errors.New("message content cannot be empty")
	ErrMessageTooLong               = errors.New("message content exceeds maximum length")
	ErrEditWindowExpired            = errors.New("message can no longer be edited")
	ErrNotMessageSender             = errors.New("only the sender can edit a message")
)

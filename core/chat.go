package core

import (
	"context"
	"errors"
	"time"
)

// Chat is a direct conversation between exactly two users. Unread counts are
// kept per participant and reset when that participant marks the chat seen.
// HasActivity flips to true on the first message and never resets.
type Chat struct {
	ID              string         `json:"id"`
	Participants    []string       `json:"participants"`
	LatestMessageID *string        `json:"latestMessageId,omitempty"`
	UnreadCounts    map[string]int `json:"unreadCounts"`
	HasActivity     bool           `json:"hasActivity"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

// HasParticipant reports whether userID is one of the two chat participants.
func (c *Chat) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// OtherParticipant returns the participant that is not userID.
func (c *Chat) OtherParticipant(userID string) (string, bool) {
	for _, p := range c.Participants {
		if p != userID {
			return p, true
		}
	}
	return "", false
}

// Message moves through sent -> delivered -> seen, never backwards. The
// delivered and seen flips are owned by the realtime layer; creation happens
// on the REST path before any fanout.
type Message struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chatId"`
	SenderID  string    `json:"senderId"`
	Content   string    `json:"content"`
	Delivered bool      `json:"delivered"`
	Seen      bool      `json:"seen"`
	CreatedAt time.Time `json:"createdAt"`
}

// ChatSummary is a sidebar entry for one chat from a given user's perspective.
type ChatSummary struct {
	ID            string               `json:"id"`
	Participants  []UserWithoutSecrets `json:"participants"`
	LatestMessage *Message             `json:"latestMessage,omitempty"`
	UnreadCount   int                  `json:"unreadCount"`
	UpdatedAt     time.Time            `json:"updatedAt"`
}

var (
	ErrInvalidChat    = errors.New("invalid chat")
	ErrInvalidMessage = errors.New("invalid message")
	ErrSelfChat       = errors.New("cannot chat with yourself")
)

// MessageCreateInput represents the input for persisting a new message.
type MessageCreateInput struct {
	ChatID   string `json:"chatId" validate:"required"`
	SenderID string `json:"senderId" validate:"required"`
	Content  string `json:"content" validate:"required"`
}

type ChatStore interface {
	// FindOrCreateChat returns the chat between the two users, creating it if
	// none exists. A second call for the same pair returns the same chat. The
	// returned bool reports whether the chat was created by this call.
	// It returns ErrSelfChat if both ids are equal and ErrInvalidUser if
	// either user does not exist.
	FindOrCreateChat(ctx context.Context, userA, userB string) (*Chat, bool, error)

	// FindChatByID returns the chat with the given id, or nil if not found.
	FindChatByID(ctx context.Context, id string) (*Chat, error)

	// ListChatsForUser returns the user's chats that have at least one
	// message, most recent activity first.
	ListChatsForUser(ctx context.Context, userID string) ([]ChatSummary, error)

	// CreateMessage persists a new message and advances the chat's latest
	// message pointer, activity flag and updated_at in the same transaction.
	// Unread counters move on the fanout path, not here. It returns
	// ErrInvalidChat if the chat does not exist or the sender is not a
	// participant.
	CreateMessage(ctx context.Context, input MessageCreateInput) (*Message, error)

	// FindMessageByID returns the message with the given id, or nil if not found.
	FindMessageByID(ctx context.Context, id string) (*Message, error)

	// ListChatMessages returns all messages of a chat, oldest first.
	ListChatMessages(ctx context.Context, chatID string) ([]Message, error)

	// ApplyMessageSent records the side effects of a sent message on its chat
	// in one transaction: latest message pointer, activity flag, updated_at,
	// and a +1 on every non-sender participant's unread counter. The counter
	// bump is a single UPDATE so concurrent sends cannot lose increments.
	ApplyMessageSent(ctx context.Context, chatID, messageID, senderID string) error

	// MarkMessageDelivered flips the delivered flag on a message.
	MarkMessageDelivered(ctx context.Context, messageID string) error

	// MarkChatSeen marks every message in the chat not sent by readerID as
	// seen (and delivered; seen implies delivered at the data level). It
	// returns the number of messages transitioned.
	MarkChatSeen(ctx context.Context, chatID, readerID string) (int64, error)

	// ResetUnread sets the user's unread counter for the chat to zero.
	ResetUnread(ctx context.Context, chatID, userID string) error

	// DeleteMessage removes a message and repoints the chat's latest message
	// to the most recent remaining one, or to none. It returns the new latest
	// message (nil if the chat is now empty) and ErrInvalidMessage if the
	// message does not exist.
	DeleteMessage(ctx context.Context, messageID string) (*Message, error)
}

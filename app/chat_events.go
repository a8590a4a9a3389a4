package chattrix

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chattrix/chattrix/core"
)

const (
	DeclareOnlineEvent    = "declare-online"
	JoinChatEvent         = "join-chat"
	LeaveChatEvent        = "leave-chat"
	TypingEvent           = "typing"
	StopTypingEvent       = "stop-typing"
	SendMessageEvent      = "send-message"
	ReceiveMessageEvent   = "receive-message"
	MessageDeliveredEvent = "message-delivered"
	MarkSeenEvent         = "mark-seen"
	MessageSeenEvent      = "message-seen"
	OnlineUsersEvent      = "online-users"
)

type DeclareOnlinePayload struct {
	UserID string `json:"userId"`
}

type ChatRoomPayload struct {
	ChatID string `json:"chatId"`
}

type TypingPayload struct {
	ChatID string `json:"chatId"`
	UserID string `json:"userId,omitempty"`
}

type SendMessagePayload struct {
	ChatID  string       `json:"chatId"`
	Message core.Message `json:"message"`
}

type MessageDeliveredPayload struct {
	MessageID string `json:"messageId"`
}

type MessageSeenPayload struct {
	ChatID string `json:"chatId"`
}

type OnlineUsersPayload struct {
	Online   []string             `json:"online"`
	LastSeen map[string]time.Time `json:"lastSeen"`
}

// DeclareOnlineHandler binds the connection to its user's identity room and
// marks the user online. A binding held by an earlier connection of the same
// user is silently superseded. The payload's userId is informational only;
// the identity always comes from the authenticated connection.
func (app *App) DeclareOnlineHandler(ctx context.Context, e *core.Event) error {
	var payload DeclareOnlinePayload
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal declare-online payload: %w", err)
	}

	userID, ok := app.wsManager.Bind(e.ConnID)
	if !ok {
		return nil
	}
	if payload.UserID != "" && payload.UserID != userID {
		app.logger.Warn("declare-online user mismatch, using authenticated identity")
	}

	app.presence.SetOnline(userID)
	return app.broadcastPresence()
}

// JoinChatHandler adds the connection to the chat room. Membership is
// client-driven; no participant check happens here.
func (app *App) JoinChatHandler(ctx context.Context, e *core.Event) error {
	var payload ChatRoomPayload
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal join-chat payload: %w", err)
	}
	if payload.ChatID == "" {
		return nil
	}
	app.wsManager.JoinRoom(e.ConnID, payload.ChatID)
	return nil
}

func (app *App) LeaveChatHandler(ctx context.Context, e *core.Event) error {
	var payload ChatRoomPayload
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal leave-chat payload: %w", err)
	}
	app.wsManager.LeaveRoom(e.ConnID, payload.ChatID)
	return nil
}

// TypingHandler relays typing and stop-typing signals to the other
// connections in the chat room. Nothing is retained server side and an
// unknown or empty chat id simply reaches an empty room.
func (app *App) TypingHandler(ctx context.Context, e *core.Event) error {
	var payload TypingPayload
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal typing payload: %w", err)
	}
	payload.UserID = e.Sender
	return app.eventRouter.EmitToRoomExcept(e.Type, payload, payload.ChatID, e.ConnID)
}

// SendMessageHandler fans a persisted message out to the recipient. The path
// is best effort: validation misses and unknown chats are dropped with a log
// entry only. State is persisted before any notification goes out:
//
//  1. the chat's latest message, activity flag and the recipient's unread
//     counter advance in one transaction, online or not;
//  2. if the recipient holds a bound connection the message is flagged
//     delivered, then receive-message goes to the recipient's identity room
//     and message-delivered acks the sender.
//
// An offline recipient gets nothing here; they catch up through a history
// fetch when they return.
func (app *App) SendMessageHandler(ctx context.Context, e *core.Event) error {
	var payload SendMessagePayload
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal send-message payload: %w", err)
	}

	if e.Sender == "" || payload.ChatID == "" || payload.Message.ID == "" {
		app.logger.Debug("send-message with missing ids, dropping")
		return nil
	}

	chat, err := app.chatStore.FindChatByID(ctx, payload.ChatID)
	if err != nil {
		return fmt.Errorf("FindChatByID: %w", err)
	}
	if chat == nil || !chat.HasParticipant(e.Sender) {
		app.logger.Debug("send-message for unknown chat, dropping")
		return nil
	}

	msg, err := app.chatStore.FindMessageByID(ctx, payload.Message.ID)
	if err != nil {
		return fmt.Errorf("FindMessageByID: %w", err)
	}
	if msg == nil || msg.ChatID != chat.ID || msg.SenderID != e.Sender {
		app.logger.Debug("send-message for unknown message, dropping")
		return nil
	}

	recipient, ok := chat.OtherParticipant(e.Sender)
	if !ok {
		return nil
	}

	if err := app.chatStore.ApplyMessageSent(ctx, chat.ID, msg.ID, e.Sender); err != nil {
		return fmt.Errorf("ApplyMessageSent: %w", err)
	}

	if !app.wsManager.IsBound(recipient) {
		return nil
	}

	if err := app.chatStore.MarkMessageDelivered(ctx, msg.ID); err != nil {
		return fmt.Errorf("MarkMessageDelivered: %w", err)
	}
	msg.Delivered = true

	if _, err := app.eventRouter.EmitToUser(ReceiveMessageEvent, msg, recipient); err != nil {
		return err
	}
	_, err = app.eventRouter.EmitToUser(MessageDeliveredEvent,
		MessageDeliveredPayload{MessageID: msg.ID}, e.Sender)
	return err
}

// MarkSeenHandler transitions every message in the chat not sent by the
// reader to seen, resets the reader's unread counter and notifies the other
// participant's identity room. Connections that never declared themselves
// online are ignored.
func (app *App) MarkSeenHandler(ctx context.Context, e *core.Event) error {
	if e.Sender == "" {
		return nil
	}

	var payload ChatRoomPayload
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal mark-seen payload: %w", err)
	}

	chat, err := app.chatStore.FindChatByID(ctx, payload.ChatID)
	if err != nil {
		return fmt.Errorf("FindChatByID: %w", err)
	}
	if chat == nil || !chat.HasParticipant(e.Sender) {
		return nil
	}

	if _, err := app.chatStore.MarkChatSeen(ctx, chat.ID, e.Sender); err != nil {
		return fmt.Errorf("MarkChatSeen: %w", err)
	}
	if err := app.chatStore.ResetUnread(ctx, chat.ID, e.Sender); err != nil {
		return fmt.Errorf("ResetUnread: %w", err)
	}

	other, ok := chat.OtherParticipant(e.Sender)
	if !ok {
		return nil
	}
	_, err = app.eventRouter.EmitToUser(MessageSeenEvent,
		MessageSeenPayload{ChatID: chat.ID}, other)
	return err
}

// onIdentityOffline runs when a disconnecting connection owned its user's
// identity binding: the user drops out of the online set, gets a last-seen
// timestamp, and everyone receives the updated snapshot.
func (app *App) onIdentityOffline(userID string) {
	app.presence.SetOffline(userID)
	if err := app.broadcastPresence(); err != nil {
		app.logger.Error(fmt.Sprintf("broadcast presence: %v", err))
	}
}

// broadcastPresence sends the full online list and last-seen map to every
// connected client.
func (app *App) broadcastPresence() error {
	online, lastSeen := app.presence.Snapshot()
	return app.eventRouter.EmitAll(OnlineUsersEvent, OnlineUsersPayload{
		Online:   online,
		LastSeen: lastSeen,
	})
}

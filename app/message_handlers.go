package chattrix

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/chattrix/chattrix/core"
	"github.com/chattrix/chattrix/pkg/router"
)

type MessageHandler struct {
	chatStore core.ChatStore
}

func NewMessageHandler(chatStore core.ChatStore) *MessageHandler {
	return &MessageHandler{chatStore: chatStore}
}

type SendMessageRequest struct {
	ChatID  string `json:"chatId" validate:"required"`
	Content string `json:"content" validate:"required"`
}

// SendMessageHandler persists a message on the REST path. The realtime fanout
// happens separately when the client emits send-message over the socket with
// the id returned here.
func (h *MessageHandler) SendMessageHandler(w http.ResponseWriter, r *http.Request) error {
	session := core.SessionFromRequest(r)

	var payload SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		return fmt.Errorf("Decode: %w", err)
	}
	defer r.Body.Close()

	if err := validate.Struct(payload); err != nil {
		return router.NewJsonError(http.StatusBadRequest, "invalid input")
	}

	message, err := h.chatStore.CreateMessage(r.Context(), core.MessageCreateInput{
		ChatID:   payload.ChatID,
		SenderID: session.UserID,
		Content:  payload.Content,
	})
	if err != nil {
		if errors.Is(err, core.ErrInvalidChat) || errors.Is(err, core.ErrInvalidMessage) {
			return router.NewJsonError(http.StatusBadRequest, err.Error())
		}
		return err
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(message)
	return nil
}

func (h *MessageHandler) GetChatMessagesHandler(w http.ResponseWriter, r *http.Request) error {
	session := core.SessionFromRequest(r)
	chatID := chi.URLParam(r, "chatID")

	chat, err := h.chatStore.FindChatByID(r.Context(), chatID)
	if err != nil {
		return err
	}
	if chat == nil {
		return router.NewJsonError(http.StatusNotFound, "chat not found")
	}
	if !chat.HasParticipant(session.UserID) {
		return router.NewJsonError(http.StatusForbidden, "you are not in this chat")
	}

	messages, err := h.chatStore.ListChatMessages(r.Context(), chatID)
	if err != nil {
		return err
	}
	if messages == nil {
		messages = []core.Message{}
	}

	json.NewEncoder(w).Encode(messages)
	return nil
}

// DeleteMessageHandler removes one of the requester's own messages and
// returns the chat's new latest message, or 204 when the chat is now empty.
func (h *MessageHandler) DeleteMessageHandler(w http.ResponseWriter, r *http.Request) error {
	session := core.SessionFromRequest(r)
	messageID := chi.URLParam(r, "messageID")

	message, err := h.chatStore.FindMessageByID(r.Context(), messageID)
	if err != nil {
		return err
	}
	if message == nil {
		return router.NewJsonError(http.StatusNotFound, "message not found")
	}
	if message.SenderID != session.UserID {
		return router.NewJsonError(http.StatusForbidden, "you can only delete your own messages")
	}

	latest, err := h.chatStore.DeleteMessage(r.Context(), messageID)
	if err != nil {
		if errors.Is(err, core.ErrInvalidMessage) {
			return router.NewJsonError(http.StatusNotFound, "message not found")
		}
		return err
	}

	if latest == nil {
		w.WriteHeader(http.StatusNoContent)
		return nil
	}
	json.NewEncoder(w).Encode(latest)
	return nil
}

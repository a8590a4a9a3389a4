package chattrix

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/chattrix/chattrix/core"
	"github.com/chattrix/chattrix/pkg/router"
)

type ChatHandler struct {
	chatStore core.ChatStore
}

func NewChatHandler(chatStore core.ChatStore) *ChatHandler {
	return &ChatHandler{chatStore: chatStore}
}

type AccessChatPayload struct {
	UserID string `json:"userId" validate:"required"`
}

// AccessChatHandler returns the requester's chat with the given user,
// creating it if the pair never chatted before. The operation is idempotent:
// the same pair always resolves to the same chat.
func (h *ChatHandler) AccessChatHandler(w http.ResponseWriter, r *http.Request) error {
	session := core.SessionFromRequest(r)

	var payload AccessChatPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		return fmt.Errorf("Decode: %w", err)
	}
	defer r.Body.Close()

	if err := validate.Struct(payload); err != nil {
		return router.NewJsonError(http.StatusBadRequest, "invalid input")
	}

	chat, created, err := h.chatStore.FindOrCreateChat(r.Context(), session.UserID, payload.UserID)
	if err != nil {
		if errors.Is(err, core.ErrSelfChat) || errors.Is(err, core.ErrInvalidUser) {
			return router.NewJsonError(http.StatusBadRequest, err.Error())
		}
		return err
	}

	if created {
		w.WriteHeader(http.StatusCreated)
	}
	json.NewEncoder(w).Encode(chat)
	return nil
}

// ListChatsHandler returns the requester's sidebar: every chat with at least
// one message, most recent activity first, with the other participant, the
// latest message and the requester's unread count.
func (h *ChatHandler) ListChatsHandler(w http.ResponseWriter, r *http.Request) error {
	session := core.SessionFromRequest(r)

	chats, err := h.chatStore.ListChatsForUser(r.Context(), session.UserID)
	if err != nil {
		return err
	}
	if chats == nil {
		chats = []core.ChatSummary{}
	}

	json.NewEncoder(w).Encode(chats)
	return nil
}

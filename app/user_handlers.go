package chattrix

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/chattrix/chattrix/core"
	"github.com/chattrix/chattrix/pkg/router"
)

type UserHandler struct {
	store core.UserStore
}

func NewUserHandler(store core.UserStore) *UserHandler {
	return &UserHandler{store: store}
}

func (h *UserHandler) MeHandler(w http.ResponseWriter, r *http.Request) error {
	session := core.SessionFromRequest(r)
	user, err := h.store.GetUserByID(r.Context(), session.UserID)
	if err != nil {
		return fmt.Errorf("get user by id: %w", err)
	}
	if user == nil {
		return router.NewJsonError(http.StatusNotFound, "user not found")
	}

	json.NewEncoder(w).Encode(user)
	return nil
}

// SearchUsersHandler finds chat partners by name or email fragment. The
// requesting user is excluded from the result.
func (h *UserHandler) SearchUsersHandler(w http.ResponseWriter, r *http.Request) error {
	session := core.SessionFromRequest(r)
	q := r.URL.Query().Get("search")

	users, err := h.store.SearchUsers(r.Context(), q, session.UserID)
	if err != nil {
		return err
	}
	if users == nil {
		users = []core.UserWithoutSecrets{}
	}

	json.NewEncoder(w).Encode(users)
	return nil
}

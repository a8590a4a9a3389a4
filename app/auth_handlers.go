package chattrix

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/chattrix/chattrix/core"
	"github.com/chattrix/chattrix/pkg/router"
)

type AuthHandler struct {
	store     core.AuthStore
	userStore core.UserStore
}

func NewAuthHandler(store core.AuthStore, userStore core.UserStore) *AuthHandler {
	return &AuthHandler{store: store, userStore: userStore}
}

// RegisterHandler creates the user and immediately opens a session for it, so
// a fresh registration lands the client straight in the app.
func (h *AuthHandler) RegisterHandler(w http.ResponseWriter, r *http.Request) error {
	var input core.UserCreateInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		return fmt.Errorf("Decode: %w", err)
	}
	defer r.Body.Close()

	if err := validate.Struct(input); err != nil {
		return router.NewJsonError(http.StatusBadRequest, "invalid input")
	}

	if _, err := h.userStore.CreateUser(r.Context(), input); err != nil {
		if errors.Is(err, core.ErrConflictedUser) {
			return router.NewJsonError(http.StatusConflict, "user already exists")
		}
		return err
	}

	session, err := h.store.NewSession(r.Context(), input.Email, input.Password)
	if err != nil {
		return err
	}

	setAuthCookie(w, session)
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(session); err != nil {
		return fmt.Errorf("Encode: %w", err)
	}
	return nil
}

type LoginPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *AuthHandler) LoginHandler(w http.ResponseWriter, r *http.Request) error {
	var payload LoginPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		return fmt.Errorf("Decode: %w", err)
	}
	defer r.Body.Close()

	session, err := h.store.NewSession(r.Context(), payload.Email, payload.Password)
	if err != nil {
		if errors.Is(err, core.ErrBadCredentials) {
			return router.NewJsonError(http.StatusUnauthorized, err.Error())
		}
		return err
	}

	setAuthCookie(w, session)
	if err := json.NewEncoder(w).Encode(session); err != nil {
		return fmt.Errorf("Encode: %w", err)
	}
	return nil
}

func (h *AuthHandler) SignoutHandler(w http.ResponseWriter, r *http.Request) error {
	session := core.SessionFromRequest(r)
	if err := h.store.DestroySession(r.Context(), session); err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     core.AuthCookieName,
		Value:    "",
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Path:     "/",
	})
	w.WriteHeader(http.StatusOK)
	return nil
}

func setAuthCookie(w http.ResponseWriter, session *core.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     core.AuthCookieName,
		Value:    session.Token,
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		Path:     "/",
	})
}

package core

import (
	"context"
	"errors"
)

type User struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Password  string `json:"password"`
}

type UserWithoutSecrets struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
}

func (u User) WithoutSecrets() UserWithoutSecrets {
	return UserWithoutSecrets{
		ID:        u.ID,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Email:     u.Email,
	}
}

var (
	ErrConflictedUser = errors.New("user already exists")
	ErrInvalidUser    = errors.New("invalid user")
)

// UserCreateInput represents the input for registering a user.
type UserCreateInput struct {
	FirstName string `json:"firstName" validate:"required"`
	LastName  string `json:"lastName" validate:"required"`
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=6"`
}

type UserStore interface {
	// CreateUser registers a new user with a hashed password.
	// If a user with the same email already exists it returns ErrConflictedUser.
	CreateUser(ctx context.Context, input UserCreateInput) (*UserWithoutSecrets, error)

	// GetUserByID returns the user with the given id, or nil if not found.
	GetUserByID(ctx context.Context, id string) (*UserWithoutSecrets, error)

	// GetUserByEmail returns the user with the given email, or nil if not found.
	GetUserByEmail(ctx context.Context, email string) (*UserWithoutSecrets, error)

	// ComparePassword reports whether the password matches the stored hash
	// for the user with the given email.
	ComparePassword(ctx context.Context, email, password string) (bool, error)

	// SearchUsers returns users whose first name, last name or email contains q,
	// excluding the user with excludeID. An empty q matches everyone.
	SearchUsers(ctx context.Context, q, excludeID string) ([]UserWithoutSecrets, error)
}

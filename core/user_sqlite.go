package core

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

type SQLiteUserStore struct {
	db *sql.DB
}

func NewSQLiteUserStore(db *sql.DB) *SQLiteUserStore {
	return &SQLiteUserStore{
		db: db,
	}
}

func (s *SQLiteUserStore) CreateUser(ctx context.Context, input UserCreateInput) (*UserWithoutSecrets, error) {
	existing, err := s.GetUserByEmail(ctx, input.Email)
	if err != nil {
		return nil, fmt.Errorf("checking if user exists: %w", err)
	}
	if existing != nil {
		return nil, ErrConflictedUser
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	user := UserWithoutSecrets{
		ID:        uuid.New().String(),
		FirstName: input.FirstName,
		LastName:  input.LastName,
		Email:     input.Email,
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users (id, first_name, last_name, email, password)
		 VALUES (@id, @first_name, @last_name, @email, @password)`,
		sql.Named("id", user.ID),
		sql.Named("first_name", user.FirstName),
		sql.Named("last_name", user.LastName),
		sql.Named("email", user.Email),
		sql.Named("password", string(hashed)))
	if err != nil {
		return nil, fmt.Errorf("creating user: %w", err)
	}

	return &user, nil
}

func (s *SQLiteUserStore) GetUserByID(ctx context.Context, id string) (*UserWithoutSecrets, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, first_name, last_name, email FROM users WHERE id = ? LIMIT 1", id)
	return scanUser(row)
}

func (s *SQLiteUserStore) GetUserByEmail(ctx context.Context, email string) (*UserWithoutSecrets, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, first_name, last_name, email FROM users WHERE email = ? LIMIT 1", email)
	return scanUser(row)
}

func scanUser(row *sql.Row) (*UserWithoutSecrets, error) {
	user := new(UserWithoutSecrets)
	err := row.Scan(&user.ID, &user.FirstName, &user.LastName, &user.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scanning user: %w", err)
	}
	return user, nil
}

func (s *SQLiteUserStore) ComparePassword(ctx context.Context, email, password string) (bool, error) {
	row := s.db.QueryRowContext(ctx, "SELECT password FROM users WHERE email = ? LIMIT 1", email)

	var storedPassword string
	if err := row.Scan(&storedPassword); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("scanning password: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(storedPassword), []byte(password)); err != nil {
		return false, nil
	}
	return true, nil
}

func (s *SQLiteUserStore) SearchUsers(ctx context.Context, q, excludeID string) ([]UserWithoutSecrets, error) {
	pattern := "%" + q + "%"
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, first_name, last_name, email FROM users
		 WHERE id != @exclude
		 AND (first_name LIKE @q OR last_name LIKE @q OR email LIKE @q)
		 ORDER BY first_name, last_name`,
		sql.Named("exclude", excludeID), sql.Named("q", pattern))
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer rows.Close()

	users := []UserWithoutSecrets{}
	for rows.Next() {
		var user UserWithoutSecrets
		if err := rows.Scan(&user.ID, &user.FirstName, &user.LastName, &user.Email); err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

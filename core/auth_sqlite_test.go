package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAuthFixture(t *testing.T) (*ChatFixture, *SQLiteAuthStore) {
	f := NewChatFixture(t)
	authStore := NewSQLiteAuthStore(f.db, f.userStore, tokenSecret, WithTokenExp(time.Hour))
	return f, authStore
}

func TestNewSession(t *testing.T) {
	t.Run("valid credentials", func(t *testing.T) {
		f, authStore := newAuthFixture(t)
		defer f.tearDown()
		users := seedUsers(f.ctx, f.t, f.userStore, alice)

		session, err := authStore.NewSession(f.ctx, alice.Email, alice.Password)
		require.Nil(t, err)
		require.NotNil(t, session)
		assert.Equal(t, users[0].ID, session.UserID)
		assert.Equal(t, alice.Email, session.Email)
		assert.NotEmpty(t, session.Token)
		assert.WithinDuration(t, time.Now().Add(time.Hour), session.ExpiresAt, time.Minute)
	})

	t.Run("wrong password", func(t *testing.T) {
		f, authStore := newAuthFixture(t)
		defer f.tearDown()
		seedUsers(f.ctx, f.t, f.userStore, alice)

		session, err := authStore.NewSession(f.ctx, alice.Email, "wrong")
		require.NotNil(t, err)
		assert.Equal(t, ErrBadCredentials, err)
		assert.Nil(t, session)
	})

	t.Run("unknown email", func(t *testing.T) {
		f, authStore := newAuthFixture(t)
		defer f.tearDown()

		session, err := authStore.NewSession(f.ctx, "random@example.com", "password")
		require.NotNil(t, err)
		assert.Equal(t, ErrBadCredentials, err)
		assert.Nil(t, session)
	})
}

func TestSession(t *testing.T) {
	t.Run("valid token resolves to session", func(t *testing.T) {
		f, authStore := newAuthFixture(t)
		defer f.tearDown()
		seedUsers(f.ctx, f.t, f.userStore, alice)

		created, err := authStore.NewSession(f.ctx, alice.Email, alice.Password)
		require.Nil(t, err)

		session, err := authStore.Session(f.ctx, created.Token)
		require.Nil(t, err)
		require.NotNil(t, session)
		assert.Equal(t, created.UserID, session.UserID)
		assert.Equal(t, created.Email, session.Email)
		assert.Equal(t, created.Token, session.Token)
	})

	t.Run("garbage token", func(t *testing.T) {
		f, authStore := newAuthFixture(t)
		defer f.tearDown()

		session, err := authStore.Session(f.ctx, "not-a-token")
		require.NotNil(t, err)
		assert.Equal(t, ErrUnauthenticated, err)
		assert.Nil(t, session)
	})
}

func TestDestroySession(t *testing.T) {
	f, authStore := newAuthFixture(t)
	defer f.tearDown()
	seedUsers(f.ctx, f.t, f.userStore, alice)

	created, err := authStore.NewSession(f.ctx, alice.Email, alice.Password)
	require.Nil(t, err)

	err = authStore.DestroySession(f.ctx, *created)
	require.Nil(t, err)

	// the blacklisted token no longer resolves
	session, err := authStore.Session(f.ctx, created.Token)
	require.NotNil(t, err)
	assert.Equal(t, ErrUnauthenticated, err)
	assert.Nil(t, session)

	// a fresh login unblacklists an identical token
	fresh, err := authStore.NewSession(f.ctx, alice.Email, alice.Password)
	require.Nil(t, err)
	session, err = authStore.Session(f.ctx, fresh.Token)
	require.Nil(t, err)
	assert.NotNil(t, session)
}

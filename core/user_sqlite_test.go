package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateUser(t *testing.T) {
	t.Run("create user successfully", func(t *testing.T) {
		f := NewChatFixture(t)
		defer f.tearDown()

		user, err := f.userStore.CreateUser(f.ctx, alice)
		require.Nil(t, err)
		require.NotNil(t, user)
		assert.NotEmpty(t, user.ID)
		assert.Equal(t, alice.FirstName, user.FirstName)
		assert.Equal(t, alice.LastName, user.LastName)
		assert.Equal(t, alice.Email, user.Email)
	})

	t.Run("create user with existing email", func(t *testing.T) {
		f := NewChatFixture(t)
		defer f.tearDown()
		seedUsers(f.ctx, f.t, f.userStore, alice)

		user, err := f.userStore.CreateUser(f.ctx, alice)
		require.NotNil(t, err)
		assert.Equal(t, ErrConflictedUser, err)
		assert.Nil(t, user)
	})
}

func TestGetUser(t *testing.T) {
	f := NewChatFixture(t)
	defer f.tearDown()
	users := seedUsers(f.ctx, f.t, f.userStore, alice, bob)

	t.Run("get user by id", func(t *testing.T) {
		user, err := f.userStore.GetUserByID(f.ctx, users[0].ID)
		require.Nil(t, err)
		require.NotNil(t, user)
		assert.Equal(t, users[0], *user)
	})

	t.Run("get user by email", func(t *testing.T) {
		user, err := f.userStore.GetUserByEmail(f.ctx, bob.Email)
		require.Nil(t, err)
		require.NotNil(t, user)
		assert.Equal(t, users[1], *user)
	})

	t.Run("user does not exist", func(t *testing.T) {
		user, err := f.userStore.GetUserByID(f.ctx, "random")
		require.Nil(t, err)
		assert.Nil(t, user)

		user, err = f.userStore.GetUserByEmail(f.ctx, "random@example.com")
		require.Nil(t, err)
		assert.Nil(t, user)
	})
}

func TestComparePassword(t *testing.T) {
	f := NewChatFixture(t)
	defer f.tearDown()
	seedUsers(f.ctx, f.t, f.userStore, alice)

	t.Run("correct password", func(t *testing.T) {
		ok, err := f.userStore.ComparePassword(f.ctx, alice.Email, alice.Password)
		require.Nil(t, err)
		assert.True(t, ok)
	})

	t.Run("wrong password", func(t *testing.T) {
		ok, err := f.userStore.ComparePassword(f.ctx, alice.Email, "wrong")
		require.Nil(t, err)
		assert.False(t, ok)
	})

	t.Run("unknown email", func(t *testing.T) {
		ok, err := f.userStore.ComparePassword(f.ctx, "random@example.com", alice.Password)
		require.Nil(t, err)
		assert.False(t, ok)
	})
}

func TestSearchUsers(t *testing.T) {
	f := NewChatFixture(t)
	defer f.tearDown()
	users := seedUsers(f.ctx, f.t, f.userStore, alice, bob, carol)

	t.Run("match by name fragment", func(t *testing.T) {
		found, err := f.userStore.SearchUsers(f.ctx, "Bak", users[0].ID)
		require.Nil(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, users[1], found[0])
	})

	t.Run("match by email fragment", func(t *testing.T) {
		found, err := f.userStore.SearchUsers(f.ctx, "carol@", users[0].ID)
		require.Nil(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, users[2], found[0])
	})

	t.Run("requester is excluded", func(t *testing.T) {
		found, err := f.userStore.SearchUsers(f.ctx, "example.com", users[0].ID)
		require.Nil(t, err)
		require.Len(t, found, 2)
		assert.NotContains(t, found, users[0])
	})

	t.Run("empty query matches everyone else", func(t *testing.T) {
		found, err := f.userStore.SearchUsers(f.ctx, "", users[2].ID)
		require.Nil(t, err)
		assert.Len(t, found, 2)
	})

	t.Run("no match", func(t *testing.T) {
		found, err := f.userStore.SearchUsers(f.ctx, "nosuchuser", users[0].ID)
		require.Nil(t, err)
		assert.Len(t, found, 0)
	})
}

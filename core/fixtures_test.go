package core

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

var (
	alice = UserCreateInput{FirstName: "Alice", LastName: "Archer", Email: "alice@example.com", Password: "password"}
	bob   = UserCreateInput{FirstName: "Bob", LastName: "Baker", Email: "bob@example.com", Password: "password"}
	carol = UserCreateInput{FirstName: "Carol", LastName: "Cooper", Email: "carol@example.com", Password: "password"}
)

type ChatFixture struct {
	userStore UserStore
	chatStore ChatStore
	db        *sql.DB
	ctx       context.Context
	tearDown  func()
	t         *testing.T
}

func NewChatFixture(t *testing.T) *ChatFixture {
	ctx, cancel := context.WithCancel(context.Background())

	// a unique database name isolates fixtures from each other while
	// cache=shared keeps the in-memory database alive across pool connections
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatal(err)
	}

	migrationfs := os.DirFS("../migrations")
	goose.SetBaseFS(migrationfs)

	if err := goose.SetDialect("sqlite3"); err != nil {
		t.Fatal(err)
	}

	if err := goose.Up(db, "."); err != nil {
		t.Fatal(err)
	}

	userStore := NewSQLiteUserStore(db)

	return &ChatFixture{
		userStore: userStore,
		chatStore: NewSQLiteChatStore(db, userStore),
		ctx:       ctx,
		db:        db,
		tearDown: func() {
			cancel()
			db.Close()
		},
		t: t,
	}
}

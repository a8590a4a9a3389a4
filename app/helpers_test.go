package chattrix

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/require"

	"github.com/chattrix/chattrix/core"
)

var baseTimeout = 2 * time.Second

var (
	aliceInput = core.UserCreateInput{FirstName: "Alice", LastName: "Archer", Email: "alice@example.com", Password: "password"}
	bobInput   = core.UserCreateInput{FirstName: "Bob", LastName: "Baker", Email: "bob@example.com", Password: "password"}
)

// eventsFixture wires the realtime stack the way New does, minus config
// loading and HTTP auth: the test server binds connections to the user id
// named in a query parameter.
type eventsFixture struct {
	t       *testing.T
	app     *App
	db      *sql.DB
	ctx     context.Context
	server  *httptest.Server
	cancel  context.CancelFunc
	connWg  sync.WaitGroup
	mu      sync.Mutex
	clients []*testClient
}

func newEventsFixture(t *testing.T) *eventsFixture {
	ctx, cancel := context.WithCancel(context.Background())
	f := &eventsFixture{t: t, ctx: ctx, cancel: cancel}

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())
	db, err := sql.Open("sqlite3", dsn)
	require.NoError(t, err)
	f.db = db

	goose.SetBaseFS(os.DirFS("../migrations"))
	require.NoError(t, goose.SetDialect("sqlite3"))
	require.NoError(t, goose.Up(db, "."))

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	userStore := core.NewSQLiteUserStore(db)

	app := &App{
		context:   ctx,
		logger:    logger,
		userStore: userStore,
		chatStore: core.NewSQLiteChatStore(db, userStore),
		presence:  core.NewPresence(),
	}
	app.wsManager = core.NewConnManager(ctx, &f.connWg, logger)
	app.wsManager.OnIdentityOffline(app.onIdentityOffline)
	app.eventRouter = core.NewEventRouter(ctx, logger, app.wsManager)
	app.wsManager.OnEvent(func(c *core.Conn, e *core.Event) {
		app.eventRouter.Dispatch(e)
	})
	app.eventRouter.On(DeclareOnlineEvent, app.DeclareOnlineHandler)
	app.eventRouter.On(JoinChatEvent, app.JoinChatHandler)
	app.eventRouter.On(LeaveChatEvent, app.LeaveChatHandler)
	app.eventRouter.On(TypingEvent, app.TypingHandler)
	app.eventRouter.On(StopTypingEvent, app.TypingHandler)
	app.eventRouter.On(SendMessageEvent, app.SendMessageHandler)
	app.eventRouter.On(MarkSeenEvent, app.MarkSeenHandler)
	f.app = app

	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		app.wsManager.Connect(r.URL.Query().Get("user"), w, r)
	}))
	return f
}

func (f *eventsFixture) tearDown() {
	f.mu.Lock()
	for _, client := range f.clients {
		client.close()
	}
	f.mu.Unlock()

	f.app.wsManager.Close()
	f.server.Close()
	f.cancel()
	f.connWg.Wait()
	f.db.Close()
}

func (f *eventsFixture) seedUser(input core.UserCreateInput) core.UserWithoutSecrets {
	user, err := f.app.userStore.CreateUser(f.ctx, input)
	require.NoError(f.t, err)
	return *user
}

func (f *eventsFixture) seedChat(userA, userB string) *core.Chat {
	chat, _, err := f.app.chatStore.FindOrCreateChat(f.ctx, userA, userB)
	require.NoError(f.t, err)
	return chat
}

func (f *eventsFixture) seedMessage(chatID, senderID, content string) *core.Message {
	msg, err := f.app.chatStore.CreateMessage(f.ctx, core.MessageCreateInput{
		ChatID:   chatID,
		SenderID: senderID,
		Content:  content,
	})
	require.NoError(f.t, err)
	return msg
}

// connect dials a client for the user. The connection carries no identity
// room until the client declares itself online.
func (f *eventsFixture) connect(userID string) *testClient {
	url := strings.Replace(f.server.URL, "http://", "ws://", 1) + "?user=" + userID
	conn, res, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(f.t, err, "dial")
	require.Equal(f.t, http.StatusSwitchingProtocols, res.StatusCode)

	client := &testClient{
		t:      f.t,
		userID: userID,
		conn:   conn,
		events: make(chan *core.Event, 64),
		done:   make(chan struct{}),
	}
	go client.readLoop()

	f.mu.Lock()
	f.clients = append(f.clients, client)
	f.mu.Unlock()
	return client
}

// declareOnline sends declare-online and waits until the manager has bound
// the connection.
func (f *eventsFixture) declareOnline(client *testClient) {
	client.sendEvent(DeclareOnlineEvent, DeclareOnlinePayload{UserID: client.userID})
	require.Eventually(f.t, func() bool {
		return f.app.wsManager.IsBound(client.userID)
	}, baseTimeout, baseTimeout/20, "timeout waiting for %s to be bound", client.userID)
}

type testClient struct {
	t      *testing.T
	userID string
	conn   *websocket.Conn
	events chan *core.Event
	done   chan struct{}
	once   sync.Once
}

func (c *testClient) readLoop() {
	defer c.once.Do(func() { close(c.done) })
	for {
		_, r, err := c.conn.NextReader()
		if err != nil {
			return
		}
		var event core.Event
		if err := core.DecodeEvent(r, &event); err != nil {
			continue
		}
		c.events <- &event
	}
}

func (c *testClient) sendEvent(eventType string, payload interface{}) {
	b, err := json.Marshal(payload)
	require.NoError(c.t, err, "marshal payload")

	w, err := c.conn.NextWriter(websocket.TextMessage)
	require.NoError(c.t, err, "next writer")
	require.NoError(c.t, core.EncodeEvent(w, &core.Event{Type: eventType, Payload: b}))
	require.NoError(c.t, w.Close())
}

func (c *testClient) waitEvent(eventType string) *core.Event {
	deadline := time.After(baseTimeout)
	for {
		select {
		case e := <-c.events:
			if e.Type == eventType {
				return e
			}
		case <-deadline:
			require.Failf(c.t, "timeout", "client %s: waiting for event %q", c.userID, eventType)
			return nil
		}
	}
}

// waitEventMatching discards events until one of the given type satisfies the
// predicate. Useful for broadcast streams where stale snapshots may precede
// the interesting one.
func (c *testClient) waitEventMatching(eventType string, match func(*core.Event) bool) *core.Event {
	deadline := time.After(baseTimeout)
	for {
		select {
		case e := <-c.events:
			if e.Type == eventType && match(e) {
				return e
			}
		case <-deadline:
			require.Failf(c.t, "timeout", "client %s: waiting for matching event %q", c.userID, eventType)
			return nil
		}
	}
}

func (c *testClient) expectNoEvent(eventType string, within time.Duration) {
	deadline := time.After(within)
	for {
		select {
		case e := <-c.events:
			require.NotEqualf(c.t, eventType, e.Type,
				"client %s: unexpected event %q", c.userID, eventType)
		case <-deadline:
			return
		}
	}
}

func (c *testClient) close() {
	c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	select {
	case <-c.done:
	case <-time.After(baseTimeout):
	}
	c.conn.Close()
}

func decodePayload[T any](t *testing.T, e *core.Event) T {
	var payload T
	require.NoError(t, json.Unmarshal(e.Payload, &payload))
	return payload
}

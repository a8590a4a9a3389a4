package core

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

var baseTimeout = 2 * time.Second

type wsFixture struct {
	t       *testing.T
	cm      *ConnManager
	server  *httptest.Server
	cancel  context.CancelFunc
	connWg  sync.WaitGroup
	mu      sync.Mutex
	clients []*testWSClient
}

func setUpWSFixture(t *testing.T) *wsFixture {
	ctx, cancel := context.WithCancel(context.Background())
	f := &wsFixture{t: t, cancel: cancel}

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	f.cm = NewConnManager(ctx, &f.connWg, logger)

	// the test server trusts a query parameter in place of real auth
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.cm.Connect(r.URL.Query().Get("user"), w, r)
	}))
	return f
}

// connect dials a new client for the user and waits until the manager has
// registered the connection.
func (f *wsFixture) connect(user string) *testWSClient {
	before := f.connCount()

	url := strings.Replace(f.server.URL, "http://", "ws://", 1) + "?user=" + user
	conn, res, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(f.t, err, "dial")
	require.Equal(f.t, http.StatusSwitchingProtocols, res.StatusCode)

	client := &testWSClient{
		t:      f.t,
		user:   user,
		conn:   conn,
		events: make(chan *Event, 64),
		done:   make(chan struct{}),
	}
	go client.readLoop()

	require.Eventually(f.t, func() bool {
		return f.connCount() == before+1
	}, baseTimeout, baseTimeout/20, "timeout waiting for the manager to register the connection")

	f.mu.Lock()
	f.clients = append(f.clients, client)
	f.mu.Unlock()
	return client
}

func (f *wsFixture) connCount() int {
	f.cm.mu.RLock()
	defer f.cm.mu.RUnlock()
	return len(f.cm.conns)
}

// lastConnID returns the id of the most recently opened connection.
func (f *wsFixture) lastConnID() int {
	f.cm.mu.RLock()
	defer f.cm.mu.RUnlock()
	return f.cm.nextConnID
}

func (f *wsFixture) boundConnID(user string) (int, bool) {
	f.cm.mu.RLock()
	defer f.cm.mu.RUnlock()
	c, ok := f.cm.identities[user]
	if !ok {
		return 0, false
	}
	return c.id, true
}

func (f *wsFixture) tearDown() {
	f.mu.Lock()
	for _, client := range f.clients {
		client.close()
	}
	f.mu.Unlock()

	f.cm.Close()
	f.server.Close()
	f.cancel()
	f.connWg.Wait()
}

type testWSClient struct {
	t      *testing.T
	user   string
	conn   *websocket.Conn
	events chan *Event
	done   chan struct{}
	closed sync.Once
}

func (c *testWSClient) readLoop() {
	defer c.closed.Do(func() { close(c.done) })
	for {
		_, r, err := c.conn.NextReader()
		if err != nil {
			return
		}
		var event Event
		if err := DecodeEvent(r, &event); err != nil {
			continue
		}
		c.events <- &event
	}
}

func (c *testWSClient) sendEvent(eventType string, payload interface{}) {
	b, err := json.Marshal(payload)
	require.NoError(c.t, err, "marshal payload")
	e := &Event{Type: eventType, Payload: b}

	w, err := c.conn.NextWriter(websocket.TextMessage)
	require.NoError(c.t, err, "next writer")
	require.NoError(c.t, EncodeEvent(w, e), "encode event")
	require.NoError(c.t, w.Close(), "close writer")
}

// waitEvent blocks until an event of the given type arrives, discarding
// events of other types.
func (c *testWSClient) waitEvent(eventType string) *Event {
	deadline := time.After(baseTimeout)
	for {
		select {
		case e := <-c.events:
			if e.Type == eventType {
				return e
			}
		case <-deadline:
			require.Failf(c.t, "timeout", "client %s: waiting for event %q", c.user, eventType)
			return nil
		}
	}
}

// expectNoEvent asserts that no event of the given type arrives within the
// grace period.
func (c *testWSClient) expectNoEvent(eventType string, within time.Duration) {
	deadline := time.After(within)
	for {
		select {
		case e := <-c.events:
			require.NotEqualf(c.t, eventType, e.Type,
				"client %s: unexpected event %q", c.user, eventType)
		case <-deadline:
			return
		}
	}
}

func (c *testWSClient) close() {
	c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	select {
	case <-c.done:
	case <-time.After(baseTimeout):
	}
	c.conn.Close()
}

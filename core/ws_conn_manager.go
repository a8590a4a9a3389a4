package core

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/net/context"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096
)

var defaultUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ConnManager owns every live websocket connection and the two kinds of
// broadcast groups built on top of them:
//
//   - identity rooms: at most one connection per user id; binding a new
//     connection for the same user silently supersedes the previous one
//     (single active session per identity).
//   - chat rooms: the connections that joined a chat id; membership is
//     client-driven and removed on leave or disconnect.
//
// It implements RoomTransport. Sends are non-blocking: a connection whose
// write stream is full has the event dropped, consistent with the
// best-effort delivery policy of the realtime layer.
type ConnManager struct {
	mu         sync.RWMutex
	conns      map[int]*Conn
	identities map[string]*Conn
	rooms      map[string]map[int]*Conn
	nextConnID int

	connWg  *sync.WaitGroup
	context context.Context
	logger  *slog.Logger

	onConnectionOpened func(*Conn)
	onIdentityOffline  func(string)
	onEvent            func(*Conn, *Event)

	upgrader        websocket.Upgrader
	WriteStreamSize int
}

type ManagerOption func(*ConnManager)

func WithCheckOrigin(f func(r *http.Request) bool) ManagerOption {
	return func(m *ConnManager) {
		m.upgrader.CheckOrigin = f
	}
}

func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *ConnManager) {
		m.logger = l
	}
}

func NewConnManager(ctx context.Context, wg *sync.WaitGroup, logger *slog.Logger, opts ...ManagerOption) *ConnManager {
	m := &ConnManager{
		conns:              make(map[int]*Conn),
		identities:         make(map[string]*Conn),
		rooms:              make(map[string]map[int]*Conn),
		connWg:             wg,
		context:            ctx,
		logger:             logger,
		upgrader:           defaultUpgrader,
		WriteStreamSize:    100,
		onConnectionOpened: func(*Conn) {},
		onIdentityOffline:  func(string) {},
		onEvent:            func(*Conn, *Event) {},
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// OnEvent registers the callback invoked for every decoded inbound event.
// It runs in the dispatching connection's read goroutine.
func (m *ConnManager) OnEvent(f func(*Conn, *Event)) {
	m.onEvent = f
}

func (m *ConnManager) OnConnectionOpened(f func(*Conn)) {
	m.onConnectionOpened = f
}

// OnIdentityOffline registers the callback invoked when a disconnecting
// connection owned its user's identity binding. It does not fire for
// connections that were superseded or never declared themselves online.
func (m *ConnManager) OnIdentityOffline(f func(string)) {
	m.onIdentityOffline = f
}

// Connect upgrades the request and registers the connection for the
// authenticated user. No identity room is joined until the client declares
// itself online.
func (m *ConnManager) Connect(user string, w http.ResponseWriter, r *http.Request) error {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.nextConnID++
	id := m.nextConnID
	wsConn := &Conn{
		user:        user,
		id:          id,
		conn:        conn,
		context:     m.context,
		writeStream: make(chan *Event, m.WriteStreamSize),
		onEvent:     m.handleEvent,
		ticker:      time.NewTicker(pingPeriod),
		logger:      m.logger.With(slog.String("connection", fmt.Sprintf("%s:%d", user, id))),
	}
	wsConn.notifyDisconnect = func() {
		m.disconnect(wsConn)
	}
	m.conns[id] = wsConn
	m.mu.Unlock()

	m.connWg.Add(1)
	go func() {
		defer m.connWg.Done()
		wsConn.readLoop()
	}()
	m.connWg.Add(1)
	go func() {
		defer m.connWg.Done()
		wsConn.writeLoop()
	}()

	m.onConnectionOpened(wsConn)
	return nil
}

func (m *ConnManager) handleEvent(c *Conn, e *Event) {
	m.mu.RLock()
	if m.identities[c.user] == c {
		e.Sender = c.user
	}
	m.mu.RUnlock()
	m.onEvent(c, e)
}

// Bind joins the connection to its user's identity room. If another
// connection holds the binding it is silently superseded: it stays connected
// but no longer receives identity-room sends. Bind reports the bound user id.
func (m *ConnManager) Bind(connID int) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[connID]
	if !ok {
		return "", false
	}
	m.identities[c.user] = c
	return c.user, true
}

// IsBound reports whether the user currently holds a bound connection.
func (m *ConnManager) IsBound(userID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.identities[userID]
	return ok
}

// JoinRoom adds the connection to a chat room. Membership lasts until the
// connection leaves the room or disconnects.
func (m *ConnManager) JoinRoom(connID int, roomID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[connID]
	if !ok {
		return
	}
	room, ok := m.rooms[roomID]
	if !ok {
		room = make(map[int]*Conn)
		m.rooms[roomID] = room
	}
	room[connID] = c
}

func (m *ConnManager) LeaveRoom(connID int, roomID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leaveRoom(connID, roomID)
}

func (m *ConnManager) leaveRoom(connID int, roomID string) {
	room, ok := m.rooms[roomID]
	if !ok {
		return
	}
	delete(room, connID)
	if len(room) == 0 {
		delete(m.rooms, roomID)
	}
}

func (m *ConnManager) disconnect(c *Conn) {
	m.mu.Lock()
	if _, ok := m.conns[c.id]; !ok {
		m.mu.Unlock()
		return
	}
	delete(m.conns, c.id)
	for roomID := range m.rooms {
		m.leaveRoom(c.id, roomID)
	}
	ownedIdentity := m.identities[c.user] == c
	if ownedIdentity {
		delete(m.identities, c.user)
	}
	m.mu.Unlock()

	c.close()
	m.logger.Debug("connection closed", slog.String("user", c.user), slog.Int("id", c.id))
	if ownedIdentity {
		m.onIdentityOffline(c.user)
	}
}

// Close disconnects every connection.
func (m *ConnManager) Close() {
	m.mu.RLock()
	conns := make([]*Conn, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.RUnlock()
	for _, c := range conns {
		m.disconnect(c)
	}
}

// trySend queues the event on the connection without blocking. Events to a
// connection with a saturated write stream are dropped.
func (m *ConnManager) trySend(c *Conn, e *Event) {
	select {
	case c.writeStream <- e:
	default:
		m.logger.Warn("write stream full, dropping event",
			slog.String("user", c.user), slog.Int("conn", c.id), slog.String("type", e.Type))
	}
}

func (m *ConnManager) SendToUser(userID string, e *Event) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.identities[userID]
	if !ok {
		return false
	}
	m.trySend(c, e)
	return true
}

func (m *ConnManager) SendToRoomExcept(roomID string, exceptConnID int, e *Event) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for id, c := range m.rooms[roomID] {
		if id == exceptConnID {
			continue
		}
		m.trySend(c, e)
	}
}

func (m *ConnManager) Broadcast(e *Event) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.conns {
		m.trySend(c, e)
	}
}

package core

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
)

// Event is the JSON envelope of the realtime protocol. ConnID and Sender are
// filled in server side: ConnID identifies the dispatching connection, Sender
// is the identity bound to it ("" until the connection declares itself
// online).
type Event struct {
	ConnID  int             `json:"-"`
	Sender  string          `json:"-"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func (e Event) String() string {
	return fmt.Sprintf("Event{ConnID: %d, Sender: %s, Type: %s, Payload.Size: %d}",
		e.ConnID, e.Sender, e.Type, len(e.Payload))
}

func EncodeEvent(w io.Writer, e *Event) error {
	if err := json.NewEncoder(w).Encode(e); err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return nil
}

func DecodeEvent(r io.Reader, e *Event) error {
	if err := json.NewDecoder(r).Decode(e); err != nil {
		return fmt.Errorf("decode event: %w", err)
	}
	return nil
}

// RoomTransport is the fanout surface the event handlers use: per-identity
// rooms, per-chat rooms and a broadcast to every connection.
type RoomTransport interface {
	// SendToUser delivers the event to the connection bound to userID.
	// It reports whether such a connection existed.
	SendToUser(userID string, e *Event) bool

	// SendToRoomExcept delivers the event to every connection in the chat
	// room except the one with exceptConnID.
	SendToRoomExcept(roomID string, exceptConnID int, e *Event)

	// Broadcast delivers the event to every connection.
	Broadcast(e *Event)
}

type EventHandler func(context.Context, *Event) error

// EventRouter routes incoming events to their handlers and marshals outgoing
// payloads onto the transport. Dispatch is synchronous: it runs in the
// dispatching connection's read goroutine, so events from one connection are
// handled in the order they arrive while connections stay concurrent with
// each other.
type EventRouter struct {
	handlers  map[string]EventHandler
	ctx       context.Context
	transport RoomTransport
	logger    *slog.Logger
}

func NewEventRouter(ctx context.Context, logger *slog.Logger, transport RoomTransport) *EventRouter {
	return &EventRouter{
		handlers:  make(map[string]EventHandler),
		ctx:       ctx,
		transport: transport,
		logger:    logger,
	}
}

func (er *EventRouter) On(eventType string, handler EventHandler) {
	if _, ok := er.handlers[eventType]; ok {
		panic(fmt.Sprintf("handler(%s): already registered", eventType))
	}
	er.handlers[eventType] = handler
}

// Dispatch runs the handler registered for the event's type. Handler errors
// are logged and dropped: the socket protocol has no error channel back to
// the client. Handlers run with the router's base context, not a
// per-connection one, so a disconnect does not cancel in-flight store writes.
func (er *EventRouter) Dispatch(e *Event) {
	handler, ok := er.handlers[e.Type]
	if !ok {
		er.logger.Debug(fmt.Sprintf("no handler for %s", e.Type))
		return
	}
	defer func() {
		if r := recover(); r != nil {
			er.logger.Error(fmt.Sprintf("handler(%s): panic: %v", e.Type, r))
		}
	}()
	if err := handler(er.ctx, e); err != nil {
		er.logger.Error(fmt.Sprintf("handler(%s): %v", e.Type, err))
	}
}

func marshalEvent(t string, payload interface{}) (*Event, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal event payload: %w", err)
	}
	return &Event{Type: t, Payload: b}, nil
}

// EmitToUser sends an event to the identity room of userID. It reports
// whether a bound connection received it.
func (er *EventRouter) EmitToUser(t string, payload interface{}, userID string) (bool, error) {
	e, err := marshalEvent(t, payload)
	if err != nil {
		return false, err
	}
	return er.transport.SendToUser(userID, e), nil
}

// EmitToRoomExcept sends an event to every connection in the chat room except
// the one identified by exceptConnID.
func (er *EventRouter) EmitToRoomExcept(t string, payload interface{}, roomID string, exceptConnID int) error {
	e, err := marshalEvent(t, payload)
	if err != nil {
		return err
	}
	er.transport.SendToRoomExcept(roomID, exceptConnID, e)
	return nil
}

// EmitAll broadcasts an event to every connection.
func (er *EventRouter) EmitAll(t string, payload interface{}) error {
	e, err := marshalEvent(t, payload)
	if err != nil {
		return err
	}
	er.transport.Broadcast(e)
	return nil
}

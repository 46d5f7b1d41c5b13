package chatws

import (
	"encoding/json"
	"strconv"
	"sync"
	"time"

	websocket "github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Uriel-Ondo/agro/internal/logging"
)

const defaultSendBuffer = 32

// EventScopeDropped is a control envelope telling every instance to forget a
// scope. It is never written to clients.
const EventScopeDropped = "scope_dropped"

// Conn is the part of a websocket connection the hub drives.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Envelope is the frame written to clients and exchanged between instances.
type Envelope struct {
	Event     string          `json:"event"`
	Scope     string          `json:"scope,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Forwarder relays locally published envelopes to other instances.
type Forwarder interface {
	Forward(envelope Envelope)
}

func UserScope(userID int64) string {
	return "user_" + strconv.FormatInt(userID, 10)
}

func SessionScope(sessionID int64) string {
	return "session_" + strconv.FormatInt(sessionID, 10)
}

// Hub routes events to the connections subscribed to a scope. Every client
// has a bounded queue; a client whose queue is full is disconnected so a
// slow reader never stalls a publisher.
type Hub struct {
	mu         sync.RWMutex
	scopes     map[string]map[*Client]struct{}
	clients    map[*Client]struct{}
	sendBuffer int
	forwarder  Forwarder
	log        zerolog.Logger
}

type Client struct {
	id     string
	hub    *Hub
	conn   Conn
	userID int64
	role   string
	send   chan []byte

	// session is the session scope the client currently views; guarded by hub.mu.
	session   int64
	closeOnce sync.Once
}

func NewHub(sendBuffer int) *Hub {
	if sendBuffer <= 0 {
		sendBuffer = defaultSendBuffer
	}
	return &Hub{
		scopes:     make(map[string]map[*Client]struct{}),
		clients:    make(map[*Client]struct{}),
		sendBuffer: sendBuffer,
		log:        logging.Component("router"),
	}
}

func (h *Hub) NewClient(conn Conn, userID int64, role string) *Client {
	return &Client{
		id:     uuid.NewString(),
		hub:    h,
		conn:   conn,
		userID: userID,
		role:   role,
		send:   make(chan []byte, h.sendBuffer),
	}
}

// SetForwarder installs the cross-instance relay. It must be called before
// the hub starts serving.
func (h *Hub) SetForwarder(forwarder Forwarder) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.forwarder = forwarder
}

// Register subscribes the client to its user scope.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client] = struct{}{}
	h.subscribe(UserScope(client.userID), client)
	h.log.Debug().Str("client_id", client.id).Int64("user_id", client.userID).Msg("client registered")
}

// Unregister removes the client from every scope and closes its queue.
// It is safe to call more than once.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.remove(client)
}

func (h *Hub) remove(client *Client) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	h.unsubscribe(UserScope(client.userID), client)
	if client.session != 0 {
		h.unsubscribe(SessionScope(client.session), client)
		client.session = 0
	}
	client.closeOnce.Do(func() { close(client.send) })
	h.log.Debug().Str("client_id", client.id).Int64("user_id", client.userID).Msg("client unregistered")
}

// JoinSession moves the client into a session scope, leaving the session it
// was viewing before.
func (h *Hub) JoinSession(client *Client, sessionID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; !ok {
		return
	}
	if client.session == sessionID {
		return
	}
	if client.session != 0 {
		h.unsubscribe(SessionScope(client.session), client)
	}
	client.session = sessionID
	h.subscribe(SessionScope(sessionID), client)
}

func (h *Hub) LeaveSession(client *Client, sessionID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if client.session != sessionID {
		return
	}
	h.unsubscribe(SessionScope(sessionID), client)
	client.session = 0
}

// DropSession unsubscribes every client from a deleted session, here and on
// the other instances.
func (h *Hub) DropSession(sessionID int64) {
	scope := SessionScope(sessionID)

	h.mu.RLock()
	forwarder := h.forwarder
	h.mu.RUnlock()
	if forwarder != nil {
		forwarder.Forward(Envelope{Event: EventScopeDropped, Scope: scope, Timestamp: time.Now().UTC()})
	}

	h.dropScope(scope)
}

func (h *Hub) dropScope(scope string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.scopes[scope] {
		if client.session != 0 && SessionScope(client.session) == scope {
			client.session = 0
		}
	}
	delete(h.scopes, scope)
}

func (h *Hub) subscribe(scope string, client *Client) {
	set, ok := h.scopes[scope]
	if !ok {
		set = make(map[*Client]struct{})
		h.scopes[scope] = set
	}
	set[client] = struct{}{}
}

func (h *Hub) unsubscribe(scope string, client *Client) {
	set, ok := h.scopes[scope]
	if !ok {
		return
	}
	delete(set, client)
	if len(set) == 0 {
		delete(h.scopes, scope)
	}
}

func (h *Hub) PublishToUser(userID int64, event string, data any) int {
	return h.publish(UserScope(userID), event, data)
}

func (h *Hub) PublishToSession(sessionID int64, event string, data any) int {
	return h.publish(SessionScope(sessionID), event, data)
}

func (h *Hub) publish(scope string, event string, data any) int {
	raw, err := json.Marshal(data)
	if err != nil {
		h.log.Error().Err(err).Str("event", event).Msg("encode event")
		return 0
	}
	envelope := Envelope{
		Event:     event,
		Scope:     scope,
		Data:      raw,
		Timestamp: time.Now().UTC(),
	}

	h.mu.RLock()
	forwarder := h.forwarder
	h.mu.RUnlock()
	if forwarder != nil {
		forwarder.Forward(envelope)
	}

	return h.DeliverLocal(envelope)
}

// DeliverLocal writes the envelope to the local subscribers of its scope and
// returns how many queues accepted it. Envelopes for scopes nobody watches
// are dropped.
func (h *Hub) DeliverLocal(envelope Envelope) int {
	if envelope.Event == EventScopeDropped {
		h.dropScope(envelope.Scope)
		return 0
	}

	payload, err := json.Marshal(envelope)
	if err != nil {
		h.log.Error().Err(err).Str("event", envelope.Event).Msg("encode envelope")
		return 0
	}

	delivered := 0
	var overflowed []*Client

	h.mu.RLock()
	for client := range h.scopes[envelope.Scope] {
		select {
		case client.send <- payload:
			delivered++
		default:
			overflowed = append(overflowed, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range overflowed {
		h.log.Warn().
			Str("client_id", client.id).
			Int64("user_id", client.userID).
			Str("event", envelope.Event).
			Msg("send queue full, disconnecting client")
		h.disconnect(client)
	}
	return delivered
}

func (h *Hub) disconnect(client *Client) {
	h.Unregister(client)
	_ = client.conn.Close()
}

// reply queues a frame for one client only.
func (h *Hub) reply(client *Client, event string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		return
	}
	payload, err := json.Marshal(Envelope{Event: event, Data: raw, Timestamp: time.Now().UTC()})
	if err != nil {
		return
	}

	full := false
	h.mu.RLock()
	if _, ok := h.clients[client]; ok {
		select {
		case client.send <- payload:
		default:
			full = true
		}
	}
	h.mu.RUnlock()

	if full {
		h.disconnect(client)
	}
}

// Subscribers reports how many local connections watch scope.
func (h *Hub) Subscribers(scope string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.scopes[scope])
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
		h.remove(client)
	}
	h.mu.Unlock()

	for _, client := range clients {
		_ = client.conn.Close()
	}
}

func (c *Client) ID() string {
	return c.id
}

func (c *Client) UserID() int64 {
	return c.userID
}

// WritePump drains the client's queue onto the connection until the queue
// is closed or a write fails.
func (c *Client) WritePump() {
	defer func() {
		_ = c.conn.Close()
	}()

	for payload := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			c.hub.Unregister(c)
			return
		}
	}
}

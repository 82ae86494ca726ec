package notify

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-uuid"
	"github.com/materials-commons/mcdrop/pkg/clog"
	"github.com/materials-commons/mcdrop/pkg/mcdb/mcmodel"
)

// Hub fans messages out to every websocket and SSE connection a user has open.
// Run must be running for messages to be delivered.
type Hub struct {
	clients         map[string]*ClientConnection
	clientsByUserID map[int][]*ClientConnection
	register        chan *ClientConnection
	unregister      chan *ClientConnection
	userBroadcast   chan UserMessage
	mu              sync.RWMutex
	sse             *sseStreams
	done            chan struct{}
}

type UserMessage struct {
	UserID  int     `json:"user_id"`
	Message Message `json:"message"`
}

func NewHub() *Hub {
	return &Hub{
		clients:         make(map[string]*ClientConnection),
		clientsByUserID: make(map[int][]*ClientConnection),
		register:        make(chan *ClientConnection),
		unregister:      make(chan *ClientConnection),
		userBroadcast:   make(chan UserMessage, 256),
		sse:             newSSEStreams(30 * time.Second),
		done:            make(chan struct{}),
	}
}

// Run delivers messages until ctx is cancelled. A Hub cannot be restarted.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			h.clientsByUserID[client.User.ID] = append(h.clientsByUserID[client.User.ID], client)
			h.mu.Unlock()
			clog.Global().Debugf("websocket client %s registered for user %d", client.ID, client.User.ID)

		case client := <-h.unregister:
			h.removeClient(client)

		case userMessage := <-h.userBroadcast:
			h.broadcastToUserWSClients(userMessage.UserID, userMessage.Message)
			h.sse.deliver(userMessage.UserID, userMessage.Message)
		}
	}
}

// Notify queues msg for userID. It never blocks; a full queue drops the message and
// returns ErrQueueFull.
func (h *Hub) Notify(userID int, msg Message) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	select {
	case h.userBroadcast <- UserMessage{UserID: userID, Message: msg}:
		return nil
	default:
		return ErrQueueFull
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ServeWS upgrades an already authenticated request to a websocket that receives
// the user's messages.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, user *mcmodel.User) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	id, err := uuid.GenerateUUID()
	if err != nil {
		_ = conn.Close()
		return err
	}

	client := &ClientConnection{
		ID:   id,
		User: user,
		Conn: conn,
		Send: make(chan Message, 256),
		Hub:  h,
	}

	select {
	case h.register <- client:
	case <-h.done:
		_ = conn.Close()
		return ErrHubStopped
	}

	client.Send <- Message{
		Event:     EventConnected,
		Timestamp: time.Now(),
		Payload:   map[string]interface{}{"user_id": user.ID},
	}

	go client.writePump()
	go client.readPump()

	return nil
}

// ServeSSE streams the user's messages as server sent events until the request
// context ends or the user opens another event stream.
func (h *Hub) ServeSSE(w http.ResponseWriter, r *http.Request, user *mcmodel.User) {
	h.sse.serve(w, r, user)
}

// ConnectionCount counts the user's websockets plus their event stream, if any.
func (h *Hub) ConnectionCount(userID int) int {
	h.mu.RLock()
	count := len(h.clientsByUserID[userID])
	h.mu.RUnlock()

	if h.sse.active(userID) {
		count++
	}

	return count
}

func (h *Hub) broadcastToUserWSClients(userID int, msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.clientsByUserID[userID] {
		select {
		case client.Send <- msg:
		default:
			clog.Global().Warnf("could not send to websocket client %s (channel full)", client.ID)
		}
	}
}

func (h *Hub) removeClient(client *ClientConnection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.ID]; !ok {
		return
	}

	delete(h.clients, client.ID)
	close(client.Send)

	userClients := h.clientsByUserID[client.User.ID]
	for i, c := range userClients {
		if c.ID == client.ID {
			h.clientsByUserID[client.User.ID] = append(userClients[:i], userClients[i+1:]...)
			break
		}
	}

	if len(h.clientsByUserID[client.User.ID]) == 0 {
		delete(h.clientsByUserID, client.User.ID)
	}
}

// closeAll closes every websocket. The pumps notice and exit; Send channels are left
// open since readPump may still be writing heartbeat acks to them.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, client := range h.clients {
		_ = client.Conn.Close()
		delete(h.clients, id)
	}

	h.clientsByUserID = make(map[int][]*ClientConnection)
}

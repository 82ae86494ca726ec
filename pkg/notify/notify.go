// Package notify delivers session events to connected users. Delivery is best effort:
// a user with no open connection simply misses the event, and callers treat a
// returned error as something to log, never as a reason to fail.
package notify

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

const (
	EventConnected        = "connected"
	EventKeepAlive        = "keepalive"
	EventHeartbeatAck     = "HEARTBEAT_ACK"
	EventSessionJoined    = "SESSION_JOINED"
	EventTransferStarted  = "TRANSFER_STARTED"
	EventSessionCompleted = "SESSION_COMPLETED"
	EventSessionCancelled = "SESSION_CANCELLED"
	EventSessionExpired   = "SESSION_EXPIRED"
	EventSessionFailed    = "SESSION_FAILED"
)

var (
	ErrQueueFull  = errors.New("notification queue full")
	ErrHubStopped = errors.New("notification hub stopped")
)

type Message struct {
	Event       string    `json:"event"`
	SessionCode string    `json:"session_code,omitempty"`
	Status      string    `json:"status,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	Payload     any       `json:"payload,omitempty"`
}

type Notifier interface {
	Notify(userID int, msg Message) error
}

// NopNotifier drops every message.
type NopNotifier struct{}

func (NopNotifier) Notify(_ int, _ Message) error {
	return nil
}

// RecordingNotifier keeps every message it is given, keyed by user.
type RecordingNotifier struct {
	mu       sync.Mutex
	messages map[int][]Message
}

func NewRecordingNotifier() *RecordingNotifier {
	return &RecordingNotifier{messages: make(map[int][]Message)}
}

func (n *RecordingNotifier) Notify(userID int, msg Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages[userID] = append(n.messages[userID], msg)
	return nil
}

// Messages returns a copy of the messages sent to userID.
func (n *RecordingNotifier) Messages(userID int) []Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Message(nil), n.messages[userID]...)
}

// Events returns the event names sent to userID in order.
func (n *RecordingNotifier) Events(userID int) []string {
	var events []string
	for _, msg := range n.Messages(userID) {
		events = append(events, msg.Event)
	}

	return events
}

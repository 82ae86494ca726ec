package notify

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/materials-commons/mcdrop/pkg/clog"
	"github.com/materials-commons/mcdrop/pkg/mcdb/mcmodel"
)

// eventStream is the single server sent event stream a user has open. Opening a
// second one supersedes the first.
type eventStream struct {
	events     chan Message
	superseded chan struct{}
}

type sseStreams struct {
	mu        sync.Mutex
	byUser    map[int]*eventStream
	keepAlive time.Duration
}

func newSSEStreams(keepAlive time.Duration) *sseStreams {
	return &sseStreams{
		byUser:    make(map[int]*eventStream),
		keepAlive: keepAlive,
	}
}

func (s *sseStreams) open(userID int) *eventStream {
	stream := &eventStream{
		events:     make(chan Message, 64),
		superseded: make(chan struct{}),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.byUser[userID]; ok {
		close(prev.superseded)
	}
	s.byUser[userID] = stream

	return stream
}

// release forgets stream unless a newer one already replaced it.
func (s *sseStreams) release(userID int, stream *eventStream) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.byUser[userID] == stream {
		delete(s.byUser, userID)
	}
}

func (s *sseStreams) deliver(userID int, msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stream, ok := s.byUser[userID]
	if !ok {
		return
	}

	select {
	case stream.events <- msg:
	default:
		clog.Global().Warnf("dropping %s for user %d, event stream is full", msg.Event, userID)
	}
}

func (s *sseStreams) active(userID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byUser[userID]
	return ok
}

func (s *sseStreams) serve(w http.ResponseWriter, r *http.Request, user *mcmodel.User) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	stream := s.open(user.ID)
	defer s.release(user.ID, stream)

	send := func(msg Message) bool {
		if err := writeFrame(w, msg); err != nil {
			clog.Global().Debugf("event stream for user %d closed: %s", user.ID, err)
			return false
		}
		flusher.Flush()
		return true
	}

	hello := Message{Event: EventConnected, Timestamp: time.Now(), Payload: map[string]interface{}{"user_id": user.ID}}
	if !send(hello) {
		return
	}

	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-stream.superseded:
			return
		case msg := <-stream.events:
			if !send(msg) {
				return
			}
		case <-ticker.C:
			if !send(Message{Event: EventKeepAlive, Timestamp: time.Now()}) {
				return
			}
		}
	}
}

// writeFrame writes msg as one named event whose data line is the JSON message.
func writeFrame(w http.ResponseWriter, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Event, data)
	return err
}

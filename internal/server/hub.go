package server

import (
	"encoding/json"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/chativa/chativa/internal/message"
)

// event is one frame of the event stream.
type event struct {
	ID   string
	Data []byte
}

// Stream payloads understood by the sse connector.
type (
	typingPayload struct {
		Type     string `json:"type"`
		IsTyping bool   `json:"isTyping"`
	}
	messagePayload struct {
		Type    string          `json:"type"`
		Message message.Message `json:"message"`
	}
)

const clientBuffer = 32

// hub fans events out to the connected stream clients. A client that falls
// behind by a full buffer is dropped.
type hub struct {
	mu      sync.RWMutex
	clients map[uint64]chan event
	nextID  uint64
	seq     atomic.Uint64
}

func newHub() *hub {
	return &hub{clients: make(map[uint64]chan event)}
}

func (h *hub) subscribe() (uint64, <-chan event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	ch := make(chan event, clientBuffer)
	h.clients[id] = ch
	return id, ch
}

func (h *hub) unsubscribe(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.clients[id]; ok {
		delete(h.clients, id)
		close(ch)
	}
}

func (h *hub) len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// publish marshals payload and delivers it to every client. Message events
// carry an id; typing events do not.
func (h *hub) publish(payload any, withID bool) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	ev := event{Data: data}
	if withID {
		ev.ID = strconv.FormatUint(h.seq.Add(1), 10)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.clients {
		select {
		case ch <- ev:
		default:
			delete(h.clients, id)
			close(ch)
		}
	}
}

func (h *hub) typing(isTyping bool) {
	h.publish(typingPayload{Type: "typing", IsTyping: isTyping}, false)
}

func (h *hub) message(msg message.Message) {
	h.publish(messagePayload{Type: "message", Message: msg}, true)
}

// closeAll ends every client stream.
func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.clients {
		delete(h.clients, id)
		close(ch)
	}
}

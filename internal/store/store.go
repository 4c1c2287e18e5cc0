// Package store holds the observable, ordered list of chat messages that the
// render layer draws from.
package store

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/chativa/chativa/internal/message"
)

// Listener receives a snapshot of the store after each effective mutation.
// The snapshot is shared between listeners and must be treated as read-only.
type Listener func(messages []message.Message)

type subscription struct {
	id uint64
	fn Listener
}

// Store is an ordered message collection deduplicated by id.
//
// Notifications are queued under the state lock and delivered outside it, one
// snapshot per mutation, in the order the mutations were applied. A listener
// may call back into the store; the resulting notification is delivered after
// the current one returns.
type Store struct {
	mu       sync.Mutex
	messages []message.Message
	ids      map[string]struct{}

	subs    []subscription
	nextSub uint64

	pending     [][]message.Message
	dispatching bool

	logger *slog.Logger
}

// New creates an empty store.
func New() *Store {
	return &Store{
		ids:    make(map[string]struct{}),
		logger: slog.Default(),
	}
}

// SetLogger replaces the logger used to report listener panics.
func (s *Store) SetLogger(l *slog.Logger) {
	if l == nil {
		return
	}
	s.mu.Lock()
	s.logger = l
	s.mu.Unlock()
}

// AddMessage appends msg unless a message with the same id is already
// stored. It reports whether the message was added.
func (s *Store) AddMessage(msg message.Message) bool {
	s.mu.Lock()
	if _, ok := s.ids[msg.ID]; ok {
		s.mu.Unlock()
		return false
	}
	s.ids[msg.ID] = struct{}{}
	s.messages = append(s.messages, msg.Clone())
	s.enqueueLocked()
	s.mu.Unlock()

	s.dispatch()
	return true
}

// PrependMessages inserts older messages ahead of the current ones, keeping
// their relative order and skipping ids that are already present. It
// returns the number of messages inserted.
func (s *Store) PrependMessages(msgs []message.Message) int {
	s.mu.Lock()
	head := make([]message.Message, 0, len(msgs))
	for _, m := range msgs {
		if _, ok := s.ids[m.ID]; ok {
			continue
		}
		s.ids[m.ID] = struct{}{}
		head = append(head, m.Clone())
	}
	if len(head) == 0 {
		s.mu.Unlock()
		return 0
	}
	s.messages = append(head, s.messages...)
	s.enqueueLocked()
	s.mu.Unlock()

	s.dispatch()
	return len(head)
}

// RemoveByID removes the message with the given id. Unknown ids are ignored.
func (s *Store) RemoveByID(id string) bool {
	s.mu.Lock()
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return false
	}
	s.messages = slices.Delete(s.messages, i, i+1)
	delete(s.ids, id)
	s.enqueueLocked()
	s.mu.Unlock()

	s.dispatch()
	return true
}

// UpdateByID merges patch into the message with the given id. The data
// payload is replaced as a whole. Unknown ids are ignored.
func (s *Store) UpdateByID(id string, patch message.Patch) bool {
	s.mu.Lock()
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return false
	}
	s.messages[i] = s.messages[i].Apply(patch)
	s.enqueueLocked()
	s.mu.Unlock()

	s.dispatch()
	return true
}

// Clear removes every message and forgets all ids so they can be reused.
func (s *Store) Clear() {
	s.mu.Lock()
	s.messages = nil
	s.ids = make(map[string]struct{})
	s.enqueueLocked()
	s.mu.Unlock()

	s.dispatch()
}

// Messages returns a copy of the stored messages in order.
func (s *Store) Messages() []message.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Get returns the message with the given id.
func (s *Store) Get(id string) (message.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return message.Message{}, false
	}
	return s.messages[i].Clone(), true
}

// Has reports whether a message with the given id is stored.
func (s *Store) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	return ok
}

// Len returns the number of stored messages.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// Subscribe registers fn for change notifications and returns a function
// that removes it. Calling the returned function more than once is safe.
func (s *Store) Subscribe(fn Listener) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs = append(s.subs, subscription{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.subs = slices.DeleteFunc(s.subs, func(sub subscription) bool {
				return sub.id == id
			})
		})
	}
}

func (s *Store) indexLocked(id string) int {
	if _, ok := s.ids[id]; !ok {
		return -1
	}
	return slices.IndexFunc(s.messages, func(m message.Message) bool {
		return m.ID == id
	})
}

func (s *Store) snapshotLocked() []message.Message {
	out := make([]message.Message, len(s.messages))
	for i, m := range s.messages {
		out[i] = m.Clone()
	}
	return out
}

func (s *Store) enqueueLocked() {
	s.pending = append(s.pending, s.snapshotLocked())
}

// dispatch drains the notification queue unless another call is already
// doing so.
func (s *Store) dispatch() {
	s.mu.Lock()
	if s.dispatching {
		s.mu.Unlock()
		return
	}
	s.dispatching = true

	for len(s.pending) > 0 {
		snapshot := s.pending[0]
		s.pending = s.pending[1:]
		subs := slices.Clone(s.subs)
		logger := s.logger
		s.mu.Unlock()

		for _, sub := range subs {
			s.notify(logger, sub.fn, snapshot)
		}

		s.mu.Lock()
	}

	s.dispatching = false
	s.mu.Unlock()
}

func (s *Store) notify(logger *slog.Logger, fn Listener, snapshot []message.Message) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("store listener panicked", "panic", r)
		}
	}()
	fn(snapshot)
}

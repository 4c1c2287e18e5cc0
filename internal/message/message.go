// Package message defines the units that flow through the Chativa pipeline.
package message

import (
	"maps"
	"time"

	"github.com/google/uuid"
)

// Well-known renderer tags. The set is open: connectors and extensions may
// emit any other type and rely on the fallback renderer.
const (
	TypeText       = "text"
	TypeCard       = "card"
	TypeImage      = "image"
	TypeQuickReply = "quick-reply"
	TypeCarousel   = "carousel"
	TypeFile       = "file"
	TypeVideo      = "video"
	TypeButtons    = "buttons"
	TypeGenUI      = "genui"
)

// Sides of the conversation.
const (
	FromUser = "user"
	FromBot  = "bot"
)

// Message is a stored chat entry.
type Message struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Data      map[string]any `json:"data,omitempty"`
	From      string         `json:"from,omitempty"`
	Timestamp int64          `json:"timestamp,omitempty"` // epoch milliseconds
}

// IncomingMessage is a message produced by a connector.
type IncomingMessage Message

// OutgoingMessage is a user-originated message headed for a connector.
type OutgoingMessage Message

// Message converts the incoming variant into a store entry.
func (m IncomingMessage) Message() Message { return Message(m) }

// Message converts the outgoing variant into a store entry.
func (m OutgoingMessage) Message() Message { return Message(m) }

// Text returns data["text"] when it is a string.
func (m Message) Text() string {
	s, _ := m.Data["text"].(string)
	return s
}

// Text returns data["text"] when it is a string.
func (m IncomingMessage) Text() string { return Message(m).Text() }

// Text returns data["text"] when it is a string.
func (m OutgoingMessage) Text() string { return Message(m).Text() }

// Clone returns a copy whose data map can be modified independently.
func (m Message) Clone() Message {
	m.Data = maps.Clone(m.Data)
	return m
}

// Patch is a partial update applied by UpdateByID. Nil fields are left
// untouched; a non-nil Data replaces the payload as a whole.
type Patch struct {
	Type      *string
	Data      map[string]any
	From      *string
	Timestamp *int64
}

// Apply returns m with the patch merged in.
func (m Message) Apply(p Patch) Message {
	if p.Type != nil {
		m.Type = *p.Type
	}
	if p.Data != nil {
		m.Data = maps.Clone(p.Data)
	}
	if p.From != nil {
		m.From = *p.From
	}
	if p.Timestamp != nil {
		m.Timestamp = *p.Timestamp
	}
	return m
}

// DataPatch builds a patch that replaces only the payload.
func DataPatch(data map[string]any) Patch {
	return Patch{Data: data}
}

// NewID returns a fresh random message id.
func NewID() string {
	return uuid.NewString()
}

// Now returns the current time in epoch milliseconds.
func Now() int64 {
	return time.Now().UnixMilli()
}

// NewText builds a bot text message. An empty id is replaced by a fresh one.
func NewText(id, text string) IncomingMessage {
	if id == "" {
		id = NewID()
	}
	return IncomingMessage{
		ID:   id,
		Type: TypeText,
		Data: map[string]any{"text": text},
		From: FromBot,
	}
}

// NewOutgoing builds a timestamped user text message.
func NewOutgoing(text string) OutgoingMessage {
	return OutgoingMessage{
		ID:        NewID(),
		Type:      TypeText,
		Data:      map[string]any{"text": text},
		From:      FromUser,
		Timestamp: Now(),
	}
}

// Stamp fills in the id and timestamp of an outgoing message when missing.
func (m *OutgoingMessage) Stamp() {
	if m.ID == "" {
		m.ID = NewID()
	}
	if m.Timestamp == 0 {
		m.Timestamp = Now()
	}
	if m.Type == "" {
		m.Type = TypeText
	}
	if m.From == "" {
		m.From = FromUser
	}
}

package message

import "testing"

func TestApplyReplacesDataWholesale(t *testing.T) {
	m := Message{ID: "1", Type: TypeText, Data: map[string]any{"text": "a", "extra": true}}

	got := m.Apply(DataPatch(map[string]any{"text": "b"}))

	if got.Text() != "b" {
		t.Errorf("Text() = %q, want %q", got.Text(), "b")
	}
	if _, ok := got.Data["extra"]; ok {
		t.Error("data should be replaced, not merged")
	}
	if got.Type != TypeText || got.ID != "1" {
		t.Errorf("unpatched fields changed: %+v", got)
	}
}

func TestApplyScalarFields(t *testing.T) {
	typ := TypeCard
	ts := int64(42)
	m := Message{ID: "1", Type: TypeText, Data: map[string]any{"text": "a"}}

	got := m.Apply(Patch{Type: &typ, Timestamp: &ts})

	if got.Type != TypeCard {
		t.Errorf("Type = %q, want %q", got.Type, TypeCard)
	}
	if got.Timestamp != 42 {
		t.Errorf("Timestamp = %d, want 42", got.Timestamp)
	}
	if got.Text() != "a" {
		t.Errorf("data changed without a data patch")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	m := Message{ID: "1", Data: map[string]any{"text": "a"}}
	c := m.Clone()
	c.Data["text"] = "b"

	if m.Text() != "a" {
		t.Errorf("original mutated through clone: %q", m.Text())
	}
}

func TestNewOutgoingIsStamped(t *testing.T) {
	m := NewOutgoing("hello")
	if m.ID == "" {
		t.Error("ID should be set")
	}
	if m.Timestamp == 0 {
		t.Error("Timestamp should be set")
	}
	if m.From != FromUser {
		t.Errorf("From = %q, want %q", m.From, FromUser)
	}
	if m.Text() != "hello" {
		t.Errorf("Text() = %q, want %q", m.Text(), "hello")
	}
}

func TestStampKeepsExistingFields(t *testing.T) {
	m := OutgoingMessage{ID: "keep", Timestamp: 7, Type: TypeButtons}
	m.Stamp()
	if m.ID != "keep" || m.Timestamp != 7 || m.Type != TypeButtons {
		t.Errorf("Stamp overwrote fields: %+v", m)
	}
	if m.From != FromUser {
		t.Errorf("From = %q, want %q", m.From, FromUser)
	}
}

func TestNewTextGeneratesID(t *testing.T) {
	m := NewText("", "hi")
	if m.ID == "" {
		t.Error("expected generated id")
	}
	if m.From != FromBot {
		t.Errorf("From = %q, want %q", m.From, FromBot)
	}
}

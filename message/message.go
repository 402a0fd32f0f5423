// Package message defines the unit of data traveling through a channel.
//
// A message carries an opaque payload, protocol metadata and a context of
// snapshots of earlier processing stages. Identity (id and timestamp) is
// assigned at creation and never changes afterwards; nodes replace payload
// and meta wholesale but the message stays the same for store and audit
// purposes.
package message

import (
	"time"

	"github.com/google/uuid"
)

// Snapshot is a frozen view of a message at some earlier stage, kept in the
// context of the live message so later nodes can refer back to it.
type Snapshot struct {
	Payload any            `json:"payload"`
	Meta    map[string]any `json:"meta"`
}

// Message is the unit of information exchanged between the nodes of a
// channel. Payload and Meta may be mutated by nodes; ID and Timestamp must
// not be touched after creation.
type Message struct {
	ID        string
	Timestamp time.Time
	Payload   any
	Meta      map[string]any
	Ctx       map[string]Snapshot
}

// New creates a message with a fresh time-ordered id.
func New(payload any) *Message {
	return &Message{
		ID:        newID(),
		Timestamp: time.Now().UTC(),
		Payload:   payload,
		Meta:      map[string]any{},
		Ctx:       map[string]Snapshot{},
	}
}

// newID generates a time-ordered UUID v7 so that message ids sort by
// creation time.
func newID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Copy produces an independent message with the same identity. Meta and Ctx
// are always deep-copied. The payload is deep-copied for mutable kinds
// (byte slices, maps, generic slices); other values are assumed immutable
// and shared. Use CopyShared to skip payload copying entirely.
func (m *Message) Copy() *Message {
	c := m.CopyShared()
	c.Payload = clonePayload(m.Payload)
	return c
}

// CopyShared is the performance opt-out of Copy: meta and context are still
// deep-copied, but the payload reference is shared with the original. Only
// safe when no branch mutates the payload in place.
func (m *Message) CopyShared() *Message {
	c := &Message{
		ID:        m.ID,
		Timestamp: m.Timestamp,
		Payload:   m.Payload,
		Meta:      cloneMeta(m.Meta),
		Ctx:       make(map[string]Snapshot, len(m.Ctx)),
	}
	for k, snap := range m.Ctx {
		c.Ctx[k] = Snapshot{
			Payload: clonePayload(snap.Payload),
			Meta:    cloneMeta(snap.Meta),
		}
	}
	return c
}

// Renew copies the message but assigns a new id and timestamp. Used for
// replays, which are new processing cycles over old content.
func (m *Message) Renew() *Message {
	c := m.Copy()
	c.ID = newID()
	c.Timestamp = time.Now().UTC()
	return c
}

// AddContext snapshots msg under the given key in the receiver's context.
func (m *Message) AddContext(key string, msg *Message) {
	if m.Ctx == nil {
		m.Ctx = map[string]Snapshot{}
	}
	m.Ctx[key] = Snapshot{
		Payload: clonePayload(msg.Payload),
		Meta:    cloneMeta(msg.Meta),
	}
}

func cloneMeta(meta map[string]any) map[string]any {
	c := make(map[string]any, len(meta))
	for k, v := range meta {
		c[k] = clonePayload(v)
	}
	return c
}

// clonePayload deep-copies the mutable payload kinds a node is likely to
// hand around. Scalars and strings are immutable in Go and shared as-is;
// unknown struct types are shared too, which is the documented contract.
func clonePayload(v any) any {
	switch p := v.(type) {
	case []byte:
		c := make([]byte, len(p))
		copy(c, p)
		return c
	case map[string]any:
		c := make(map[string]any, len(p))
		for k, e := range p {
			c[k] = clonePayload(e)
		}
		return c
	case []any:
		c := make([]any, len(p))
		for i, e := range p {
			c[i] = clonePayload(e)
		}
		return c
	default:
		return v
	}
}

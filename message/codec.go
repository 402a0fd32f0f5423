package message

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Storable is the persistence form of a message. The payload is encoded
// with msgpack so arbitrary Go values (including raw bytes) survive the
// round trip; everything else stays JSON-friendly for indexing and listing.
type Storable struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   []byte                 `json:"payload,omitempty"`
	Meta      map[string]any         `json:"meta"`
	Ctx       map[string]StorableCtx `json:"ctx,omitempty"`
}

// StorableCtx is a serialized context snapshot.
type StorableCtx struct {
	Payload []byte         `json:"payload"`
	Meta    map[string]any `json:"meta"`
}

// ToStorable serializes the message for persistence. With withPayload set
// to false the payload (and context payloads) are skipped, which is enough
// for listing and status queries.
func (m *Message) ToStorable(withPayload bool) (*Storable, error) {
	s := &Storable{
		ID:        m.ID,
		Timestamp: m.Timestamp,
		Meta:      cloneMeta(m.Meta),
	}
	if !withPayload {
		return s, nil
	}
	enc, err := msgpack.Marshal(m.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	s.Payload = enc
	if len(m.Ctx) > 0 {
		s.Ctx = make(map[string]StorableCtx, len(m.Ctx))
		for k, snap := range m.Ctx {
			encCtx, err := msgpack.Marshal(snap.Payload)
			if err != nil {
				return nil, fmt.Errorf("encode context %q payload: %w", k, err)
			}
			s.Ctx[k] = StorableCtx{Payload: encCtx, Meta: cloneMeta(snap.Meta)}
		}
	}
	return s, nil
}

// FromStorable rebuilds a message from its persistence form.
func FromStorable(s *Storable) (*Message, error) {
	m := &Message{
		ID:        s.ID,
		Timestamp: s.Timestamp,
		Meta:      cloneMeta(s.Meta),
		Ctx:       map[string]Snapshot{},
	}
	if m.Meta == nil {
		m.Meta = map[string]any{}
	}
	if s.Payload != nil {
		var payload any
		if err := msgpack.Unmarshal(s.Payload, &payload); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
		m.Payload = payload
	}
	for k, ctx := range s.Ctx {
		var payload any
		if err := msgpack.Unmarshal(ctx.Payload, &payload); err != nil {
			return nil, fmt.Errorf("decode context %q payload: %w", k, err)
		}
		m.Ctx[k] = Snapshot{Payload: payload, Meta: cloneMeta(ctx.Meta)}
	}
	return m, nil
}

// PayloadString returns a textual rendering of the payload, used by the
// message store content search.
func (m *Message) PayloadString() string {
	switch p := m.Payload.(type) {
	case string:
		return p
	case []byte:
		return string(p)
	default:
		return fmt.Sprint(p)
	}
}

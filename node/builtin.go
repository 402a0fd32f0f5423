package node

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/mhcomm/pypeman/message"
)

// FuncNode adapts a plain function into a Node. The workhorse for inline
// pipeline steps and tests.
type FuncNode struct {
	Base
	fn func(ctx context.Context, msg *message.Message) (*message.Message, error)
}

// Func builds a node from a function.
func Func(name string, fn func(ctx context.Context, msg *message.Message) (*message.Message, error), opts ...Option) *FuncNode {
	return &FuncNode{Base: NewBase(name, opts...), fn: fn}
}

func (n *FuncNode) Process(ctx context.Context, msg *message.Message) (*message.Message, error) {
	return n.fn(ctx, msg)
}

// Log writes the passing message to the given logger and forwards it
// unchanged. Debug helper.
type Log struct {
	Base
	logger zerolog.Logger
}

// NewLog builds a Log node.
func NewLog(name string, logger zerolog.Logger, opts ...Option) *Log {
	return &Log{Base: NewBase(name, opts...), logger: logger}
}

func (n *Log) Process(_ context.Context, msg *message.Message) (*message.Message, error) {
	n.logger.Info().
		Str("node", n.FullPath()).
		Str("msg_id", msg.ID).
		Interface("meta", msg.Meta).
		Str("payload", msg.PayloadString()).
		Msg("message")
	return msg, nil
}

// Sleep waits for the configured duration before forwarding the message.
type Sleep struct {
	Base
	Duration time.Duration
}

// NewSleep builds a Sleep node.
func NewSleep(name string, d time.Duration, opts ...Option) *Sleep {
	return &Sleep{Base: NewBase(name, opts...), Duration: d}
}

func (n *Sleep) Process(ctx context.Context, msg *message.Message) (*message.Message, error) {
	select {
	case <-time.After(n.Duration):
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Drop unconditionally drops every message it sees.
type Drop struct {
	Base
	Reason string
}

// NewDrop builds a Drop node.
func NewDrop(name, reason string, opts ...Option) *Drop {
	return &Drop{Base: NewBase(name, opts...), Reason: reason}
}

func (n *Drop) Process(context.Context, *message.Message) (*message.Message, error) {
	return nil, Dropped(n.Reason)
}

// Reject unconditionally rejects every message it sees.
type Reject struct {
	Base
	Reason string
}

// NewReject builds a Reject node.
func NewReject(name, reason string, opts ...Option) *Reject {
	return &Reject{Base: NewBase(name, opts...), Reason: reason}
}

func (n *Reject) Process(context.Context, *message.Message) (*message.Message, error) {
	return nil, Rejected(n.Reason)
}

// Empty discards the current message and emits a fresh empty one.
type Empty struct {
	Base
}

// NewEmpty builds an Empty node.
func NewEmpty(name string, opts ...Option) *Empty {
	return &Empty{Base: NewBase(name, opts...)}
}

func (n *Empty) Process(context.Context, *message.Message) (*message.Message, error) {
	return message.New(nil), nil
}

// SetCtx restores a previously captured context snapshot as the current
// payload and meta.
type SetCtx struct {
	Base
	Key string
}

// NewSetCtx builds a SetCtx node restoring the snapshot stored under key.
func NewSetCtx(name, key string, opts ...Option) *SetCtx {
	return &SetCtx{Base: NewBase(name, opts...), Key: key}
}

func (n *SetCtx) Process(_ context.Context, msg *message.Message) (*message.Message, error) {
	snap, ok := msg.Ctx[n.Key]
	if !ok {
		return nil, fmt.Errorf("node %s: no context stored under %q", n.Name(), n.Key)
	}
	msg.Payload = snap.Payload
	msg.Meta = snap.Meta
	return msg, nil
}

// JSONToMap parses a JSON text payload into a map payload.
type JSONToMap struct {
	Base
}

// NewJSONToMap builds a JSONToMap node.
func NewJSONToMap(name string, opts ...Option) *JSONToMap {
	return &JSONToMap{Base: NewBase(name, opts...)}
}

func (n *JSONToMap) Process(_ context.Context, msg *message.Message) (*message.Message, error) {
	var raw []byte
	switch p := msg.Payload.(type) {
	case string:
		raw = []byte(p)
	case []byte:
		raw = p
	default:
		return nil, fmt.Errorf("node %s: payload is %T, expected JSON text", n.Name(), msg.Payload)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, Rejected(fmt.Sprintf("invalid json payload: %v", err))
	}
	msg.Payload = decoded
	return msg, nil
}

// MapToJSON renders the payload as a JSON string.
type MapToJSON struct {
	Base
}

// NewMapToJSON builds a MapToJSON node.
func NewMapToJSON(name string, opts ...Option) *MapToJSON {
	return &MapToJSON{Base: NewBase(name, opts...)}
}

func (n *MapToJSON) Process(_ context.Context, msg *message.Message) (*message.Message, error) {
	enc, err := json.Marshal(msg.Payload)
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", n.Name(), err)
	}
	msg.Payload = string(enc)
	return msg, nil
}

// B64Encode encodes a byte payload to base64 text.
type B64Encode struct {
	Base
}

// NewB64Encode builds a B64Encode node.
func NewB64Encode(name string, opts ...Option) *B64Encode {
	return &B64Encode{Base: NewBase(name, opts...)}
}

func (n *B64Encode) Process(_ context.Context, msg *message.Message) (*message.Message, error) {
	raw, ok := msg.Payload.([]byte)
	if !ok {
		return nil, fmt.Errorf("node %s: payload is %T, expected []byte", n.Name(), msg.Payload)
	}
	msg.Payload = base64.StdEncoding.EncodeToString(raw)
	return msg, nil
}

// B64Decode decodes a base64 text payload to bytes.
type B64Decode struct {
	Base
}

// NewB64Decode builds a B64Decode node.
func NewB64Decode(name string, opts ...Option) *B64Decode {
	return &B64Decode{Base: NewBase(name, opts...)}
}

func (n *B64Decode) Process(_ context.Context, msg *message.Message) (*message.Message, error) {
	text, ok := msg.Payload.(string)
	if !ok {
		return nil, fmt.Errorf("node %s: payload is %T, expected string", n.Name(), msg.Payload)
	}
	raw, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil, Rejected(fmt.Sprintf("invalid base64 payload: %v", err))
	}
	msg.Payload = raw
	return msg, nil
}

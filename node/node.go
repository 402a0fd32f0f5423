// Package node defines the processing-step contract of a channel pipeline.
//
// A node receives a message and returns the message to hand to the next
// step. Instead of a message a node may signal a control outcome: Drop
// stops the current branch silently, Reject stops it and marks the message
// failed. Any other error is a node execution fault.
package node

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/mhcomm/pypeman/message"
	"github.com/mhcomm/pypeman/persist"
)

// Node is a single processing step. Implementations must be single-owner:
// one node instance is bound to exactly one position in exactly one channel.
type Node interface {
	Name() string
	Process(ctx context.Context, msg *message.Message) (*message.Message, error)
}

// DroppedError signals that the branch should stop without an error result.
type DroppedError struct {
	Reason string
}

func (e *DroppedError) Error() string {
	if e.Reason == "" {
		return "message dropped"
	}
	return "message dropped: " + e.Reason
}

// RejectedError signals that the branch should stop and the message be
// marked failed.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	if e.Reason == "" {
		return "message rejected"
	}
	return "message rejected: " + e.Reason
}

// Dropped builds a Drop control signal.
func Dropped(reason string) error {
	return &DroppedError{Reason: reason}
}

// Rejected builds a Reject control signal.
func Rejected(reason string) error {
	return &RejectedError{Reason: reason}
}

// IsDropped reports whether err carries a Drop signal.
func IsDropped(err error) bool {
	var d *DroppedError
	return errors.As(err, &d)
}

// IsRejected reports whether err carries a Reject signal.
func IsRejected(err error) bool {
	var r *RejectedError
	return errors.As(err, &r)
}

// Options tune how the owning channel wraps a node execution.
type Options struct {
	// StoreInputAs snapshots the incoming message in its context under
	// this key before processing.
	StoreInputAs string
	// StoreOutputAs snapshots the outgoing message in its context under
	// this key after processing.
	StoreOutputAs string
	// Passthrough runs the node but restores the incoming payload and
	// meta on the result, keeping only side effects.
	Passthrough bool
}

// Option configures a Base node.
type Option func(*Options)

// StoreInputAs snapshots the node input under key.
func StoreInputAs(key string) Option {
	return func(o *Options) { o.StoreInputAs = key }
}

// StoreOutputAs snapshots the node output under key.
func StoreOutputAs(key string) Option {
	return func(o *Options) { o.StoreOutputAs = key }
}

// Passthrough keeps the incoming payload and meta on the node result.
func Passthrough() Option {
	return func(o *Options) { o.Passthrough = true }
}

// Base carries the bookkeeping shared by node implementations: the name,
// the binding to a channel, the processed counter and the persistent
// key-value storage. Embed it and implement Process.
type Base struct {
	name      string
	channel   string
	backend   persist.Backend
	opts      Options
	processed atomic.Int64
}

// NewBase builds the embeddable part of a node.
func NewBase(name string, opts ...Option) Base {
	b := Base{name: name}
	for _, o := range opts {
		o(&b.opts)
	}
	return b
}

func (b *Base) Name() string { return b.name }

// Options returns the channel-visible execution options.
func (b *Base) Options() Options { return b.opts }

// Bind attaches the node to its owning channel. Called once by the channel
// during the definition phase.
func (b *Base) Bind(channel string, backend persist.Backend) {
	b.channel = channel
	b.backend = backend
}

// FullPath is the channel and node name dot concatenated; it namespaces the
// node's persistent data.
func (b *Base) FullPath() string {
	return b.channel + "." + b.name
}

// Processed returns how many messages this node has processed.
func (b *Base) Processed() int64 { return b.processed.Load() }

// MarkProcessed increments the processed counter. Called by the channel.
func (b *Base) MarkProcessed() { b.processed.Add(1) }

// SaveData persists a value under key for the next invocations, surviving
// restarts when the backend is durable.
func (b *Base) SaveData(ctx context.Context, key string, value any) error {
	if b.backend == nil {
		return fmt.Errorf("node %s: no persistence backend bound", b.name)
	}
	return b.backend.Store(ctx, b.FullPath(), key, value)
}

// RestoreData returns a previously saved value, or persist.ErrNotFound.
func (b *Base) RestoreData(ctx context.Context, key string) (any, error) {
	if b.backend == nil {
		return nil, fmt.Errorf("node %s: no persistence backend bound", b.name)
	}
	return b.backend.Get(ctx, b.FullPath(), key)
}

// RestoreDataOr returns a previously saved value or def when the key was
// never stored.
func (b *Base) RestoreDataOr(ctx context.Context, key string, def any) (any, error) {
	v, err := b.RestoreData(ctx, key)
	if errors.Is(err, persist.ErrNotFound) {
		return def, nil
	}
	return v, err
}

// Bindable is implemented by nodes that accept channel binding. Nodes
// embedding Base get it for free.
type Bindable interface {
	Bind(channel string, backend persist.Backend)
}

// Counting is implemented by nodes that track processed messages.
type Counting interface {
	Processed() int64
	MarkProcessed()
}

// Optioned exposes execution options to the owning channel.
type Optioned interface {
	Options() Options
}

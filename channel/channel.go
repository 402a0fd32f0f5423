// Package channel implements the pipeline orchestration unit: an ordered,
// branchable sequence of nodes with a lifecycle state machine, an attached
// message store and fork/when/case sub-channels.
//
// A channel graph has two phases. During the definition phase Append, Fork,
// When, Case and the end-node attachments build an immutable graph; Start
// seals it. At run time Handle drives messages through the graph; no
// structural mutation is allowed once sealed.
package channel

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/mhcomm/pypeman/events"
	"github.com/mhcomm/pypeman/message"
	"github.com/mhcomm/pypeman/metrics"
	"github.com/mhcomm/pypeman/msgstore"
	"github.com/mhcomm/pypeman/node"
	"github.com/mhcomm/pypeman/persist"
)

// Predicate decides whether a message enters a conditional branch.
type Predicate func(*message.Message) bool

// element is one slot of the main path: exactly one field is set.
type element struct {
	node  node.Node
	fork  *Channel
	cond  *condBranch
	cases []*caseBranch
}

type condBranch struct {
	pred Predicate
	ch   *Channel
}

type caseBranch struct {
	pred Predicate
	ch   *Channel
}

// Channel routes messages through its node sequence. Channels must be
// created through a Registry; names are unique across the registry.
type Channel struct {
	name   string
	reg    *Registry
	parent *Channel
	logger zerolog.Logger
	bus    *events.Bus

	store        msgstore.Store
	backend      persist.Backend
	waitSubchans bool

	elements []element
	nodeMap  map[string]node.Node
	subs     []*Channel
	subSeq   int

	joinNodes   []node.Node
	failNodes   []node.Node
	dropNodes   []node.Node
	rejectNodes []node.Node
	finalNodes  []node.Node

	stateMu sync.Mutex
	state   State
	sealed  bool

	// procMu serializes message processing: one message at a time per
	// channel, strict FIFO.
	procMu    sync.Mutex
	processed atomic.Int64
}

// Option configures a channel at definition time.
type Option func(*chanConfig)

type chanConfig struct {
	storeFactory msgstore.Factory
	backend      persist.Backend
	waitSubchans bool
	hasWait      bool
	logger       *zerolog.Logger
}

// WithStoreFactory attaches a message store built by f.
func WithStoreFactory(f msgstore.Factory) Option {
	return func(c *chanConfig) { c.storeFactory = f }
}

// WithWaitSubchans makes Handle wait for all dispatched sub-channels and
// surface their faults to the caller.
func WithWaitSubchans(wait bool) Option {
	return func(c *chanConfig) { c.waitSubchans = wait; c.hasWait = true }
}

// WithPersistence sets the key-value backend handed to the channel's nodes.
func WithPersistence(b persist.Backend) Option {
	return func(c *chanConfig) { c.backend = b }
}

// WithLogger overrides the registry logger for this channel.
func WithLogger(l zerolog.Logger) Option {
	return func(c *chanConfig) { c.logger = &l }
}

// Name returns the registry-unique channel name. Sub-channel names are dot
// joined onto their parent's.
func (c *Channel) Name() string { return c.name }

// Parent returns the channel this one was forked from, nil for top-level
// channels. Lookup only, not an ownership relation.
func (c *Channel) Parent() *Channel { return c.parent }

// State returns the current lifecycle state.
func (c *Channel) State() State {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

// Processed returns how many messages this channel has handled.
func (c *Channel) Processed() int64 { return c.processed.Load() }

// Store exposes the attached message store for administrative search and
// replay.
func (c *Channel) Store() msgstore.Store { return c.store }

// Subchannels lists the fork/when/case channels hanging off this one.
func (c *Channel) Subchannels() []*Channel {
	out := make([]*Channel, len(c.subs))
	copy(out, c.subs)
	return out
}

// HasStore reports whether a real (non-null) store is attached.
func (c *Channel) HasStore() bool {
	_, null := c.store.(msgstore.NullStore)
	return !null
}

// GetNode finds a node by name in this channel or any of its sub-channels.
// Mainly used in tests.
func (c *Channel) GetNode(name string) node.Node {
	return c.nodeMap[name]
}

func (c *Channel) ensureUnsealed() {
	if c.sealed {
		panic(fmt.Sprintf("channel %s: graph is sealed, no structural change after start", c.name))
	}
}

// bind attaches a node to this channel and indexes it by name through the
// channel tree.
func (c *Channel) bind(n node.Node) {
	inner := node.Resolve(n)
	name := inner.Name()
	for ch := c; ch != nil; ch = ch.parent {
		if _, dup := ch.nodeMap[name]; dup {
			panic(fmt.Sprintf("channel %s: duplicate node name %q", c.name, name))
		}
	}
	if b, ok := inner.(node.Bindable); ok {
		b.Bind(c.name, c.backend)
	}
	for ch := c; ch != nil; ch = ch.parent {
		ch.nodeMap[name] = n
	}
}

// Append extends the main path with the given nodes in order. Nil entries
// are ignored, which allows conditional inclusion at definition time.
func (c *Channel) Append(nodes ...node.Node) *Channel {
	c.ensureUnsealed()
	for _, n := range nodes {
		if n == nil {
			continue
		}
		c.bind(n)
		c.elements = append(c.elements, element{node: n})
	}
	return c
}

// newSubChannel builds and registers a derived channel.
func (c *Channel) newSubChannel(kind, name string, opts ...Option) *Channel {
	c.ensureUnsealed()
	if name == "" {
		c.subSeq++
		name = fmt.Sprintf("%s%d", kind, c.subSeq)
	}
	cfg := chanConfig{storeFactory: msgstore.NullFactory{}, backend: c.backend}
	for _, o := range opts {
		o(&cfg)
	}
	if !cfg.hasWait {
		cfg.waitSubchans = c.waitSubchans
	}
	full := c.name + "." + name
	logger := c.logger.With().Str("channel", full).Logger()
	if cfg.logger != nil {
		logger = *cfg.logger
	}
	sub := &Channel{
		name:         full,
		reg:          c.reg,
		parent:       c,
		logger:       logger,
		bus:          c.bus,
		backend:      cfg.backend,
		waitSubchans: cfg.waitSubchans,
		nodeMap:      map[string]node.Node{},
	}
	sub.store = cfg.storeFactory.Store(full)
	c.reg.register(sub)
	c.subs = append(c.subs, sub)
	return sub
}

// Fork creates a sibling channel that receives a copy of the message at
// this point of the main path and runs concurrently with its remainder.
func (c *Channel) Fork(name string, opts ...Option) *Channel {
	sub := c.newSubChannel("fork", name, opts...)
	c.elements = append(c.elements, element{fork: sub})
	return sub
}

// When creates a conditional branch. A message enters it only if pred holds
// at run time, in which case the branch replaces the remainder of the main
// path; otherwise the branch never sees the message.
func (c *Channel) When(pred Predicate, name string, opts ...Option) *Channel {
	sub := c.newSubChannel("when", name, opts...)
	c.elements = append(c.elements, element{cond: &condBranch{pred: pred, ch: sub}})
	return sub
}

// Case creates mutually exclusive branches, one per predicate. At run time
// the first predicate that matches receives the message; its result feeds
// the rest of the main path. A message matching none continues unchanged.
func (c *Channel) Case(preds ...Predicate) []*Channel {
	c.ensureUnsealed()
	branches := make([]*caseBranch, len(preds))
	chans := make([]*Channel, len(preds))
	for i, pred := range preds {
		sub := c.newSubChannel("case", "")
		branches[i] = &caseBranch{pred: pred, ch: sub}
		chans[i] = sub
	}
	c.elements = append(c.elements, element{cases: branches})
	return chans
}

func (c *Channel) attachEndNodes(slot *[]node.Node, kind string, nodes []node.Node) *Channel {
	c.ensureUnsealed()
	if len(*slot) > 0 {
		panic(fmt.Sprintf("channel %s: %s nodes already attached", c.name, kind))
	}
	for _, n := range nodes {
		if n == nil {
			continue
		}
		c.bind(n)
		*slot = append(*slot, n)
	}
	return c
}

// Join attaches nodes run after a successful pass, fed the result message.
func (c *Channel) Join(nodes ...node.Node) *Channel {
	return c.attachEndNodes(&c.joinNodes, "join", nodes)
}

// Fail attaches nodes run after a node execution fault.
func (c *Channel) Fail(nodes ...node.Node) *Channel {
	return c.attachEndNodes(&c.failNodes, "fail", nodes)
}

// OnDrop attaches nodes run after a Drop signal.
func (c *Channel) OnDrop(nodes ...node.Node) *Channel {
	return c.attachEndNodes(&c.dropNodes, "drop", nodes)
}

// OnReject attaches nodes run after a Reject signal.
func (c *Channel) OnReject(nodes ...node.Node) *Channel {
	return c.attachEndNodes(&c.rejectNodes, "reject", nodes)
}

// Finally attaches nodes that run unconditionally at the end of every
// processing cycle, whatever the outcome.
func (c *Channel) Finally(nodes ...node.Node) *Channel {
	return c.attachEndNodes(&c.finalNodes, "final", nodes)
}

func (c *Channel) setState(s State) {
	c.stateMu.Lock()
	old := c.state
	c.state = s
	c.stateMu.Unlock()
	c.notifyState(old, s)
}

func (c *Channel) notifyState(old, s State) {
	if old == s {
		return
	}
	c.logger.Debug().Str("old", old.String()).Str("new", s.String()).Msg("channel state change")
	metrics.ChannelStateChanges.WithLabelValues(c.name, s.String()).Inc()
	if c.bus != nil {
		c.bus.Publish(events.StateChange{Channel: c.name, Old: old.String(), New: s.String()})
	}
}

// Start seals the graph on first call, starts the message store and all
// sub-channels, then begins accepting messages. A failing startup hook
// leaves the channel in ERROR; it must be explicitly restarted.
func (c *Channel) Start(ctx context.Context) error {
	c.stateMu.Lock()
	if c.state != Stopped && c.state != Error {
		st := c.state
		c.stateMu.Unlock()
		return &StateError{Channel: c.name, State: st}
	}
	old := c.state
	c.state = Starting
	c.sealed = true
	c.stateMu.Unlock()
	c.notifyState(old, Starting)

	if err := c.store.Start(ctx); err != nil {
		c.setState(Error)
		return fmt.Errorf("channel %s: message store start: %w", c.name, err)
	}
	for _, sub := range c.subs {
		// a failed earlier attempt may have left this sub running
		if sub.State() == Waiting {
			continue
		}
		if err := sub.Start(ctx); err != nil {
			c.setState(Error)
			return err
		}
	}
	c.setState(Waiting)
	c.logger.Info().Msg("channel started")
	return nil
}

// Stop refuses new messages, lets in-flight processing drain, then stops
// the sub-channels. Already-admitted work is never cancelled.
func (c *Channel) Stop(ctx context.Context) error {
	c.stateMu.Lock()
	if c.state != Waiting {
		st := c.state
		c.stateMu.Unlock()
		return &StateError{Channel: c.name, State: st}
	}
	old := c.state
	c.state = Stopping
	c.stateMu.Unlock()
	c.notifyState(old, Stopping)

	// drain: the lock is free once the in-flight message completed
	c.procMu.Lock()
	c.procMu.Unlock() //nolint:staticcheck // barrier, not a critical section

	c.setState(Stopped)
	for _, sub := range c.subs {
		if err := sub.Stop(ctx); err != nil {
			return err
		}
	}
	c.logger.Info().Msg("channel stopped")
	return nil
}

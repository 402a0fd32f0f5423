package channel

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/mhcomm/pypeman/events"
	"github.com/mhcomm/pypeman/msgstore"
	"github.com/mhcomm/pypeman/node"
	"github.com/mhcomm/pypeman/persist"
)

// Registry holds every channel of a process, top-level and derived, keyed
// by unique name. It is an explicit object owned by the embedding
// application, populated during the definition phase and drained at
// teardown.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]*Channel
	order    []string

	logger  zerolog.Logger
	bus     *events.Bus
	backend persist.Backend
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the base logger channels derive theirs from.
func WithRegistryLogger(l zerolog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

// WithEventBus sets the bus state changes are published on.
func WithEventBus(b *events.Bus) RegistryOption {
	return func(r *Registry) { r.bus = b }
}

// WithNodePersistence sets the default key-value backend for node data.
func WithNodePersistence(b persist.Backend) RegistryOption {
	return func(r *Registry) { r.backend = b }
}

// NewRegistry creates an empty registry. Without options it logs nowhere,
// publishes on a private bus and backs node data with process memory.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		channels: map[string]*Channel{},
		logger:   zerolog.Nop(),
		bus:      events.NewBus(),
		backend:  persist.NewMemory(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Bus returns the event bus channels publish state changes on.
func (r *Registry) Bus() *events.Bus { return r.bus }

// New creates and registers a top-level channel. The name must be unique
// across the registry; reuse panics, as channel definition is a programming
// phase, not a runtime input.
func (r *Registry) New(name string, opts ...Option) *Channel {
	if name == "" {
		panic("channel: name is mandatory")
	}
	cfg := chanConfig{storeFactory: msgstore.NullFactory{}, backend: r.backend}
	for _, o := range opts {
		o(&cfg)
	}
	logger := r.logger.With().Str("channel", name).Logger()
	if cfg.logger != nil {
		logger = *cfg.logger
	}
	c := &Channel{
		name:         name,
		reg:          r,
		logger:       logger,
		bus:          r.bus,
		backend:      cfg.backend,
		waitSubchans: cfg.waitSubchans,
		nodeMap:      map[string]node.Node{},
	}
	c.store = cfg.storeFactory.Store(name)
	r.register(c)
	return c
}

func (r *Registry) register(c *Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.channels[c.name]; dup {
		panic(fmt.Sprintf("channel: duplicate channel name %q, names must be unique", c.name))
	}
	r.channels[c.name] = c
	r.order = append(r.order, c.name)
}

// List returns all channels, sub-channels included, in registration order.
func (r *Registry) List() []*Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Channel, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.channels[name])
	}
	return out
}

// Get returns the channel registered under name.
func (r *Registry) Get(name string) (*Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.channels[name]
	return c, ok
}

// Start starts the named channel.
func (r *Registry) Start(ctx context.Context, name string) error {
	c, ok := r.Get(name)
	if !ok {
		return fmt.Errorf("channel: unknown channel %q", name)
	}
	return c.Start(ctx)
}

// Stop stops the named channel.
func (r *Registry) Stop(ctx context.Context, name string) error {
	c, ok := r.Get(name)
	if !ok {
		return fmt.Errorf("channel: unknown channel %q", name)
	}
	return c.Stop(ctx)
}

// StartAll starts every top-level channel (sub-channels start with their
// parents) in registration order.
func (r *Registry) StartAll(ctx context.Context) error {
	for _, c := range r.List() {
		if c.parent != nil {
			continue
		}
		if err := c.Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

// StopAll stops every running top-level channel in reverse registration
// order, letting in-flight work drain.
func (r *Registry) StopAll(ctx context.Context) error {
	chans := r.List()
	var firstErr error
	for i := len(chans) - 1; i >= 0; i-- {
		c := chans[i]
		if c.parent != nil || c.State() != Waiting {
			continue
		}
		if err := c.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

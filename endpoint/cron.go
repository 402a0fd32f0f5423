package endpoint

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/rs/zerolog"

	"github.com/mhcomm/pypeman/channel"
	"github.com/mhcomm/pypeman/message"
	"github.com/mhcomm/pypeman/node"
)

// Cron injects a message into its channel whenever a cron expression is
// due, checked at minute granularity. The payload is the tick time.
type Cron struct {
	name   string
	expr   string
	ch     *channel.Channel
	logger zerolog.Logger

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// NewCron validates expr (standard five-field cron syntax) and builds the
// endpoint.
func NewCron(name, expr string, ch *channel.Channel, logger zerolog.Logger) (*Cron, error) {
	if !gronx.New().IsValid(expr) {
		return nil, fmt.Errorf("endpoint %s: invalid cron expression %q", name, expr)
	}
	return &Cron{
		name:   name,
		expr:   expr,
		ch:     ch,
		logger: logger.With().Str("endpoint", name).Logger(),
	}, nil
}

func (c *Cron) Name() string { return c.name }

// Start launches the schedule loop.
func (c *Cron) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != nil {
		return fmt.Errorf("endpoint %s: already started", c.name)
	}
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	go c.loop(c.stop, c.done)
	c.logger.Info().Str("expr", c.expr).Msg("cron endpoint started")
	return nil
}

func (c *Cron) loop(stop, done chan struct{}) {
	defer close(done)
	gron := gronx.New()
	for {
		// Wake just past the next minute boundary so IsDue evaluates the
		// minute once.
		now := time.Now()
		wait := now.Truncate(time.Minute).Add(time.Minute + time.Second).Sub(now)
		select {
		case <-stop:
			return
		case <-time.After(wait):
		}
		tick := time.Now()
		due, err := gron.IsDue(c.expr, tick)
		if err != nil {
			c.logger.Error().Err(err).Msg("cron evaluation failed")
			continue
		}
		if !due {
			continue
		}
		c.fire(tick)
	}
}

func (c *Cron) fire(tick time.Time) {
	msg := message.New(tick)
	msg.Meta["cron"] = c.expr
	if _, err := c.ch.Handle(context.Background(), msg); err != nil && !node.IsDropped(err) {
		c.logger.Error().Err(err).Time("tick", tick).Msg("cron message failed")
	}
}

// Stop terminates the schedule loop and waits for it to exit.
func (c *Cron) Stop(ctx context.Context) error {
	c.mu.Lock()
	stop, done := c.stop, c.done
	c.stop, c.done = nil, nil
	c.mu.Unlock()
	if stop == nil {
		return nil
	}
	close(stop)
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

package channel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mhcomm/pypeman/message"
	"github.com/mhcomm/pypeman/metrics"
	"github.com/mhcomm/pypeman/msgstore"
	"github.com/mhcomm/pypeman/node"
)

// outcome classifies how a traversal ended.
type outcome int

const (
	outContinue outcome = iota
	outDrop
	outReject
	outFault
)

func (o outcome) label() string {
	switch o {
	case outContinue:
		return "processed"
	case outDrop:
		return "dropped"
	case outReject:
		return "rejected"
	default:
		return "error"
	}
}

func classify(err error) outcome {
	switch {
	case err == nil:
		return outContinue
	case node.IsDropped(err):
		return outDrop
	case node.IsRejected(err):
		return outReject
	default:
		return outFault
	}
}

// dispatch tracks one forked sub-channel execution.
type dispatch struct {
	ch   *Channel
	done chan error
}

// Handle injects a message into the channel and drives it through the node
// sequence. Messages are processed strictly one at a time, in arrival
// order.
//
// The returned message is the final state reached before the outcome; the
// error carries Drop and Reject signals (detectable with node.IsDropped
// and node.IsRejected), node faults, and any message store fault joined in.
// Store faults are never silently swallowed.
func (c *Channel) Handle(ctx context.Context, msg *message.Message) (*message.Message, error) {
	c.procMu.Lock()
	defer c.procMu.Unlock()

	// The state check happens under procMu so that Stop's drain barrier
	// sees every admitted message: once Stop has flipped the state, any
	// Handle still waiting on the lock is refused here.
	c.stateMu.Lock()
	st := c.state
	c.stateMu.Unlock()
	if st != Waiting {
		return nil, &StateError{Channel: c.name, State: st}
	}

	recID, err := c.store.Store(ctx, msg)
	if err != nil {
		metrics.StoreErrors.WithLabelValues(c.name).Inc()
		return nil, fmt.Errorf("channel %s: store message: %w", c.name, err)
	}

	c.logger.Debug().Str("msg_id", msg.ID).Msg("message entering channel")

	var dispatches []dispatch
	result, procErr := c.traverse(ctx, msg, c.elements, &dispatches)
	out := classify(procErr)
	if result == nil {
		result = msg
	}

	// The barrier comes before status and end nodes so that a fault in a
	// forked branch is still part of this processing cycle.
	var subErr error
	if c.waitSubchans {
		subErr = c.waitDispatches(dispatches)
		if subErr != nil && out == outContinue {
			out = outFault
		}
	}

	var storeErr error
	if recID != "" {
		status := msgstore.Processed
		if out == outReject || out == outFault {
			status = msgstore.Error
		}
		if err := c.store.UpdateStatus(ctx, recID, status); err != nil {
			metrics.StoreErrors.WithLabelValues(c.name).Inc()
			storeErr = fmt.Errorf("channel %s: update status: %w", c.name, err)
		}
	}

	switch out {
	case outContinue:
		c.runChain(ctx, "join", c.joinNodes, result)
	case outDrop:
		c.runChain(ctx, "drop", c.dropNodes, result)
	case outReject:
		c.runChain(ctx, "reject", c.rejectNodes, result)
	case outFault:
		c.runChain(ctx, "fail", c.failNodes, result)
	}
	c.runChain(ctx, "final", c.finalNodes, result)

	c.processed.Add(1)
	metrics.MessagesProcessed.WithLabelValues(c.name, out.label()).Inc()

	switch out {
	case outDrop:
		c.logger.Info().Str("msg_id", msg.ID).Msg("message dropped")
	case outReject:
		c.logger.Warn().Str("msg_id", msg.ID).Err(procErr).Msg("message rejected")
	case outFault:
		c.logger.Error().Str("msg_id", msg.ID).Err(errors.Join(procErr, subErr)).Msg("message processing failed")
	}

	return result, errors.Join(procErr, subErr, storeErr)
}

// traverse walks the elements in order, rewriting msg along the way.
func (c *Channel) traverse(ctx context.Context, msg *message.Message, elems []element, dispatches *[]dispatch) (*message.Message, error) {
	for _, el := range elems {
		switch {
		case el.node != nil:
			out, err := c.runNode(ctx, el.node, msg)
			if err != nil {
				return msg, err
			}
			msg = out

		case el.fork != nil:
			d := dispatch{ch: el.fork, done: make(chan error, 1)}
			*dispatches = append(*dispatches, d)
			cp := msg.Copy()
			go func() {
				_, err := d.ch.Handle(ctx, cp)
				d.done <- err
			}()

		case el.cond != nil:
			if el.cond.pred(msg) {
				// The branch replaces the remainder of the main path.
				return el.cond.ch.Handle(ctx, msg)
			}

		case len(el.cases) > 0:
			for _, cb := range el.cases {
				if !cb.pred(msg) {
					continue
				}
				out, err := cb.ch.Handle(ctx, msg)
				if err != nil {
					return msg, err
				}
				msg = out
				break
			}
		}
	}
	return msg, nil
}

// waitDispatches blocks until every forked sub-channel finished. Drop
// signals from branches are their own business; rejects and faults come
// back joined.
func (c *Channel) waitDispatches(dispatches []dispatch) error {
	var errs []error
	for _, d := range dispatches {
		err := <-d.done
		if err == nil || node.IsDropped(err) {
			continue
		}
		errs = append(errs, fmt.Errorf("sub-channel %s: %w", d.ch.Name(), err))
	}
	return errors.Join(errs...)
}

// runNode executes one node with its options applied and its metrics
// observed.
func (c *Channel) runNode(ctx context.Context, n node.Node, msg *message.Message) (*message.Message, error) {
	inner := node.Resolve(n)

	var opts node.Options
	if o, ok := inner.(node.Optioned); ok {
		opts = o.Options()
	}
	if opts.StoreInputAs != "" {
		msg.AddContext(opts.StoreInputAs, msg)
	}
	var saved *message.Message
	if opts.Passthrough {
		saved = msg.Copy()
	}

	start := time.Now()
	out, err := n.Process(ctx, msg)
	metrics.NodeProcessDuration.WithLabelValues(c.name, inner.Name()).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", inner.Name(), err)
	}
	if cnt, ok := inner.(node.Counting); ok {
		cnt.MarkProcessed()
	}
	if out == nil {
		out = msg
	}
	if opts.Passthrough {
		out.Payload = saved.Payload
		out.Meta = saved.Meta
	}
	if opts.StoreOutputAs != "" {
		out.AddContext(opts.StoreOutputAs, out)
	}
	return out, nil
}

// runChain runs an end-node sequence. End nodes observe an already decided
// outcome, so their faults are logged, never propagated; a Drop signal
// ends the chain early.
func (c *Channel) runChain(ctx context.Context, kind string, nodes []node.Node, msg *message.Message) {
	for _, n := range nodes {
		out, err := c.runNode(ctx, n, msg)
		if err != nil {
			if !node.IsDropped(err) {
				c.logger.Error().Err(err).Str("chain", kind).Msg("end node failed")
			}
			return
		}
		msg = out
	}
}

// Replay re-injects a stored message as a fresh one with a new id and
// timestamp, creating a new store record. The original record is kept
// untouched.
func (c *Channel) Replay(ctx context.Context, id string) (*message.Message, error) {
	rec, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("channel %s: replay %s: %w", c.name, id, err)
	}
	metrics.Replays.WithLabelValues(c.name).Inc()
	msg := rec.Message.Renew()
	c.logger.Info().Str("record_id", id).Str("msg_id", msg.ID).Msg("replaying message")
	return c.Handle(ctx, msg)
}

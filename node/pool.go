package node

import (
	"context"

	"github.com/mhcomm/pypeman/message"
)

// Pool is a bounded worker pool for nodes whose Process blocks or burns
// CPU. Offloaded work runs on a pool goroutine while the calling channel
// waits on the result, so per-channel FIFO ordering is preserved and the
// rest of the engine keeps scheduling.
type Pool struct {
	tasks chan func()
	done  chan struct{}
}

// DefaultPoolSize matches the engine's historical default worker count.
const DefaultPoolSize = 3

// NewPool starts size workers. Close releases them.
func NewPool(size int) *Pool {
	if size <= 0 {
		size = DefaultPoolSize
	}
	p := &Pool{
		tasks: make(chan func()),
		done:  make(chan struct{}),
	}
	for i := 0; i < size; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	for {
		select {
		case task := <-p.tasks:
			task()
		case <-p.done:
			return
		}
	}
}

// Close stops the workers. Tasks already running complete; queued submits
// block forever, so close only after the owning channels stopped.
func (p *Pool) Close() {
	close(p.done)
}

type offloadResult struct {
	msg *message.Message
	err error
}

// offloaded decorates a node so its Process body runs on the pool.
type offloaded struct {
	Node
	pool *Pool
}

// Offload wraps a node so that its Process call is dispatched to the worker
// pool. The wrapped node keeps its name, binding and counters.
func Offload(n Node, pool *Pool) Node {
	return &offloaded{Node: n, pool: pool}
}

func (o *offloaded) Process(ctx context.Context, msg *message.Message) (*message.Message, error) {
	res := make(chan offloadResult, 1)
	task := func() {
		m, err := o.Node.Process(ctx, msg)
		res <- offloadResult{msg: m, err: err}
	}
	select {
	case o.pool.tasks <- task:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-res:
		return r.msg, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Unwrap exposes the decorated node, so the channel can still bind and
// count through the wrapper.
func (o *offloaded) Unwrap() Node { return o.Node }

// Resolve strips decorators like Offload and returns the innermost node.
// Channels use it to reach Bind, Options and the processed counter.
func Resolve(n Node) Node {
	for {
		w, ok := n.(interface{ Unwrap() Node })
		if !ok {
			return n
		}
		n = w.Unwrap()
	}
}

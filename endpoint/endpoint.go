// Package endpoint feeds channels from the outside world. Each endpoint
// owns an ingestion loop (HTTP route, cron schedule, directory poll, ZeroMQ
// socket), converts whatever arrives into a message and injects it with
// Handle.
package endpoint

import "context"

// Endpoint is an ingestion source bound to a channel. Start launches the
// ingestion loop and returns; Stop terminates it and waits for the loop to
// exit.
type Endpoint interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

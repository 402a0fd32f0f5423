// Package msgstore keeps the durable, queryable record of messages a
// channel has seen. A store is attached per channel through a Factory, so
// the same channel definition can run with no persistence in tests and a
// durable backend in production.
//
// Record ids are ULIDs derived from the message timestamp: they are
// collision resistant and sort by time, which keeps range queries cheap.
package msgstore

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/mhcomm/pypeman/message"
)

// Status of a stored message record.
type Status string

const (
	Pending   Status = "PENDING"
	Processed Status = "PROCESSED"
	Error     Status = "ERROR"
)

// ErrNotFound is returned when no record exists under a given id.
var ErrNotFound = errors.New("msgstore: record not found")

// Record is one stored message with its processing status.
type Record struct {
	ID        string           `json:"id"`
	Status    Status           `json:"status"`
	Timestamp time.Time        `json:"timestamp"`
	Message   *message.Message `json:"-"`
}

// Query narrows Search and Count results. Zero values mean "no filter".
type Query struct {
	Start   time.Time // inclusive lower bound on message time
	End     time.Time // exclusive upper bound on message time
	Status  Status
	Pattern string // regular expression matched against the payload text
	StartID string // resume after this record id (excluded from results)
	Limit   int    // maximum records returned, 0 for unlimited
}

// Store persists (id, message, status, timestamp) tuples for one channel.
// Store and UpdateStatus must be safe under concurrent sub-channel
// completions.
type Store interface {
	// Start prepares the backing storage. Called on channel start.
	Start(ctx context.Context) error
	// Store persists msg as PENDING and returns the record id.
	Store(ctx context.Context, msg *message.Message) (string, error)
	// UpdateStatus moves the record to a new status.
	UpdateStatus(ctx context.Context, id string, status Status) error
	// Get returns one record, ErrNotFound when missing.
	Get(ctx context.Context, id string) (*Record, error)
	// Search returns matching records ordered by time descending.
	Search(ctx context.Context, q Query) ([]*Record, error)
	// Count returns the number of records matching the query.
	Count(ctx context.Context, q Query) (int64, error)
}

// Factory hands out the store bound to a channel name.
type Factory interface {
	Store(channel string) Store
}

// newRecordID builds a time-sortable record id from the message timestamp.
func newRecordID(ts time.Time) string {
	return ulid.MustNew(ulid.Timestamp(ts.UTC()), ulid.DefaultEntropy()).String()
}

// NullFactory produces stores that persist nothing. The zero-overhead
// default.
type NullFactory struct{}

func (NullFactory) Store(string) Store { return NullStore{} }

// NullStore ignores writes and finds nothing. Its record ids are empty
// strings; callers must treat them as opaque.
type NullStore struct{}

func (NullStore) Start(context.Context) error { return nil }

func (NullStore) Store(context.Context, *message.Message) (string, error) { return "", nil }

func (NullStore) UpdateStatus(context.Context, string, Status) error { return nil }

func (NullStore) Get(context.Context, string) (*Record, error) { return nil, ErrNotFound }

func (NullStore) Search(context.Context, Query) ([]*Record, error) { return nil, nil }

func (NullStore) Count(context.Context, Query) (int64, error) { return 0, nil }

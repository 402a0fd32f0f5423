package msgstore

import (
	"context"
	"regexp"
	"sync"

	"github.com/mhcomm/pypeman/message"
)

// MemoryFactory produces in-process stores. Everything is lost at process
// exit; meant for tests and ephemeral channels.
type MemoryFactory struct {
	mu     sync.Mutex
	stores map[string]*MemoryStore
}

// NewMemoryFactory creates an empty factory.
func NewMemoryFactory() *MemoryFactory {
	return &MemoryFactory{stores: map[string]*MemoryStore{}}
}

func (f *MemoryFactory) Store(channel string) Store {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.stores[channel]
	if !ok {
		s = &MemoryStore{byID: map[string]*memEntry{}}
		f.stores[channel] = s
	}
	return s
}

type memEntry struct {
	record   Record
	storable *message.Storable
}

// MemoryStore keeps records in insertion order, which matches time order
// because record ids are derived from message timestamps.
type MemoryStore struct {
	mu      sync.RWMutex
	ordered []*memEntry
	byID    map[string]*memEntry
}

func (s *MemoryStore) Start(context.Context) error { return nil }

func (s *MemoryStore) Store(_ context.Context, msg *message.Message) (string, error) {
	storable, err := msg.ToStorable(true)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e := &memEntry{
		record: Record{
			ID:        newRecordID(msg.Timestamp),
			Status:    Pending,
			Timestamp: msg.Timestamp,
		},
		storable: storable,
	}
	s.ordered = append(s.ordered, e)
	s.byID[e.record.ID] = e
	return e.record.ID, nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	e.record.Status = status
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Record, error) {
	s.mu.RLock()
	e, ok := s.byID[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return s.materialize(e)
}

func (s *MemoryStore) materialize(e *memEntry) (*Record, error) {
	msg, err := message.FromStorable(e.storable)
	if err != nil {
		return nil, err
	}
	rec := e.record
	rec.Message = msg
	return &rec, nil
}

func (s *MemoryStore) Search(_ context.Context, q Query) ([]*Record, error) {
	var pattern *regexp.Regexp
	if q.Pattern != "" {
		var err error
		if pattern, err = regexp.Compile(q.Pattern); err != nil {
			return nil, err
		}
	}

	s.mu.RLock()
	entries := make([]*memEntry, len(s.ordered))
	copy(entries, s.ordered)
	s.mu.RUnlock()

	var out []*Record
	// newest first
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		// same cursor rule as the SQL stores: resume strictly below the
		// cursor id, whether or not a record with that id exists
		if q.StartID != "" && e.record.ID >= q.StartID {
			continue
		}
		if !matchTimeStatus(&e.record, q) {
			continue
		}
		rec, err := s.materialize(e)
		if err != nil {
			return nil, err
		}
		if pattern != nil && !pattern.MatchString(rec.Message.PayloadString()) {
			continue
		}
		out = append(out, rec)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) Count(ctx context.Context, q Query) (int64, error) {
	if q.Pattern != "" || q.StartID != "" {
		q.Limit = 0
		recs, err := s.Search(ctx, q)
		return int64(len(recs)), err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, e := range s.ordered {
		if matchTimeStatus(&e.record, q) {
			n++
		}
	}
	return n, nil
}

func matchTimeStatus(rec *Record, q Query) bool {
	if !q.Start.IsZero() && rec.Timestamp.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && !rec.Timestamp.Before(q.End) {
		return false
	}
	if q.Status != "" && rec.Status != q.Status {
		return false
	}
	return true
}

package msgstore

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mhcomm/pypeman/message"
)

// PostgresFactory produces durable stores backed by a shared PostgreSQL
// connection pool. The pool is only created on first channel start.
type PostgresFactory struct {
	databaseURL string

	once sync.Once
	pool *pgxpool.Pool
	err  error
}

// NewPostgresFactory creates a factory for the given database URL.
func NewPostgresFactory(databaseURL string) *PostgresFactory {
	return &PostgresFactory{databaseURL: databaseURL}
}

func (f *PostgresFactory) Store(channel string) Store {
	return &PostgresStore{factory: f, channel: channel}
}

// Close closes the shared connection pool.
func (f *PostgresFactory) Close() {
	if f.pool != nil {
		f.pool.Close()
	}
}

func (f *PostgresFactory) open(ctx context.Context) (*pgxpool.Pool, error) {
	f.once.Do(func() {
		pool, err := pgxpool.New(ctx, f.databaseURL)
		if err != nil {
			f.err = err
			return
		}
		if err := pool.Ping(ctx); err != nil {
			f.err = err
			return
		}
		schema := `
		CREATE TABLE IF NOT EXISTS messages (
			id      TEXT PRIMARY KEY,
			channel TEXT NOT NULL,
			msg_id  TEXT NOT NULL,
			ts      BIGINT NOT NULL,
			status  TEXT NOT NULL,
			message TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_messages_channel_ts ON messages(channel, ts);
		CREATE INDEX IF NOT EXISTS idx_messages_channel_status ON messages(channel, status);
		`
		if _, err := pool.Exec(ctx, schema); err != nil {
			pool.Close()
			f.err = err
			return
		}
		f.pool = pool
	})
	return f.pool, f.err
}

// PostgresStore mirrors SQLiteStore on a PostgreSQL backend.
type PostgresStore struct {
	factory *PostgresFactory
	channel string
	pool    *pgxpool.Pool
}

func (s *PostgresStore) Start(ctx context.Context) error {
	pool, err := s.factory.open(ctx)
	if err != nil {
		return err
	}
	s.pool = pool
	return nil
}

func (s *PostgresStore) Store(ctx context.Context, msg *message.Message) (string, error) {
	storable, err := msg.ToStorable(true)
	if err != nil {
		return "", err
	}
	enc, err := json.Marshal(storable)
	if err != nil {
		return "", err
	}
	id := newRecordID(msg.Timestamp)
	_, err = s.pool.Exec(ctx, `
		INSERT INTO messages (id, channel, msg_id, ts, status, message)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, id, s.channel, msg.ID, msg.Timestamp.UnixMicro(), string(Pending), string(enc))
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, id string, status Status) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE messages SET status = $1 WHERE id = $2 AND channel = $3
	`, string(status), id, s.channel)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Record, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, ts, status, message FROM messages WHERE id = $1 AND channel = $2
	`, id, s.channel)
	rec, err := scanRecord(row.Scan)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

func (s *PostgresStore) Search(ctx context.Context, q Query) ([]*Record, error) {
	var pattern *regexp.Regexp
	if q.Pattern != "" {
		var err error
		if pattern, err = regexp.Compile(q.Pattern); err != nil {
			return nil, err
		}
	}

	where, args := s.buildWhere(q)
	query := "SELECT id, ts, status, message FROM messages" + where + " ORDER BY ts DESC, id DESC"
	if q.Limit > 0 && pattern == nil {
		args = append(args, q.Limit)
		query += " LIMIT $" + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
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
	return out, rows.Err()
}

func (s *PostgresStore) Count(ctx context.Context, q Query) (int64, error) {
	if q.Pattern != "" {
		q.Limit = 0
		recs, err := s.Search(ctx, q)
		return int64(len(recs)), err
	}
	where, args := s.buildWhere(q)
	var n int64
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM messages"+where, args...).Scan(&n)
	return n, err
}

func (s *PostgresStore) buildWhere(q Query) (string, []any) {
	conds := []string{"channel = $1"}
	args := []any{s.channel}
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, cond+"$"+strconv.Itoa(len(args)))
	}
	if !q.Start.IsZero() {
		add("ts >= ", q.Start.UnixMicro())
	}
	if !q.End.IsZero() {
		add("ts < ", q.End.UnixMicro())
	}
	if q.Status != "" {
		add("status = ", string(q.Status))
	}
	if q.StartID != "" {
		add("id < ", q.StartID)
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

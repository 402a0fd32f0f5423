package msgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/mhcomm/pypeman/message"
)

// SQLiteFactory produces durable stores sharing a single sqlite database,
// one logical store per channel. The database file is only opened on first
// channel start.
type SQLiteFactory struct {
	dbPath string

	once sync.Once
	db   *sql.DB
	err  error
}

// NewSQLiteFactory creates a factory backed by the given database file.
// If dbPath is empty, defaults to "./data/pypeman.db".
func NewSQLiteFactory(dbPath string) *SQLiteFactory {
	if dbPath == "" {
		dbPath = "./data/pypeman.db"
	}
	return &SQLiteFactory{dbPath: dbPath}
}

func (f *SQLiteFactory) Store(channel string) Store {
	return &SQLiteStore{factory: f, channel: channel}
}

// Close closes the shared database connection.
func (f *SQLiteFactory) Close() error {
	if f.db != nil {
		return f.db.Close()
	}
	return nil
}

func (f *SQLiteFactory) open(ctx context.Context) (*sql.DB, error) {
	f.once.Do(func() {
		if err := os.MkdirAll(filepath.Dir(f.dbPath), 0o755); err != nil {
			f.err = err
			return
		}
		db, err := sql.Open("sqlite3", f.dbPath+"?_journal_mode=WAL")
		if err != nil {
			f.err = err
			return
		}
		if err := db.PingContext(ctx); err != nil {
			f.err = err
			return
		}
		schema := `
		CREATE TABLE IF NOT EXISTS messages (
			id      TEXT PRIMARY KEY,
			channel TEXT NOT NULL,
			msg_id  TEXT NOT NULL,
			ts      INTEGER NOT NULL,
			status  TEXT NOT NULL,
			message TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_messages_channel_ts ON messages(channel, ts);
		CREATE INDEX IF NOT EXISTS idx_messages_channel_status ON messages(channel, status);
		`
		if _, err := db.ExecContext(ctx, schema); err != nil {
			db.Close()
			f.err = err
			return
		}
		f.db = db
	})
	return f.db, f.err
}

// SQLiteStore is the durable reference store. Range and status queries go
// through the (channel, ts) and (channel, status) indexes instead of
// scanning the whole history.
type SQLiteStore struct {
	factory *SQLiteFactory
	channel string
	db      *sql.DB
}

func (s *SQLiteStore) Start(ctx context.Context) error {
	db, err := s.factory.open(ctx)
	if err != nil {
		return err
	}
	s.db = db
	return nil
}

func (s *SQLiteStore) Store(ctx context.Context, msg *message.Message) (string, error) {
	storable, err := msg.ToStorable(true)
	if err != nil {
		return "", err
	}
	enc, err := json.Marshal(storable)
	if err != nil {
		return "", err
	}
	id := newRecordID(msg.Timestamp)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (id, channel, msg_id, ts, status, message)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, s.channel, msg.ID, msg.Timestamp.UnixMicro(), string(Pending), string(enc))
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *SQLiteStore) UpdateStatus(ctx context.Context, id string, status Status) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET status = ? WHERE id = ? AND channel = ?
	`, string(status), id, s.channel)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, ts, status, message FROM messages WHERE id = ? AND channel = ?
	`, id, s.channel)
	rec, err := scanRecord(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

func (s *SQLiteStore) Search(ctx context.Context, q Query) ([]*Record, error) {
	var pattern *regexp.Regexp
	if q.Pattern != "" {
		var err error
		if pattern, err = regexp.Compile(q.Pattern); err != nil {
			return nil, err
		}
	}

	query, args := s.buildWhere(q)
	query = "SELECT id, ts, status, message FROM messages" + query + " ORDER BY ts DESC, id DESC"
	// the SQL limit only applies when no content filter runs afterwards
	if q.Limit > 0 && pattern == nil {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
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

func (s *SQLiteStore) Count(ctx context.Context, q Query) (int64, error) {
	if q.Pattern != "" {
		q.Limit = 0
		recs, err := s.Search(ctx, q)
		return int64(len(recs)), err
	}
	query, args := s.buildWhere(q)
	var n int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages"+query, args...).Scan(&n)
	return n, err
}

// buildWhere assembles the indexed filters shared by Search and Count.
func (s *SQLiteStore) buildWhere(q Query) (string, []any) {
	conds := []string{"channel = ?"}
	args := []any{s.channel}
	if !q.Start.IsZero() {
		conds = append(conds, "ts >= ?")
		args = append(args, q.Start.UnixMicro())
	}
	if !q.End.IsZero() {
		conds = append(conds, "ts < ?")
		args = append(args, q.End.UnixMicro())
	}
	if q.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(q.Status))
	}
	if q.StartID != "" {
		// descending order: resume strictly below the cursor
		conds = append(conds, "id < ?")
		args = append(args, q.StartID)
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanRecord(scan func(dest ...any) error) (*Record, error) {
	var (
		id, status, raw string
		ts              int64
	)
	if err := scan(&id, &ts, &status, &raw); err != nil {
		return nil, err
	}
	var storable message.Storable
	if err := json.Unmarshal([]byte(raw), &storable); err != nil {
		return nil, err
	}
	msg, err := message.FromStorable(&storable)
	if err != nil {
		return nil, err
	}
	return &Record{
		ID:        id,
		Status:    Status(status),
		Timestamp: time.UnixMicro(ts).UTC(),
		Message:   msg,
	}, nil
}

package userstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite, for self-hosted deployments that
// do not use the hosted record service. Unknown users are provisioned on first
// read. It implements QuotaConsumer with a single conditional UPDATE, so the
// quota check-and-increment is atomic.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite store and runs migrations.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	// For in-memory databases, use shared cache so all connections in the pool
	// see the same data.
	if dsn == ":memory:" {
		dsn = "file::memory:?cache=shared"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			object_id TEXT PRIMARY KEY,
			thread_id TEXT NOT NULL DEFAULT '',
			question_count INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS subscriptions (
			object_id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			stripe_subscription_id TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_subscriptions_owner_id ON subscriptions(owner_id)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) ensureUser(ctx context.Context, objectID string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO users (object_id) VALUES (?) ON CONFLICT(object_id) DO NOTHING", objectID)
	return err
}

func (s *SQLiteStore) GetUser(ctx context.Context, _, objectID string) (*UserRecord, error) {
	if err := s.ensureUser(ctx, objectID); err != nil {
		return nil, err
	}
	rec := &UserRecord{ObjectID: objectID}
	err := s.db.QueryRowContext(ctx,
		"SELECT thread_id, question_count FROM users WHERE object_id = ?", objectID).
		Scan(&rec.ThreadID, &rec.QuestionCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *SQLiteStore) SetThreadID(ctx context.Context, _, objectID, threadID string) error {
	if err := s.ensureUser(ctx, objectID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		"UPDATE users SET thread_id = ? WHERE object_id = ?", threadID, objectID)
	return err
}

func (s *SQLiteStore) SetQuestionCount(ctx context.Context, _, objectID string, n int) error {
	if err := s.ensureUser(ctx, objectID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		"UPDATE users SET question_count = ? WHERE object_id = ?", n, objectID)
	return err
}

// ConsumeQuestion atomically increments the counter unless it is at limit.
// RETURNING keeps the reported count tied to this statement's increment rather
// than whatever a concurrent request left behind.
func (s *SQLiteStore) ConsumeQuestion(ctx context.Context, _, objectID string, limit int) (bool, int, error) {
	if err := s.ensureUser(ctx, objectID); err != nil {
		return false, 0, err
	}
	var count int
	err := s.db.QueryRowContext(ctx,
		`UPDATE users SET question_count = question_count + 1
		 WHERE object_id = ? AND question_count < ?
		 RETURNING question_count`, objectID, limit).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		// At or above the ceiling; report the current value.
		if err := s.db.QueryRowContext(ctx,
			"SELECT question_count FROM users WHERE object_id = ?", objectID).Scan(&count); err != nil {
			return false, 0, err
		}
		return false, count, nil
	}
	if err != nil {
		return false, 0, err
	}
	return true, count, nil
}

// ResetQuestionCounts zeroes all counters and reports how many users were reset.
func (s *SQLiteStore) ResetQuestionCounts(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, "UPDATE users SET question_count = 0 WHERE question_count > 0")
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) ActivateSubscription(ctx context.Context, ownerID, stripeSubscriptionID string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE subscriptions SET status = 'active', stripe_subscription_id = ? WHERE owner_id = ?",
		stripeSubscriptionID, ownerID)
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

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

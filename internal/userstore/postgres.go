package userstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore implements Store using PostgreSQL. Semantics match the SQLite
// driver, including the atomic QuotaConsumer path.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres creates a new PostgreSQL store and runs migrations.
func NewPostgres(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &PostgresStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			object_id TEXT PRIMARY KEY,
			thread_id TEXT NOT NULL DEFAULT '',
			question_count INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS subscriptions (
			object_id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			stripe_subscription_id TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
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

func (s *PostgresStore) ensureUser(ctx context.Context, objectID string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO users (object_id) VALUES ($1) ON CONFLICT (object_id) DO NOTHING", objectID)
	return err
}

func (s *PostgresStore) GetUser(ctx context.Context, _, objectID string) (*UserRecord, error) {
	if err := s.ensureUser(ctx, objectID); err != nil {
		return nil, err
	}
	rec := &UserRecord{ObjectID: objectID}
	err := s.db.QueryRowContext(ctx,
		"SELECT thread_id, question_count FROM users WHERE object_id = $1", objectID).
		Scan(&rec.ThreadID, &rec.QuestionCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *PostgresStore) SetThreadID(ctx context.Context, _, objectID, threadID string) error {
	if err := s.ensureUser(ctx, objectID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		"UPDATE users SET thread_id = $1 WHERE object_id = $2", threadID, objectID)
	return err
}

func (s *PostgresStore) SetQuestionCount(ctx context.Context, _, objectID string, n int) error {
	if err := s.ensureUser(ctx, objectID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		"UPDATE users SET question_count = $1 WHERE object_id = $2", n, objectID)
	return err
}

// ConsumeQuestion atomically increments the counter unless it is at limit.
func (s *PostgresStore) ConsumeQuestion(ctx context.Context, _, objectID string, limit int) (bool, int, error) {
	if err := s.ensureUser(ctx, objectID); err != nil {
		return false, 0, err
	}
	var count int
	err := s.db.QueryRowContext(ctx,
		`UPDATE users SET question_count = question_count + 1
		 WHERE object_id = $1 AND question_count < $2
		 RETURNING question_count`, objectID, limit).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		// At or above the ceiling; report the current value.
		if err := s.db.QueryRowContext(ctx,
			"SELECT question_count FROM users WHERE object_id = $1", objectID).Scan(&count); err != nil {
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
func (s *PostgresStore) ResetQuestionCounts(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, "UPDATE users SET question_count = 0 WHERE question_count > 0")
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *PostgresStore) ActivateSubscription(ctx context.Context, ownerID, stripeSubscriptionID string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE subscriptions SET status = 'active', stripe_subscription_id = $1 WHERE owner_id = $2",
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

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

func Open(cfg Config, log zerolog.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	s := &Store{db: db, log: log}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) ChannelExists(ctx context.Context, domain string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM channels WHERE domain = ?`, domain).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (s *Store) SubscriberExists(ctx context.Context, id int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM subscribers WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (s *Store) CreateChannel(ctx context.Context, domain string, sourceID int64, title string) error {
	if ok, err := s.ChannelExists(ctx, domain); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("channel %q: %w", domain, ErrExists)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO channels(domain, source_id, title, watermark) VALUES(?,?,?,0)`,
		domain, sourceID, title)
	return err
}

func (s *Store) CreateSubscriber(ctx context.Context, id int64) error {
	if ok, err := s.SubscriberExists(ctx, id); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("subscriber %d: %w", id, ErrExists)
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO subscribers(id) VALUES(?)`, id)
	return err
}

// Subscribe creates the edge with watermark 0. The caller is expected to
// deliver first content immediately and advance the watermark; the zero is a
// transient placeholder, never observed across a pass.
func (s *Store) Subscribe(ctx context.Context, domain string, subscriberID int64) error {
	if ok, err := s.ChannelExists(ctx, domain); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("channel %q: %w", domain, ErrNotFound)
	}
	if ok, err := s.SubscriberExists(ctx, subscriberID); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("subscriber %d: %w", subscriberID, ErrNotFound)
	}
	if ok, err := s.edgeExists(ctx, domain, subscriberID); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("subscription %d/%q: %w", subscriberID, domain, ErrExists)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscriptions(subscriber_id, domain, watermark) VALUES(?,?,0)`,
		subscriberID, domain)
	return err
}

func (s *Store) Unsubscribe(ctx context.Context, domain string, subscriberID int64) error {
	if ok, err := s.ChannelExists(ctx, domain); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("channel %q: %w", domain, ErrNotFound)
	}
	if ok, err := s.SubscriberExists(ctx, subscriberID); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("subscriber %d: %w", subscriberID, ErrNotFound)
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM subscriptions WHERE subscriber_id = ? AND domain = ?`,
		subscriberID, domain)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("subscription %d/%q: %w", subscriberID, domain, ErrNotFound)
	}
	return nil
}

func (s *Store) GetSubscriber(ctx context.Context, id int64) (Subscriber, error) {
	if ok, err := s.SubscriberExists(ctx, id); err != nil {
		return Subscriber{}, err
	} else if !ok {
		return Subscriber{}, fmt.Errorf("subscriber %d: %w", id, ErrNotFound)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT domain, watermark FROM subscriptions WHERE subscriber_id = ? ORDER BY domain`, id)
	if err != nil {
		return Subscriber{}, err
	}
	defer rows.Close()

	sub := Subscriber{ID: id}
	for rows.Next() {
		var e Subscription
		if err := rows.Scan(&e.Domain, &e.Watermark); err != nil {
			return Subscriber{}, err
		}
		sub.Subscriptions = append(sub.Subscriptions, e)
	}
	return sub, rows.Err()
}

func (s *Store) GetChannel(ctx context.Context, domain string) (Channel, error) {
	var ch Channel
	err := s.db.QueryRowContext(ctx,
		`SELECT domain, source_id, title, watermark FROM channels WHERE domain = ?`, domain).
		Scan(&ch.Domain, &ch.SourceID, &ch.Title, &ch.Watermark)
	if errors.Is(err, sql.ErrNoRows) {
		return Channel{}, fmt.Errorf("channel %q: %w", domain, ErrNotFound)
	}
	if err != nil {
		return Channel{}, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT subscriber_id FROM subscriptions WHERE domain = ? ORDER BY subscriber_id`, domain)
	if err != nil {
		return Channel{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return Channel{}, err
		}
		ch.Members = append(ch.Members, id)
	}
	return ch, rows.Err()
}

// ChannelDomains snapshots the channel keys at call time. Callers iterate the
// snapshot and re-fetch each channel individually, so a channel deleted
// mid-iteration simply surfaces as ErrNotFound.
func (s *Store) ChannelDomains(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT domain FROM channels ORDER BY domain`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// SubscriberIDs snapshots all subscriber ids, same semantics as ChannelDomains.
func (s *Store) SubscriberIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM subscribers ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// SubscriptionWatermark does a point lookup of one edge's watermark.
func (s *Store) SubscriptionWatermark(ctx context.Context, subscriberID int64, domain string) (int64, error) {
	var wm int64
	err := s.db.QueryRowContext(ctx,
		`SELECT watermark FROM subscriptions WHERE subscriber_id = ? AND domain = ?`,
		subscriberID, domain).Scan(&wm)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("subscription %d/%q: %w", subscriberID, domain, ErrNotFound)
	}
	return wm, err
}

// AdvanceWatermark raises the edge watermark to ts. Monotonicity is enforced
// here: a ts at or below the current watermark is a no-op, not an error.
func (s *Store) AdvanceWatermark(ctx context.Context, subscriberID int64, domain string, ts int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET watermark = ? WHERE subscriber_id = ? AND domain = ? AND watermark < ?`,
		ts, subscriberID, domain, ts)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	// Either the edge is missing or the update was a monotonic no-op.
	if ok, err := s.edgeExists(ctx, domain, subscriberID); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("subscription %d/%q: %w", subscriberID, domain, ErrNotFound)
	}
	return nil
}

// UpdateChannel writes the channel watermark and title, touching only fields
// that actually changed.
func (s *Store) UpdateChannel(ctx context.Context, domain string, watermark int64, title string) error {
	var curWM int64
	var curTitle string
	err := s.db.QueryRowContext(ctx,
		`SELECT watermark, title FROM channels WHERE domain = ?`, domain).Scan(&curWM, &curTitle)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("channel %q: %w", domain, ErrNotFound)
	}
	if err != nil {
		return err
	}
	if curWM != watermark {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE channels SET watermark = ? WHERE domain = ?`, watermark, domain); err != nil {
			return err
		}
	}
	if curTitle != title {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE channels SET title = ? WHERE domain = ?`, title, domain); err != nil {
			return err
		}
	}
	return nil
}

// DeleteSubscriber removes the subscriber and all of its edges.
func (s *Store) DeleteSubscriber(ctx context.Context, id int64) error {
	if ok, err := s.SubscriberExists(ctx, id); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("subscriber %d: %w", id, ErrNotFound)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM subscriptions WHERE subscriber_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM subscribers WHERE id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteChannel removes an orphaned channel. A channel that still has
// subscribers is protected; the caller must not cascade subscriber loss.
func (s *Store) DeleteChannel(ctx context.Context, domain string) error {
	if ok, err := s.ChannelExists(ctx, domain); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("channel %q: %w", domain, ErrNotFound)
	}
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM subscriptions WHERE domain = ? LIMIT 1`, domain).Scan(&one)
	if err == nil {
		return fmt.Errorf("channel %q: %w", domain, ErrHasMembers)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM channels WHERE domain = ?`, domain)
	return err
}

func (s *Store) edgeExists(ctx context.Context, domain string, subscriberID int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM subscriptions WHERE subscriber_id = ? AND domain = ?`,
		subscriberID, domain).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

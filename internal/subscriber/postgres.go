package subscriber

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/jackc/pgx/v5/stdlib"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var subscriberColumns = []string{
	"user_id", "categories", "subcats", "locations",
	"trial_start", "subscription_end", "trial_expired_notified", "paid_expired_notified",
}

// PostgresStore keeps subscribers in the subscribers table. Run MigrateUp
// before first use.
type PostgresStore struct {
	db *sql.DB
}

func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPreference(row rowScanner) (Preference, error) {
	var p Preference
	var cats, subcats, locs []byte
	var trial, end sql.NullTime
	if err := row.Scan(&p.UserID, &cats, &subcats, &locs, &trial, &end, &p.TrialExpiredNotified, &p.PaidExpiredNotified); err != nil {
		return p, err
	}
	if err := json.Unmarshal(cats, &p.Categories); err != nil {
		return p, fmt.Errorf("decoding categories for %d: %w", p.UserID, err)
	}
	if err := json.Unmarshal(subcats, &p.Subcats); err != nil {
		return p, fmt.Errorf("decoding subcats for %d: %w", p.UserID, err)
	}
	if err := json.Unmarshal(locs, &p.Locations); err != nil {
		return p, fmt.Errorf("decoding locations for %d: %w", p.UserID, err)
	}
	if trial.Valid {
		p.TrialStart = NewTimestamp(trial.Time)
	}
	if end.Valid {
		p.SubscriptionEnd = NewTimestamp(end.Time)
	}
	return p, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]Preference, error) {
	query, args, err := psql.Select(subscriberColumns...).From("subscribers").OrderBy("user_id").ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing subscribers: %w", err)
	}
	defer rows.Close()

	var out []Preference
	for rows.Next() {
		p, err := scanPreference(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Get(ctx context.Context, userID int64) (Preference, error) {
	query, args, err := psql.Select(subscriberColumns...).From("subscribers").Where(sq.Eq{"user_id": userID}).ToSql()
	if err != nil {
		return Preference{}, err
	}
	p, err := scanPreference(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return Preference{}, ErrNotFound
	}
	return p, err
}

func (s *PostgresStore) Save(ctx context.Context, p Preference) error {
	cats, err := json.Marshal(nonNil(p.Categories))
	if err != nil {
		return err
	}
	subcats := []byte("{}")
	if p.Subcats != nil {
		if subcats, err = json.Marshal(p.Subcats); err != nil {
			return err
		}
	}
	locs, err := json.Marshal(nonNil(p.Locations))
	if err != nil {
		return err
	}

	query, args, err := psql.Insert("subscribers").
		Columns(subscriberColumns...).
		Values(p.UserID, string(cats), string(subcats), string(locs),
			nullTime(p.TrialStart), nullTime(p.SubscriptionEnd),
			p.TrialExpiredNotified, p.PaidExpiredNotified).
		Suffix(`ON CONFLICT (user_id) DO UPDATE SET
			categories = EXCLUDED.categories,
			subcats = EXCLUDED.subcats,
			locations = EXCLUDED.locations,
			trial_start = EXCLUDED.trial_start,
			subscription_end = EXCLUDED.subscription_end,
			trial_expired_notified = EXCLUDED.trial_expired_notified,
			paid_expired_notified = EXCLUDED.paid_expired_notified,
			updated_at = NOW()`).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("saving subscriber %d: %w", p.UserID, err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, userID int64) error {
	query, args, err := psql.Delete("subscribers").Where(sq.Eq{"user_id": userID}).ToSql()
	if err != nil {
		return err
	}
	return s.execOne(ctx, query, args)
}

func (s *PostgresStore) SetNotified(ctx context.Context, userID int64, n Notice) error {
	var column string
	switch n {
	case NoticeTrialExpired:
		column = "trial_expired_notified"
	case NoticePaidExpired:
		column = "paid_expired_notified"
	default:
		return fmt.Errorf("unknown notice %q", n)
	}
	query, args, err := psql.Update("subscribers").
		Set(column, true).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"user_id": userID}).
		ToSql()
	if err != nil {
		return err
	}
	return s.execOne(ctx, query, args)
}

func (s *PostgresStore) execOne(ctx context.Context, query string, args []any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
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

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nullTime(ts *Timestamp) sql.NullTime {
	if ts == nil || ts.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: ts.Time.In(time.UTC), Valid: true}
}

package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SaveReview inserts a pending review. Saving an id that already exists is a no-op.
func (s *Store) SaveReview(ctx context.Context, r Review) error {
	created := r.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reviews (id, lead_json, status, message_id, created_at)
		VALUES (?, ?, 'pending', ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		r.ID, r.LeadJSON, r.MessageID, formatTime(created),
	)
	if err != nil {
		return fmt.Errorf("saving review %s: %w", r.ID, err)
	}
	return nil
}

// SetReviewMessage records the admin message that carries the review buttons.
func (s *Store) SetReviewMessage(ctx context.Context, id string, messageID int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE reviews SET message_id = ? WHERE id = ?`, messageID, id)
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

func (s *Store) GetReview(ctx context.Context, id string) (Review, error) {
	var r Review
	var createdAt string
	var decidedAt sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, lead_json, status, message_id, created_at, decided_at
		FROM reviews WHERE id = ?`, id,
	).Scan(&r.ID, &r.LeadJSON, &r.Status, &r.MessageID, &createdAt, &decidedAt)
	if err == sql.ErrNoRows {
		return Review{}, ErrNotFound
	}
	if err != nil {
		return Review{}, err
	}
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return Review{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if r.DecidedAt, err = parseNullTime(decidedAt); err != nil {
		return Review{}, fmt.Errorf("parsing decided_at: %w", err)
	}
	return r, nil
}

// DecideReview moves a pending review to approved or rejected. A review that
// was already decided returns ErrAlreadyDecided, so a double tap on the
// admin buttons never routes a lead twice.
func (s *Store) DecideReview(ctx context.Context, id, status string) error {
	if status != ReviewApproved && status != ReviewRejected {
		return fmt.Errorf("invalid review status %q", status)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning review transaction: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM reviews WHERE id = ?`, id).Scan(&current)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if current != ReviewPending {
		return ErrAlreadyDecided
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE reviews SET status = ?, decided_at = ? WHERE id = ? AND status = 'pending'`,
		status, formatTime(time.Now()), id,
	); err != nil {
		return err
	}
	return tx.Commit()
}

// ListReviews returns up to limit reviews with the given status, newest
// first. An empty status lists every review.
func (s *Store) ListReviews(ctx context.Context, status string, limit int) ([]Review, error) {
	query := `SELECT id, lead_json, status, message_id, created_at, decided_at FROM reviews`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Review
	for rows.Next() {
		var r Review
		var createdAt string
		var decidedAt sql.NullString
		if err := rows.Scan(&r.ID, &r.LeadJSON, &r.Status, &r.MessageID, &createdAt, &decidedAt); err != nil {
			return nil, err
		}
		if r.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		if r.DecidedAt, err = parseNullTime(decidedAt); err != nil {
			return nil, fmt.Errorf("parsing decided_at: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

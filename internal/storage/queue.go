package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/leadbot/internal/retry"
)

const (
	DefaultQueueCapacity = 10000
	DefaultStaleAfter    = time.Hour
	DefaultRetention     = 7 * 24 * time.Hour
)

// DefaultBusyRetry is the contention policy used when QueueOptions.Retry is zero.
var DefaultBusyRetry = retry.Policy{
	MaxAttempts: 6,
	BaseDelay:   50 * time.Millisecond,
	MaxDelay:    800 * time.Millisecond,
}

type QueueOptions struct {
	Capacity int
	Retry    retry.Policy
	Now      func() time.Time
	Logger   *slog.Logger
}

// Queue is the durable ingestion queue. Items move
// pending -> processing -> completed|failed and, when a worker dies,
// processing -> pending through RecoverStale.
type Queue struct {
	db       *sql.DB
	capacity int
	retry    retry.Policy
	now      func() time.Time
	logger   *slog.Logger
}

// Queue returns the durable queue backed by this store.
func (s *Store) Queue(opts QueueOptions) *Queue {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultQueueCapacity
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = DefaultBusyRetry
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Queue{
		db:       s.db,
		capacity: opts.Capacity,
		retry:    opts.Retry,
		now:      opts.Now,
		logger:   opts.Logger,
	}
}

func (q *Queue) withRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	if err := q.retry.Do(ctx, IsBusy, fn); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Enqueue stores ev as a pending item. It returns false without side effects
// when the queue is at capacity or when a pending item already carries the
// same chat and message id.
func (q *Queue) Enqueue(ctx context.Context, ev Event, priority int) (bool, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return false, fmt.Errorf("encoding event: %w", err)
	}

	var accepted bool
	err = q.withRetry(ctx, "enqueue", func(ctx context.Context) error {
		accepted = false
		tx, err := q.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var pending int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM queue_items WHERE status = 'pending'`).Scan(&pending); err != nil {
			return err
		}
		if pending >= q.capacity {
			return nil
		}

		var dup int
		if err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM queue_items
			WHERE status = 'pending'
			  AND json_extract(event, '$.chat_id') = ?
			  AND json_extract(event, '$.id') = ?`,
			ev.ChatID, ev.ID,
		).Scan(&dup); err != nil {
			return err
		}
		if dup > 0 {
			return nil
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO queue_items (event, status, priority, created_at)
			VALUES (?, 'pending', ?, ?)`,
			string(payload), priority, formatTime(q.now()),
		); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		accepted = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if !accepted {
		q.logger.Debug("enqueue rejected", "chat", ev.ChatID, "msg", ev.ID)
	}
	return accepted, nil
}

// Dequeue claims the highest-priority, oldest pending item and marks it
// processing. It returns nil when nothing is pending. The select and the
// conditional update share one transaction so two callers never receive the
// same item.
func (q *Queue) Dequeue(ctx context.Context) (*QueueItem, error) {
	var item *QueueItem
	err := q.withRetry(ctx, "dequeue", func(ctx context.Context) error {
		item = nil
		tx, err := q.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var it QueueItem
		var payload, createdAt string
		err = tx.QueryRowContext(ctx, `
			SELECT id, event, priority, created_at
			FROM queue_items
			WHERE status = 'pending'
			ORDER BY priority DESC, created_at ASC, id ASC
			LIMIT 1`,
		).Scan(&it.ID, &payload, &it.Priority, &createdAt)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return err
		}

		now := q.now()
		decodeErr := json.Unmarshal([]byte(payload), &it.Event)
		if decodeErr != nil {
			decodeErr = fmt.Errorf("decoding event for item %d: %w", it.ID, decodeErr)
		} else if it.CreatedAt, err = parseTime(createdAt); err != nil {
			decodeErr = fmt.Errorf("parsing created_at for item %d: %w", it.ID, err)
		}

		// An unreadable row is failed in the same transaction so the stale
		// sweep never hands it out again.
		status, note := StatusProcessing, any(nil)
		if decodeErr != nil {
			status, note = StatusFailed, decodeErr.Error()
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE queue_items SET status = ?, processed_at = ?, error = ? WHERE id = ? AND status = 'pending'`,
			status, formatTime(now), note, it.ID,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n != 1 {
			return nil
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		if decodeErr != nil {
			q.logger.Error("queue item unreadable, marked failed", "item", it.ID, "error", decodeErr)
			return retry.Permanent(decodeErr)
		}

		it.Status = StatusProcessing
		it.ProcessedAt = now.UTC()
		item = &it
		return nil
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// MarkCompleted moves a claimed item to the terminal completed state.
func (q *Queue) MarkCompleted(ctx context.Context, item *QueueItem) error {
	return q.finish(ctx, item, StatusCompleted, "")
}

// MarkFailed moves a claimed item to the terminal failed state and keeps msg
// as its error note.
func (q *Queue) MarkFailed(ctx context.Context, item *QueueItem, msg string) error {
	return q.finish(ctx, item, StatusFailed, msg)
}

// finish only applies to the claim Dequeue handed out: the row must still be
// processing with the same claim time. A claim taken over after stale
// recovery returns ErrNotProcessing to the late holder.
func (q *Queue) finish(ctx context.Context, item *QueueItem, status, msg string) error {
	return q.withRetry(ctx, "mark "+status, func(ctx context.Context) error {
		var errNote any
		if msg != "" {
			errNote = msg
		}
		res, err := q.db.ExecContext(ctx, `
			UPDATE queue_items SET status = ?, processed_at = ?, error = ?
			WHERE id = ? AND status = 'processing' AND processed_at = ?`,
			status, formatTime(q.now()), errNote, item.ID, formatTime(item.ProcessedAt),
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 1 {
			return nil
		}

		var current string
		err = q.db.QueryRowContext(ctx, `SELECT status FROM queue_items WHERE id = ?`, item.ID).Scan(&current)
		if err == sql.ErrNoRows {
			return retry.Permanent(ErrNotFound)
		}
		if err != nil {
			return err
		}
		return retry.Permanent(fmt.Errorf("item %d is %s: %w", item.ID, current, ErrNotProcessing))
	})
}

// RecoverStale returns processing items claimed before now-olderThan to pending.
func (q *Queue) RecoverStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := formatTime(q.now().Add(-olderThan))
	var n int64
	err := q.withRetry(ctx, "recover stale", func(ctx context.Context) error {
		res, err := q.db.ExecContext(ctx, `
			UPDATE queue_items SET status = 'pending', processed_at = NULL
			WHERE status = 'processing' AND processed_at < ?`, cutoff)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

// PurgeFinished deletes completed and failed items older than the retention horizon.
func (q *Queue) PurgeFinished(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := formatTime(q.now().Add(-retention))
	var n int64
	err := q.withRetry(ctx, "purge finished", func(ctx context.Context) error {
		res, err := q.db.ExecContext(ctx, `
			DELETE FROM queue_items
			WHERE status IN ('completed', 'failed')
			  AND COALESCE(processed_at, created_at) < ?`, cutoff)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

// Clear removes every item regardless of status.
func (q *Queue) Clear(ctx context.Context) (int64, error) {
	var n int64
	err := q.withRetry(ctx, "clear", func(ctx context.Context) error {
		res, err := q.db.ExecContext(ctx, `DELETE FROM queue_items`)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

func (q *Queue) Stats(ctx context.Context) (QueueStats, error) {
	var st QueueStats
	rows, err := q.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM queue_items GROUP BY status`)
	if err != nil {
		return st, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return st, err
		}
		switch status {
		case StatusPending:
			st.Pending = n
		case StatusProcessing:
			st.Processing = n
		case StatusCompleted:
			st.Completed = n
		case StatusFailed:
			st.Failed = n
		}
	}
	if err := rows.Err(); err != nil {
		return st, err
	}

	var oldest sql.NullString
	if err := q.db.QueryRowContext(ctx,
		`SELECT MIN(created_at) FROM queue_items WHERE status = 'pending'`,
	).Scan(&oldest); err != nil {
		return st, fmt.Errorf("queue stats: %w", err)
	}
	if st.OldestPending, err = parseNullTime(oldest); err != nil {
		return st, fmt.Errorf("parsing oldest pending: %w", err)
	}
	return st, nil
}

// List returns up to limit items with the given status, newest first.
func (q *Queue) List(ctx context.Context, status string, limit int) ([]QueueItem, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, event, status, priority, created_at, processed_at, error
		FROM queue_items WHERE status = ?
		ORDER BY created_at DESC, id DESC LIMIT ?`, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []QueueItem
	for rows.Next() {
		var it QueueItem
		var payload, createdAt string
		var processedAt, errNote sql.NullString
		if err := rows.Scan(&it.ID, &payload, &it.Status, &it.Priority, &createdAt, &processedAt, &errNote); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(payload), &it.Event); err != nil {
			return nil, fmt.Errorf("decoding event for item %d: %w", it.ID, err)
		}
		if it.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at for item %d: %w", it.ID, err)
		}
		if it.ProcessedAt, err = parseNullTime(processedAt); err != nil {
			return nil, fmt.Errorf("parsing processed_at for item %d: %w", it.ID, err)
		}
		it.Error = errNote.String
		items = append(items, it)
	}
	return items, rows.Err()
}

// Maintain runs stale recovery and retention sweeps immediately and then
// every interval until ctx is cancelled.
func (q *Queue) Maintain(ctx context.Context, interval, staleAfter, retention time.Duration) {
	sweep := func() {
		if n, err := q.RecoverStale(ctx, staleAfter); err != nil {
			q.logger.Warn("stale recovery failed", "error", err)
		} else if n > 0 {
			q.logger.Info("recovered stale queue items", "count", n)
		}
		if n, err := q.PurgeFinished(ctx, retention); err != nil {
			q.logger.Warn("queue retention sweep failed", "error", err)
		} else if n > 0 {
			q.logger.Info("purged finished queue items", "count", n)
		}
	}

	sweep()
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}

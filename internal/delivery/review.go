package delivery

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/kalambet/leadbot/internal/storage"
	"github.com/kalambet/leadbot/internal/subscriber"
	"github.com/kalambet/leadbot/internal/telegram"
)

const (
	approvePrefix = "ap:"
	rejectPrefix  = "rj:"
)

// ReviewStore is the review ledger in storage.Store.
type ReviewStore interface {
	SaveReview(ctx context.Context, r storage.Review) error
	SetReviewMessage(ctx context.Context, id string, messageID int64) error
	GetReview(ctx context.Context, id string) (storage.Review, error)
	DecideReview(ctx context.Context, id, status string) error
}

// DeskClient is the part of telegram.Client the review desk uses.
type DeskClient interface {
	MessageSender
	AnswerCallbackQuery(ctx context.Context, id, text string) error
	DeleteMessage(ctx context.Context, chatID, messageID int64) error
	EditReplyMarkup(ctx context.Context, chatID, messageID int64, kb *telegram.InlineKeyboardMarkup) error
}

// LeadRouter delivers approved leads.
type LeadRouter interface {
	Route(ctx context.Context, l Lead, subs []subscriber.Preference) (sent, failed []int64)
}

// ReviewDesk asks the admin to approve or reject borderline leads.
type ReviewDesk struct {
	store   ReviewStore
	client  DeskClient
	router  LeadRouter
	subs    subscriber.Store
	adminID int64
	now     func() time.Time
	logger  *slog.Logger
}

func NewReviewDesk(store ReviewStore, client DeskClient, router LeadRouter, subs subscriber.Store, adminID int64, logger *slog.Logger) *ReviewDesk {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReviewDesk{
		store:   store,
		client:  client,
		router:  router,
		subs:    subs,
		adminID: adminID,
		now:     time.Now,
		logger:  logger,
	}
}

// ReviewID is a stable 16-hex id derived from time, chat and text.
func ReviewID(l Lead) string {
	raw := l.Received.UTC().Format(time.RFC3339Nano) + "|" +
		strconv.FormatInt(l.ChatID, 10) + " (" + l.ChatTitle + ")|" + l.Text
	sum := sha1.Sum([]byte(raw))
	return hex.EncodeToString(sum[:])[:16]
}

// FormatReview renders the admin prompt for l.
func FormatReview(l Lead) string {
	var b strings.Builder
	b.WriteString("⚠️ Проверь лид")
	if l.Confidence > 0 {
		fmt.Fprintf(&b, " (%.0f%%)", l.Confidence*100)
	}
	b.WriteString(":")
	if tags := l.Tags(); tags != "" {
		b.WriteString(" " + tags)
	}
	b.WriteString("\n" + l.Text)
	if l.Explanation != "" {
		b.WriteString("\n\n💡 " + l.Explanation)
	}
	return b.String()
}

// Submit stores l for review and sends the admin the decision buttons.
func (d *ReviewDesk) Submit(ctx context.Context, l Lead) (string, error) {
	id := ReviewID(l)
	payload, err := json.Marshal(l)
	if err != nil {
		return "", fmt.Errorf("encoding lead: %w", err)
	}
	if err := d.store.SaveReview(ctx, storage.Review{
		ID:        id,
		LeadJSON:  string(payload),
		Status:    storage.ReviewPending,
		CreatedAt: d.now(),
	}); err != nil {
		return "", fmt.Errorf("saving review: %w", err)
	}
	if d.adminID == 0 {
		return id, nil
	}

	row := []telegram.InlineKeyboardButton{
		{Text: "✅ Отправить", CallbackData: approvePrefix + id},
		{Text: "❌ Отклонить", CallbackData: rejectPrefix + id},
	}
	if SafeLink(l.Link) {
		row = append(row, telegram.InlineKeyboardButton{Text: "🔗 Сообщение", URL: l.Link})
	}
	msg, err := d.client.SendMessage(ctx, telegram.SendOptions{
		ChatID:   d.adminID,
		Text:     FormatReview(l),
		Keyboard: &telegram.InlineKeyboardMarkup{InlineKeyboard: [][]telegram.InlineKeyboardButton{row}},
	})
	if err != nil {
		return id, fmt.Errorf("sending review: %w", err)
	}
	if err := d.store.SetReviewMessage(ctx, id, msg.MessageID); err != nil {
		d.logger.Warn("saving review message id", "review", id, "error", err)
	}
	return id, nil
}

// Approve marks the review approved and routes the lead past the
// confidence gate. It returns the recipients.
func (d *ReviewDesk) Approve(ctx context.Context, id string) ([]int64, error) {
	rv, err := d.store.GetReview(ctx, id)
	if err != nil {
		return nil, err
	}
	var l Lead
	if err := json.Unmarshal([]byte(rv.LeadJSON), &l); err != nil {
		return nil, fmt.Errorf("decoding review %s: %w", id, err)
	}
	if err := d.store.DecideReview(ctx, id, storage.ReviewApproved); err != nil {
		return nil, err
	}

	l.Approved = true
	subs, err := subscriber.InRegions(ctx, d.subs, l.TargetRegions())
	if err != nil {
		return nil, fmt.Errorf("loading subscribers: %w", err)
	}
	sent, failed := d.router.Route(ctx, l, subs)
	d.logger.Info("review approved", "code", "REVIEW_SENT", "review", id, "users", len(sent), "failed", len(failed))
	d.removePrompt(ctx, rv)
	return sent, nil
}

func (d *ReviewDesk) Reject(ctx context.Context, id string) error {
	rv, err := d.store.GetReview(ctx, id)
	if err != nil {
		return err
	}
	if err := d.store.DecideReview(ctx, id, storage.ReviewRejected); err != nil {
		return err
	}
	d.logger.Info("review rejected", "review", id)
	// Rejected prompts stay in the admin chat without buttons.
	if rv.MessageID != 0 && d.adminID != 0 {
		if err := d.client.EditReplyMarkup(ctx, d.adminID, rv.MessageID, nil); err != nil {
			d.logger.Debug("clearing review buttons", "review", id, "error", err)
		}
	}
	return nil
}

func (d *ReviewDesk) removePrompt(ctx context.Context, rv storage.Review) {
	if rv.MessageID == 0 || d.adminID == 0 {
		return
	}
	if err := d.client.DeleteMessage(ctx, d.adminID, rv.MessageID); err != nil {
		d.logger.Debug("deleting review prompt", "review", rv.ID, "error", err)
	}
}

// IsReviewCallback reports whether data belongs to the review desk.
func IsReviewCallback(data string) bool {
	return strings.HasPrefix(data, approvePrefix) || strings.HasPrefix(data, rejectPrefix)
}

// HandleCallback processes an ap:/rj: button press from the admin chat.
func (d *ReviewDesk) HandleCallback(ctx context.Context, cq telegram.CallbackQuery) error {
	if cq.From.ID != d.adminID {
		return d.client.AnswerCallbackQuery(ctx, cq.ID, "Нет доступа")
	}

	var answer string
	switch {
	case strings.HasPrefix(cq.Data, approvePrefix):
		_, err := d.Approve(ctx, strings.TrimPrefix(cq.Data, approvePrefix))
		answer = d.answerFor(err, "✅ Лид одобрен и отправлен пользователям!")
	case strings.HasPrefix(cq.Data, rejectPrefix):
		err := d.Reject(ctx, strings.TrimPrefix(cq.Data, rejectPrefix))
		answer = d.answerFor(err, "❌ Лид отклонён")
	default:
		return nil
	}
	return d.client.AnswerCallbackQuery(ctx, cq.ID, answer)
}

func (d *ReviewDesk) answerFor(err error, ok string) string {
	switch {
	case err == nil:
		return ok
	case errors.Is(err, storage.ErrNotFound):
		return "Ошибка: лид не найден!"
	case errors.Is(err, storage.ErrAlreadyDecided):
		return "Лид уже обработан"
	}
	d.logger.Error("review decision failed", "error", err)
	return "Ошибка обработки"
}

package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kalambet/leadbot/internal/category"
	"github.com/kalambet/leadbot/internal/classify"
	"github.com/kalambet/leadbot/internal/heuristics"
	"github.com/kalambet/leadbot/internal/metrics"
	"github.com/kalambet/leadbot/internal/subscriber"
	"github.com/kalambet/leadbot/internal/telegram"
)

const (
	trialExpiredText = "⌛ Ваш пробный период закончился. Чтобы продолжить получать лиды, нажмите кнопку:"
	paidExpiredText  = "⌛ Ваша подписка закончилась. Чтобы продолжить получать лиды, нажмите кнопку:"
	subscribeData    = "menu:subscribe"
)

// Sender is the part of telegram.Client the router uses.
type Sender interface {
	MessageSender
	GetMe(ctx context.Context) (telegram.User, error)
}

// Exporter publishes delivered leads to an external sink.
type Exporter interface {
	Export(ctx context.Context, l Lead) error
}

type RouterOptions struct {
	// TargetBotID, when set, must match getMe before anything is sent.
	TargetBotID      int64
	SendDisabled     bool
	NotifySendErrors bool
	Thresholds       classify.Thresholds
	Notifier         Notifier
	Exporter         Exporter
	Metrics          *metrics.Counters
	Now              func() time.Time
	Logger           *slog.Logger
}

// Router matches a lead against subscriber preferences and sends it.
type Router struct {
	sender  Sender
	store   subscriber.Store
	catalog *category.Catalog
	opts    RouterOptions
	logger  *slog.Logger

	mu    sync.Mutex
	botID int64
}

func NewRouter(sender Sender, store subscriber.Store, catalog *category.Catalog, opts RouterOptions) *Router {
	if opts.Thresholds == (classify.Thresholds{}) {
		opts.Thresholds = classify.DefaultThresholds
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Router{sender: sender, store: store, catalog: catalog, opts: opts, logger: opts.Logger}
}

// identityOK compares getMe with the configured bot id. A failed getMe is
// not treated as a mismatch.
func (r *Router) identityOK(ctx context.Context) bool {
	if r.opts.TargetBotID == 0 {
		return true
	}
	r.mu.Lock()
	id := r.botID
	r.mu.Unlock()
	if id == 0 {
		me, err := r.sender.GetMe(ctx)
		if err != nil {
			r.logger.Warn("getMe failed, skipping identity check", "error", err)
			return true
		}
		id = me.ID
		r.mu.Lock()
		r.botID = id
		r.mu.Unlock()
	}
	if id != r.opts.TargetBotID {
		r.logger.Error("delivery skipped: wrong bot identity", "bot_id", id, "expected", r.opts.TargetBotID)
		r.notify(ctx, fmt.Sprintf("⚠️ Доставка остановлена: бот id=%d, ожидался id=%d", id, r.opts.TargetBotID))
		return false
	}
	return true
}

func (r *Router) notify(ctx context.Context, text string) {
	if r.opts.Notifier != nil {
		r.opts.Notifier.Notify(ctx, text)
	}
}

// Route sends l to every subscriber in subs that passes the gates and
// returns who received it and whose send failed.
func (r *Router) Route(ctx context.Context, l Lead, subs []subscriber.Preference) (sent, failed []int64) {
	if !r.identityOK(ctx) {
		return nil, nil
	}
	if r.opts.SendDisabled {
		r.logger.Info("delivery disabled, lead not sent", "chat", l.ChatID, "msg", l.MessageID)
		return nil, nil
	}

	snap := r.catalog.Snapshot()
	textStems := heuristics.StemSet(l.Text)
	targets := l.TargetRegions()
	text := FormatLead(l)
	kb := LeadKeyboard(l)
	now := r.opts.Now()

	for _, sub := range subs {
		if !r.windowOpen(ctx, sub, now) {
			continue
		}
		if len(targets) == 0 || !sub.InRegions(targets) {
			r.opts.Metrics.Inc("pref_region_skipped")
			continue
		}
		if l.Category == "" || !sub.HasCategory(l.Category) {
			r.opts.Metrics.Inc("pref_ai_category_skipped")
			continue
		}
		if l.Subcategory != "" && !sub.AllowsSubcategory(l.Category, l.Subcategory) {
			r.opts.Metrics.Inc("pref_ai_subcategory_skipped")
			continue
		}
		if !heuristics.Intersects(subscriberStems(snap, sub), textStems) {
			r.opts.Metrics.Inc("pref_category_skipped")
			continue
		}
		if !l.Approved && l.Confidence < r.opts.Thresholds.Deliver {
			r.opts.Metrics.Inc("below_threshold_skipped")
			continue
		}

		_, err := r.sender.SendMessage(ctx, telegram.SendOptions{
			ChatID:                sub.UserID,
			Text:                  text,
			ParseMode:             "HTML",
			Keyboard:              kb,
			DisableWebPagePreview: true,
		})
		if err != nil {
			failed = append(failed, sub.UserID)
			if telegram.IsBlocked(err) {
				r.logger.Info("subscriber blocked the bot", "user", sub.UserID)
			} else {
				r.opts.Metrics.Inc("send_errors")
				r.logger.Error("sending lead", "user", sub.UserID, "error", err)
			}
			continue
		}
		sent = append(sent, sub.UserID)
	}

	if len(failed) > 0 && r.opts.NotifySendErrors {
		r.notify(ctx, fmt.Sprintf("⚠️ Ошибка рассылки лида пользователям: %d не удалось отправить. UIDs: %v", len(failed), failed))
	}
	if len(sent) > 0 {
		r.opts.Metrics.Add("leads_sent", int64(len(sent)))
		if r.opts.Exporter != nil {
			if err := r.opts.Exporter.Export(ctx, l); err != nil {
				r.logger.Warn("exporting lead", "error", err)
			}
		}
	}
	return sent, failed
}

// windowOpen applies the subscription gate and sends a one-time notice when
// a trial or paid period has just run out.
func (r *Router) windowOpen(ctx context.Context, sub subscriber.Preference, now time.Time) bool {
	switch sub.Access(now) {
	case subscriber.AccessPaid, subscriber.AccessTrial:
		return true
	case subscriber.AccessPaidExpired:
		r.expiryNotice(ctx, sub, subscriber.NoticePaidExpired, paidExpiredText)
		r.opts.Metrics.Inc("sub_expired_skipped")
	case subscriber.AccessTrialExpired:
		r.expiryNotice(ctx, sub, subscriber.NoticeTrialExpired, trialExpiredText)
		r.opts.Metrics.Inc("trial_expired_skipped")
	default:
		r.opts.Metrics.Inc("trial_not_started_skipped")
	}
	return false
}

func (r *Router) expiryNotice(ctx context.Context, sub subscriber.Preference, n subscriber.Notice, text string) {
	if sub.Notified(n) {
		return
	}
	_, err := r.sender.SendMessage(ctx, telegram.SendOptions{
		ChatID: sub.UserID,
		Text:   text,
		Keyboard: &telegram.InlineKeyboardMarkup{InlineKeyboard: [][]telegram.InlineKeyboardButton{{
			{Text: "Подписаться", CallbackData: subscribeData},
		}}},
	})
	if err != nil {
		r.logger.Warn("sending expiry notice", "user", sub.UserID, "error", err)
		return
	}
	if err := r.store.SetNotified(ctx, sub.UserID, n); err != nil {
		r.logger.Error("saving expiry notice flag", "user", sub.UserID, "error", err)
	}
}

// subscriberStems are the whole-keyword stems of the subscriber's categories
// and chosen subcategories.
func subscriberStems(snap *category.Snapshot, sub subscriber.Preference) map[string]struct{} {
	var keywords []string
	for _, c := range sub.Categories {
		keywords = append(keywords, snap.Keywords(c)...)
	}
	for c, subs := range sub.Subcats {
		for _, sc := range subs {
			keywords = append(keywords, snap.SubKeywords(c, sc)...)
		}
	}
	return heuristics.KeywordStems(keywords)
}

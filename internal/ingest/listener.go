package ingest

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/leadbot/internal/metrics"
	"github.com/kalambet/leadbot/internal/retry"
	"github.com/kalambet/leadbot/internal/storage"
	"github.com/kalambet/leadbot/internal/supervisor"
	"github.com/kalambet/leadbot/internal/telegram"
)

const DefaultPollTimeout = 30

// rejected tokens are retried this many times before the listener stops
const maxAuthRetries = 3

// Bot is the part of telegram.Client the listener uses.
type Bot interface {
	GetUpdates(ctx context.Context, offset int64, timeout int) ([]telegram.Update, error)
	SendMessage(ctx context.Context, opts telegram.SendOptions) (telegram.Message, error)
	AnswerCallbackQuery(ctx context.Context, id, text string) error
}

// Enqueuer accepts events into the durable queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, ev storage.Event, priority int) (bool, error)
}

// Reconnector re-establishes the bot connection. supervisor.Connection
// satisfies it.
type Reconnector interface {
	Lost(err error)
	ConnectWithRetry(ctx context.Context) error
}

// CallbackHandler handles inline button presses.
type CallbackHandler interface {
	HandleCallback(ctx context.Context, cq telegram.CallbackQuery) error
}

type ListenerOptions struct {
	// Queue receives group and channel messages. A listener without a queue
	// only answers commands and callbacks.
	Queue     Enqueuer
	Callbacks CallbackHandler
	// IsCallback selects the callbacks Callbacks handles; others are
	// acknowledged without text.
	IsCallback  func(data string) bool
	PollTimeout int
	// Conn is told about rejected tokens and reconnects the bot. Without it
	// the listener counts auth failures itself.
	Conn Reconnector
	// Backoff paces retries after a failed getUpdates.
	Backoff retry.Policy
	Metrics *metrics.Counters
	Logger  *slog.Logger
}

// Listener long-polls one bot for updates.
type Listener struct {
	bot    Bot
	opts   ListenerOptions
	logger *slog.Logger
	offset int64
}

var defaultBackoff = retry.Policy{BaseDelay: time.Second, MaxDelay: 30 * time.Second, Jitter: 0.25, MaxExponent: 5}

func NewListener(bot Bot, opts ListenerOptions) *Listener {
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = DefaultPollTimeout
	}
	if opts.Backoff.BaseDelay <= 0 {
		opts.Backoff = defaultBackoff
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Listener{bot: bot, opts: opts, logger: opts.Logger}
}

// Run polls until ctx is cancelled or the bot's token is rejected for good.
// Transport errors back off and retry. Auth errors go through Conn, and a
// connection that fails permanently stops this listener without an error so
// the rest of the process keeps running.
func (l *Listener) Run(ctx context.Context) error {
	failures, authFailures := 0, 0
	for {
		if ctx.Err() != nil {
			return nil
		}
		updates, err := l.bot.GetUpdates(ctx, l.offset, l.opts.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if telegram.IsAuth(err) {
				authFailures++
				if !l.reconnect(ctx, err, authFailures) {
					return nil
				}
				continue
			}
			failures++
			wait := l.opts.Backoff.Delay(failures)
			if d, ok := telegram.FloodWait(err); ok {
				wait = d
			}
			l.logger.Warn("getUpdates failed", "error", err, "retry_in", wait)
			if !retry.Sleep(ctx, wait) {
				return nil
			}
			continue
		}
		failures, authFailures = 0, 0
		for _, u := range updates {
			if u.UpdateID >= l.offset {
				l.offset = u.UpdateID + 1
			}
			l.Handle(ctx, u)
		}
	}
}

// reconnect reports whether polling should resume after an auth error.
func (l *Listener) reconnect(ctx context.Context, err error, n int) bool {
	if n > maxAuthRetries {
		l.logger.Error("listener stopped: bot token rejected", "attempts", n, "error", err)
		return false
	}
	if l.opts.Conn == nil {
		wait := l.opts.Backoff.Delay(n)
		l.logger.Warn("bot token rejected, retrying", "attempt", n, "retry_in", wait, "error", err)
		return retry.Sleep(ctx, wait)
	}

	l.opts.Conn.Lost(err)
	cerr := l.opts.Conn.ConnectWithRetry(ctx)
	switch {
	case cerr == nil:
		return true
	case errors.Is(cerr, supervisor.ErrFatalAuth):
		l.logger.Error("listener stopped: connection failed", "error", cerr)
		return false
	case ctx.Err() != nil:
		return false
	}
	wait := l.opts.Backoff.Delay(n)
	l.logger.Warn("reconnect failed", "retry_in", wait, "error", cerr)
	return retry.Sleep(ctx, wait)
}

// Handle dispatches one update.
func (l *Listener) Handle(ctx context.Context, u telegram.Update) {
	if u.CallbackQuery != nil {
		l.handleCallback(ctx, *u.CallbackQuery)
		return
	}
	msg := u.Message
	if msg == nil {
		msg = u.ChannelPost
	}
	if msg == nil {
		return
	}

	if msg.Chat.IsPrivate() {
		l.handleCommand(ctx, msg)
		return
	}
	if l.opts.Queue == nil || strings.TrimSpace(msg.Body()) == "" {
		return
	}
	if !msg.Chat.IsGroup() && !msg.Chat.IsChannel() {
		return
	}

	ev := EventFromMessage(msg)
	ok, err := l.opts.Queue.Enqueue(ctx, ev, 0)
	switch {
	case err != nil:
		l.opts.Metrics.Inc("enqueue_errors")
		l.logger.Error("enqueue failed", "chat", ev.ChatID, "msg", ev.ID, "error", err)
	case !ok:
		l.opts.Metrics.Inc("enqueue_rejected")
	default:
		l.opts.Metrics.Inc("enqueued")
	}
}

func (l *Listener) handleCommand(ctx context.Context, msg *telegram.Message) {
	cmd := strings.TrimSpace(msg.Text)
	if i := strings.IndexByte(cmd, '@'); i > 0 {
		cmd = cmd[:i]
	}
	if cmd != "/ping" {
		return
	}
	if _, err := l.bot.SendMessage(ctx, telegram.SendOptions{ChatID: msg.Chat.ID, Text: "pong"}); err != nil {
		l.logger.Warn("answering /ping", "chat", msg.Chat.ID, "error", err)
	}
}

func (l *Listener) handleCallback(ctx context.Context, cq telegram.CallbackQuery) {
	if l.opts.Callbacks != nil && (l.opts.IsCallback == nil || l.opts.IsCallback(cq.Data)) {
		if err := l.opts.Callbacks.HandleCallback(ctx, cq); err != nil && !errors.Is(err, context.Canceled) {
			l.logger.Error("handling callback", "data", cq.Data, "error", err)
		}
		return
	}
	// Buttons owned by the menu surface are acknowledged so the client stops spinning.
	if err := l.bot.AnswerCallbackQuery(ctx, cq.ID, ""); err != nil {
		l.logger.Debug("answering callback", "error", err)
	}
}

package delivery

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/kalambet/leadbot/internal/telegram"
)

// MessageSender is the sendMessage surface of telegram.Client.
type MessageSender interface {
	SendMessage(ctx context.Context, opts telegram.SendOptions) (telegram.Message, error)
}

// Notifier delivers operator notices.
type Notifier interface {
	Notify(ctx context.Context, text string)
}

// AdminNotifier sends notices to the admin chat. Notices beyond the rate
// limit are logged and dropped.
type AdminNotifier struct {
	sender  MessageSender
	adminID int64
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewAdminNotifier allows one notice per interval with the given burst. A
// zero adminID disables sending.
func NewAdminNotifier(sender MessageSender, adminID int64, interval time.Duration, burst int, logger *slog.Logger) *AdminNotifier {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if burst <= 0 {
		burst = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminNotifier{
		sender:  sender,
		adminID: adminID,
		limiter: rate.NewLimiter(rate.Every(interval), burst),
		logger:  logger,
	}
}

func (n *AdminNotifier) Notify(ctx context.Context, text string) {
	if n == nil || n.adminID == 0 {
		return
	}
	if !n.limiter.Allow() {
		n.logger.Warn("operator notice suppressed", "text", text)
		return
	}
	if _, err := n.sender.SendMessage(ctx, telegram.SendOptions{ChatID: n.adminID, Text: text}); err != nil {
		n.logger.Error("sending operator notice", "error", err)
	}
}

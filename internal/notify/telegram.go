package notify

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/quotaledger/quotaledger/internal/config"
	"github.com/quotaledger/quotaledger/internal/logging"
	"github.com/quotaledger/quotaledger/internal/metrics"
	"github.com/quotaledger/quotaledger/internal/models"
)

// Sender delivers a formatted message to a chat.
type Sender interface {
	SendMessage(chatID int64, text string) error
}

// BotSender adapts tgbotapi.BotAPI to Sender.
type BotSender struct {
	bot *tgbotapi.BotAPI
}

// NewBotSender authenticates against the Bot API with token.
func NewBotSender(token string) (*BotSender, error) {
	bot, err := tgbotapi.NewBotAPI(strings.TrimSpace(token))
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &BotSender{bot: bot}, nil
}

func (s *BotSender) SendMessage(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	_, err := s.bot.Send(msg)
	return err
}

// TelegramNotifier posts over-limit entries to a Telegram chat. Each entry
// is reported at most once per dedup window.
type TelegramNotifier struct {
	sender   Sender
	chatID   int64
	dedup    *Dedup
	throttle *Throttler
	logger   *logging.Logger
	metrics  *metrics.Metrics
}

// NewTelegramNotifier creates a notifier sending through sender.
func NewTelegramNotifier(sender Sender, cfg config.TelegramConfig, logger *logging.Logger, m *metrics.Metrics) *TelegramNotifier {
	if logger == nil {
		logger = logging.Discard()
	}
	return &TelegramNotifier{
		sender:   sender,
		chatID:   cfg.ChatID,
		dedup:    NewDedup(cfg.Dedup),
		throttle: NewThrottler(cfg.RateLimit.MessagesPerMinute),
		logger:   logger,
		metrics:  m,
	}
}

// NotifyOver sends one message listing every record not reported within
// the dedup window.
func (n *TelegramNotifier) NotifyOver(ctx context.Context, records []models.OverageRecord) error {
	n.dedup.Cleanup()

	fresh := make([]models.OverageRecord, 0, len(records))
	for _, r := range records {
		if n.dedup.IsDuplicate(dedupKey(r)) {
			n.metrics.RecordNotification("deduplicated")
			continue
		}
		fresh = append(fresh, r)
	}
	if len(fresh) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if !n.throttle.Allow() {
		n.metrics.RecordNotification("throttled")
		n.logger.WarnWithContext(ctx, "overage notification throttled", "entries", len(fresh))
		return nil
	}

	if err := n.sender.SendMessage(n.chatID, FormatOverage(fresh, time.Now())); err != nil {
		n.metrics.RecordNotification("failed")
		n.logger.ErrorWithContext(ctx, "overage notification failed", "entries", len(fresh), "error", err)
		return fmt.Errorf("send overage notification: %w", err)
	}
	for _, r := range fresh {
		n.dedup.Record(dedupKey(r))
	}
	n.metrics.RecordNotification("sent")
	n.logger.InfoWithContext(ctx, "overage notification sent", "entries", len(fresh))
	return nil
}

func dedupKey(r models.OverageRecord) string {
	return string(r.EntryKind) + ":" + r.EntryID
}

// FormatOverage renders records as an HTML Telegram message.
func FormatOverage(records []models.OverageRecord, at time.Time) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "🔴 <b>%d entr%s over limit</b>\n\n", len(records), plural(len(records)))
	for _, r := range records {
		fmt.Fprintf(&sb, "• <code>%s</code> %s", html.EscapeString(r.EntryID), describe(r))
		fmt.Fprintf(&sb, ": %d / %d (+%d)\n", r.Consumed, r.Limit, r.Overage)
	}
	fmt.Fprintf(&sb, "\n🕒 %s", at.UTC().Format("2006-01-02 15:04:05 UTC"))
	return sb.String()
}

func describe(r models.OverageRecord) string {
	switch {
	case r.EntryKind == models.KindBudget:
		return "budget of " + html.EscapeString(r.OwnerRef)
	case r.OwnerRef != "":
		return "quota " + html.EscapeString(r.OwnerRef) + "@" + html.EscapeString(r.GroupRef)
	case r.GroupRef != "":
		return "quota group " + html.EscapeString(r.GroupRef)
	default:
		return "global quota"
	}
}

func plural(n int) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}

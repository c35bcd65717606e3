// Package notify tells operators about entries whose recorded usage went
// above their limit.
package notify

import (
	"context"

	"github.com/quotaledger/quotaledger/internal/config"
	"github.com/quotaledger/quotaledger/internal/logging"
	"github.com/quotaledger/quotaledger/internal/metrics"
	"github.com/quotaledger/quotaledger/internal/models"
)

// Notifier receives entries that became over-limit during a reconciliation cycle.
type Notifier interface {
	NotifyOver(ctx context.Context, records []models.OverageRecord) error
}

// NopNotifier drops every notification.
type NopNotifier struct{}

func (NopNotifier) NotifyOver(context.Context, []models.OverageRecord) error { return nil }

// New builds the notifier described by cfg. A disabled or incomplete
// telegram section yields a NopNotifier.
func New(cfg config.TelegramConfig, logger *logging.Logger, m *metrics.Metrics) (Notifier, error) {
	if !cfg.Enabled || cfg.BotToken == "" || cfg.ChatID == 0 {
		return NopNotifier{}, nil
	}
	sender, err := NewBotSender(cfg.BotToken)
	if err != nil {
		return nil, err
	}
	return NewTelegramNotifier(sender, cfg, logger, m), nil
}

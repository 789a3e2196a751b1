// Package notify announces auction lifecycle events to a Telegram channel.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	telebot "gopkg.in/telebot.v3"

	"github.com/w3bx/dutchswap/internal/auction"
	apperrors "github.com/w3bx/dutchswap/internal/errors"
	"github.com/w3bx/dutchswap/pkg/config"
)

// TelegramNotifier posts lifecycle messages to a configured chat. Failures
// are logged and counted against a circuit breaker; an open breaker silently
// drops announcements so the settlement path never waits on Telegram.
type TelegramNotifier struct {
	bot     *telebot.Bot
	chat    *telebot.Chat
	breaker *apperrors.CircuitBreaker
	log     *slog.Logger
}

// New builds a TelegramNotifier, or returns nil when notifications are
// disabled. A nil notifier is valid and ignored by the market.
func New(cfg config.NotifyConfig, log *slog.Logger) (*TelegramNotifier, error) {
	if !cfg.Enabled || cfg.TelegramToken == "" {
		return nil, nil
	}
	if log == nil {
		log = slog.Default()
	}

	tb, err := telebot.NewBot(telebot.Settings{
		Token:  cfg.TelegramToken,
		Poller: &telebot.LongPoller{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, fmt.Errorf("initialize telebot: %w", err)
	}

	return &TelegramNotifier{
		bot:     tb,
		chat:    &telebot.Chat{ID: cfg.ChatID},
		breaker: apperrors.NewCircuitBreaker(),
		log:     log,
	}, nil
}

// AuctionOpened announces a newly started auction.
func (n *TelegramNotifier) AuctionOpened(ctx context.Context, id string, snap auction.Snapshot) {
	text := fmt.Sprintf(
		"New auction %s\nLot: %s %s\nStart price: %s\nDuration: %s",
		id, snap.Amount, snap.Asset, snap.StartPrice, snap.Duration,
	)
	n.send(ctx, id, text)
}

// AuctionSettled announces a completed purchase.
func (n *TelegramNotifier) AuctionSettled(ctx context.Context, id string, snap auction.Snapshot) {
	text := fmt.Sprintf(
		"Auction %s settled\nLot: %s %s\nBuyer: %s\nPrice: %s",
		id, snap.Amount, snap.Asset, snap.Buyer, snap.SettledPrice,
	)
	n.send(ctx, id, text)
}

// HealthCheck reports whether announcements are currently deliverable.
func (n *TelegramNotifier) HealthCheck(_ context.Context) error {
	if n == nil || n.bot == nil || n.bot.Me == nil {
		return errors.New("telegram notifier is not initialized")
	}
	if n.breaker.State() == apperrors.BreakerOpen {
		return errors.New("telegram notifier circuit breaker is open")
	}
	return nil
}

func (n *TelegramNotifier) send(ctx context.Context, id, text string) {
	if n == nil || n.bot == nil {
		return
	}

	err := n.breaker.Call(func() error {
		_, sendErr := n.bot.Send(n.chat, text)
		return sendErr
	})
	if err != nil {
		n.log.WarnContext(ctx, "auction announcement dropped",
			slog.String("auction_id", id), slog.Any("error", err))
	}
}

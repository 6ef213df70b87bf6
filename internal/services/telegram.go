package services

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/kouzoh/oncall-support-bot/internal/config"
	"github.com/sirupsen/logrus"
)

// telegramAPI is the part of *tgbotapi.BotAPI used for sending
type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramService sends messages through the Telegram Bot API
type TelegramService struct {
	api telegramAPI
	bot *tgbotapi.BotAPI
}

// NewTelegramService creates a new Telegram service. Without a token the
// service is disabled and every delivery fails.
//
// Sends go through a client whose requests time out after the delivery
// timeout, so a send that gave up is never still in flight. Long polling
// uses a separate client without that limit.
func NewTelegramService(cfg *config.Config) (*TelegramService, error) {
	if cfg.TelegramBotToken == "" {
		return &TelegramService{}, nil
	}

	bot, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	logrus.WithField("username", bot.Self.UserName).Info("Telegram bot authorized")

	sender, err := tgbotapi.NewBotAPIWithClient(cfg.TelegramBotToken, tgbotapi.APIEndpoint,
		&http.Client{Timeout: cfg.DeliveryTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram sender: %w", err)
	}

	return &TelegramService{api: sender, bot: bot}, nil
}

// Bot returns the polling bot client, nil when disabled
func (s *TelegramService) Bot() *tgbotapi.BotAPI {
	return s.bot
}

// Deliver sends text to a numeric chat id
func (s *TelegramService) Deliver(ctx context.Context, dest Destination, text string) error {
	if s.api == nil {
		return fmt.Errorf("missing Telegram client configuration")
	}

	chatID, err := strconv.ParseInt(dest.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid telegram chat id %q: %w", dest.ChatID, err)
	}

	// Send takes no context. Its duration is bounded by the HTTP client
	// timeout instead, and a cancelled ctx only stops sends not yet started.
	// A request that times out after Telegram accepted it can still be
	// delivered, so a fallback destination may then see the text twice.
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	if _, err := s.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	return nil
}

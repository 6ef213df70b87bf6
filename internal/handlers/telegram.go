package handlers

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/kouzoh/oncall-support-bot/internal/config"
	"github.com/kouzoh/oncall-support-bot/internal/services"
	"github.com/kouzoh/oncall-support-bot/internal/storage"
	"github.com/sirupsen/logrus"
)

type updatesSource interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

type supportAPI interface {
	CreateOrAppendMessage(ctx context.Context, msg services.InboundMessage) (*services.MessageResult, error)
	OnCallOverview(ctx context.Context) (*services.OnCallOverview, error)
}

// TelegramPoller feeds Telegram updates into the support service.
// Messages from different senders are handled concurrently, messages from
// one sender strictly in arrival order.
type TelegramPoller struct {
	bot     updatesSource
	support supportAPI
	replies services.Dispatcher
	config  *config.Config
	wg      sync.WaitGroup

	mu sync.Mutex
	// a key is present while a worker is draining that sender's queue
	queues map[int64][]*tgbotapi.Message
}

// NewTelegramPoller creates a new Telegram poller instance
func NewTelegramPoller(bot updatesSource, support supportAPI, replies services.Dispatcher, cfg *config.Config) *TelegramPoller {
	return &TelegramPoller{
		bot:     bot,
		support: support,
		replies: replies,
		config:  cfg,
		queues:  make(map[int64][]*tgbotapi.Message),
	}
}

// Run long-polls for updates until ctx is cancelled
func (p *TelegramPoller) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := p.bot.GetUpdatesChan(u)
	logrus.Info("Telegram poller started")

	defer p.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			p.bot.StopReceivingUpdates()
			logrus.Info("Telegram poller stopped")
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil {
				continue
			}

			p.enqueue(ctx, update.Message)
		}
	}
}

func (p *TelegramPoller) enqueue(ctx context.Context, message *tgbotapi.Message) {
	key := senderKey(message)

	p.mu.Lock()
	pending, running := p.queues[key]
	p.queues[key] = append(pending, message)
	p.mu.Unlock()

	if running {
		return
	}
	p.wg.Add(1)
	go p.drain(ctx, key)
}

func (p *TelegramPoller) drain(ctx context.Context, key int64) {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		queue := p.queues[key]
		if len(queue) == 0 {
			delete(p.queues, key)
			p.mu.Unlock()
			return
		}
		message := queue[0]
		p.queues[key] = queue[1:]
		p.mu.Unlock()

		p.handleMessage(ctx, message)
	}
}

func senderKey(message *tgbotapi.Message) int64 {
	if message.From != nil {
		return message.From.ID
	}
	if message.Chat != nil {
		return message.Chat.ID
	}
	return 0
}

func (p *TelegramPoller) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	if message.IsCommand() {
		p.handleCommand(ctx, message)
		return
	}

	msg, ok := telegramMessageToInbound(message, p.config.SupportTrigger)
	if !ok {
		return
	}

	if msg.Explicit && msg.Text == "" {
		p.reply(ctx, message.Chat.ID, "❌ Please include your support request after "+p.config.SupportTrigger+"\n\n"+
			"📝 Example:\n"+p.config.SupportTrigger+" I need help with my account")
		return
	}

	result, err := p.support.CreateOrAppendMessage(ctx, msg)
	if err != nil {
		if !errors.Is(err, services.ErrEmptyMessage) {
			logrus.WithError(err).WithFields(logrus.Fields{
				"user_id": msg.RequesterID,
				"chat_id": msg.ChannelRef,
			}).Error("Failed to process Telegram message")
		}
		return
	}

	if result.Mode == services.ModeIgnored && msg.Direct {
		p.reply(ctx, message.Chat.ID, "👋 Hello! It looks like you're reaching out for support.\n\n"+
			"To open a new support case, start your message with "+p.config.SupportTrigger+".\n\n"+
			"Example: "+p.config.SupportTrigger+" I need help with my account")
	}
}

func (p *TelegramPoller) handleCommand(ctx context.Context, message *tgbotapi.Message) {
	switch message.Command() {
	case "start", "help":
		p.reply(ctx, message.Chat.ID, "🤖 On-call support bot\n\n"+
			"Start a message with "+p.config.SupportTrigger+" to open a support case.\n"+
			"Reply with 👍 or 👎 to rate an automated answer.\n\n"+
			"/status - Show who is on call")
	case "status":
		overview, err := p.support.OnCallOverview(ctx)
		if err != nil {
			logrus.WithError(err).Error("Failed to load on-call overview")
			p.reply(ctx, message.Chat.ID, "❌ Error retrieving status information")
			return
		}
		p.reply(ctx, message.Chat.ID, FormatOverview(overview))
	}
}

func (p *TelegramPoller) reply(ctx context.Context, chatID int64, text string) {
	dest := services.Destination{
		Platform: storage.PlatformTelegram,
		ChatID:   strconv.FormatInt(chatID, 10),
		Label:    "reply",
	}
	if err := p.replies.Deliver(ctx, dest, text); err != nil {
		logrus.WithError(err).WithField("chat_id", chatID).Warn("Failed to send Telegram reply")
	}
}

// telegramMessageToInbound converts a text message. Messages without text
// or sender are skipped.
func telegramMessageToInbound(message *tgbotapi.Message, trigger string) (services.InboundMessage, bool) {
	if message == nil || message.From == nil || message.Chat == nil || strings.TrimSpace(message.Text) == "" {
		return services.InboundMessage{}, false
	}
	if message.From.IsBot {
		return services.InboundMessage{}, false
	}

	name := message.From.UserName
	if name == "" {
		name = strings.TrimSpace(message.From.FirstName + " " + message.From.LastName)
	}

	text, explicit := stripTrigger(message.Text, trigger)
	return services.InboundMessage{
		RequesterID:   strconv.FormatInt(message.From.ID, 10),
		RequesterName: name,
		Platform:      storage.PlatformTelegram,
		ChannelRef:    strconv.FormatInt(message.Chat.ID, 10),
		Text:          text,
		Explicit:      explicit,
		Direct:        message.Chat.IsPrivate(),
	}, true
}

package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/kodexArg/telegram-voice-to-text/internal/metrics"
	"github.com/kodexArg/telegram-voice-to-text/internal/pipeline"
)

// Dispatcher hands audio events to the pipeline without blocking.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev pipeline.InboundAudioEvent)
}

// BotConfig holds polling settings
type BotConfig struct {
	PollTimeout int // seconds
	RetryDelay  time.Duration
}

// Bot long-polls Telegram for updates, answers commands and forwards
// voice and audio messages to the pipeline.
type Bot struct {
	api        BotAPI
	config     BotConfig
	dispatcher Dispatcher
	logger     *slog.Logger
	metrics    *metrics.Metrics
	offset     int
}

// NewBot creates a new bot
func NewBot(api BotAPI, config BotConfig, dispatcher Dispatcher, logger *slog.Logger, m *metrics.Metrics) *Bot {
	if config.RetryDelay <= 0 {
		config.RetryDelay = 3 * time.Second
	}
	return &Bot{
		api:        api,
		config:     config,
		dispatcher: dispatcher,
		logger:     logger.With(slog.String("component", "telegram")),
		metrics:    m,
	}
}

// Run polls until ctx is canceled. Poll errors are logged and retried.
// A long poll in flight at cancellation is abandoned, and its updates are
// redelivered on the next start since their offset was never confirmed.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info("Polling for updates", slog.Int("poll_timeout", b.config.PollTimeout))

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("Stopped polling")
			return nil
		default:
		}

		if err := b.poll(ctx); err != nil {
			if ctx.Err() != nil {
				b.logger.Info("Stopped polling")
				return nil
			}
			b.logger.Warn("Failed to get updates, retrying",
				slog.Duration("retry_in", b.config.RetryDelay),
				slog.String("error", err.Error()))

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(b.config.RetryDelay):
			}
		}
	}
}

// poll fetches one batch of updates and handles them in order.
func (b *Bot) poll(ctx context.Context) error {
	cfg := tgbotapi.NewUpdate(b.offset)
	cfg.Timeout = b.config.PollTimeout
	cfg.AllowedUpdates = []string{"message"}

	updates, err := callContext(ctx, func() ([]tgbotapi.Update, error) {
		return b.api.GetUpdates(cfg)
	})
	if err != nil {
		return fmt.Errorf("getUpdates: %w", err)
	}

	for _, update := range updates {
		if update.UpdateID >= b.offset {
			b.offset = update.UpdateID + 1
		}
		b.HandleUpdate(ctx, update)
	}
	return nil
}

// HandleUpdate routes a single update.
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil {
		return
	}

	if msg.IsCommand() {
		b.handleCommand(msg)
		return
	}

	ev, _ := EventFromUpdate(update)
	switch ev.Kind {
	case pipeline.KindVoice, pipeline.KindAudio:
		b.logger.Info("Audio message received",
			slog.Int64("conversation_id", ev.ConversationID),
			slog.Int("message_id", ev.MessageID),
			slog.String("kind", string(ev.Kind)),
			slog.Duration("duration", ev.Duration))
		b.dispatcher.Dispatch(ctx, ev)
	default:
		b.metrics.RecordEvent(string(ev.Kind))
		b.logger.Debug("Ignoring message",
			slog.Int64("conversation_id", ev.ConversationID),
			slog.String("kind", string(ev.Kind)))
	}
}

func (b *Bot) handleCommand(msg *tgbotapi.Message) {
	if msg.Chat == nil {
		return
	}
	var reply tgbotapi.MessageConfig

	switch msg.Command() {
	case "start":
		reply = tgbotapi.NewMessage(msg.Chat.ID, fmt.Sprintf("Hi %s!", mentionHTML(msg.From)))
		reply.ParseMode = tgbotapi.ModeHTML
		reply.ReplyMarkup = tgbotapi.ForceReply{ForceReply: true, Selective: true}
	case "help":
		reply = tgbotapi.NewMessage(msg.Chat.ID, "Help!")
		reply.ReplyToMessageID = msg.MessageID
	default:
		return
	}

	b.metrics.RecordEvent("command")
	if _, err := b.api.Send(reply); err != nil {
		b.logger.Warn("Failed to answer command",
			slog.String("command", msg.Command()),
			slog.Int64("conversation_id", msg.Chat.ID),
			slog.String("error", err.Error()))
	}
}

func mentionHTML(u *tgbotapi.User) string {
	if u == nil {
		return "there"
	}
	name := tgbotapi.EscapeText(tgbotapi.ModeHTML, fullName(u))
	return fmt.Sprintf(`<a href="tg://user?id=%d">%s</a>`, u.ID, name)
}

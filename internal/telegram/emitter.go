package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/kodexArg/telegram-voice-to-text/internal/metrics"
	"github.com/kodexArg/telegram-voice-to-text/internal/pipeline"
)

// MaxMessageLength is the Telegram limit for a text message.
const MaxMessageLength = 4096

// Emitter sends transcripts as replies to the voice message.
type Emitter struct {
	api     BotAPI
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewEmitter creates a new emitter
func NewEmitter(api BotAPI, logger *slog.Logger, m *metrics.Metrics) *Emitter {
	return &Emitter{
		api:     api,
		logger:  logger.With(slog.String("component", "emitter")),
		metrics: m,
	}
}

// Emit sends result.Text, split into several messages when it exceeds
// the Telegram limit. The first part replies to the original message.
// Failures are wrapped in pipeline.ErrDelivery and not retried.
func (e *Emitter) Emit(ctx context.Context, result pipeline.TranscriptResult) error {
	parts := SplitText(result.Text, MaxMessageLength)
	for i, part := range parts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", pipeline.ErrDelivery, err)
		}

		msg := tgbotapi.NewMessage(result.ConversationID, part)
		if i == 0 {
			msg.ReplyToMessageID = result.ReplyToMessageID
			msg.AllowSendingWithoutReply = true
		}

		if _, err := e.api.Send(msg); err != nil {
			e.metrics.RecordDeliveryFailure()
			return fmt.Errorf("%w: sendMessage to chat %d (part %d/%d): %w",
				pipeline.ErrDelivery, result.ConversationID, i+1, len(parts), err)
		}
		e.metrics.RecordMessageSent()
	}

	e.logger.Debug("Transcript sent",
		slog.Int64("conversation_id", result.ConversationID),
		slog.Int("reply_to", result.ReplyToMessageID),
		slog.Int("parts", len(parts)))
	return nil
}

// SplitText breaks text into chunks of at most limit runes, preferring
// to cut at whitespace.
func SplitText(text string, limit int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	var parts []string
	runes := []rune(text)
	for len(runes) > limit {
		cut := limit
		for i := limit; i > limit/2; i-- {
			if runes[i] == ' ' || runes[i] == '\n' {
				cut = i
				break
			}
		}
		parts = append(parts, strings.TrimSpace(string(runes[:cut])))
		runes = []rune(strings.TrimLeft(string(runes[cut:]), " \n"))
	}
	if len(runes) > 0 {
		parts = append(parts, string(runes))
	}
	return parts
}

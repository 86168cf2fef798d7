package telegram

import (
	"context"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/kodexArg/telegram-voice-to-text/internal/download"
	"github.com/kodexArg/telegram-voice-to-text/internal/pipeline"
)

// BotAPI is the subset of the Telegram client used by the bot.
type BotAPI interface {
	GetUpdates(config tgbotapi.UpdateConfig) ([]tgbotapi.Update, error)
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetFileDirectURL(fileID string) (string, error)
}

// callContext runs a Bot API call that takes no context and returns early
// with ctx.Err() when ctx ends first. The abandoned call finishes in the
// background, bounded by the HTTP client timeout.
func callContext[T any](ctx context.Context, call func() (T, error)) (T, error) {
	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		v, err := call()
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		return r.value, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// EventFromUpdate converts an update to a pipeline event.
// It returns false for updates that carry no message.
func EventFromUpdate(update tgbotapi.Update) (pipeline.InboundAudioEvent, bool) {
	msg := update.Message
	if msg == nil {
		return pipeline.InboundAudioEvent{}, false
	}

	ev := EventFromMessage(msg)
	ev.UpdateID = update.UpdateID
	return ev, true
}

// EventFromMessage classifies msg and extracts its audio attachment.
func EventFromMessage(msg *tgbotapi.Message) pipeline.InboundAudioEvent {
	ev := pipeline.InboundAudioEvent{
		MessageID:  msg.MessageID,
		Kind:       pipeline.KindOther,
		ReceivedAt: time.Now(),
	}
	if msg.Chat != nil {
		ev.ConversationID = msg.Chat.ID
	}
	if msg.From != nil {
		ev.SenderID = msg.From.ID
		ev.SenderName = fullName(msg.From)
	}

	switch {
	case msg.Voice != nil:
		ev.Kind = pipeline.KindVoice
		ev.File = &download.FileRef{
			FileID:   msg.Voice.FileID,
			UniqueID: msg.Voice.FileUniqueID,
			Size:     int64(msg.Voice.FileSize),
			MimeType: msg.Voice.MimeType,
		}
		ev.Duration = time.Duration(msg.Voice.Duration) * time.Second
	case msg.Audio != nil:
		ev.Kind = pipeline.KindAudio
		ev.File = &download.FileRef{
			FileID:   msg.Audio.FileID,
			UniqueID: msg.Audio.FileUniqueID,
			Size:     int64(msg.Audio.FileSize),
			MimeType: msg.Audio.MimeType,
		}
		ev.Duration = time.Duration(msg.Audio.Duration) * time.Second
	case msg.Text != "":
		ev.Kind = pipeline.KindText
	}

	return ev
}

func fullName(u *tgbotapi.User) string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

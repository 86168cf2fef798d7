package pipeline

import (
	"errors"
	"time"

	"github.com/kodexArg/telegram-voice-to-text/internal/download"
)

// ErrNoAudioPresent is returned by Locate for messages without a voice or
// audio attachment.
var ErrNoAudioPresent = errors.New("no audio present")

// ErrDelivery wraps a transport rejection of a transcript reply.
var ErrDelivery = errors.New("delivery error")

// MessageKind classifies an inbound chat message.
type MessageKind string

const (
	KindVoice MessageKind = "voice"
	KindAudio MessageKind = "audio"
	KindText  MessageKind = "text"
	KindOther MessageKind = "other"
)

// InboundAudioEvent is a chat message handed to the pipeline by the transport.
type InboundAudioEvent struct {
	UpdateID       int               `json:"update_id"`
	SenderID       int64             `json:"sender_id"`
	SenderName     string            `json:"sender_name,omitempty"`
	ConversationID int64             `json:"conversation_id"`
	MessageID      int               `json:"message_id"`
	Kind           MessageKind       `json:"kind"`
	File           *download.FileRef `json:"file,omitempty"`
	Duration       time.Duration     `json:"duration,omitempty"`
	ReceivedAt     time.Time         `json:"received_at"`
}

// TranscriptResult is the reply sent back to the originating conversation.
type TranscriptResult struct {
	ConversationID   int64  `json:"conversation_id"`
	ReplyToMessageID int    `json:"reply_to_message_id"`
	Text             string `json:"text"`
	Language         string `json:"language,omitempty"`
}

// Locate returns the file reference of a voice or audio message.
func Locate(ev InboundAudioEvent) (download.FileRef, error) {
	switch ev.Kind {
	case KindVoice, KindAudio:
		if ev.File == nil || ev.File.FileID == "" {
			return download.FileRef{}, ErrNoAudioPresent
		}
		return *ev.File, nil
	default:
		return download.FileRef{}, ErrNoAudioPresent
	}
}

// Package telegram adapts the Telegram Bot API to the Sender interface the
// dispatcher consumes.
package telegram

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Sender sends plain-text messages to Telegram chats.
type Sender struct {
	api telegramAPI
	log *slog.Logger
}

// New creates a Sender authenticated with the given bot token. Every API
// call, including the send itself, is bounded by timeout.
func New(token string, timeout time.Duration, log *slog.Logger) (*Sender, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	api, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, &http.Client{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	return &Sender{api: api, log: log}, nil
}

// NewWithAPI creates a Sender over an existing API client (useful for testing).
func NewWithAPI(api telegramAPI, log *slog.Logger) *Sender {
	return &Sender{api: api, log: log}
}

// SendMessage sends a text message to the given chat.
func (s *Sender) SendMessage(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := s.api.Send(msg); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	s.log.Debug("message sent", "chat_id", chatID, "length", len(text))

	// Rate limit: ~20 messages/sec max for Telegram
	time.Sleep(50 * time.Millisecond)
	return nil
}

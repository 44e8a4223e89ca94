package telegram

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type mockAPI struct {
	sent []tgbotapi.Chattable
	err  error
}

func (m *mockAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if m.err != nil {
		return tgbotapi.Message{}, m.err
	}
	m.sent = append(m.sent, c)
	return tgbotapi.Message{}, nil
}

func TestSendMessage(t *testing.T) {
	api := &mockAPI{}
	s := NewWithAPI(api, slog.New(slog.NewTextHandler(io.Discard, nil)))

	if err := s.SendMessage(42, "train is late"); err != nil {
		t.Fatalf("send message: %v", err)
	}
	if len(api.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(api.sent))
	}
	msg, ok := api.sent[0].(tgbotapi.MessageConfig)
	if !ok {
		t.Fatalf("sent %T, want MessageConfig", api.sent[0])
	}
	if msg.ChatID != 42 || msg.Text != "train is late" {
		t.Errorf("unexpected message: chat=%d text=%q", msg.ChatID, msg.Text)
	}
	if !msg.DisableWebPagePreview {
		t.Error("web page preview not disabled")
	}
}

func TestSendMessageError(t *testing.T) {
	api := &mockAPI{err: errors.New("telegram down")}
	s := NewWithAPI(api, slog.New(slog.NewTextHandler(io.Discard, nil)))

	if err := s.SendMessage(42, "hello"); err == nil {
		t.Fatal("expected error from failed send")
	}
}

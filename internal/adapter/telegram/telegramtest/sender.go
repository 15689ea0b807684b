// Package telegramtest provides a recording telegram.Sender for tests.
package telegramtest

import (
	"context"
	"sync"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// Sent is one recorded message.
type Sent struct {
	ChatID int64
	Text   string
}

// Sender records every SendMessage call.
type Sender struct {
	mu   sync.Mutex
	sent []Sent
	Err  error
}

func (s *Sender) SendMessage(_ context.Context, p *bot.SendMessageParams) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, _ := p.ChatID.(int64)
	s.sent = append(s.sent, Sent{ChatID: chat, Text: p.Text})
	if s.Err != nil {
		return nil, s.Err
	}
	return &models.Message{Text: p.Text}, nil
}

// Messages returns a copy of the recorded messages.
func (s *Sender) Messages() []Sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Sent(nil), s.sent...)
}

// Message builds an update with a text message from user in chat.
func Message(chat, user int64, text string) *models.Update {
	return &models.Update{Message: &models.Message{
		Chat: models.Chat{ID: chat},
		From: &models.User{ID: user},
		Text: text,
	}}
}

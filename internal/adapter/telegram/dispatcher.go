// Package telegram drives the job pool from a Telegram chat.
package telegram

import (
	"context"
	"sync"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// Sender is the part of *bot.Bot used by handlers.
type Sender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

var _ Sender = (*bot.Bot)(nil)

type ctxUpdate struct {
	ctx context.Context
	upd *models.Update
}

// HandlerFunc processes a single update.
type HandlerFunc func(ctx context.Context, s Sender, upd *models.Update)

// Dispatcher routes updates to worker goroutines keeping chat order.
type Dispatcher struct {
	sender  Sender
	handler HandlerFunc
	chans   []chan ctxUpdate
	wg      sync.WaitGroup
	once    sync.Once
}

// NewDispatcher creates dispatcher with given worker count.
func NewDispatcher(s Sender, workers int, h HandlerFunc) *Dispatcher {
	workers = max(workers, 1)
	d := &Dispatcher{sender: s, handler: h, chans: make([]chan ctxUpdate, workers)}
	for i := range d.chans {
		d.chans[i] = make(chan ctxUpdate, 100)
		d.wg.Add(1)
		go d.worker(d.chans[i])
	}
	return d
}

// Dispatch sends update to appropriate worker based on chat ID. It gives up
// when ctx is canceled while the worker queue is full.
func (d *Dispatcher) Dispatch(ctx context.Context, upd *models.Update) {
	idx := 0
	if chatID := ChatID(upd); chatID != 0 {
		idx = int(abs(chatID) % int64(len(d.chans)))
	}
	select {
	case d.chans[idx] <- ctxUpdate{ctx: ctx, upd: upd}:
	case <-ctx.Done():
	}
}

// Close stops accepting updates and waits for queued ones to be handled.
// Dispatch must not be called after Close.
func (d *Dispatcher) Close() {
	d.once.Do(func() {
		for _, ch := range d.chans {
			close(ch)
		}
	})
	d.wg.Wait()
}

func (d *Dispatcher) worker(in <-chan ctxUpdate) {
	defer d.wg.Done()
	for item := range in {
		d.handler(item.ctx, d.sender, item.upd)
	}
}

// ChatID returns the chat of a message or callback update, 0 otherwise.
func ChatID(u *models.Update) int64 {
	if u.Message != nil {
		return u.Message.Chat.ID
	}
	if u.CallbackQuery != nil && u.CallbackQuery.Message.Message != nil {
		return u.CallbackQuery.Message.Message.Chat.ID
	}
	return 0
}

// UserID returns the sender of a message or callback update, 0 otherwise.
func UserID(u *models.Update) int64 {
	if u.Message != nil && u.Message.From != nil {
		return u.Message.From.ID
	}
	if u.CallbackQuery != nil {
		return u.CallbackQuery.From.ID
	}
	return 0
}

func abs(i int64) int64 {
	if i < 0 {
		return -i
	}
	return i
}

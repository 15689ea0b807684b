package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"jobpool/internal/adapter/telegram"
)

// RateLimiter restricts request frequency per user.
type RateLimiter struct {
	mu   sync.Mutex
	last map[int64]time.Time
	rate time.Duration
	now  func() time.Time
}

// NewRateLimiter creates limiter with given rate.
func NewRateLimiter(rate time.Duration) *RateLimiter {
	return &RateLimiter{last: make(map[int64]time.Time), rate: rate, now: time.Now}
}

// Allow returns false if user hits the limit.
func (r *RateLimiter) Allow(userID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	if t, ok := r.last[userID]; ok && now.Sub(t) < r.rate {
		return false
	}
	r.last[userID] = now
	// чистим устаревшие записи, чтобы карта не росла бесконечно
	if len(r.last) > 1024 {
		for id, t := range r.last {
			if now.Sub(t) >= r.rate {
				delete(r.last, id)
			}
		}
	}
	return true
}

// Middleware checks rate limit before calling next handler.
func (r *RateLimiter) Middleware(next telegram.HandlerFunc) telegram.HandlerFunc {
	return func(ctx context.Context, s telegram.Sender, upd *models.Update) {
		if uid := telegram.UserID(upd); uid != 0 && !r.Allow(uid) {
			if chat := telegram.ChatID(upd); chat != 0 {
				_, _ = s.SendMessage(ctx, &bot.SendMessageParams{
					ChatID: chat,
					Text:   "too many requests, slow down",
				})
			}
			return
		}
		next(ctx, s, upd)
	}
}

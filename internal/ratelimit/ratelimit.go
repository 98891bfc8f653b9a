package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type RateLimiter interface {
	Wait(ctx context.Context) error
	SetDelay(d time.Duration)
}

// Delay enforces a fixed minimum pause between consecutive requests.
// The first request passes immediately. A zero delay never blocks.
type Delay struct {
	mu      sync.Mutex
	delay   time.Duration
	limiter *rate.Limiter
}

func NewDelay(d time.Duration) *Delay {
	l := &Delay{}
	l.SetDelay(d)
	return l
}

func (l *Delay) Wait(ctx context.Context) error {
	l.mu.Lock()
	limiter := l.limiter
	l.mu.Unlock()

	return limiter.Wait(ctx)
}

func (l *Delay) SetDelay(d time.Duration) {
	if d < 0 {
		d = 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.delay = d
	if d == 0 {
		l.limiter = rate.NewLimiter(rate.Inf, 1)
		return
	}
	l.limiter = rate.NewLimiter(rate.Every(d), 1)
}

func (l *Delay) Current() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.delay
}

// Package rate provides a token-bucket limiter gating outbound API calls.
package rate

import (
	"context"
	"fmt"
	"time"
)

// Limiter gates outbound calls so we respect provider rate limits.
type Limiter interface {
	Wait(ctx context.Context) error
}

// TokenBucket implements a simple fixed-rate token bucket limiter.
type TokenBucket struct {
	ticker *time.Ticker
	tokens chan struct{}
	quit   chan struct{}
}

// NewTokenBucket returns a limiter that releases rps tokens per second.
func NewTokenBucket(rps int) *TokenBucket {
	if rps <= 0 {
		rps = 1
	}
	tb := &TokenBucket{
		ticker: time.NewTicker(time.Second / time.Duration(rps)),
		tokens: make(chan struct{}, rps),
		quit:   make(chan struct{}),
	}
	// allow the first call to proceed immediately
	tb.tokens <- struct{}{}
	go tb.run()
	return tb
}

func (t *TokenBucket) run() {
	for {
		select {
		case <-t.quit:
			return
		case <-t.ticker.C:
			select {
			case t.tokens <- struct{}{}:
			default:
			}
		}
	}
}

// Wait blocks until a token is available or the context is canceled.
func (t *TokenBucket) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("rate wait canceled: %w", ctx.Err())
	case <-t.tokens:
		return nil
	}
}

// Stop releases resources held by the limiter.
func (t *TokenBucket) Stop() {
	t.ticker.Stop()
	close(t.quit)
}

// Unlimited is a Limiter that never blocks, for tests.
type Unlimited struct{}

// Wait returns immediately.
func (Unlimited) Wait(context.Context) error { return nil }

var (
	_ Limiter = (*TokenBucket)(nil)
	_ Limiter = Unlimited{}
)

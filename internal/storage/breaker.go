package storage

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"
)

type BreakerSettings struct {
	Name             string
	ConsecutiveFails uint32
	OpenTimeout      time.Duration
}

// Breaker wraps a remote backend so an outage turns into fast ErrUnavailable
// results instead of every cart operation waiting for its own timeout.
type Breaker struct {
	next Backend
	cb   *gobreaker.CircuitBreaker[string]
}

func NewBreaker(next Backend, s BreakerSettings) *Breaker {
	if s.ConsecutiveFails == 0 {
		s.ConsecutiveFails = 5
	}
	if s.OpenTimeout <= 0 {
		s.OpenTimeout = 10 * time.Second
	}

	cb := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: 1,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.ConsecutiveFails
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound)
		},
	})
	return &Breaker{next: next, cb: cb}
}

func (b *Breaker) Get(ctx context.Context, key string) (string, error) {
	v, err := b.cb.Execute(func() (string, error) {
		return b.next.Get(ctx, key)
	})
	return v, mapBreakerErr(err)
}

func (b *Breaker) Set(ctx context.Context, key, value string) error {
	_, err := b.cb.Execute(func() (string, error) {
		return "", b.next.Set(ctx, key, value)
	})
	return mapBreakerErr(err)
}

func (b *Breaker) Delete(ctx context.Context, key string) error {
	_, err := b.cb.Execute(func() (string, error) {
		return "", b.next.Delete(ctx, key)
	})
	return mapBreakerErr(err)
}

// State exposes the breaker state for health reporting.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

func mapBreakerErr(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return errors.Join(ErrUnavailable, err)
	}
	return err
}

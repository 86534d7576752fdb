// Package storage provides the key/value backends the cart persistence store writes to.
// They stand in for browser local storage: flat string keys, string values, no expiry.
package storage

import (
	"context"
	"errors"
)

// Backend is a flat string key/value store.
type Backend interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

var (
	ErrNotFound    = errors.New("key not found")
	ErrUnavailable = errors.New("storage unavailable")
)

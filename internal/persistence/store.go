// Package persistence saves cart contents per user into a storage.Backend.
//
// Every key is namespaced by an owner key taken from the bearer token's claims,
// so switching accounts never shows one user's cart to another. None of the
// operations return errors. Failures are logged and degrade to an empty cart.
package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/fjod/go_cart/cart-session/internal/domain"
	"github.com/fjod/go_cart/cart-session/internal/storage"
	"github.com/fjod/go_cart/cart-session/internal/token"
)

const (
	permanentPrefix = "cart"
	temporaryPrefix = "temp-cart"
	timestampPrefix = "cart-timestamp"

	DefaultTemporaryWindow = 5 * time.Minute
)

// TemporaryCart is the result of LoadTemporary.
type TemporaryCart struct {
	Items   []domain.LineItem
	IsValid bool
}

type Store struct {
	backend         storage.Backend
	log             *zap.Logger
	now             func() time.Time
	temporaryWindow time.Duration
	sfg             singleflight.Group
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithTemporaryWindow(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.temporaryWindow = d
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.log = l }
}

func NewStore(backend storage.Backend, opts ...Option) *Store {
	s := &Store{
		backend:         backend,
		log:             zap.NewNop(),
		now:             time.Now,
		temporaryWindow: DefaultTemporaryWindow,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OwnerKey resolves the storage namespace for a token.
func OwnerKey(raw string) (string, bool) {
	if raw == "" {
		return "", false
	}
	return token.UserIdentifier(raw)
}

func (s *Store) Save(ctx context.Context, items []domain.LineItem, raw string) bool {
	return s.save(ctx, permanentPrefix, items, raw)
}

func (s *Store) Load(ctx context.Context, raw string) []domain.LineItem {
	owner, ok := s.owner(raw, "load")
	if !ok {
		return []domain.LineItem{}
	}
	rec, ok := s.read(ctx, key(permanentPrefix, owner))
	if !ok {
		return []domain.LineItem{}
	}
	return rec.Items
}

func (s *Store) SaveTemporary(ctx context.Context, items []domain.LineItem, raw string) bool {
	return s.save(ctx, temporaryPrefix, items, raw)
}

// LoadTemporary returns the grace-period cart. A record older than the temporary
// window is deleted and reported invalid instead of being returned.
func (s *Store) LoadTemporary(ctx context.Context, raw string) TemporaryCart {
	invalid := TemporaryCart{Items: []domain.LineItem{}}

	owner, ok := s.owner(raw, "load temporary")
	if !ok {
		return invalid
	}
	k := key(temporaryPrefix, owner)
	rec, ok := s.read(ctx, k)
	if !ok {
		return invalid
	}

	savedAt := time.UnixMilli(rec.SavedAtEpochMs)
	if rec.SavedAtEpochMs == 0 {
		// bare-array records carry no time of their own
		if ts, ok := s.LoginTime(ctx, raw); ok {
			savedAt = ts
		}
	}
	elapsed := s.now().Sub(savedAt)
	if elapsed > s.temporaryWindow {
		s.log.Info("temporary cart expired",
			zap.String("owner", owner),
			zap.Duration("elapsed", elapsed),
		)
		s.remove(ctx, k)
		return invalid
	}
	return TemporaryCart{Items: rec.Items, IsValid: true}
}

func (s *Store) Clear(ctx context.Context, raw string) {
	if owner, ok := s.owner(raw, "clear"); ok {
		s.remove(ctx, key(permanentPrefix, owner))
	}
}

func (s *Store) ClearTemporary(ctx context.Context, raw string) {
	if owner, ok := s.owner(raw, "clear temporary"); ok {
		s.remove(ctx, key(temporaryPrefix, owner))
	}
}

// ClearAll erases the permanent, temporary and timestamp keys of the token's owner.
func (s *Store) ClearAll(ctx context.Context, raw string) {
	owner, ok := s.owner(raw, "clear all")
	if !ok {
		return
	}
	for _, prefix := range []string{permanentPrefix, temporaryPrefix, timestampPrefix} {
		s.remove(ctx, key(prefix, owner))
	}
}

// ClearOwner erases the permanent and temporary carts of an owner key directly.
// Used when the order pipeline reports a completed checkout, where no token is at hand.
func (s *Store) ClearOwner(ctx context.Context, owner string) {
	if owner == "" {
		return
	}
	s.remove(ctx, key(permanentPrefix, owner))
	s.remove(ctx, key(temporaryPrefix, owner))
}

// MarkLogin records the login instant under the shared timestamp key.
func (s *Store) MarkLogin(ctx context.Context, raw string) bool {
	owner, ok := s.owner(raw, "mark login")
	if !ok {
		return false
	}
	v := strconv.FormatInt(s.now().UnixMilli(), 10)
	if err := s.backend.Set(ctx, key(timestampPrefix, owner), v); err != nil {
		s.log.Warn("failed to write login timestamp", zap.String("owner", owner), zap.Error(err))
		return false
	}
	return true
}

// LoginTime returns the instant stored by MarkLogin.
func (s *Store) LoginTime(ctx context.Context, raw string) (time.Time, bool) {
	owner, ok := s.owner(raw, "login time")
	if !ok {
		return time.Time{}, false
	}
	v, err := s.backend.Get(ctx, key(timestampPrefix, owner))
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.log.Warn("failed to read login timestamp", zap.String("owner", owner), zap.Error(err))
		}
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		s.log.Warn("corrupt login timestamp", zap.String("owner", owner), zap.Error(err))
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

func (s *Store) save(ctx context.Context, prefix string, items []domain.LineItem, raw string) bool {
	owner, ok := s.owner(raw, "save "+prefix)
	if !ok {
		return false
	}
	rec := domain.PersistedCartRecord{
		OwnerKey:       owner,
		Items:          domain.CloneItems(items),
		SavedAtEpochMs: s.now().UnixMilli(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		s.log.Error("marshal cart failed", zap.String("owner", owner), zap.Error(err))
		return false
	}
	k := key(prefix, owner)
	if err := s.backend.Set(ctx, k, string(data)); err != nil {
		s.log.Warn("failed to persist cart", zap.String("key", k), zap.Error(err))
		return false
	}
	return true
}

// read collapses concurrent reads of the same key into one backend call.
func (s *Store) read(ctx context.Context, k string) (domain.PersistedCartRecord, bool) {
	v, err, _ := s.sfg.Do(k, func() (interface{}, error) {
		return s.backend.Get(ctx, k)
	})
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.log.Warn("failed to read cart", zap.String("key", k), zap.Error(err))
		}
		return domain.PersistedCartRecord{}, false
	}

	rec, err := decodeRecord(v.(string))
	if err != nil {
		s.log.Warn("corrupt cart record", zap.String("key", k), zap.Error(err))
		return domain.PersistedCartRecord{}, false
	}
	return rec, true
}

func (s *Store) remove(ctx context.Context, k string) {
	if err := s.backend.Delete(ctx, k); err != nil {
		s.log.Warn("failed to delete cart key", zap.String("key", k), zap.Error(err))
	}
}

func (s *Store) owner(raw, op string) (string, bool) {
	if raw == "" {
		s.log.Debug("no token, skipping cart storage", zap.String("op", op))
		return "", false
	}
	owner, ok := OwnerKey(raw)
	if !ok {
		s.log.Warn("token has no usable identifier, skipping cart storage", zap.String("op", op))
		return "", false
	}
	return owner, true
}

// decodeRecord accepts the record envelope and, for older entries, a bare item array.
func decodeRecord(v string) (domain.PersistedCartRecord, error) {
	var rec domain.PersistedCartRecord
	if len(v) > 0 && v[0] == '[' {
		if err := json.Unmarshal([]byte(v), &rec.Items); err != nil {
			return rec, fmt.Errorf("unmarshal cart items failed: %w", err)
		}
	} else if err := json.Unmarshal([]byte(v), &rec); err != nil {
		return rec, fmt.Errorf("unmarshal cart failed: %w", err)
	}
	if rec.Items == nil {
		rec.Items = []domain.LineItem{}
	}
	return rec, nil
}

func key(prefix, owner string) string {
	return prefix + "-" + owner
}

package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adeilh/rakh-auth/cache"
	"github.com/adeilh/rakh-auth/cache/redis"
)

var ErrRevocationInvalidID = errors.New("auth: empty token id")

// RevocationStore is a deny-list of token ids. Entries only need to live
// until the token would have expired anyway.
type RevocationStore interface {
	Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

type RevocationStoreOptions struct {
	Prefix string
}

// CacheRevocationStore keeps the deny-list in any cache.Store, with each
// entry's TTL set to the token's remaining lifetime.
type CacheRevocationStore struct {
	store  cache.Store
	prefix string
	now    func() time.Time
}

func NewCacheRevocationStore(store cache.Store, opts RevocationStoreOptions) *CacheRevocationStore {
	prefix := strings.TrimSpace(opts.Prefix)
	if prefix == "" {
		prefix = "revoked"
	}
	return &CacheRevocationStore{
		store:  store,
		prefix: prefix,
		now:    time.Now,
	}
}

type RedisRevocationStoreOptions struct {
	Prefix string
	Redis  redis.Options
}

func NewRedisRevocationStore(opts RedisRevocationStoreOptions) *CacheRevocationStore {
	return NewCacheRevocationStore(
		redis.NewStore(opts.Redis),
		RevocationStoreOptions{Prefix: opts.Prefix},
	)
}

// SetNowFunc allows injecting a deterministic clock (useful for tests).
func (s *CacheRevocationStore) SetNowFunc(fn func() time.Time) {
	if fn == nil {
		fn = time.Now
	}
	s.now = fn
}

func (s *CacheRevocationStore) key(id string) string {
	return fmt.Sprintf("%s:%s", s.prefix, id)
}

// Revoke denies tokenID until expiresAt. Already-expired tokens are skipped.
func (s *CacheRevocationStore) Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error {
	if err := contextError(ctx); err != nil {
		return err
	}
	if tokenID == "" {
		return ErrRevocationInvalidID
	}
	ttl := expiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	payload := []byte(strconv.FormatInt(expiresAt.Unix(), 10))
	return s.store.Set(ctx, s.key(tokenID), payload, ttl)
}

func (s *CacheRevocationStore) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	if err := contextError(ctx); err != nil {
		return false, err
	}
	if tokenID == "" {
		return false, ErrRevocationInvalidID
	}
	_, err := s.store.Get(ctx, s.key(tokenID))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, cache.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

func contextError(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

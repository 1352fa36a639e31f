// Package cache decorates a recipient.Store with read-aside Redis caching of single recipients.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tinywideclouds/go-push-broadcast-service/pkg/recipient"
)

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// Get returns an error on a miss.
	Get(ctx context.Context, key string, dest any) error
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// CachedRecipientStore caches Get. List always reads through: broadcasts must see
// every registration.
type CachedRecipientStore struct {
	realStore recipient.Store
	cache     CacheClient
	ttl       time.Duration
	logger    *slog.Logger
}

var _ recipient.Store = (*CachedRecipientStore)(nil)

func NewCachedRecipientStore(realStore recipient.Store, cache CacheClient, ttl time.Duration, logger *slog.Logger) *CachedRecipientStore {
	return &CachedRecipientStore{
		realStore: realStore,
		cache:     cache,
		ttl:       ttl,
		logger:    logger.With("component", "CachedRecipientStore"),
	}
}

// --- READ PATH (Read-Aside) ---

func (s *CachedRecipientStore) Get(ctx context.Context, id string) (recipient.Recipient, error) {
	key := cacheKey(id)
	var cached recipient.Recipient
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return cached, nil
	}

	fresh, err := s.realStore.Get(ctx, id)
	if err != nil {
		return recipient.Recipient{}, err
	}

	// Caching is an optimization; if Redis is down we serve from the store.
	if err := s.cache.Set(ctx, key, fresh, s.ttl); err != nil {
		s.logger.Warn("Failed to populate recipient cache", "recipient_id", id, "err", err)
	}
	return fresh, nil
}

func (s *CachedRecipientStore) List(ctx context.Context) ([]recipient.Recipient, error) {
	return s.realStore.List(ctx)
}

// --- WRITE PATHS (Invalidate-on-Write) ---

func (s *CachedRecipientStore) UpsertUserToken(ctx context.Context, userID string, profile recipient.Profile, token string) (recipient.Recipient, []string, error) {
	r, released, err := s.realStore.UpsertUserToken(ctx, userID, profile, token)
	if err != nil {
		return r, nil, err
	}
	for _, id := range append([]string{r.ID}, released...) {
		if err := s.invalidate(ctx, id); err != nil {
			return r, released, err
		}
	}
	return r, released, nil
}

func (s *CachedRecipientStore) UpsertDeviceToken(ctx context.Context, token string, info recipient.DeviceInfo) (recipient.Recipient, error) {
	r, err := s.realStore.UpsertDeviceToken(ctx, token, info)
	if err != nil {
		return r, err
	}
	// A stale record that lost its device id keeps its cached copy until the TTL; List reads through.
	return r, s.invalidate(ctx, r.ID)
}

// ClearToken must drop the cached entry so a status query sees the removal immediately.
func (s *CachedRecipientStore) ClearToken(ctx context.Context, id string) error {
	if err := s.realStore.ClearToken(ctx, id); err != nil {
		return err
	}
	return s.invalidate(ctx, id)
}

func (s *CachedRecipientStore) Touch(ctx context.Context, id string, at time.Time) error {
	if err := s.realStore.Touch(ctx, id, at); err != nil {
		return err
	}
	return s.invalidate(ctx, id)
}

func (s *CachedRecipientStore) invalidate(ctx context.Context, id string) error {
	if err := s.cache.Del(ctx, cacheKey(id)); err != nil {
		return fmt.Errorf("failed to invalidate recipient cache: %w", err)
	}
	return nil
}

func cacheKey(id string) string {
	return fmt.Sprintf("push:recipients:%s", id)
}

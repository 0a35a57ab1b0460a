package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"keywords/internal/model"
	"time"

	"github.com/rs/zerolog/log"
)

// CategoryLookup resolves a product name to its category path
type CategoryLookup interface {
	LookupCategory(ctx context.Context, productName string) (model.CategoryPath, error)
}

// CachedCategoryLookup memoizes successful category lookups. Failures are
// never cached so a transient lookup error is retried on the next row.
type CachedCategoryLookup struct {
	next  CategoryLookup
	cache Cache
	ttl   time.Duration
}

func NewCachedCategoryLookup(next CategoryLookup, cache Cache, ttl time.Duration) *CachedCategoryLookup {
	return &CachedCategoryLookup{next: next, cache: cache, ttl: ttl}
}

func categoryKey(productName string) string {
	sum := sha1.Sum([]byte(productName))
	return "category:" + hex.EncodeToString(sum[:])
}

func (c *CachedCategoryLookup) LookupCategory(ctx context.Context, productName string) (model.CategoryPath, error) {
	key := categoryKey(productName)

	raw, err := c.cache.Get(ctx, key)
	if err == nil {
		var path model.CategoryPath
		if err := json.Unmarshal(raw, &path); err == nil && len(path) > 0 {
			return path, nil
		}
	} else if !errors.Is(err, ErrCacheMiss) {
		log.Warn().Err(err).Msg("Category cache unavailable, calling lookup directly")
	}

	path, err := c.next.LookupCategory(ctx, productName)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(path); err == nil {
		_ = c.cache.Set(ctx, key, raw, c.ttl)
	}

	return path, nil
}

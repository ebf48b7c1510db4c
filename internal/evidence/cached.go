package evidence

import (
	"context"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/verdict/internal/cache"
	"github.com/ppiankov/verdict/internal/logging"
	"github.com/ppiankov/verdict/internal/model"
)

// CachedSource memoizes internal search results by query and topK.
// Errors are never cached.
type CachedSource struct {
	next  Source
	cache cache.Cache
	ttl   time.Duration
	log   *zap.Logger
}

// NewCachedSource wraps next with c
func NewCachedSource(next Source, c cache.Cache, ttl time.Duration, log *zap.Logger) *CachedSource {
	return &CachedSource{next: next, cache: c, ttl: ttl, log: logging.OrNop(log)}
}

// Search returns a cached result or queries the wrapped source
func (s *CachedSource) Search(ctx context.Context, query string, topK int) ([]model.EvidenceItem, error) {
	key := cache.Key("evidence", query, strconv.Itoa(topK))

	var items []model.EvidenceItem
	if cache.GetJSON(s.cache, key, &items) {
		s.log.Debug("evidence cache hit", zap.String("query", query))
		return items, nil
	}

	items, err := s.next.Search(ctx, query, topK)
	if err != nil {
		return nil, err
	}
	if err := cache.SetJSON(s.cache, key, items, s.ttl); err != nil {
		s.log.Warn("failed to cache evidence", zap.Error(err))
	}
	return items, nil
}

// CachedExternalSource memoizes external search results by query and allowlist
type CachedExternalSource struct {
	next  ExternalSource
	cache cache.Cache
	ttl   time.Duration
	log   *zap.Logger
}

// NewCachedExternalSource wraps next with c
func NewCachedExternalSource(next ExternalSource, c cache.Cache, ttl time.Duration, log *zap.Logger) *CachedExternalSource {
	return &CachedExternalSource{next: next, cache: c, ttl: ttl, log: logging.OrNop(log)}
}

// Search returns a cached result or queries the wrapped source
func (s *CachedExternalSource) Search(ctx context.Context, query string, allowlist []string) ([]model.EvidenceItem, error) {
	key := cache.Key("external", query, strings.Join(allowlist, ","))

	var items []model.EvidenceItem
	if cache.GetJSON(s.cache, key, &items) {
		s.log.Debug("external evidence cache hit", zap.String("query", query))
		return items, nil
	}

	items, err := s.next.Search(ctx, query, allowlist)
	if err != nil {
		return nil, err
	}
	if err := cache.SetJSON(s.cache, key, items, s.ttl); err != nil {
		s.log.Warn("failed to cache external evidence", zap.Error(err))
	}
	return items, nil
}

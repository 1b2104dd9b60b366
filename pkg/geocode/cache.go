package geocode

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/address-cli/internal/model"
)

// Cache persists verification outcomes keyed by CacheKey. Get returns nil
// without error on a miss or when the entry is older than maxAge (0 = no limit).
type Cache interface {
	GetCachedGeocode(ctx context.Context, key string, maxAge time.Duration) (*model.GeocodeCacheEntry, error)
	SetCachedGeocode(ctx context.Context, entry model.GeocodeCacheEntry) error
}

// CacheKey returns SHA-256 hex of the normalized address. Normalization
// applies NFKC, case folding and whitespace collapsing.
func CacheKey(address string) string {
	normalized := cases.Fold().String(norm.NFKC.String(address))
	normalized = strings.Join(strings.Fields(normalized), " ")
	h := sha256.Sum256([]byte(normalized))
	return fmt.Sprintf("%x", h)
}

// MemoryCache is an in-process Cache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]model.GeocodeCacheEntry
	nowFunc func() time.Time
}

// NewMemoryCache creates an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]model.GeocodeCacheEntry),
		nowFunc: time.Now,
	}
}

// GetCachedGeocode implements Cache.
func (m *MemoryCache) GetCachedGeocode(_ context.Context, key string, maxAge time.Duration) (*model.GeocodeCacheEntry, error) {
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if maxAge > 0 && m.nowFunc().Sub(entry.CachedAt) > maxAge {
		return nil, nil
	}
	return &entry, nil
}

// SetCachedGeocode implements Cache.
func (m *MemoryCache) SetCachedGeocode(_ context.Context, entry model.GeocodeCacheEntry) error {
	if entry.CachedAt.IsZero() {
		entry.CachedAt = m.nowFunc()
	}
	m.mu.Lock()
	m.entries[entry.Key] = entry
	m.mu.Unlock()
	return nil
}

// Len returns the number of cached entries.
func (m *MemoryCache) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

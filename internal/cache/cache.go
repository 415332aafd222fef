// Package cache provides caching for rendered plots and query results.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/allegro/bigcache/v3"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Config contains cache configuration.
type Config struct {
	PlotCacheSizeMB int
	PlotTTL         time.Duration
	QueryCacheSize  int
}

// Manager manages plot and query caches. Both are keyed by run id, so
// results of a deleted run can be dropped with Forget.
type Manager struct {
	plotCache  *bigcache.BigCache
	queryCache *lru.Cache[string, []byte]
}

// NewManager creates a new cache manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.PlotTTL <= 0 {
		cfg.PlotTTL = 10 * time.Minute
	}
	if cfg.QueryCacheSize <= 0 {
		cfg.QueryCacheSize = 1000
	}

	plotCacheConfig := bigcache.Config{
		Shards:             256,
		LifeWindow:         cfg.PlotTTL,
		CleanWindow:        cfg.PlotTTL / 2,
		MaxEntriesInWindow: 10000,
		MaxEntrySize:       256 * 1024, // PNGs are a few tens of KB
		HardMaxCacheSize:   cfg.PlotCacheSizeMB,
		Verbose:            false,
	}

	plotCache, err := bigcache.New(context.Background(), plotCacheConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create plot cache: %w", err)
	}

	queryCache, err := lru.New[string, []byte](cfg.QueryCacheSize)
	if err != nil {
		plotCache.Close()
		return nil, fmt.Errorf("failed to create query cache: %w", err)
	}

	return &Manager{
		plotCache:  plotCache,
		queryCache: queryCache,
	}, nil
}

// GetPlot retrieves a rendered plot from cache.
func (m *Manager) GetPlot(key string) ([]byte, bool) {
	data, err := m.plotCache.Get(key)
	if err != nil {
		return nil, false
	}
	return data, true
}

// SetPlot stores a rendered plot in cache.
func (m *Manager) SetPlot(key string, data []byte) error {
	return m.plotCache.Set(key, data)
}

// GetQuery retrieves a query result from cache.
func (m *Manager) GetQuery(key string) ([]byte, bool) {
	return m.queryCache.Get(key)
}

// SetQuery stores a query result in cache.
func (m *Manager) SetQuery(key string, data []byte) {
	m.queryCache.Add(key, data)
}

// Forget drops every cached entry of a run.
func (m *Manager) Forget(runID string) {
	prefix := runID + ":"
	for _, k := range m.queryCache.Keys() {
		if strings.HasPrefix(k, prefix) {
			m.queryCache.Remove(k)
		}
	}
	it := m.plotCache.Iterator()
	for it.SetNext() {
		entry, err := it.Value()
		if err != nil {
			continue
		}
		if strings.HasPrefix(entry.Key(), prefix) {
			m.plotCache.Delete(entry.Key())
		}
	}
}

// PlotKey generates a cache key for a plot of a run.
func PlotKey(runID, kind string, bins int, colormap string) string {
	return fmt.Sprintf("%s:plot:%s:%d:%s", runID, kind, bins, colormap)
}

// QueryKey generates a cache key for a query of a run. Parameters are
// hashed in sorted order so equivalent queries share an entry.
func QueryKey(runID, endpoint string, params url.Values) string {
	base := runID + ":" + endpoint
	if len(params) == 0 {
		return base
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		fmt.Fprintf(h, "%s=%s;", k, strings.Join(params[k], ","))
	}
	return base + ":" + hex.EncodeToString(h.Sum(nil))[:16]
}

// Stats returns cache statistics.
func (m *Manager) Stats() map[string]interface{} {
	return map[string]interface{}{
		"plot_cache_len":  m.plotCache.Len(),
		"plot_cache_cap":  m.plotCache.Capacity(),
		"query_cache_len": m.queryCache.Len(),
	}
}

// Close closes the cache manager.
func (m *Manager) Close() error {
	return m.plotCache.Close()
}

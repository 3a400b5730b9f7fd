package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/panel-merge-server/internal/domain"
)

// Fetcher is the upstream contract the cache sits in front of. Implemented by
// registry.Client; tests substitute in-memory fakes.
type Fetcher interface {
	FetchCatalog(ctx context.Context) ([]domain.PanelCatalogEntry, error)
	FetchDetail(ctx context.Context, id string) (*domain.PanelDetail, error)
}

// PanelCache is the process-wide cache of registry catalogs and panel details.
//
// Values are fetched lazily on first access and kept until InvalidateAll.
// Cached values are immutable, so a caller holding a detail across an
// invalidation is always safe. Concurrent first-time fetches for the same key
// coalesce into one upstream call.
type PanelCache struct {
	fetchers map[domain.Source]Fetcher
	logger   *logrus.Logger

	mu       sync.RWMutex
	catalogs map[domain.Source][]domain.PanelCatalogEntry
	details  *lru.Cache[domain.PanelRef, *domain.PanelDetail]

	group      singleflight.Group
	generation atomic.Uint64
}

// NewPanelCache creates a panel cache over the given per-source fetchers.
func NewPanelCache(fetchers map[domain.Source]Fetcher, cfg domain.CacheConfig, logger *logrus.Logger) (*PanelCache, error) {
	capacity := cfg.DetailCapacity
	if capacity <= 0 {
		capacity = 512
	}

	details, err := lru.New[domain.PanelRef, *domain.PanelDetail](capacity)
	if err != nil {
		return nil, fmt.Errorf("failed to create detail cache: %w", err)
	}

	return &PanelCache{
		fetchers: fetchers,
		logger:   logger,
		catalogs: make(map[domain.Source][]domain.PanelCatalogEntry),
		details:  details,
	}, nil
}

// Sources returns the registry sources this cache can serve, in stable order.
func (c *PanelCache) Sources() []domain.Source {
	var sources []domain.Source
	for _, s := range domain.RegistrySources {
		if _, ok := c.fetchers[s]; ok {
			sources = append(sources, s)
		}
	}
	return sources
}

// Generation returns the invalidation counter. The gene index uses it to tell
// whether a derived snapshot is still current.
func (c *PanelCache) Generation() uint64 {
	return c.generation.Load()
}

// GetCatalog returns the cached catalog for a source, fetching it on first
// access. Concurrent callers for an uncached source share a single fetch.
func (c *PanelCache) GetCatalog(ctx context.Context, source domain.Source) ([]domain.PanelCatalogEntry, error) {
	c.mu.RLock()
	cached, ok := c.catalogs[source]
	c.mu.RUnlock()
	if ok {
		return cached, nil
	}

	fetcher, ok := c.fetchers[source]
	if !ok {
		return nil, fmt.Errorf("unknown panel source %q", source)
	}

	// The generation is part of the flight key so a fetch started before an
	// invalidation never satisfies a read issued after it.
	gen := c.generation.Load()
	key := fmt.Sprintf("catalog:%s:%d", source, gen)

	v, err, shared := c.group.Do(key, func() (interface{}, error) {
		entries, err := fetcher.FetchCatalog(ctx)
		if err != nil {
			return nil, err
		}
		c.storeCatalog(source, entries, gen)
		return entries, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		c.logger.WithField("source", source).Debug("Catalog fetch coalesced with concurrent request")
	}
	return v.([]domain.PanelCatalogEntry), nil
}

// GetDetail returns the cached detail for a panel, fetching it on first access.
// Concurrent callers for an uncached ref share a single fetch.
func (c *PanelCache) GetDetail(ctx context.Context, ref domain.PanelRef) (*domain.PanelDetail, error) {
	if detail, ok := c.details.Get(ref); ok {
		return detail, nil
	}

	fetcher, ok := c.fetchers[ref.Source]
	if !ok {
		return nil, fmt.Errorf("unknown panel source %q", ref.Source)
	}

	gen := c.generation.Load()
	key := fmt.Sprintf("detail:%s:%d", ref, gen)

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		detail, err := fetcher.FetchDetail(ctx, ref.ID)
		if err != nil {
			return nil, err
		}
		// Only populate the cache if no invalidation happened mid-fetch;
		// the caller still gets the fetched value either way.
		if c.generation.Load() == gen {
			c.details.Add(ref, detail)
		}
		return detail, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.PanelDetail), nil
}

// InvalidateAll drops every cached catalog and detail. Reads that started
// before the call may still observe pre-invalidation data; reads issued after
// it returns will refetch.
func (c *PanelCache) InvalidateAll() {
	c.generation.Add(1)
	c.mu.Lock()
	c.catalogs = make(map[domain.Source][]domain.PanelCatalogEntry)
	c.mu.Unlock()
	c.details.Purge()
	c.logger.Info("Panel cache invalidated")
}

// storeCatalog records a fetched catalog unless an invalidation raced the fetch.
func (c *PanelCache) storeCatalog(source domain.Source, entries []domain.PanelCatalogEntry, gen uint64) {
	if c.generation.Load() != gen {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation.Load() != gen {
		return
	}
	c.catalogs[source] = entries
}

// SearchCatalog returns catalog entries whose name, disease group or sub-group
// contains the query, case-insensitively. An empty query returns the whole
// catalog.
func (c *PanelCache) SearchCatalog(ctx context.Context, source domain.Source, query string) ([]domain.PanelCatalogEntry, error) {
	entries, err := c.GetCatalog(ctx, source)
	if err != nil {
		return nil, err
	}
	if query == "" {
		return entries, nil
	}

	needle := normalizeQuery(query)
	var matches []domain.PanelCatalogEntry
	for _, e := range entries {
		if containsFold(e.Name, needle) || containsFold(e.DiseaseGroup, needle) || containsFold(e.DiseaseSubGroup, needle) {
			matches = append(matches, e)
		}
	}
	return matches, nil
}

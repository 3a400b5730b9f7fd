package service

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/panel-merge-server/internal/domain"
	"github.com/panel-merge-server/pkg/genes"
)

// GeneIndex is a derived view over the panel cache: per source, an inverted
// index from normalized gene symbol to the panels containing it.
//
// Snapshots are rebuilt lazily when the cache generation moves. A lookup runs
// entirely against one snapshot, so a single response never mixes pre- and
// post-invalidation data.
type GeneIndex struct {
	cache            *PanelCache
	fetchConcurrency int
	logger           *logrus.Logger

	mu        sync.RWMutex
	snapshots map[domain.Source]*sourceIndex

	rebuilds singleflight.Group
}

// sourceIndex is one source's immutable index snapshot.
type sourceIndex struct {
	generation uint64
	symbols    []string // sorted normalized symbols
	panels     map[string][]domain.PanelCatalogEntry
}

// NewGeneIndex creates a gene index backed by the given cache.
func NewGeneIndex(cache *PanelCache, cfg domain.IndexConfig, logger *logrus.Logger) *GeneIndex {
	concurrency := cfg.FetchConcurrency
	if concurrency <= 0 {
		concurrency = 5
	}
	return &GeneIndex{
		cache:            cache,
		fetchConcurrency: concurrency,
		logger:           logger,
		snapshots:        make(map[domain.Source]*sourceIndex),
	}
}

// Suggest returns up to limit distinct normalized symbols from the source's
// panels that begin with prefix, case-insensitively, in lexicographic order.
func (x *GeneIndex) Suggest(ctx context.Context, prefix string, source domain.Source, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}

	snap, err := x.snapshot(ctx, source)
	if err != nil {
		return nil, err
	}

	needle := genes.NormalizeSymbol(prefix)
	start := sort.SearchStrings(snap.symbols, needle)

	var out []string
	for i := start; i < len(snap.symbols) && len(out) < limit; i++ {
		if !strings.HasPrefix(snap.symbols[i], needle) {
			break
		}
		out = append(out, snap.symbols[i])
	}
	return out, nil
}

// PanelsContaining returns every panel of the source whose detail includes the
// given gene symbol.
func (x *GeneIndex) PanelsContaining(ctx context.Context, symbol string, source domain.Source) ([]domain.PanelCatalogEntry, error) {
	snap, err := x.snapshot(ctx, source)
	if err != nil {
		return nil, err
	}
	return snap.panels[genes.NormalizeSymbol(symbol)], nil
}

// snapshot returns the source's current index snapshot, rebuilding it when the
// cache generation has moved since it was built. Concurrent rebuild requests
// for one source coalesce.
func (x *GeneIndex) snapshot(ctx context.Context, source domain.Source) (*sourceIndex, error) {
	gen := x.cache.Generation()

	x.mu.RLock()
	snap, ok := x.snapshots[source]
	x.mu.RUnlock()
	if ok && snap.generation == gen {
		return snap, nil
	}

	v, err, _ := x.rebuilds.Do(string(source), func() (interface{}, error) {
		// Re-check: another caller may have rebuilt while we waited.
		x.mu.RLock()
		existing, ok := x.snapshots[source]
		x.mu.RUnlock()
		if ok && existing.generation == gen {
			return existing, nil
		}

		rebuilt, err := x.build(ctx, source, gen)
		if err != nil {
			return nil, err
		}

		x.mu.Lock()
		x.snapshots[source] = rebuilt
		x.mu.Unlock()
		return rebuilt, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*sourceIndex), nil
}

// build constructs a fresh snapshot from the cache. Panels whose detail cannot
// be fetched are skipped with a warning; the index is a best-effort derived
// view, not a source of truth.
func (x *GeneIndex) build(ctx context.Context, source domain.Source, gen uint64) (*sourceIndex, error) {
	entries, err := x.cache.GetCatalog(ctx, source)
	if err != nil {
		return nil, err
	}

	type fetched struct {
		entry  domain.PanelCatalogEntry
		detail *domain.PanelDetail
	}

	sem := make(chan struct{}, x.fetchConcurrency)
	results := make([]fetched, len(entries))
	var wg sync.WaitGroup

	for i, entry := range entries {
		wg.Add(1)
		go func(i int, entry domain.PanelCatalogEntry) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			detail, err := x.cache.GetDetail(ctx, entry.Ref())
			if err != nil {
				x.logger.WithFields(logrus.Fields{
					"source": source,
					"panel":  entry.ID,
					"error":  err.Error(),
				}).Warn("Skipping panel during index rebuild")
				return
			}
			results[i] = fetched{entry: entry, detail: detail}
		}(i, entry)
	}
	wg.Wait()

	panels := make(map[string][]domain.PanelCatalogEntry)
	for _, r := range results {
		if r.detail == nil {
			continue
		}
		seen := make(map[string]struct{}, len(r.detail.Genes))
		for _, gene := range r.detail.Genes {
			if _, dup := seen[gene.NormalizedSymbol]; dup {
				continue
			}
			seen[gene.NormalizedSymbol] = struct{}{}
			panels[gene.NormalizedSymbol] = append(panels[gene.NormalizedSymbol], r.entry)
		}
	}

	symbols := make([]string, 0, len(panels))
	for symbol := range panels {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	x.logger.WithFields(logrus.Fields{
		"source":     source,
		"symbols":    len(symbols),
		"generation": gen,
	}).Info("Gene index rebuilt")

	return &sourceIndex{generation: gen, symbols: symbols, panels: panels}, nil
}

// normalizeQuery lower-cases a free-text search query for substring matching.
func normalizeQuery(q string) string {
	return strings.ToLower(strings.TrimSpace(q))
}

// containsFold reports whether haystack contains the already-lowered needle.
func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), needle)
}

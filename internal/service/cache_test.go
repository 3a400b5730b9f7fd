package service

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panel-merge-server/internal/domain"
	"github.com/panel-merge-server/pkg/genes"
)

// testLogger returns a logger that swallows output.
func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// fakeFetcher is an in-memory Fetcher with call counting.
type fakeFetcher struct {
	mu           sync.Mutex
	catalogCalls int
	detailCalls  map[string]int

	catalog    []domain.PanelCatalogEntry
	details    map[string]*domain.PanelDetail
	detailErr  map[string]error
	fetchDelay time.Duration
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		detailCalls: make(map[string]int),
		details:     make(map[string]*domain.PanelDetail),
		detailErr:   make(map[string]error),
	}
}

func (f *fakeFetcher) FetchCatalog(ctx context.Context) ([]domain.PanelCatalogEntry, error) {
	f.mu.Lock()
	f.catalogCalls++
	f.mu.Unlock()
	if f.fetchDelay > 0 {
		time.Sleep(f.fetchDelay)
	}
	return f.catalog, nil
}

func (f *fakeFetcher) FetchDetail(ctx context.Context, id string) (*domain.PanelDetail, error) {
	f.mu.Lock()
	f.detailCalls[id]++
	f.mu.Unlock()
	if f.fetchDelay > 0 {
		time.Sleep(f.fetchDelay)
	}
	if err, ok := f.detailErr[id]; ok {
		return nil, err
	}
	detail, ok := f.details[id]
	if !ok {
		return nil, &domain.UpstreamFormatError{Source: domain.SourceUK, Op: "detail", Detail: "no such panel"}
	}
	return detail, nil
}

func (f *fakeFetcher) catalogCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.catalogCalls
}

func (f *fakeFetcher) detailCallCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.detailCalls[id]
}

// addPanel registers a panel with the given genes as "symbol:confidence" pairs.
func (f *fakeFetcher) addPanel(id, name string, annotations ...domain.GeneAnnotation) {
	f.catalog = append(f.catalog, domain.PanelCatalogEntry{
		ID:              id,
		Source:          domain.SourceUK,
		Name:            name,
		DiseaseGroup:    domain.NotSpecified,
		DiseaseSubGroup: domain.NotSpecified,
		Version:         "1.0",
		Status:          "public",
	})
	f.details[id] = &domain.PanelDetail{
		Ref:       domain.PanelRef{Source: domain.SourceUK, ID: id},
		Name:      name,
		Version:   "1.0",
		Genes:     annotations,
		FetchedAt: time.Now().UTC(),
	}
}

// gene builds a GeneAnnotation for tests.
func gene(symbol string, confidence domain.Confidence) domain.GeneAnnotation {
	return domain.GeneAnnotation{
		Symbol:            symbol,
		NormalizedSymbol:  genes.NormalizeSymbol(symbol),
		Confidence:        confidence,
		ModeOfInheritance: domain.NotSpecified,
		Phenotypes:        []string{},
	}
}

func newTestCache(t *testing.T, fetcher Fetcher) *PanelCache {
	t.Helper()
	cache, err := NewPanelCache(
		map[domain.Source]Fetcher{domain.SourceUK: fetcher},
		domain.CacheConfig{DetailCapacity: 64},
		testLogger(),
	)
	require.NoError(t, err)
	return cache
}

func TestPanelCache_GetCatalogCaches(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.addPanel("42", "Hereditary cancer", gene("BRCA1", domain.ConfidenceGreen))
	cache := newTestCache(t, fetcher)

	ctx := context.Background()
	first, err := cache.GetCatalog(ctx, domain.SourceUK)
	require.NoError(t, err)
	second, err := cache.GetCatalog(ctx, domain.SourceUK)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, fetcher.catalogCallCount())
}

func TestPanelCache_UnknownSource(t *testing.T) {
	cache := newTestCache(t, newFakeFetcher())

	_, err := cache.GetCatalog(context.Background(), domain.Source("nope"))
	assert.Error(t, err)

	_, err = cache.GetDetail(context.Background(), domain.PanelRef{Source: "nope", ID: "1"})
	assert.Error(t, err)
}

func TestPanelCache_DetailCoalescing(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.addPanel("42", "Hereditary cancer", gene("BRCA1", domain.ConfidenceGreen))
	fetcher.fetchDelay = 50 * time.Millisecond
	cache := newTestCache(t, fetcher)

	ref := domain.PanelRef{Source: domain.SourceUK, ID: "42"}
	const workers = 16

	var wg sync.WaitGroup
	results := make([]*domain.PanelDetail, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = cache.GetDetail(context.Background(), ref)
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		require.NotNil(t, results[i])
		// All waiters receive the same immutable detail.
		assert.Same(t, results[0], results[i])
	}
	assert.Equal(t, 1, fetcher.detailCallCount("42"), "concurrent fetches must coalesce into one upstream call")
}

func TestPanelCache_InvalidateAllForcesRefetch(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.addPanel("42", "Hereditary cancer", gene("BRCA1", domain.ConfidenceGreen))
	cache := newTestCache(t, fetcher)

	ctx := context.Background()
	ref := domain.PanelRef{Source: domain.SourceUK, ID: "42"}

	before, err := cache.GetDetail(ctx, ref)
	require.NoError(t, err)
	_, err = cache.GetCatalog(ctx, domain.SourceUK)
	require.NoError(t, err)

	gen := cache.Generation()
	cache.InvalidateAll()
	assert.Greater(t, cache.Generation(), gen)

	_, err = cache.GetDetail(ctx, ref)
	require.NoError(t, err)
	_, err = cache.GetCatalog(ctx, domain.SourceUK)
	require.NoError(t, err)

	assert.Equal(t, 2, fetcher.detailCallCount("42"))
	assert.Equal(t, 2, fetcher.catalogCallCount())

	// The pre-invalidation detail is immutable and still usable.
	assert.Equal(t, "Hereditary cancer", before.Name)
}

func TestPanelCache_DetailFetchErrorNotCached(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.addPanel("42", "Hereditary cancer")
	fetcher.detailErr["42"] = &domain.UpstreamUnavailableError{
		Source: domain.SourceUK, Op: "detail", Err: fmt.Errorf("connection refused"),
	}
	cache := newTestCache(t, fetcher)

	ref := domain.PanelRef{Source: domain.SourceUK, ID: "42"}
	_, err := cache.GetDetail(context.Background(), ref)
	require.Error(t, err)
	assert.True(t, domain.IsUpstreamUnavailable(err))

	// Once the upstream recovers the next read succeeds.
	delete(fetcher.detailErr, "42")
	detail, err := cache.GetDetail(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, "Hereditary cancer", detail.Name)
}

func TestPanelCache_SearchCatalog(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.addPanel("1", "Hereditary cancer")
	fetcher.addPanel("2", "Cardiac arrhythmia")
	fetcher.catalog[1].DiseaseGroup = "Cardiovascular disorders"
	cache := newTestCache(t, fetcher)

	tests := []struct {
		name  string
		query string
		want  int
	}{
		{"empty query returns all", "", 2},
		{"name match case-insensitive", "CANCER", 1},
		{"disease group match", "cardiovascular", 1},
		{"no match", "renal", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := cache.SearchCatalog(context.Background(), domain.SourceUK, tt.query)
			require.NoError(t, err)
			assert.Len(t, entries, tt.want)
		})
	}
}

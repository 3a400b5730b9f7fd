// Package registry implements the client for PanelApp-style panel registries.
// One Client instance serves one registry (UK or Australia); both speak the
// same API shape and differ only in base URL.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/panel-merge-server/internal/domain"
)

// maxCatalogPages bounds pagination so a misbehaving upstream cannot loop us.
const maxCatalogPages = 100

// Client fetches panel catalogs and panel detail from one remote registry.
type Client struct {
	source     domain.Source
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	logger     *logrus.Logger
}

// NewClient creates a registry client for the given source.
func NewClient(source domain.Source, cfg domain.RegistryConfig, logger *logrus.Logger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	rps := cfg.RateLimit
	if rps <= 0 {
		rps = 10
	}
	breakerTimeout := cfg.BreakerTimeout
	if breakerTimeout == 0 {
		breakerTimeout = 60 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        fmt.Sprintf("registry-%s", source),
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			// A schema mismatch or 4xx is the registry answering, not an
			// outage; only availability failures should open the breaker.
			var fe *domain.UpstreamFormatError
			return errors.As(err, &fe)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Registry circuit breaker state changed")
		},
	})

	return &Client{
		source:     source,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/") + "/",
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), rps),
		breaker:    breaker,
		logger:     logger,
	}
}

// Source returns the registry this client serves.
func (c *Client) Source() domain.Source {
	return c.source
}

// FetchCatalog retrieves the registry's full panel listing, following
// pagination until exhausted.
func (c *Client) FetchCatalog(ctx context.Context) ([]domain.PanelCatalogEntry, error) {
	var entries []domain.PanelCatalogEntry

	pageURL := c.baseURL + "panels/"
	for page := 0; pageURL != ""; page++ {
		if page >= maxCatalogPages {
			return nil, &domain.UpstreamFormatError{
				Source: c.source,
				Op:     "catalog",
				Detail: fmt.Sprintf("pagination did not terminate after %d pages", maxCatalogPages),
			}
		}

		var resp panelListResponse
		if err := c.getJSON(ctx, "catalog", pageURL, &resp); err != nil {
			return nil, err
		}

		for _, row := range resp.Results {
			entry, err := row.toCatalogEntry(c.source)
			if err != nil {
				// A single malformed listing row is skipped, not fatal.
				c.logger.WithFields(logrus.Fields{
					"source": c.source,
					"error":  err.Error(),
				}).Warn("Skipping malformed catalog row")
				continue
			}
			entries = append(entries, entry)
		}

		pageURL = resp.Next
	}

	c.logger.WithFields(logrus.Fields{
		"source": c.source,
		"panels": len(entries),
	}).Debug("Fetched panel catalog")

	return entries, nil
}

// FetchDetail retrieves one panel's gene list with confidence annotations.
// Malformed gene rows are skipped and counted in the returned detail.
func (c *Client) FetchDetail(ctx context.Context, id string) (*domain.PanelDetail, error) {
	detailURL := fmt.Sprintf("%spanels/%s/", c.baseURL, url.PathEscape(id))

	var resp panelDetailResponse
	if err := c.getJSON(ctx, "detail", detailURL, &resp); err != nil {
		return nil, err
	}

	detail := &domain.PanelDetail{
		Ref:         domain.PanelRef{Source: c.source, ID: id},
		Name:        resp.Name,
		Version:     resp.Version,
		Description: orNotSpecified(resp.DiseaseGroup),
		FetchedAt:   time.Now().UTC(),
	}

	for _, row := range resp.Genes {
		gene, ok := row.toAnnotation()
		if !ok {
			detail.SkippedRows++
			continue
		}
		detail.Genes = append(detail.Genes, gene)
	}

	if detail.SkippedRows > 0 {
		c.logger.WithFields(logrus.Fields{
			"source":  c.source,
			"panel":   id,
			"skipped": detail.SkippedRows,
		}).Warn("Skipped malformed gene rows in panel detail")
	}

	return detail, nil
}

// getJSON performs a rate-limited, circuit-broken GET and decodes the JSON body.
func (c *Client) getJSON(ctx context.Context, op, rawURL string, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &domain.UpstreamUnavailableError{Source: c.source, Op: op, Err: err}
	}

	body, err := c.breaker.Execute(func() (interface{}, error) {
		return c.doGet(ctx, rawURL)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return &domain.UpstreamUnavailableError{Source: c.source, Op: op, Err: err}
		}
		var fe *domain.UpstreamFormatError
		if errors.As(err, &fe) {
			return err
		}
		return &domain.UpstreamUnavailableError{Source: c.source, Op: op, Err: err}
	}

	if err := json.Unmarshal(body.([]byte), out); err != nil {
		return &domain.UpstreamFormatError{Source: c.source, Op: op, Detail: err.Error()}
	}
	return nil
}

// doGet executes the HTTP request and returns the response body.
func (c *Client) doGet(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// 4xx means we asked for something the registry does not have or our
		// request shape is wrong; treat as a format problem, not an outage.
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, &domain.UpstreamFormatError{
				Source: c.source,
				Op:     "http",
				Detail: fmt.Sprintf("unexpected status %d for %s", resp.StatusCode, rawURL),
			}
		}
		return nil, fmt.Errorf("unexpected status %d for %s", resp.StatusCode, rawURL)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return body, nil
}

func orNotSpecified(s string) string {
	if strings.TrimSpace(s) == "" {
		return domain.NotSpecified
	}
	return s
}

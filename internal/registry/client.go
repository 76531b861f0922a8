// Package registry resolves runnable nightly image tags from a container
// registry. It is purely read-side: tag listing and metadata checks only.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/psantana5/rocm-bench/pkg/logging"
	"github.com/psantana5/rocm-bench/pkg/retry"
)

// TagEntry is one tag name from the registry listing endpoint
type TagEntry struct {
	Name string `json:"name"`
}

// tagPage is one page of the cursor-paginated tag listing
type tagPage struct {
	Results []TagEntry `json:"results"`
	Next    string     `json:"next"`
}

// Client talks to the registry's HTTP API. Tag listing is rate limited so
// a full nightly resolution across many tasks stays polite.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	pageSize   int
	retryCfg   retry.Config
	log        *logging.Logger
}

// NewClient creates a registry client
func NewClient(baseURL string, pageSize int, ratePerSec float64, burst int, log *logging.Logger) *Client {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter:  rate.NewLimiter(rate.Limit(ratePerSec), burst),
		pageSize: pageSize,
		retryCfg: retry.DefaultConfig(),
		log:      log,
	}
}

// ListTags walks the paginated tag listing for a repository, invoking fn
// for every tag name. Pagination follows the "next" cursor returned by the
// registry. fn returning false stops the walk early.
func (c *Client) ListTags(ctx context.Context, repository string, fn func(tag string) bool) error {
	url := fmt.Sprintf("%s/v2/repositories/%s/tags?page_size=%d", c.baseURL, repository, c.pageSize)

	for url != "" {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		page, err := c.fetchPageWithRetry(ctx, url)
		if err != nil {
			return err
		}

		for _, entry := range page.Results {
			if !fn(entry.Name) {
				return nil
			}
		}

		url = page.Next
	}

	return nil
}

// fetchPageWithRetry retries transient listing failures with backoff.
// Permanent failures (bad status other than 5xx, decode errors) surface
// immediately.
func (c *Client) fetchPageWithRetry(ctx context.Context, url string) (*tagPage, error) {
	var page *tagPage
	var permanent error

	err := retry.Do(ctx, c.retryCfg, func() error {
		p, ferr := c.fetchPage(ctx, url)
		if ferr != nil {
			if !retry.IsRetryable(ferr) {
				permanent = ferr
				return nil
			}
			c.log.Warn("Tag listing attempt failed", map[string]interface{}{"url": url, "error": ferr.Error()})
			return ferr
		}
		page = p
		return nil
	})
	if permanent != nil {
		return nil, permanent
	}
	if err != nil {
		return nil, err
	}
	return page, nil
}

// fetchPage retrieves and decodes one listing page
func (c *Client) fetchPage(ctx context.Context, url string) (*tagPage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tag listing request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tag listing returned %d for %s", resp.StatusCode, url)
	}

	var page tagPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("failed to decode tag page: %w", err)
	}

	return &page, nil
}

// ManifestExists verifies a tag is actually pullable via a metadata-only
// call, without downloading any layers. A tag can be listed but have a
// broken or garbage-collected manifest; this catches that before the
// lifecycle manager commits to a pull.
func (c *Client) ManifestExists(ctx context.Context, repository, tag string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	url := fmt.Sprintf("%s/v2/repositories/%s/manifests/%s", c.baseURL, repository, tag)
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("manifest request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("manifest check returned %d for %s:%s", resp.StatusCode, repository, tag)
	}

	return nil
}

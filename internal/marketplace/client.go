// Package marketplace fetches search-result and listing pages and
// extracts structured listing data, tolerating the marketplace's unstable
// page structure through ordered fallback strategies.
package marketplace

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gemscout/gemscout/internal/domain"
	"github.com/gemscout/gemscout/internal/metrics"
)

// listingIDPattern extracts the external identifier from a listing URL
// path, e.g. /items/4211558763-gold-ring.
var listingIDPattern = regexp.MustCompile(`/items/(\d+)`)

// defaultUserAgents is the fixed identity pool rotated across requests.
var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:126.0) Gecko/20100101 Firefox/126.0",
}

// Options configures the marketplace client.
type Options struct {
	// Timeout bounds each outbound request. Defaults to 12s.
	Timeout time.Duration

	// DelayMin and DelayMax bound the randomized courtesy delay applied
	// before each request. Defaults to 1s-3s; set both to zero in tests.
	DelayMin time.Duration
	DelayMax time.Duration

	// UserAgents overrides the default identity pool.
	UserAgents []string

	// ImageCDNHost is the substring identifying the marketplace's image
	// CDN in URLs. Defaults to "vinted.net".
	ImageCDNHost string

	Logger *slog.Logger
}

// Client is the listing source adapter.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics

	delayMin   time.Duration
	delayMax   time.Duration
	userAgents []string
	uaCounter  atomic.Uint64

	cdnHost      string
	imagePattern *regexp.Regexp
}

// NewClient builds a marketplace client from opts.
func NewClient(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 12 * time.Second
	}
	agents := opts.UserAgents
	if len(agents) == 0 {
		agents = defaultUserAgents
	}
	cdn := opts.ImageCDNHost
	if cdn == "" {
		cdn = "vinted.net"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		delayMin:   opts.DelayMin,
		delayMax:   opts.DelayMax,
		userAgents: agents,
		cdnHost:    cdn,
		// Embedded JSON escapes slashes, so the pattern tolerates \/ at
		// every slash position.
		imagePattern: regexp.MustCompile(
			`https?:(?:\\?/){2}[^"'\s]*` + regexp.QuoteMeta(cdn) + `[^"'\s]*\.(?:jpe?g|png|webp)`),
	}
}

// SetMetrics registers optional Prometheus collectors.
func (c *Client) SetMetrics(m *metrics.Metrics) {
	c.metrics = m
}

// FetchSearchResults resolves a search URL to listings through the
// extraction chain: embedded script-tag catalog blob first, then the
// derived catalog API endpoint. First strategy yielding at least one
// listing wins. Total failure returns an empty slice with a diagnostic
// error; callers treat both as "no listings".
func (c *Client) FetchSearchResults(ctx context.Context, searchURL string) ([]domain.Listing, error) {
	pageURL := normalizeURL(searchURL)

	body, fetchErr := c.get(ctx, pageURL, "text/html,application/xhtml+xml")
	if fetchErr != nil {
		c.metrics.IncFetchError("search_page")
		c.logger.Debug("search page fetch failed", "url", pageURL, "error", fetchErr)
	}

	if len(body) > 0 {
		if listings := extractEmbeddedCatalog(body, pageURL); len(listings) > 0 {
			return listings, nil
		}
	}

	listings, apiErr := c.fetchCatalogAPI(ctx, pageURL)
	if len(listings) > 0 {
		return listings, nil
	}
	if apiErr != nil {
		c.metrics.IncFetchError("catalog_api")
		return nil, fmt.Errorf("all extraction strategies failed: %w", apiErr)
	}
	if fetchErr != nil {
		return nil, fmt.Errorf("all extraction strategies failed: %w", fetchErr)
	}
	return nil, nil
}

// FetchListing resolves a single listing page. The listing identifier
// must be present in the URL path; otherwise ErrInvalidListingURL is
// returned. When the page cannot be fetched by any strategy the result is
// (nil, nil): nothing to analyze, not a failure.
func (c *Client) FetchListing(ctx context.Context, listingURL string) (*domain.Listing, error) {
	pageURL := normalizeURL(listingURL)

	match := listingIDPattern.FindStringSubmatch(pageURL)
	if match == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidListingURL, listingURL)
	}
	listingID := match[1]

	body, err := c.get(ctx, pageURL, "text/html,application/xhtml+xml")
	if err != nil {
		c.metrics.IncFetchError("listing_page")
		c.logger.Debug("listing page fetch failed", "url", pageURL, "error", err)
	}

	listing := &domain.Listing{
		ListingID: listingID,
		URL:       pageURL,
	}

	if len(body) > 0 {
		title, price, amount := extractListingFields(body)
		listing.Title = title
		listing.Price = price
		listing.PriceAmount = amount

		listing.ImageURLs = c.extractMarkupImages(body)
		if len(listing.ImageURLs) == 0 {
			listing.ImageURLs = c.extractBlobImages(body)
		}
	}

	// Final fallback: the JSON variant of the listing, attempted only
	// when no images were extracted. Fills title and price too when the
	// page yielded neither.
	if len(listing.ImageURLs) == 0 {
		if err := c.fetchItemAPI(ctx, pageURL, listingID, listing); err != nil {
			c.logger.Debug("item api fetch failed", "listing_id", listingID, "error", err)
		}
	}

	if listing.Title == "" && len(listing.ImageURLs) == 0 {
		return nil, nil
	}
	return listing, nil
}

// get applies the courtesy delay, rotates the request identity, and
// returns the response body.
func (c *Client) get(ctx context.Context, url, accept string) ([]byte, error) {
	c.courtesyDelay(ctx)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.nextUserAgent())
	req.Header.Set("Accept", accept)
	req.Header.Set("Accept-Language", "en")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("http status %d", resp.StatusCode)
	}
	return body, nil
}

func (c *Client) nextUserAgent() string {
	n := c.uaCounter.Add(1)
	return c.userAgents[int(n)%len(c.userAgents)]
}

// courtesyDelay sleeps a randomized interval within [DelayMin, DelayMax)
// to avoid tripping anti-automation defenses. Cancelling the context cuts
// the delay short.
func (c *Client) courtesyDelay(ctx context.Context) {
	if c.delayMax <= 0 {
		return
	}
	d := c.delayMin
	if span := c.delayMax - c.delayMin; span > 0 {
		d += rand.N(span)
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// normalizeURL ensures a scheme so user-pasted URLs like
// "www.vinted.nl/catalog?..." resolve.
func normalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		return "https://" + raw
	}
	return raw
}

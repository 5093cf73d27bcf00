package marketplace

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/gemscout/gemscout/internal/domain"
)

// catalogItem mirrors the marketplace's item payload, shared by the
// embedded page blob and the catalog API.
type catalogItem struct {
	ID     json.Number  `json:"id"`
	Title  string       `json:"title"`
	Price  priceField   `json:"price"`
	URL    string       `json:"url"`
	Path   string       `json:"path"`
	Photo  *photoField  `json:"photo"`
	Photos []photoField `json:"photos"`
}

type photoField struct {
	URL     string `json:"url"`
	FullURL string `json:"full_size_url"`
}

// priceField tolerates the payload variants the marketplace has shipped:
// a bare string, a bare number, or {"amount": ..., "currency_code": ...}.
type priceField struct {
	Display string
	Amount  float64
}

func (p *priceField) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		p.Display = asString
		p.Amount = parseAmount(asString)
		return nil
	}

	var asNumber float64
	if err := json.Unmarshal(data, &asNumber); err == nil {
		p.Amount = asNumber
		p.Display = strconv.FormatFloat(asNumber, 'f', 2, 64)
		return nil
	}

	// The object variant ships amount as either a string or a number.
	var obj struct {
		Amount       any    `json:"amount"`
		CurrencyCode string `json:"currency_code"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("unsupported price payload: %s", string(data))
	}
	switch v := obj.Amount.(type) {
	case string:
		p.Amount = parseAmount(v)
		p.Display = strings.TrimSpace(v + " " + obj.CurrencyCode)
	case float64:
		p.Amount = v
		p.Display = strings.TrimSpace(strconv.FormatFloat(v, 'f', 2, 64) + " " + obj.CurrencyCode)
	default:
		return fmt.Errorf("unsupported price payload: %s", string(data))
	}
	return nil
}

// parseAmount pulls a numeric value out of a display price like
// "12,50 €", "EUR 12.50", or "1.234,56". The last dot or comma is the
// decimal mark when at most two digits follow it; every other separator
// is grouping and is dropped. Returns 0 when nothing numeric is present.
func parseAmount(display string) float64 {
	var b strings.Builder
	for _, r := range display {
		switch {
		case r >= '0' && r <= '9', r == '.', r == ',':
			b.WriteRune(r)
		}
	}
	raw := b.String()

	stripSeparators := func(s string) string {
		return strings.Map(func(r rune) rune {
			if r == '.' || r == ',' {
				return -1
			}
			return r
		}, s)
	}

	var normalized string
	switch sep := strings.LastIndexAny(raw, ".,"); {
	case sep < 0:
		normalized = raw
	case len(raw)-sep-1 <= 2:
		normalized = stripSeparators(raw[:sep]) + "." + raw[sep+1:]
	default:
		normalized = stripSeparators(raw)
	}

	amount, err := strconv.ParseFloat(normalized, 64)
	if err != nil {
		return 0
	}
	return amount
}

// extractEmbeddedCatalog scans the page body for a script-tag JSON blob
// containing a catalog items array and decodes it in place. Returns nil
// when no such blob is present.
func extractEmbeddedCatalog(body []byte, pageURL string) []domain.Listing {
	page := string(body)

	// The catalog blob is the only place an "items" array keyed this way
	// appears; decode directly from the bracket so surrounding page
	// state is ignored.
	for _, key := range []string{`"catalogItems":`, `"items":`} {
		idx := strings.Index(page, key)
		if idx < 0 {
			continue
		}
		rest := page[idx+len(key):]
		open := strings.IndexByte(rest, '[')
		if open < 0 {
			continue
		}

		var items []catalogItem
		dec := json.NewDecoder(strings.NewReader(rest[open:]))
		if err := dec.Decode(&items); err != nil || len(items) == 0 {
			continue
		}
		return itemsToListings(items, pageURL)
	}
	return nil
}

// fetchCatalogAPI derives the JSON catalog endpoint from a search URL
// (/catalog -> /api/v2/catalog/items) and fetches it directly.
func (c *Client) fetchCatalogAPI(ctx context.Context, searchURL string) ([]domain.Listing, error) {
	apiURL, ok := deriveCatalogAPI(searchURL)
	if !ok {
		return nil, nil
	}

	body, err := c.get(ctx, apiURL, "application/json")
	if err != nil {
		return nil, fmt.Errorf("catalog api: %w", err)
	}

	var payload struct {
		Items []catalogItem `json:"items"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("catalog api payload: %w", err)
	}
	return itemsToListings(payload.Items, searchURL), nil
}

// deriveCatalogAPI maps a /catalog search URL onto its API equivalent,
// capping the page size. Returns false when the URL has no catalog path.
func deriveCatalogAPI(searchURL string) (string, bool) {
	u, err := url.Parse(searchURL)
	if err != nil || !strings.HasPrefix(u.Path, "/catalog") {
		return "", false
	}

	api := *u
	api.Path = "/api/v2/catalog/items"
	q := api.Query()
	if q.Get("per_page") == "" {
		q.Set("per_page", "20")
	}
	api.RawQuery = q.Encode()
	return api.String(), true
}

// fetchItemAPI fetches the JSON variant of a single listing and fills the
// missing fields of listing.
func (c *Client) fetchItemAPI(ctx context.Context, pageURL, listingID string, listing *domain.Listing) error {
	u, err := url.Parse(pageURL)
	if err != nil {
		return err
	}
	api := *u
	api.Path = "/api/v2/items/" + listingID
	api.RawQuery = ""

	body, err := c.get(ctx, api.String(), "application/json")
	if err != nil {
		return err
	}

	var payload struct {
		Item catalogItem `json:"item"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return fmt.Errorf("item api payload: %w", err)
	}

	item := payload.Item
	if listing.Title == "" {
		listing.Title = strings.TrimSpace(item.Title)
	}
	if listing.Price == "" {
		listing.Price = item.Price.Display
		listing.PriceAmount = item.Price.Amount
	}
	if len(listing.ImageURLs) == 0 {
		listing.ImageURLs = photoURLs(item)
	}
	return nil
}

func itemsToListings(items []catalogItem, pageURL string) []domain.Listing {
	base, _ := url.Parse(pageURL)

	listings := make([]domain.Listing, 0, len(items))
	for _, item := range items {
		id := item.ID.String()
		if id == "" {
			continue
		}

		listingURL := strings.TrimSpace(item.URL)
		if listingURL == "" {
			listingURL = strings.TrimSpace(item.Path)
		}
		if listingURL == "" && base != nil {
			listingURL = base.Scheme + "://" + base.Host + "/items/" + id
		} else if base != nil {
			if ref, err := url.Parse(listingURL); err == nil {
				listingURL = base.ResolveReference(ref).String()
			}
		}

		listings = append(listings, domain.Listing{
			ListingID:   id,
			Title:       strings.TrimSpace(item.Title),
			Price:       item.Price.Display,
			PriceAmount: item.Price.Amount,
			ImageURLs:   photoURLs(item),
			URL:         listingURL,
		})
	}
	return listings
}

func photoURLs(item catalogItem) []string {
	urls := make([]string, 0, len(item.Photos)+1)
	for _, p := range item.Photos {
		if u := firstNonEmpty(p.FullURL, p.URL); u != "" {
			urls = append(urls, u)
		}
	}
	if len(urls) == 0 && item.Photo != nil {
		if u := firstNonEmpty(item.Photo.FullURL, item.Photo.URL); u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

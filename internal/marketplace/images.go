package marketplace

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// extractMarkupImages is the first image strategy: <img> tags whose
// source points at the marketplace CDN. Thumbnails under /thumbs/ are
// skipped in favor of full-size photos when both appear.
func (c *Client) extractMarkupImages(body []byte) []string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil
	}

	var urls []string
	seen := make(map[string]struct{})
	doc.Find("img").Each(func(_ int, sel *goquery.Selection) {
		src, ok := sel.Attr("src")
		if !ok {
			src, _ = sel.Attr("data-src")
		}
		if src == "" || !strings.Contains(src, c.cdnHost) {
			return
		}
		if _, dup := seen[src]; dup {
			return
		}
		seen[src] = struct{}{}
		urls = append(urls, src)
	})

	if full := withoutThumbnails(urls); len(full) > 0 {
		return full
	}
	return urls
}

// extractBlobImages is the second image strategy: scan the page's
// embedded JSON state for CDN image URLs.
func (c *Client) extractBlobImages(body []byte) []string {
	matches := c.imagePattern.FindAllString(string(body), -1)

	var urls []string
	seen := make(map[string]struct{})
	for _, m := range matches {
		// Embedded JSON escapes slashes.
		m = strings.ReplaceAll(m, `\/`, `/`)
		if _, dup := seen[m]; dup {
			continue
		}
		seen[m] = struct{}{}
		urls = append(urls, m)
	}

	if full := withoutThumbnails(urls); len(full) > 0 {
		return full
	}
	return urls
}

func withoutThumbnails(urls []string) []string {
	var full []string
	for _, u := range urls {
		if !strings.Contains(u, "/thumbs/") {
			full = append(full, u)
		}
	}
	return full
}

// extractListingFields pulls the title and display price from listing
// page markup, preferring OpenGraph metadata.
func extractListingFields(body []byte) (title, price string, amount float64) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", "", 0
	}

	if v, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok {
		title = strings.TrimSpace(v)
	}
	if title == "" {
		title = strings.TrimSpace(doc.Find("title").First().Text())
	}

	if v, ok := doc.Find(`meta[property="product:price:amount"]`).Attr("content"); ok {
		amount = parseAmount(v)
		price = strings.TrimSpace(v)
		if cur, ok := doc.Find(`meta[property="product:price:currency"]`).Attr("content"); ok {
			price = price + " " + strings.TrimSpace(cur)
		}
	}
	return title, price, amount
}

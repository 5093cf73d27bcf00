package domain

import "time"

// Listing is an ephemeral listing snapshot produced by the marketplace
// adapter. It is never persisted; the pipeline consumes it immediately.
type Listing struct {
	// ListingID is the marketplace's external identifier.
	ListingID string

	Title string

	// Price is the display price as the marketplace renders it,
	// e.g. "12.50 EUR".
	Price string

	// PriceAmount is the numeric price used for buy-advice math. Zero
	// when the amount could not be parsed.
	PriceAmount float64

	// ImageURLs are the listing photos in marketplace order.
	ImageURLs []string

	// URL is the canonical listing page.
	URL string
}

// AnalyzedListing is the permanent dedup marker: one row per external
// listing identifier ever classified, written whether or not the listing
// turned out valuable. Created once, never updated or deleted.
type AnalyzedListing struct {
	ID        string
	ListingID string

	// SearchID is the definition that triggered the analysis; empty for
	// manual scans.
	SearchID string

	Confidence int
	Valuable   bool
	AnalyzedAt time.Time
}

// Classification is the vision classifier's verdict for one listing.
type Classification struct {
	// Confidence is the 0-100 likelihood of genuine valuable material.
	Confidence int

	Valuable bool

	// Materials lists what the classifier believes it saw,
	// e.g. "14K Gold", "Sterling Silver".
	Materials []string

	// Reasoning is the classifier's free-text explanation.
	Reasoning string
}

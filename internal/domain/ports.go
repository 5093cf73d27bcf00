package domain

import (
	"context"
	"time"
)

// SearchStore defines persistence operations for search definitions.
type SearchStore interface {
	// ListSearches returns definitions in stable creation order. When
	// activeOnly is set, inactive definitions are filtered out.
	ListSearches(ctx context.Context, activeOnly bool) ([]SearchDefinition, error)

	// GetSearch returns ErrSearchNotFound for an unknown id.
	GetSearch(ctx context.Context, id string) (*SearchDefinition, error)

	CreateSearch(ctx context.Context, def *SearchDefinition) error
	UpdateSearch(ctx context.Context, def *SearchDefinition) error
	DeleteSearch(ctx context.Context, id string) (bool, error)

	// UpdateLastScanned records the completion time of a scan pass.
	UpdateLastScanned(ctx context.Context, id string, t time.Time) error
}

// MarkerStore defines persistence for the permanent dedup ledger.
type MarkerStore interface {
	// FindMarker returns (nil, nil) when the listing has never been
	// analyzed.
	FindMarker(ctx context.Context, listingID string) (*AnalyzedListing, error)

	// CreateMarker inserts a marker, returning ErrDuplicateMarker when a
	// row for the same listing identifier already exists.
	CreateMarker(ctx context.Context, marker *AnalyzedListing) error
}

// FindingStore defines persistence operations for findings.
type FindingStore interface {
	// ListFindings returns findings whose expiry is after now, newest
	// first.
	ListFindings(ctx context.Context, now time.Time) ([]Finding, error)

	CreateFinding(ctx context.Context, f *Finding) error

	// SetNotified flips the delivery flag after a successful alert.
	SetNotified(ctx context.Context, id string) error

	DeleteFinding(ctx context.Context, id string) (bool, error)

	// DeleteExpired removes every finding with expiry at or before now
	// and returns the number of rows removed. Safe to run with zero
	// matching rows.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// ManualScanStore defines persistence operations for manual scan results.
type ManualScanStore interface {
	ListManualScans(ctx context.Context) ([]ManualScan, error)
	CreateManualScan(ctx context.Context, scan *ManualScan) error
	DeleteManualScan(ctx context.Context, id string) (bool, error)
}

// ListingSource fetches and extracts marketplace listings.
type ListingSource interface {
	// FetchSearchResults returns the listings visible on a search page.
	// A network failure or an unparseable page yields an empty slice and
	// a diagnostic error; callers treat both as "no listings".
	FetchSearchResults(ctx context.Context, searchURL string) ([]Listing, error)

	// FetchListing resolves a single listing page. It returns
	// ErrInvalidListingURL when no identifier can be extracted from the
	// URL, and (nil, nil) when the page cannot be fetched.
	FetchListing(ctx context.Context, listingURL string) (*Listing, error)
}

// Classifier obtains a vision verdict for a listing. Implementations must
// tolerate an empty image list by returning a zero-confidence verdict
// without a network call.
type Classifier interface {
	Classify(ctx context.Context, imageURLs []string, title string) (Classification, error)
}

// Alert carries the display fields for one outbound notification.
type Alert struct {
	Title      string
	URL        string
	Price      string
	Confidence int
	Materials  []string
	Reasoning  string
	Advice     Advice
}

// Alerter delivers a best-effort notification. The boolean is delivery
// success; failures are logged by the implementation and never retried.
type Alerter interface {
	Send(ctx context.Context, alert Alert) bool
}

// FindingPublisher receives each newly created finding, e.g. to push it to
// connected dashboard clients.
type FindingPublisher interface {
	PublishFinding(f *Finding)
}

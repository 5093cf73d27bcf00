package domain

import "time"

// FindingRetention is how long a finding stays before the expiry sweep
// removes it.
const FindingRetention = 15 * 24 * time.Hour

// Finding is a listing that cleared its search's confidence threshold and
// was judged valuable. Findings are retained for FindingRetention and then
// swept.
type Finding struct {
	ID           string
	ListingID    string
	ListingURL   string
	ListingTitle string
	Price        string
	PriceAmount  float64
	Confidence   int
	Materials    []string
	Reasoning    string
	SearchID     string

	// Notified is set once the alert channel confirms delivery. False is
	// a valid terminal state; delivery is never retried.
	Notified bool

	FoundAt   time.Time
	ExpiresAt time.Time
}

// Expired reports whether the finding's retention window has passed.
func (f *Finding) Expired(now time.Time) bool {
	return now.After(f.ExpiresAt)
}

// ManualScan is the outcome of a user-triggered single-listing analysis.
// Unlike findings, manual scans are not subject to expiry and are kept
// until deleted explicitly.
type ManualScan struct {
	ID           string
	ListingURL   string
	ListingTitle string
	Price        string
	PriceAmount  float64
	Confidence   int
	Valuable     bool
	Materials    []string
	Reasoning    string
	ScannedAt    time.Time
}

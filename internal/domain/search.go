package domain

import "time"

// SearchDefinition is a saved, recurring marketplace query. It is owned by
// the admin API; the scan pipeline only reads it and bumps LastScannedAt
// after a completed pass.
type SearchDefinition struct {
	ID string

	// SearchURL is the marketplace catalog URL to scan.
	SearchURL string

	// Label is the human-readable name shown in logs and the dashboard.
	Label string

	// ScanIntervalHours is the minimum number of hours between scans.
	ScanIntervalHours int

	// ConfidenceThreshold is the minimum classifier confidence (0-100)
	// required for a listing to become a finding.
	ConfidenceThreshold int

	// Active controls whether the scheduler considers this definition.
	Active bool

	// LastScannedAt is nil until the first completed scan.
	LastScannedAt *time.Time

	CreatedAt time.Time
}

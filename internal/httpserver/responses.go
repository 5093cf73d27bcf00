package httpserver

import (
	"time"

	"github.com/gemscout/gemscout/internal/domain"
)

type searchResponse struct {
	ID                  string     `json:"id"`
	SearchURL           string     `json:"search_url"`
	Label               string     `json:"label"`
	ScanIntervalHours   int        `json:"scan_interval_hours"`
	ConfidenceThreshold int        `json:"confidence_threshold"`
	Active              bool       `json:"active"`
	LastScannedAt       *time.Time `json:"last_scanned_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
}

func toSearchResponse(def *domain.SearchDefinition) searchResponse {
	return searchResponse{
		ID:                  def.ID,
		SearchURL:           def.SearchURL,
		Label:               def.Label,
		ScanIntervalHours:   def.ScanIntervalHours,
		ConfidenceThreshold: def.ConfidenceThreshold,
		Active:              def.Active,
		LastScannedAt:       def.LastScannedAt,
		CreatedAt:           def.CreatedAt,
	}
}

type findingResponse struct {
	ID           string    `json:"id"`
	ListingID    string    `json:"listing_id"`
	ListingURL   string    `json:"listing_url"`
	ListingTitle string    `json:"listing_title"`
	Price        string    `json:"price"`
	Confidence   int       `json:"confidence"`
	Materials    []string  `json:"materials"`
	Reasoning    string    `json:"reasoning"`
	Advice       string    `json:"advice"`
	SearchID     string    `json:"search_id"`
	Notified     bool      `json:"notified"`
	FoundAt      time.Time `json:"found_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

func toFindingResponse(f *domain.Finding) findingResponse {
	return findingResponse{
		ID:           f.ID,
		ListingID:    f.ListingID,
		ListingURL:   f.ListingURL,
		ListingTitle: f.ListingTitle,
		Price:        f.Price,
		Confidence:   f.Confidence,
		Materials:    f.Materials,
		Reasoning:    f.Reasoning,
		Advice:       string(domain.BuyAdvice(f.Confidence, f.PriceAmount)),
		SearchID:     f.SearchID,
		Notified:     f.Notified,
		FoundAt:      f.FoundAt,
		ExpiresAt:    f.ExpiresAt,
	}
}

type manualScanResponse struct {
	ID           string    `json:"id"`
	ListingURL   string    `json:"listing_url"`
	ListingTitle string    `json:"listing_title"`
	Price        string    `json:"price"`
	Confidence   int       `json:"confidence"`
	Valuable     bool      `json:"valuable"`
	Materials    []string  `json:"materials"`
	Reasoning    string    `json:"reasoning"`
	Advice       string    `json:"advice"`
	ScannedAt    time.Time `json:"scanned_at"`
}

func toManualScanResponse(scan *domain.ManualScan) manualScanResponse {
	return manualScanResponse{
		ID:           scan.ID,
		ListingURL:   scan.ListingURL,
		ListingTitle: scan.ListingTitle,
		Price:        scan.Price,
		Confidence:   scan.Confidence,
		Valuable:     scan.Valuable,
		Materials:    scan.Materials,
		Reasoning:    scan.Reasoning,
		Advice:       string(domain.BuyAdvice(scan.Confidence, scan.PriceAmount)),
		ScannedAt:    scan.ScannedAt,
	}
}

package domain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/gemscout/gemscout/internal/metrics"
)

// maxClassifierImages bounds how many listing photos are sent to the
// vision classifier per listing.
const maxClassifierImages = 4

// seenCacheSize bounds the in-process cache of already-analyzed listing
// identifiers kept in front of the marker store.
const seenCacheSize = 4096

// Store aggregates the persistence interfaces the pipeline consumes. The
// sqlite repository implements all of them.
type Store interface {
	SearchStore
	MarkerStore
	FindingStore
	ManualScanStore
}

// ScanService is the core pipeline: it turns a search definition into
// listings, gates them through dedup and classification, materializes
// qualifying listings as findings, and dispatches alerts.
type ScanService struct {
	store      Store
	source     ListingSource
	classifier Classifier
	alerter    Alerter
	logger     *slog.Logger

	publisher FindingPublisher
	metrics   *metrics.Metrics

	// seen caches listing identifiers already known to have a marker so
	// repeat sightings within a process lifetime skip the store lookup.
	seen *lru.Cache[string, struct{}]

	now func() time.Time
}

// NewScanService wires the pipeline's collaborators together.
func NewScanService(store Store, source ListingSource, classifier Classifier, alerter Alerter, logger *slog.Logger) (*ScanService, error) {
	seen, err := lru.New[string, struct{}](seenCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create seen cache: %w", err)
	}
	return &ScanService{
		store:      store,
		source:     source,
		classifier: classifier,
		alerter:    alerter,
		logger:     logger,
		seen:       seen,
		now:        time.Now,
	}, nil
}

// SetPublisher registers an optional receiver for newly created findings.
func (s *ScanService) SetPublisher(p FindingPublisher) {
	s.publisher = p
}

// SetMetrics registers optional Prometheus collectors.
func (s *ScanService) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// ScanSearch runs one pipeline pass for a single definition. A fetch
// failure is a normal empty result; storage errors propagate so the
// scheduler can log them without aborting sibling definitions. The
// definition's last-scanned timestamp is updated once the pass completes.
func (s *ScanService) ScanSearch(ctx context.Context, def *SearchDefinition) (int, error) {
	s.logger.Info("starting scan", "search", def.Label)

	listings, err := s.source.FetchSearchResults(ctx, def.SearchURL)
	if err != nil {
		s.logger.Warn("search fetch yielded no listings", "search", def.Label, "error", err)
	}
	s.metrics.AddListingsSeen(len(listings))

	newFindings := 0
	for i := range listings {
		created, err := s.processListing(ctx, &listings[i], def)
		if err != nil {
			return newFindings, err
		}
		if created {
			newFindings++
		}
	}

	if err := s.store.UpdateLastScanned(ctx, def.ID, s.now()); err != nil {
		return newFindings, fmt.Errorf("update last scanned: %w", err)
	}

	s.logger.Info("scan complete",
		"search", def.Label,
		"listings", len(listings),
		"new_findings", newFindings,
	)
	return newFindings, nil
}

// TriggerSearch runs ScanSearch for a definition by id. It does not
// consult the scheduler's cycle flag; a manual trigger may overlap a
// scheduled cycle on other definitions.
func (s *ScanService) TriggerSearch(ctx context.Context, id string) (int, error) {
	def, err := s.store.GetSearch(ctx, id)
	if err != nil {
		return 0, err
	}
	return s.ScanSearch(ctx, def)
}

// ScanListing runs the manual single-listing path: fetch, classify,
// persist a ManualScan record. Unlike the scheduled pipeline it surfaces
// input errors (ErrInvalidListingURL), a missing listing
// (ErrListingNotFound), and ErrClassifierDisabled to the caller.
func (s *ScanService) ScanListing(ctx context.Context, listingURL string) (*ManualScan, error) {
	listing, err := s.source.FetchListing(ctx, listingURL)
	if err != nil {
		return nil, err
	}
	if listing == nil {
		return nil, ErrListingNotFound
	}

	verdict, err := s.classifier.Classify(ctx, boundImages(listing.ImageURLs), listing.Title)
	if err != nil {
		if errors.Is(err, ErrClassifierDisabled) {
			return nil, err
		}
		s.logger.Warn("classifier failed during manual scan", "listing_id", listing.ListingID, "error", err)
		verdict = Classification{Reasoning: "classification failed: " + err.Error()}
	}
	s.metrics.IncClassified(verdict.Valuable)

	scan := &ManualScan{
		ListingURL:   listingURL,
		ListingTitle: listing.Title,
		Price:        listing.Price,
		PriceAmount:  listing.PriceAmount,
		Confidence:   verdict.Confidence,
		Valuable:     verdict.Valuable,
		Materials:    verdict.Materials,
		Reasoning:    verdict.Reasoning,
		ScannedAt:    s.now(),
	}
	if err := s.store.CreateManualScan(ctx, scan); err != nil {
		return nil, fmt.Errorf("create manual scan: %w", err)
	}
	return scan, nil
}

// SweepExpired removes findings whose retention window has passed.
func (s *ScanService) SweepExpired(ctx context.Context) (int64, error) {
	deleted, err := s.store.DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("delete expired findings: %w", err)
	}
	if deleted > 0 {
		s.logger.Info("expired findings swept", "deleted", deleted)
	}
	return deleted, nil
}

// processListing takes one listing through dedup, classification, finding
// creation, and alerting. It returns true when a finding was created.
func (s *ScanService) processListing(ctx context.Context, listing *Listing, def *SearchDefinition) (bool, error) {
	if _, ok := s.seen.Get(listing.ListingID); ok {
		s.metrics.IncDedupSkipped()
		return false, nil
	}

	marker, err := s.store.FindMarker(ctx, listing.ListingID)
	if err != nil {
		return false, fmt.Errorf("find marker: %w", err)
	}
	if marker != nil {
		s.seen.Add(listing.ListingID, struct{}{})
		s.metrics.IncDedupSkipped()
		return false, nil
	}

	s.logger.Info("analyzing new listing", "listing_id", listing.ListingID, "title", listing.Title)
	verdict := s.classifyListing(ctx, listing)

	// The marker is written whether or not the listing qualified, so that
	// low-confidence listings are not re-analyzed on later cycles.
	err = s.store.CreateMarker(ctx, &AnalyzedListing{
		ListingID:  listing.ListingID,
		SearchID:   def.ID,
		Confidence: verdict.Confidence,
		Valuable:   verdict.Valuable,
		AnalyzedAt: s.now(),
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateMarker) {
			s.logger.Warn("marker already exists, skipping listing", "listing_id", listing.ListingID)
			s.seen.Add(listing.ListingID, struct{}{})
			return false, nil
		}
		return false, fmt.Errorf("create marker: %w", err)
	}
	s.seen.Add(listing.ListingID, struct{}{})

	if verdict.Confidence < def.ConfidenceThreshold || !verdict.Valuable {
		s.logger.Debug("listing below threshold",
			"listing_id", listing.ListingID,
			"confidence", verdict.Confidence,
			"threshold", def.ConfidenceThreshold,
		)
		return false, nil
	}

	now := s.now()
	finding := &Finding{
		ListingID:    listing.ListingID,
		ListingURL:   listing.URL,
		ListingTitle: listing.Title,
		Price:        listing.Price,
		PriceAmount:  listing.PriceAmount,
		Confidence:   verdict.Confidence,
		Materials:    verdict.Materials,
		Reasoning:    verdict.Reasoning,
		SearchID:     def.ID,
		FoundAt:      now,
		ExpiresAt:    now.Add(FindingRetention),
	}
	if err := s.store.CreateFinding(ctx, finding); err != nil {
		return false, fmt.Errorf("create finding: %w", err)
	}
	s.metrics.IncFindings()
	s.logger.Info("valuable listing found",
		"listing_id", listing.ListingID,
		"confidence", verdict.Confidence,
		"materials", verdict.Materials,
	)

	if s.publisher != nil {
		s.publisher.PublishFinding(finding)
	}

	sent := s.alerter.Send(ctx, Alert{
		Title:      finding.ListingTitle,
		URL:        finding.ListingURL,
		Price:      finding.Price,
		Confidence: finding.Confidence,
		Materials:  finding.Materials,
		Reasoning:  finding.Reasoning,
		Advice:     BuyAdvice(finding.Confidence, finding.PriceAmount),
	})
	s.metrics.IncAlert(sent)
	if sent {
		if err := s.store.SetNotified(ctx, finding.ID); err != nil {
			// The finding exists either way; an unsent flag is a valid
			// terminal state.
			s.logger.Error("mark finding notified", "finding_id", finding.ID, "error", err)
		} else {
			finding.Notified = true
		}
	}

	return true, nil
}

// classifyListing degrades any classifier failure to a zero-confidence
// verdict so an unreachable external dependency never aborts a cycle.
func (s *ScanService) classifyListing(ctx context.Context, listing *Listing) Classification {
	verdict, err := s.classifier.Classify(ctx, boundImages(listing.ImageURLs), listing.Title)
	if err != nil {
		if errors.Is(err, ErrClassifierDisabled) {
			s.logger.Debug("classifier disabled, treating listing as not valuable", "listing_id", listing.ListingID)
		} else {
			s.logger.Warn("classifier failed, treating listing as not valuable", "listing_id", listing.ListingID, "error", err)
		}
		return Classification{Reasoning: "classification unavailable"}
	}
	s.metrics.IncClassified(verdict.Valuable)
	return verdict
}

func boundImages(urls []string) []string {
	if len(urls) > maxClassifierImages {
		return urls[:maxClassifierImages]
	}
	return urls
}

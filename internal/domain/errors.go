package domain

import "errors"

var (
	// ErrInvalidListingURL indicates a manual-scan URL that does not
	// contain a recognizable listing identifier.
	ErrInvalidListingURL = errors.New("invalid listing url")

	// ErrListingNotFound indicates the listing page could not be fetched
	// or parsed by any strategy.
	ErrListingNotFound = errors.New("listing not found")

	// ErrSearchNotFound indicates an unknown search definition id.
	ErrSearchNotFound = errors.New("search definition not found")

	// ErrClassifierDisabled is returned by the no-op classifier when no
	// API key is configured. The scheduled pipeline degrades it to a
	// zero-confidence verdict; the manual path surfaces it to the caller.
	ErrClassifierDisabled = errors.New("classifier disabled")

	// ErrDuplicateMarker indicates a second marker write for the same
	// listing identifier. The store maps its uniqueness violation to this
	// error so the pipeline can skip without crashing.
	ErrDuplicateMarker = errors.New("listing already analyzed")
)

package vision

import (
	"context"

	"github.com/gemscout/gemscout/internal/domain"
)

// Noop is the classifier injected when no API key is configured. The
// scheduled pipeline degrades its error to a zero-confidence verdict; the
// manual path surfaces it to the caller.
type Noop struct{}

// NewNoop returns the disabled classifier.
func NewNoop() Noop {
	return Noop{}
}

// Classify always reports domain.ErrClassifierDisabled.
func (Noop) Classify(context.Context, []string, string) (domain.Classification, error) {
	return domain.Classification{}, domain.ErrClassifierDisabled
}

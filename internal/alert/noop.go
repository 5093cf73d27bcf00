package alert

import (
	"context"
	"log/slog"

	"github.com/gemscout/gemscout/internal/domain"
)

// Noop is the alerter injected when the channel is unconfigured. Every
// send reports failure, leaving findings with their notified flag unset.
type Noop struct {
	logger *slog.Logger
}

// NewNoop returns the disabled alerter.
func NewNoop(logger *slog.Logger) Noop {
	if logger == nil {
		logger = slog.Default()
	}
	return Noop{logger: logger}
}

// Send logs the skipped alert and reports non-delivery.
func (n Noop) Send(_ context.Context, a domain.Alert) bool {
	n.logger.Debug("alert channel not configured, skipping", "title", a.Title)
	return false
}

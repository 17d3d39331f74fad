// Package errortracking forwards failures to the process log and the reported-errors metric.
package errortracking

import (
	"context"
	"errors"

	"reserve_tracker/internal/app/port"
	"reserve_tracker/internal/pkg/fetcherr"
	"reserve_tracker/internal/pkg/metrics"
)

// Reporter implements port.ErrorReporter.
type Reporter struct {
	logger  port.Logger
	metrics *metrics.Metrics
}

// NewReporter creates a Reporter. m may be nil.
func NewReporter(logger port.Logger, m *metrics.Metrics) *Reporter {
	return &Reporter{logger: logger, metrics: m}
}

// Report logs err with the given key/value context and counts it by failure kind.
// Cancellation is logged at debug level and not counted.
func (r *Reporter) Report(ctx context.Context, err error, fields ...any) {
	if err == nil {
		return
	}
	if errors.Is(err, context.Canceled) || ctx.Err() != nil {
		r.logger.Debug("Suppressed report after cancellation", append(fields, "error", err)...)
		return
	}
	kind := fetcherr.KindOf(err)
	r.metrics.IncReportedError(kind.String())
	args := make([]any, 0, len(fields)+4)
	args = append(args, fields...)
	args = append(args, "kind", kind.String(), "error", err)
	r.logger.Error("Reported failure", args...)
}

var _ port.ErrorReporter = (*Reporter)(nil)

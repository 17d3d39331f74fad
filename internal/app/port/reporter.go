package port

import "context"

// ErrorReporter forwards failures to the error-tracking collaborator.
type ErrorReporter interface {
	Report(ctx context.Context, err error, fields ...any)
}

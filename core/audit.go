package core

import (
	"context"
)

// AuthEventLogger records token validation outcomes to an external sink.
// Implementations should be non-blocking and best-effort; a sink failure
// must never affect the request outcome.
type AuthEventLogger interface {
	// LogValidation records one validation attempt. kind is empty on success.
	LogValidation(ctx context.Context, subject string, issuer string, kind FailureKind, ip *string, userAgent *string) error
}

package core

import (
	"errors"
	"fmt"
)

// FailureKind is the closed set of reasons a token can be rejected. Every
// rejection is terminal for the call that produced it; callers retry only by
// presenting a new request.
type FailureKind string

const (
	// FailMalformed: the token does not parse as a compact JWS.
	FailMalformed FailureKind = "malformed"
	// FailAlgorithmRejected: declared algorithm absent from policy, or "none".
	FailAlgorithmRejected FailureKind = "algorithm_rejected"
	// FailKeyUnresolvable: no matching signing key, or the key source could
	// not be reached.
	FailKeyUnresolvable FailureKind = "key_unresolvable"
	// FailSignatureInvalid: cryptographic verification failed.
	FailSignatureInvalid FailureKind = "signature_invalid"
	// FailIssuerRejected: iss claim matches no accepted issuer variant.
	FailIssuerRejected FailureKind = "issuer_rejected"
	// FailAudienceRejected: aud claim does not carry the expected audience.
	FailAudienceRejected FailureKind = "audience_rejected"
	// FailExpired: exp is past the skew-adjusted deadline.
	FailExpired FailureKind = "expired"
	// FailNotYetValid: nbf (or iat) lies in the skew-adjusted future.
	FailNotYetValid FailureKind = "not_yet_valid"
	// FailFetch: the key source endpoint was unreachable or returned an
	// unparsable key set within the timeout.
	FailFetch FailureKind = "fetch_error"
)

// ValidationError carries a FailureKind plus the underlying cause for
// internal logging. The external HTTP surface should map every kind to a
// generic authentication failure rather than leaking which check failed.
type ValidationError struct {
	Kind FailureKind
	Err  error
}

func (e *ValidationError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Failf builds a ValidationError with a formatted cause.
func Failf(kind FailureKind, format string, args ...any) *ValidationError {
	return &ValidationError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// FailWith wraps an existing cause under the given kind.
func FailWith(kind FailureKind, err error) *ValidationError {
	return &ValidationError{Kind: kind, Err: err}
}

// KindOf extracts the FailureKind from err, if err is (or wraps) a
// ValidationError.
func KindOf(err error) (FailureKind, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Kind, true
	}
	return "", false
}

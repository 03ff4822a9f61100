package activitypub

import "errors"

// Error taxonomy for verification, resolution and dispatch. Handlers wrap
// these with fmt.Errorf("...: %w", err) so callers can classify with
// errors.Is while logs keep the full chain.
var (
	// Signature header parsing
	ErrNoSignatureHeader  = errors.New("no signature header in request")
	ErrNoSignatureType    = errors.New("authorization header is not of type Signature")
	ErrNoSignatureValue   = errors.New("signature header carries no signature value")
	ErrMalformedSignature = errors.New("malformed signature")

	// Verification
	ErrDigestMismatch   = errors.New("digest header does not match body")
	ErrInvalidSignature = errors.New("signature verification failed")

	// Resolution
	ErrBlocked      = errors.New("instance is blocked")
	ErrFetch        = errors.New("remote fetch failed")
	ErrTypeMismatch = errors.New("remote document has unexpected type")

	// Dispatch
	ErrNotFound  = errors.New("referenced object is not known locally")
	ErrDuplicate = errors.New("activity already applied") // no-op outcome, not a failure
	ErrStore     = errors.New("store operation failed")
)

package relay

import "errors"

// Sentinel errors for the relay's terminal failure kinds. Every failure ends
// the session it occurred in; nothing is retried. The HTTP and WebSocket
// layers map these to status codes and close frames.
var (
	// ErrBadRequest means the client input was missing or invalid before any
	// upstream contact was made. Maps to 400.
	ErrBadRequest = errors.New("relay: bad request")

	// ErrUnauthenticated means no bearer token was presented. Maps to 401.
	ErrUnauthenticated = errors.New("relay: unauthenticated")

	// ErrForbidden means the presented bearer token did not match. Maps to 403.
	ErrForbidden = errors.New("relay: forbidden")

	// ErrUpstreamUnavailable means the vendor session could not be
	// established or configured. Maps to 500.
	ErrUpstreamUnavailable = errors.New("relay: upstream unavailable")

	// ErrBadFrame means an inbound audio chunk did not decode to a whole
	// number of 16-bit samples. Maps to 400.
	ErrBadFrame = errors.New("relay: malformed audio frame")

	// ErrEncodingFailure means the outbound WAV envelope could not be
	// produced. Maps to 500.
	ErrEncodingFailure = errors.New("relay: wav encoding failed")

	// ErrTimeout means the upstream produced no completion within the
	// session's bounded wait.
	ErrTimeout = errors.New("relay: session timed out")

	// ErrCanceled means the serving context was cancelled, e.g. server
	// shutdown or an abandoned HTTP request. Distinct from ErrTimeout: the
	// session did not stall, its caller went away.
	ErrCanceled = errors.New("relay: session canceled")

	// ErrUpstreamError wraps a vendor-reported error event.
	ErrUpstreamError = errors.New("relay: upstream error")
)

// Kind returns the short metric/log label for a relay error, or "internal"
// for anything unrecognized.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrBadRequest):
		return "bad_request"
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrUpstreamUnavailable):
		return "upstream_unavailable"
	case errors.Is(err, ErrBadFrame):
		return "bad_frame"
	case errors.Is(err, ErrEncodingFailure):
		return "encoding_failure"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrCanceled):
		return "canceled"
	case errors.Is(err, ErrUpstreamError):
		return "upstream_error"
	default:
		return "internal"
	}
}

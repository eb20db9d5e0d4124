package delivery

import "errors"

var (
	// ErrNoEndpoint is returned before any I/O when the webhook URL is empty.
	ErrNoEndpoint = errors.New("webhook endpoint is not configured")
	// ErrPrimaryFailed marks a failed JSON attempt. It is recorded on the
	// Result and only surfaces inside a fallback failure.
	ErrPrimaryFailed = errors.New("primary transport failed")
	// ErrFallbackFailed marks a call where both tiers failed.
	ErrFallbackFailed = errors.New("fallback transport failed")
)

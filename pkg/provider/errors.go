package provider

import (
	"errors"
	"fmt"
)

// ErrMissingCredential reports that no API key is configured for the
// provider. It is a configuration problem, not a transient failure.
var ErrMissingCredential = errors.New("missing API credential")

// RemoteCallError wraps a failed call to the model service: network errors,
// authentication, rate limits and timeouts all end up here.
type RemoteCallError struct {
	Provider   string
	StatusCode int // 0 when no HTTP response was received
	Err        error
}

func (e *RemoteCallError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: HTTP %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: request failed: %v", e.Provider, e.Err)
}

func (e *RemoteCallError) Unwrap() error { return e.Err }

func missingCredential(provider, envVar string) error {
	return fmt.Errorf("%s: API key not set (%s): %w", provider, envVar, ErrMissingCredential)
}

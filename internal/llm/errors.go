// Package llm provides the provider client used for pre-phase health
// checks, and the failure classification that maps provider errors onto
// the pipeline's three failure kinds.
package llm

import "fmt"

// ErrorKind classifies a provider failure.
type ErrorKind string

const (
	// KindConfigRequired means credentials or provider configuration are
	// missing or rejected. Not retried; the run waits for a config update.
	KindConfigRequired ErrorKind = "config_required"
	// KindTransient means a rate-limit, timeout, or availability failure
	// that is worth retrying.
	KindTransient ErrorKind = "transient"
	// KindFatal is everything else.
	KindFatal ErrorKind = "fatal"
)

// ProviderError is a classified provider failure.
type ProviderError struct {
	Kind    ErrorKind
	Message string
	Wrapped error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error (%s): %s", e.Kind, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Wrapped
}

// NewProviderError builds a classified error around a message.
func NewProviderError(kind ErrorKind, message string) *ProviderError {
	return &ProviderError{Kind: kind, Message: message}
}

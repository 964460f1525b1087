package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
)

// Classify maps an arbitrary provider failure onto a ProviderError.
// Already-classified errors pass through unchanged. API errors classify by
// status code; everything else falls back to message heuristics so that
// wrapped transport errors still land in the right bucket.
func Classify(err error) *ProviderError {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr
	}

	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		return &ProviderError{Kind: kindForStatus(apierr.StatusCode), Message: apierr.Error(), Wrapped: err}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &ProviderError{Kind: KindTransient, Message: "provider call timed out", Wrapped: err}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "401", "403", "invalid api key", "invalid x-api-key", "credits", "quota", "missing env var", "no credentials"):
		return &ProviderError{Kind: KindConfigRequired, Message: err.Error(), Wrapped: err}
	case containsAny(msg, "429", "timeout", "timed out", "temporarily unavailable", "overloaded", "connection refused", "connection reset"):
		return &ProviderError{Kind: KindTransient, Message: err.Error(), Wrapped: err}
	default:
		return &ProviderError{Kind: KindFatal, Message: err.Error(), Wrapped: err}
	}
}

func kindForStatus(status int) ErrorKind {
	switch {
	case status == 401 || status == 403:
		return KindConfigRequired
	case status == 408 || status == 429 || status >= 500:
		return KindTransient
	default:
		return KindFatal
	}
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

package llm

import (
	"errors"
	"fmt"
)

// RateLimitError indicates the provider rejected the call for quota reasons.
// Callers may retry on another provider or after a delay.
type RateLimitError struct {
	Provider string
	Err      error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("provider %s rate limited: %v", e.Provider, e.Err)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// TimeoutError indicates the call exceeded the provider's timeout budget.
type TimeoutError struct {
	Provider string
	Err      error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("provider %s timed out: %v", e.Provider, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// BadRequestError is permanent: the same payload will fail on every
// provider, so fallback chains must abort instead of moving on.
type BadRequestError struct {
	Provider string
	Err      error
}

func (e *BadRequestError) Error() string {
	return fmt.Sprintf("provider %s rejected request: %v", e.Provider, e.Err)
}

func (e *BadRequestError) Unwrap() error { return e.Err }

// ProviderError covers everything that is not a rate limit, timeout or
// bad request.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s failed: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsRateLimit reports whether err is a provider rate limit.
func IsRateLimit(err error) bool {
	var target *RateLimitError
	return errors.As(err, &target)
}

// IsTimeout reports whether err is a provider timeout.
func IsTimeout(err error) bool {
	var target *TimeoutError
	return errors.As(err, &target)
}

// IsBadRequest reports whether err is permanent for this payload.
func IsBadRequest(err error) bool {
	var target *BadRequestError
	return errors.As(err, &target)
}

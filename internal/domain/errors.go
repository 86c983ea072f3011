package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("already exists")
	ErrMalformedRecord    = errors.New("malformed provider record")
	ErrPriceUnavailable   = errors.New("price unavailable")
	ErrOutOfOrder         = errors.New("transaction older than last applied")
	ErrUnsupportedNetwork = errors.New("unsupported network")
	ErrInvalidAddress     = errors.New("invalid wallet address")
	ErrLockHeld           = errors.New("lock already held")
)

// ProviderError wraps a data-provider failure and carries the transient vs
// permanent distinction the scheduler honours: transient failures are retried
// with backoff, permanent ones suspend the poller for that pair.
type ProviderError struct {
	Op         string
	Network    Network
	StatusCode int
	Transient  bool
	Err        error
}

func (e *ProviderError) Error() string {
	msg := "provider: " + e.Op
	if e.Network != "" {
		msg += " (" + string(e.Network) + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsTransientProviderError reports whether err is a provider failure worth
// retrying. Non-provider errors (network timeouts wrapped by callers) are
// treated as transient by default.
func IsTransientProviderError(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Transient
	}
	return true
}

// IsPermanentProviderError reports whether err is a provider failure that
// must not be retried (invalid address, unsupported network, auth rejection).
func IsPermanentProviderError(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return !pe.Transient
	}
	return false
}

package stages

import (
	"context"
	"errors"
	"fmt"

	"github.com/ent0n29/aspen/internal/reliability"
)

type Kind int

const (
	KindNone Kind = iota
	KindTransient
	KindQuota
	KindMalformed
	KindCancelled
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindTransient:
		return "transient"
	case KindQuota:
		return "quota"
	case KindMalformed:
		return "malformed"
	case KindCancelled:
		return "cancelled"
	default:
		return "fatal"
	}
}

// ErrMalformedInput marks input that cannot produce a reply, such as an empty
// transcript. Turns failing with it are dropped silently.
var ErrMalformedInput = errors.New("malformed input")

// TransientError is a network or rate-limit failure worth retrying.
type TransientError struct {
	Provider string
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient: %v", e.Provider, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// QuotaError means the provider refuses work until quota is restored.
type QuotaError struct {
	Provider string
	Err      error
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("%s: quota exceeded: %v", e.Provider, e.Err)
}

func (e *QuotaError) Unwrap() error { return e.Err }

func Transient(provider string, err error) error {
	return &TransientError{Provider: provider, Err: err}
}

func Quota(provider string, err error) error {
	return &QuotaError{Provider: provider, Err: err}
}

func Malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedInput, fmt.Sprintf(format, args...))
}

// IsCancellation reports whether err is the expected outcome of a barge-in.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled)
}

// Classify maps any error onto the taxonomy.
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}
	if IsCancellation(err) {
		return KindCancelled
	}
	var q *QuotaError
	if errors.As(err, &q) {
		return KindQuota
	}
	var tr *TransientError
	if errors.As(err, &tr) {
		return KindTransient
	}
	if errors.Is(err, ErrMalformedInput) {
		return KindMalformed
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	return KindFatal
}

// FromHTTPStatus wraps err according to an upstream HTTP status code and body.
func FromHTTPStatus(provider string, code int, body string, err error) error {
	if err == nil {
		err = fmt.Errorf("http status %d", code)
	}
	switch {
	case reliability.IsQuotaExhausted(code, body):
		return Quota(provider, err)
	case reliability.IsRetryableHTTPStatus(code):
		return Transient(provider, err)
	case code == 413 || code == 415 || code == 422:
		return fmt.Errorf("%s: %w: %v", provider, ErrMalformedInput, err)
	default:
		return fmt.Errorf("%s: %w", provider, err)
	}
}

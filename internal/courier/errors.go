package courier

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across stores and sources.
var (
	// ErrNotFound is returned by stores when no row or object matches.
	ErrNotFound = errors.New("not found")

	// ErrNoEdition is returned by a Source when the portal has nothing new
	// for the publication. It is a normal terminal state, not a failure.
	ErrNoEdition = errors.New("no new edition")
)

// AuthError signals invalid credentials or an expired session. It is fatal
// for the whole batch: never retried, surfaced immediately.
type AuthError struct {
	Op  string
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed during %s: %v", e.Op, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// NewAuthError wraps err as an authentication failure in operation op.
func NewAuthError(op string, err error) *AuthError {
	return &AuthError{Op: op, Err: err}
}

// TransientError marks a failure worth retrying with bounded backoff, such
// as a network timeout or an upstream 5xx.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure during %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// NewTransientError wraps err as a retryable failure in operation op.
func NewTransientError(op string, err error) *TransientError {
	return &TransientError{Op: op, Err: err}
}

// DeliveryError records a channel failure for one recipient. It is kept in
// the publication result and never aborts the publication on its own.
type DeliveryError struct {
	Channel   Channel
	Recipient string
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%s delivery to %s failed: %v", e.Channel, e.Recipient, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// NewDeliveryError wraps err as a per-recipient channel failure.
func NewDeliveryError(ch Channel, recipient string, err error) *DeliveryError {
	return &DeliveryError{Channel: ch, Recipient: recipient, Err: err}
}

// IsAuth reports whether err is, or wraps, an authentication failure.
func IsAuth(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// IsTransient reports whether err is, or wraps, a retryable failure.
func IsTransient(err error) bool {
	var transientErr *TransientError
	return errors.As(err, &transientErr)
}

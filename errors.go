package smb2proto

import (
	"errors"
	"fmt"
)

// Kind classifies a protocol Error, generalized from the teacher's
// filesystem PathError taxonomy (errors.go) to the protocol-level
// failures spec.md §7 names.
type Kind int

const (
	KindUnknown Kind = iota
	KindTransformFailed
	KindUnexpectedStatus
	KindNegotiationFailed
	KindAuthenticationFailed
	KindMessageProcessing
	KindOperationTimeout
	KindCreditsExhausted
	KindConnectionClosed
)

func (k Kind) String() string {
	switch k {
	case KindTransformFailed:
		return "TransformFailed"
	case KindUnexpectedStatus:
		return "UnexpectedStatus"
	case KindNegotiationFailed:
		return "NegotiationFailed"
	case KindAuthenticationFailed:
		return "AuthenticationFailed"
	case KindMessageProcessing:
		return "MessageProcessing"
	case KindOperationTimeout:
		return "OperationTimeout"
	case KindCreditsExhausted:
		return "CreditsExhausted"
	case KindConnectionClosed:
		return "ConnectionClosed"
	default:
		return "Unknown"
	}
}

var (
	// ErrConnectionClosed indicates the connection has been closed.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrAuthenticationFailed indicates authentication failed.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrUnsupportedDialect indicates the SMB dialect is not supported.
	ErrUnsupportedDialect = errors.New("unsupported SMB dialect")

	// ErrMessageProcessing indicates a notification frame arrived with no
	// listener attached (matching worker.ErrMessageProcessing).
	ErrMessageProcessing = errors.New("received notification with no listener")
)

// Error records a protocol-level failure, grounded on the teacher's
// PathError{Op,Path,Err} shape but generalized to carry a Kind plus
// whichever of ExpectedStatus/ActualStatus/SessionID apply to that Kind.
type Error struct {
	Kind          Kind
	Op            string
	SessionID     *uint64
	ExpectedStatus Status
	ActualStatus   Status
	Err           error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindUnexpectedStatus:
		return fmt.Sprintf("%s: unexpected status: expected 0x%08x, got 0x%08x", e.Op, uint32(e.ExpectedStatus), uint32(e.ActualStatus))
	default:
		if e.Op != "" {
			return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// wrapError wraps err with op and kind, leaving a nil err as nil (matching
// the teacher's wrapPathError no-op-on-nil behavior).
func wrapError(op string, kind Kind, err error) error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) && existing.Op == op {
		return err
	}
	return &Error{Op: op, Kind: kind, Err: err}
}

// netError mirrors the teacher's local interface for classifying network
// errors without importing net directly.
type netError interface {
	Timeout() bool
	Temporary() bool
}

// isRetryable returns true if err indicates a transient failure that
// might succeed if retried, extended (SPEC_FULL.md §7) to treat
// OperationTimeout and CreditsExhausted as retryable alongside the
// teacher's network/connection-closed checks.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	var netErr netError
	if errors.As(err, &netErr) {
		if netErr.Temporary() || netErr.Timeout() {
			return true
		}
	}

	var pe *Error
	if errors.As(err, &pe) {
		switch pe.Kind {
		case KindOperationTimeout, KindCreditsExhausted, KindConnectionClosed:
			return true
		}
	}

	switch {
	case errors.Is(err, ErrConnectionClosed):
		return true
	}

	unwrapped := errors.Unwrap(err)
	if unwrapped != nil && unwrapped != err {
		return isRetryable(unwrapped)
	}

	return false
}

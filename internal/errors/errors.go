package errors

import (
	"errors"
	"fmt"
)

// Error taxonomy for the identity/credential lifecycle layer
var (
	// Principal and session errors
	ErrPrincipalNotFound   = errors.New("principal not found")
	ErrActiveSessionExists = errors.New("principal already has an active session")

	// Storage errors (backing store unreachable or ambiguous)
	ErrStorage = errors.New("storage error")

	// Vault errors
	ErrMalformedEnvelope     = errors.New("malformed envelope")
	ErrAuthenticationFailure = errors.New("envelope authentication failed")

	// Token errors
	ErrNotAuthenticated     = errors.New("not authenticated")
	ErrTransientTransport   = errors.New("transient transport error")
	ErrTerminalAuth         = errors.New("re-authentication required")
	ErrNoMatchingCredential = errors.New("no matching credential")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Mark attaches a taxonomy sentinel to err while keeping err itself in the chain,
// so both errors.Is(result, kind) and errors.Is(result, err) hold.
func Mark(kind, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", kind, err)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// New is errors.New, re-exported so callers need a single errors import
func New(text string) error {
	return errors.New(text)
}

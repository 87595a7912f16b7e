package errors

import (
	"errors"
	"fmt"
)

// Error kinds for the SMART authorization core. Every error returned across a package
// boundary is an *AuthError whose Kind is one of these.
var (
	// ErrConfiguration: a required identifier, redirect URI or FHIR base URL is missing or invalid.
	ErrConfiguration = errors.New("configuration error")

	// ErrDiscoveryFailure: no discovery strategy produced both endpoints.
	ErrDiscoveryFailure = errors.New("discovery failure")

	// ErrKeyMaterial: the private key is unparsable, malformed or too small.
	ErrKeyMaterial = errors.New("key material error")

	// ErrAssertionRejected: the token endpoint refused the signed client assertion.
	ErrAssertionRejected = errors.New("assertion rejected")

	// ErrTransport: a timeout or network failure on an outbound call.
	ErrTransport = errors.New("transport error")

	// ErrStateMismatch: the callback state does not match the stored value.
	ErrStateMismatch = errors.New("state mismatch")

	// ErrAuthorizationDenied: the EHR returned an error to the callback or refused the authorization code.
	ErrAuthorizationDenied = errors.New("authorization denied")
)

// AuthError is the structured error returned by this module.
type AuthError struct {
	Kind        error  // One of the Err* kinds above
	Op          string // Operation that failed, e.g. "Resolver.Resolve"
	Code        string // OAuth error code returned by a server, if any
	Description string // error_description returned by a server, if any
	Message     string // Actionable, human readable message
	Err         error  // Underlying cause
}

func (e *AuthError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Op, e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

// Unwrap exposes both the kind and the cause so errors.Is works for either.
func (e *AuthError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// New creates an AuthError of the given kind.
func New(kind error, op, message string) *AuthError {
	return &AuthError{Kind: kind, Op: op, Message: message}
}

// Newf creates an AuthError with a formatted message.
func Newf(kind error, op, format string, args ...any) *AuthError {
	return &AuthError{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an AuthError of the given kind around err.
func Wrap(kind error, op string, err error, message string) *AuthError {
	return &AuthError{Kind: kind, Op: op, Message: message, Err: err}
}

// KindOf returns the kind of err, or nil if err is not an AuthError.
func KindOf(err error) error {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.Kind
	}
	return nil
}

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

package auth

import (
	"crypto/subtle"
	"fmt"

	autherrors "github.com/jrsteele09/go-smart-auth/internal/errors"
)

// stateEntropyBytes is above the 24 byte minimum for CSRF state.
const stateEntropyBytes = 32

// GenerateState returns an unpredictable, single-use CSRF state token.
func GenerateState() (string, error) {
	state, err := randomToken(stateEntropyBytes)
	if err != nil {
		return "", fmt.Errorf("[auth.GenerateState] %w", err)
	}
	return state, nil
}

// StateOutcome is the result of a state check, recorded for metrics and logs.
type StateOutcome string

const (
	StateMatched         StateOutcome = "matched"
	StateMismatched      StateOutcome = "mismatched"
	StateMissingAllowed  StateOutcome = "missing_allowed"
	StateMissingRejected StateOutcome = "missing_rejected"
)

// VerifyState compares the callback state with the stored one in constant time.
//
// When nothing was stored, the check fails unless allowMissing is set. allowMissing is a legacy
// compatibility switch for callers that never stored state; it removes CSRF protection for them.
func VerifyState(received, stored string, allowMissing bool) (StateOutcome, error) {
	const op = "auth.VerifyState"

	if stored == "" {
		if allowMissing {
			return StateMissingAllowed, nil
		}
		return StateMissingRejected, autherrors.New(autherrors.ErrStateMismatch, op,
			"no state was stored for this session; restart the connect flow")
	}
	if received == "" || subtle.ConstantTimeCompare([]byte(received), []byte(stored)) != 1 {
		return StateMismatched, autherrors.New(autherrors.ErrStateMismatch, op,
			"callback state does not match the stored state; restart the connect flow")
	}
	return StateMatched, nil
}

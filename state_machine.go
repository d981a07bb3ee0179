package auth

import (
	goerrors "github.com/goliatone/go-errors"
)

const textCodeInvalidTransition = "INVALID_ACCOUNT_STATE_TRANSITION"

// ErrInvalidTransition is returned when an account moves along an edge
// the lifecycle graph does not contain.
var ErrInvalidTransition = goerrors.New("invalid account state transition", goerrors.CategoryConflict).
	WithTextCode(textCodeInvalidTransition).
	WithCode(goerrors.CodeConflict)

// AccountState is the lifecycle stage derived from the account flags
type AccountState string

const (
	// StateNone is the state of an identity without an account
	StateNone AccountState = "none"
	// StateRegistered accounts are waiting for email verification
	StateRegistered AccountState = "registered"
	// StateVerified accounts verified their email but have no password
	StateVerified AccountState = "verified"
	// StateActive accounts can log in
	StateActive AccountState = "active"
	// StateInvalid is a flag combination the lifecycle never produces
	StateInvalid AccountState = "invalid"
)

func (s AccountState) String() string {
	return string(s)
}

var accountTransitions = map[AccountState]map[AccountState]struct{}{
	StateNone: {
		StateRegistered: {},
	},
	StateRegistered: {
		// re-registration overwrites the profile
		StateRegistered: {},
		StateVerified:   {},
	},
	StateVerified: {
		// verifying twice is idempotent
		StateVerified: {},
		StateActive:   {},
	},
	StateActive: {
		StateActive: {},
	},
}

// StateOf returns the lifecycle state of account
func StateOf(account *Account) AccountState {
	switch {
	case account == nil:
		return StateNone
	case !account.CheckInvariants():
		return StateInvalid
	case account.CanLogin():
		return StateActive
	case account.Verified:
		return StateVerified
	default:
		return StateRegistered
	}
}

// CanTransition reports whether the lifecycle allows moving from one
// state to the other
func CanTransition(from, to AccountState) bool {
	targets, ok := accountTransitions[from]
	if !ok {
		return false
	}
	_, ok = targets[to]
	return ok
}

// ValidateTransition returns ErrInvalidTransition if the move from one
// state to the other is not part of the lifecycle
func ValidateTransition(from, to AccountState) error {
	if CanTransition(from, to) {
		return nil
	}
	return ErrInvalidTransition.Clone().WithMetadata(map[string]any{
		"from": from.String(),
		"to":   to.String(),
	})
}

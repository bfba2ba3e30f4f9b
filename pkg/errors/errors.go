package errors

import "errors"

// Kind buckets every business failure the service can return. Handlers map
// kinds to transport status codes; the scheduler treats KindLeaseLost as
// fatal.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindStateConflict     Kind = "state_conflict"
	KindLimitExceeded     Kind = "limit_exceeded"
	KindInsufficientFunds Kind = "insufficient_funds"
	KindLeaseLost         Kind = "lease_lost"
	KindUpstream          Kind = "upstream"
)

type Error struct {
	Kind   Kind
	Reason string
}

func (e *Error) Error() string { return e.Reason }

func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

// KindOf unwraps err looking for an *Error and returns its kind, or "" for
// untyped errors (infrastructure failures, gorm errors and the like).
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

var (
	ErrBetNotFound       = New(KindValidation, "bet not found")
	ErrInvalidStake      = New(KindValidation, "stake must be positive")
	ErrInvalidMode       = New(KindValidation, "unknown game mode")
	ErrClaimedTooHigh    = New(KindValidation, "claimed multiplier exceeds crash point")
	ErrRoundNotBetting   = New(KindStateConflict, "round is not accepting bets")
	ErrRoundNotRunning   = New(KindStateConflict, "round is not running")
	ErrBetNotActive      = New(KindStateConflict, "bet is not active")
	ErrBetAlreadyPlaced  = New(KindStateConflict, "active bet already exists for this round")
	ErrStakeBelowMin     = New(KindLimitExceeded, "stake below minimum")
	ErrStakeAboveMax     = New(KindLimitExceeded, "stake above maximum")
	ErrPlayerRoundCap    = New(KindLimitExceeded, "per-round stake cap reached")
	ErrRoundExposureCap  = New(KindLimitExceeded, "round exposure cap reached")
	ErrAutoCashoutRange  = New(KindLimitExceeded, "auto cashout outside allowed bounds")
	ErrModeDisabled      = New(KindLimitExceeded, "betting disabled for this mode")
	ErrBetCooldown       = New(KindLimitExceeded, "betting too fast, slow down")
	ErrBetRateLimit      = New(KindLimitExceeded, "too many bets this minute")
	ErrInsufficientFunds = New(KindInsufficientFunds, "insufficient balance")
	ErrLeaseHeld         = New(KindStateConflict, "lease held by another instance")
	ErrLeaseLost         = New(KindLeaseLost, "scheduler lease lost")
	ErrCoordinationDown  = New(KindUpstream, "coordination store unreachable")
)

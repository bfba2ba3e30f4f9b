package errors_test

import (
	"fmt"
	"testing"

	appErr "crash-service/pkg/errors"
)

func TestKindOfUnwraps(t *testing.T) {
	wrapped := fmt.Errorf("admit bet: %w", appErr.ErrInsufficientFunds)
	if k := appErr.KindOf(wrapped); k != appErr.KindInsufficientFunds {
		t.Fatalf("expected insufficient_funds, got %q", k)
	}
}

func TestKindOfUntyped(t *testing.T) {
	if k := appErr.KindOf(fmt.Errorf("disk on fire")); k != "" {
		t.Fatalf("expected empty kind, got %q", k)
	}
	if k := appErr.KindOf(nil); k != "" {
		t.Fatalf("expected empty kind for nil, got %q", k)
	}
}

func TestSentinelKinds(t *testing.T) {
	cases := map[appErr.Kind][]error{
		appErr.KindValidation:    {appErr.ErrInvalidStake, appErr.ErrClaimedTooHigh},
		appErr.KindStateConflict: {appErr.ErrRoundNotBetting, appErr.ErrBetNotActive, appErr.ErrLeaseHeld},
		appErr.KindLimitExceeded: {appErr.ErrStakeAboveMax, appErr.ErrBetCooldown},
		appErr.KindLeaseLost:     {appErr.ErrLeaseLost},
		appErr.KindUpstream:      {appErr.ErrCoordinationDown},
	}
	for kind, errs := range cases {
		for _, err := range errs {
			if got := appErr.KindOf(err); got != kind {
				t.Fatalf("%v: expected kind %q, got %q", err, kind, got)
			}
		}
	}
}

package fair_test

import (
	"testing"

	"crash-service/internal/service/fair"
)

func TestCrashPointDeterministic(t *testing.T) {
	first := fair.CrashPoint("abc", "global-client", 1, 0.05)
	for i := 0; i < 100; i++ {
		if got := fair.CrashPoint("abc", "global-client", 1, 0.05); got != first {
			t.Fatalf("crash point not deterministic: %d vs %d", got, first)
		}
	}
}

func TestCrashPointKnownVector(t *testing.T) {
	got := fair.CrashPoint("abc", "global-client", 1, 0.05)
	if got != 1441 {
		t.Fatalf("expected 1441 (14.41x), got %d", got)
	}
}

func TestCrashPointLowerBound(t *testing.T) {
	for nonce := int64(1); nonce <= 500; nonce++ {
		got := fair.CrashPoint("deadbeef", "global-client", nonce, 0.05)
		if got < fair.MinCrashPoint {
			t.Fatalf("nonce %d: crash point %d below 1.00x", nonce, got)
		}
	}
}

func TestCrashPointEdgeShiftsDown(t *testing.T) {
	// A larger house edge can never raise the crash point for the same seeds.
	for nonce := int64(1); nonce <= 100; nonce++ {
		low := fair.CrashPoint("deadbeef", "global-client", nonce, 0.01)
		high := fair.CrashPoint("deadbeef", "global-client", nonce, 0.10)
		if high > low {
			t.Fatalf("nonce %d: edge 0.10 gave %d > edge 0.01 gave %d", nonce, high, low)
		}
	}
}

func TestDeriveServerSeedStablePerPosition(t *testing.T) {
	a := fair.DeriveServerSeed("secret", "real", 7)
	b := fair.DeriveServerSeed("secret", "real", 7)
	if a != b {
		t.Fatalf("seed derivation not stable: %s vs %s", a, b)
	}
	if a == fair.DeriveServerSeed("secret", "demo", 7) {
		t.Fatal("modes must derive independent seeds")
	}
	if a == fair.DeriveServerSeed("secret", "real", 8) {
		t.Fatal("nonces must derive independent seeds")
	}
	if len(a) != 64 {
		t.Fatalf("expected hex sha256 seed, got %q", a)
	}
}

func TestSeedHashCommitment(t *testing.T) {
	if got := fair.SeedHash("abc"); got != "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad" {
		t.Fatalf("unexpected commitment: %s", got)
	}
	if !fair.VerifyCommitment("abc", fair.SeedHash("abc")) {
		t.Fatal("commitment should verify against its own seed")
	}
	if fair.VerifyCommitment("abd", fair.SeedHash("abc")) {
		t.Fatal("commitment must reject a different seed")
	}
}

func TestVerify(t *testing.T) {
	point := fair.CrashPoint("abc", "global-client", 1, 0.05)
	if !fair.Verify("abc", "global-client", 1, 0.05, point) {
		t.Fatal("verify should accept the generated point")
	}
	if fair.Verify("abc", "global-client", 1, 0.05, point+1) {
		t.Fatal("verify must reject a forged point")
	}
	if fair.Verify("abc", "global-client", 2, 0.05, point) {
		t.Fatal("verify must reject a wrong nonce")
	}
}

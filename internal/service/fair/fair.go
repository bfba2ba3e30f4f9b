package fair

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
)

// Multipliers are int64 hundredths throughout the service: 100 == 1.00x.
const (
	MinCrashPoint = 100
	mantissaBits  = 52
)

// DeriveServerSeed produces the per-round secret from the deployment secret
// and the round's (mode, nonce) position. The nonce is strictly increasing
// per mode, so no extra entropy source is needed and a crashed process can
// re-derive the same seed.
func DeriveServerSeed(secret, mode string, nonce int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "crash:%s:%d", mode, nonce)
	return hex.EncodeToString(mac.Sum(nil))
}

// SeedHash is the commitment published before betting opens.
func SeedHash(serverSeed string) string {
	sum := sha256.Sum256([]byte(serverSeed))
	return hex.EncodeToString(sum[:])
}

// CrashPoint maps (serverSeed, clientSeed, nonce) to the round's crash
// multiplier. The leading 52 bits of HMAC-SHA256(serverSeed,
// "{clientSeed}:{nonce}") give a uniform r in [0,1); the curve
// (1-edge)/(1-r) concentrates mass toward early crashes while keeping the
// long-run edge fixed. Floored at 1.00x, rounded to hundredths.
//
// Identical inputs always yield identical output.
func CrashPoint(serverSeed, clientSeed string, nonce int64, houseEdge float64) int64 {
	mac := hmac.New(sha256.New, []byte(serverSeed))
	fmt.Fprintf(mac, "%s:%d", clientSeed, nonce)
	sum := mac.Sum(nil)

	lead := binary.BigEndian.Uint64(sum[:8]) >> (64 - mantissaBits)
	r := float64(lead) / float64(uint64(1)<<mantissaBits)

	crash := (1 - houseEdge) / (1 - r)
	if crash < 1 {
		crash = 1
	}
	point := int64(math.Round(crash * 100))
	if point < MinCrashPoint {
		point = MinCrashPoint
	}
	return point
}

// Verify recomputes the crash point from a revealed seed pair and compares.
// Usable by any external auditor once the server seed is published.
func Verify(serverSeed, clientSeed string, nonce int64, houseEdge float64, crashPoint int64) bool {
	return CrashPoint(serverSeed, clientSeed, nonce, houseEdge) == crashPoint
}

// VerifyCommitment checks the published hash against a revealed seed.
func VerifyCommitment(serverSeed, serverSeedHash string) bool {
	return SeedHash(serverSeed) == serverSeedHash
}

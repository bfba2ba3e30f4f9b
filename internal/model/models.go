package model

import (
	"math"
	"time"

	"gorm.io/datatypes"
)

// ToHundredths converts a client-supplied decimal multiplier to the int64
// hundredths representation used everywhere internally. Rounds to the
// nearest tick; plain truncation would turn a JSON 2.30 into 229 because
// of its binary float representation.
func ToHundredths(f float64) int64 {
	return int64(math.Round(f * 100))
}

// Game modes. Real and demo rounds run as independent sequences with
// independent scheduler leases.
const (
	ModeReal = "real"
	ModeDemo = "demo"
)

// Round statuses. Transitions are one-directional:
// pending -> running -> crashed -> settled.
const (
	RoundStatusPending = "pending"
	RoundStatusRunning = "running"
	RoundStatusCrashed = "crashed"
	RoundStatusSettled = "settled"
)

// Bet statuses.
const (
	BetStatusActive    = "active"
	BetStatusCashedOut = "cashed_out"
	BetStatusLost      = "lost"
	BetStatusCancelled = "cancelled"
)

type User struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	Phone     string `gorm:"unique;not null"`
	Nickname  string
	Status    string `gorm:"default:normal;not null"` // normal/banned
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Wallet holds the two balance pools plus locked funds. BalanceMain is the
// primary (deposit) pool, BalanceSpot receives winnings and backs
// withdrawals. All pool mutations go through the wallet service inside a
// ledger transaction holding a row lock on this record.
type Wallet struct {
	UserID        int64 `gorm:"primaryKey"`
	BalanceMain   int64
	BalanceSpot   int64
	BalanceLocked int64
	TotalWagered  int64
	TotalWon      int64
	UpdatedAt     time.Time
}

func (w *Wallet) Spendable() int64 {
	return w.BalanceMain + w.BalanceSpot
}

// Round is one crash cycle. CrashPoint and all multipliers are stored as
// int64 hundredths (150 == 1.50x); money is int64 cents. ServerSeed stays
// empty in every read surface until the round crashes and the seed is
// revealed.
type Round struct {
	ID             int64  `gorm:"primaryKey;autoIncrement"`
	Mode           string `gorm:"index:idx_round_mode_nonce,unique;not null"`
	Nonce          int64  `gorm:"index:idx_round_mode_nonce,unique;not null"`
	ServerSeed     string `gorm:"not null"`
	ServerSeedHash string `gorm:"not null"`
	ClientSeed     string `gorm:"not null"`
	CrashPoint     int64  `gorm:"not null"`
	Status         string `gorm:"index;default:pending;not null"`
	StartedAt      *time.Time
	CrashedAt      *time.Time
	CreatedAt      time.Time
}

type Bet struct {
	ID                int64  `gorm:"primaryKey;autoIncrement"`
	UserID            int64  `gorm:"index;not null"`
	RoundID           int64  `gorm:"index;not null"`
	Mode              string `gorm:"not null"`
	Amount            int64  `gorm:"not null"`
	AutoCashout       int64  // 0 = none, otherwise hundredths
	Status            string `gorm:"index;default:active;not null"`
	CashoutMultiplier int64
	WinAmount         int64
	CashedOutAt       *time.Time
	FromMain          int64 // split of the debit across pools, for refunds
	FromSpot          int64
	OriginIP          string
	OriginSubnet      string
	DeviceFP          string
	CreatedAt         time.Time
}

func (b *Bet) Terminal() bool {
	return b.Status == BetStatusCashedOut || b.Status == BetStatusLost || b.Status == BetStatusCancelled
}

// RiskSettings is a read-mostly singleton per mode, lazily created with
// defaults on first access and mutated by operators.
type RiskSettings struct {
	ID               int64  `gorm:"primaryKey;autoIncrement"`
	Mode             string `gorm:"unique;not null"`
	MinBet           int64
	MaxBet           int64
	MaxBetPerRound   int64 // per player per round, cumulative
	MaxRoundExposure int64
	MaxWinPerBet     int64
	MaxMultiplier    int64 // hundredths
	HouseEdge        float64
	MinAutoCashout   int64
	MaxAutoCashout   int64
	Enabled          bool
	BetCooldownMS    int64
	MaxBetsPerMinute int64
	UpdatedAt        time.Time
}

// BillingLog records every wallet pool mutation. Reference is unique so a
// debit or credit replayed with the same reference is a no-op.
type BillingLog struct {
	ID           int64  `gorm:"primaryKey;autoIncrement"`
	UserID       int64  `gorm:"index"`
	Type         string // debit_stake/credit_win/refund_stake/adjust
	Delta        int64
	PoolMain     int64 // portion applied to each pool
	PoolSpot     int64
	BalanceAfter int64
	Reference    string `gorm:"uniqueIndex;size:64;not null"`
	RoundID      *int64
	BetID        *int64
	MetaJSON     datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt    time.Time
}

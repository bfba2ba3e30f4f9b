package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"crash-service/internal/model"
	"crash-service/internal/repo"
	"crash-service/internal/service/wallet"
	appErr "crash-service/pkg/errors"
	"crash-service/pkg/logger"
	netutil "crash-service/pkg/utils/net"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Config binds the ledger to the deployment's provably-fair identity.
type Config struct {
	SeedSecret string
	ClientSeed string
}

// Service is the bet ledger and risk engine. Every mutation of rounds, bets
// and wallet pools runs here, inside a single transaction holding FOR UPDATE
// locks on the rows it touches. Player handlers and the scheduler race
// freely against each other; lock acquisition totally orders them.
type Service struct {
	db      *gorm.DB
	rdb     *redis.Client
	wallets *wallet.Service
	cfg     Config
}

func NewService(db *gorm.DB, rdb *redis.Client, wallets *wallet.Service, cfg Config) *Service {
	if cfg.ClientSeed == "" {
		cfg.ClientSeed = "global-client"
	}
	return &Service{db: db, rdb: rdb, wallets: wallets, cfg: cfg}
}

type PlaceBetParams struct {
	UserID      int64
	Mode        string
	Amount      int64 // cents
	AutoCashout int64 // hundredths, 0 = none
	OriginIP    string
	DeviceFP    string
}

type BetResult struct {
	Bet    *model.Bet
	Wallet *model.Wallet
}

// PlaceBet admits a bet into the current betting window. Validation order:
// round pending, stake bounds, no duplicate bet, player round cap, round
// exposure cap, auto-cashout bounds, funds. The stake is debited main pool
// first, spot pool for the remainder, and the bet row is created active.
func (s *Service) PlaceBet(ctx context.Context, p PlaceBetParams) (*BetResult, error) {
	if p.Amount <= 0 {
		return nil, appErr.ErrInvalidStake
	}
	if p.Mode != model.ModeReal && p.Mode != model.ModeDemo {
		return nil, appErr.ErrInvalidMode
	}

	settings, err := s.Settings(ctx, p.Mode)
	if err != nil {
		return nil, err
	}
	if !settings.Enabled {
		return nil, appErr.ErrModeDisabled
	}
	if err := s.checkBetRate(ctx, p.Mode, p.UserID, settings); err != nil {
		return nil, err
	}

	var result BetResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		round, err := lockBettingRound(tx, p.Mode)
		if err != nil {
			return err
		}

		if p.Amount < settings.MinBet {
			return appErr.ErrStakeBelowMin
		}
		if p.Amount > settings.MaxBet {
			return appErr.ErrStakeAboveMax
		}

		var existing int64
		if err := tx.Model(&model.Bet{}).
			Where("user_id = ? AND round_id = ? AND mode = ? AND status = ?",
				p.UserID, round.ID, p.Mode, model.BetStatusActive).
			Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return appErr.ErrBetAlreadyPlaced
		}

		var playerStaked int64
		if err := tx.Model(&model.Bet{}).
			Where("user_id = ? AND round_id = ? AND status <> ?",
				p.UserID, round.ID, model.BetStatusCancelled).
			Select("COALESCE(SUM(amount), 0)").
			Scan(&playerStaked).Error; err != nil {
			return err
		}
		if settings.MaxBetPerRound > 0 && playerStaked+p.Amount > settings.MaxBetPerRound {
			return appErr.ErrPlayerRoundCap
		}

		var exposure int64
		if err := tx.Model(&model.Bet{}).
			Where("round_id = ? AND status = ?", round.ID, model.BetStatusActive).
			Select("COALESCE(SUM(amount), 0)").
			Scan(&exposure).Error; err != nil {
			return err
		}
		if settings.MaxRoundExposure > 0 && exposure+p.Amount > settings.MaxRoundExposure {
			return appErr.ErrRoundExposureCap
		}

		if p.AutoCashout != 0 {
			if p.AutoCashout < settings.MinAutoCashout || p.AutoCashout > settings.MaxAutoCashout {
				return appErr.ErrAutoCashoutRange
			}
		}

		w, err := s.wallets.LockTx(tx, p.UserID)
		if err != nil {
			return err
		}

		bet := model.Bet{
			UserID:       p.UserID,
			RoundID:      round.ID,
			Mode:         p.Mode,
			Amount:       p.Amount,
			AutoCashout:  p.AutoCashout,
			Status:       model.BetStatusActive,
			OriginIP:     p.OriginIP,
			OriginSubnet: netutil.Subnet24(p.OriginIP),
			DeviceFP:     p.DeviceFP,
			CreatedAt:    time.Now(),
		}
		if err := tx.Create(&bet).Error; err != nil {
			return err
		}

		fromMain, fromSpot, err := s.wallets.DebitTx(tx, w, p.Amount,
			wallet.LogDebitStake, fmt.Sprintf("stake:%d", bet.ID), &round.ID, &bet.ID)
		if err != nil {
			return err
		}
		bet.FromMain = fromMain
		bet.FromSpot = fromSpot
		if err := tx.Save(&bet).Error; err != nil {
			return err
		}

		result.Bet = &bet
		result.Wallet = w
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.chargeBetRate(ctx, p.Mode, p.UserID, settings)
	return &result, nil
}

// Cashout settles an active bet at the claimed multiplier. The claim is
// validated against the round's fixed crash point so a stale or forged
// client value can never cash out past the true crash. Winnings credit the
// spot pool only.
func (s *Service) Cashout(ctx context.Context, userID, betID, claimed int64) (*BetResult, error) {
	if claimed < 100 {
		return nil, appErr.New(appErr.KindValidation, "multiplier must be at least 1.00x")
	}

	var result BetResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		bet, err := lockBet(tx, userID, betID)
		if err != nil {
			return err
		}
		if bet.Status != model.BetStatusActive {
			return appErr.ErrBetNotActive
		}

		var round model.Round
		if err := repo.ForUpdate(tx).
			First(&round, bet.RoundID).Error; err != nil {
			return err
		}
		if round.Status != model.RoundStatusRunning {
			return appErr.ErrRoundNotRunning
		}
		if claimed > round.CrashPoint {
			return appErr.ErrClaimedTooHigh
		}

		settings, err := s.settingsTx(tx, bet.Mode)
		if err != nil {
			return err
		}

		win := bet.Amount * claimed / 100
		if settings.MaxWinPerBet > 0 && win > settings.MaxWinPerBet {
			win = settings.MaxWinPerBet
		}

		w, err := s.wallets.LockTx(tx, userID)
		if err != nil {
			return err
		}
		if err := s.wallets.CreditTx(tx, w, 0, win,
			wallet.LogCreditWin, fmt.Sprintf("win:%d", bet.ID), &round.ID, &bet.ID); err != nil {
			return err
		}

		now := time.Now()
		bet.Status = model.BetStatusCashedOut
		bet.CashoutMultiplier = claimed
		bet.WinAmount = win
		bet.CashedOutAt = &now
		if err := tx.Save(bet).Error; err != nil {
			return err
		}

		result.Bet = bet
		result.Wallet = w
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// SweepResult reports one auto-cashed bet so the transport can notify the
// affected player privately and echo the cashout publicly.
type SweepResult struct {
	UserID     int64
	BetID      int64
	Multiplier int64
	WinAmount  int64
}

// AutoCashoutSweep cashes out every active bet on the round whose threshold
// the current multiplier has reached. Each bet settles in its own
// transaction; a failure on one bet never blocks the rest of the sweep.
func (s *Service) AutoCashoutSweep(ctx context.Context, roundID, current int64) []SweepResult {
	var due []model.Bet
	err := s.db.WithContext(ctx).
		Where("round_id = ? AND status = ? AND auto_cashout > 0 AND auto_cashout <= ?",
			roundID, model.BetStatusActive, current).
		Find(&due).Error
	if err != nil {
		logger.Log.Error("auto-cashout sweep query failed",
			zap.Int64("roundID", roundID), zap.Error(err))
		return nil
	}

	results := make([]SweepResult, 0, len(due))
	for _, bet := range due {
		res, err := s.Cashout(ctx, bet.UserID, bet.ID, bet.AutoCashout)
		if err != nil {
			// Lost races (manual cashout landed first) are expected here.
			if appErr.KindOf(err) == appErr.KindStateConflict {
				continue
			}
			logger.Log.Error("auto-cashout failed",
				zap.Int64("betID", bet.ID), zap.Int64("userID", bet.UserID), zap.Error(err))
			continue
		}
		results = append(results, SweepResult{
			UserID:     bet.UserID,
			BetID:      bet.ID,
			Multiplier: res.Bet.CashoutMultiplier,
			WinAmount:  res.Bet.WinAmount,
		})
	}
	return results
}

// CancelBet voids a bet while its round is still in the betting window and
// refunds the full stake to the main pool.
func (s *Service) CancelBet(ctx context.Context, userID, betID int64) (*BetResult, error) {
	var result BetResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		bet, err := lockBet(tx, userID, betID)
		if err != nil {
			return err
		}
		if bet.Status != model.BetStatusActive {
			return appErr.ErrBetNotActive
		}

		var round model.Round
		if err := repo.ForUpdate(tx).
			First(&round, bet.RoundID).Error; err != nil {
			return err
		}
		if round.Status != model.RoundStatusPending {
			return appErr.ErrRoundNotBetting
		}

		w, err := s.wallets.LockTx(tx, userID)
		if err != nil {
			return err
		}
		if err := s.wallets.CreditTx(tx, w, bet.Amount, 0,
			wallet.LogRefundStake, fmt.Sprintf("refund:%d", bet.ID), &round.ID, &bet.ID); err != nil {
			return err
		}

		bet.Status = model.BetStatusCancelled
		if err := tx.Save(bet).Error; err != nil {
			return err
		}

		result.Bet = bet
		result.Wallet = w
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// CancelAutoCashout clears the auto-cashout threshold on an active bet; the
// player rides manually from then on.
func (s *Service) CancelAutoCashout(ctx context.Context, userID, betID int64) (*model.Bet, error) {
	var updated *model.Bet
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		bet, err := lockBet(tx, userID, betID)
		if err != nil {
			return err
		}
		if bet.Status != model.BetStatusActive {
			return appErr.ErrBetNotActive
		}
		bet.AutoCashout = 0
		if err := tx.Save(bet).Error; err != nil {
			return err
		}
		updated = bet
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// SettleLostBatch marks up to limit still-active bets on a crashed round as
// lost. Stakes were debited at admission, so no wallet mutation happens.
// The scheduler calls this in a loop so it can service its lease heartbeat
// between batches.
func (s *Service) SettleLostBatch(ctx context.Context, roundID int64, limit int) ([]model.Bet, error) {
	var settled []model.Bet
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var bets []model.Bet
		if err := repo.ForUpdate(tx).
			Where("round_id = ? AND status = ?", roundID, model.BetStatusActive).
			Order("id").
			Limit(limit).
			Find(&bets).Error; err != nil {
			return err
		}
		if len(bets) == 0 {
			return nil
		}
		ids := make([]int64, 0, len(bets))
		for _, b := range bets {
			ids = append(ids, b.ID)
		}
		if err := tx.Model(&model.Bet{}).
			Where("id IN ?", ids).
			Update("status", model.BetStatusLost).Error; err != nil {
			return err
		}
		for i := range bets {
			bets[i].Status = model.BetStatusLost
		}
		settled = bets
		return nil
	})
	if err != nil {
		return nil, err
	}
	return settled, nil
}

func lockBettingRound(tx *gorm.DB, mode string) (*model.Round, error) {
	var round model.Round
	err := repo.ForUpdate(tx).
		Where("mode = ? AND status = ?", mode, model.RoundStatusPending).
		Order("id DESC").
		First(&round).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, appErr.ErrRoundNotBetting
		}
		return nil, err
	}
	return &round, nil
}

func lockBet(tx *gorm.DB, userID, betID int64) (*model.Bet, error) {
	var bet model.Bet
	err := repo.ForUpdate(tx).
		Where("id = ? AND user_id = ?", betID, userID).
		First(&bet).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, appErr.ErrBetNotFound
		}
		return nil, err
	}
	return &bet, nil
}

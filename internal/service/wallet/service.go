package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"crash-service/internal/model"
	"crash-service/internal/repo"
	appErr "crash-service/pkg/errors"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Service owns every mutation of the wallet balance pools. Callers run
// inside their own transaction, lock the row with LockTx and then apply
// debits/credits; nothing else in the codebase writes wallet balances.
type Service struct {
	db *gorm.DB
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

func (s *Service) GetWallet(ctx context.Context, userID int64) (*model.Wallet, error) {
	var wallet model.Wallet
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&wallet).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &model.Wallet{UserID: userID}, nil
		}
		return nil, err
	}
	return &wallet, nil
}

// LockTx loads the wallet row FOR UPDATE inside tx, creating it on first
// touch so new users can receive credits.
func (s *Service) LockTx(tx *gorm.DB, userID int64) (*model.Wallet, error) {
	var wallet model.Wallet
	err := repo.ForUpdate(tx).
		Where("user_id = ?", userID).
		First(&wallet).Error
	if err == nil {
		return &wallet, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	wallet = model.Wallet{UserID: userID, UpdatedAt: time.Now()}
	if err := tx.Create(&wallet).Error; err != nil {
		return nil, err
	}
	return &wallet, nil
}

// DebitTx draws amount from the main pool first, then the spot pool for any
// remainder. Neither pool goes negative. Idempotent per reference: a replay
// returns the split recorded by the first application without touching
// balances. The wallet must already be locked by LockTx in the same tx.
func (s *Service) DebitTx(tx *gorm.DB, w *model.Wallet, amount int64, logType, reference string, roundID, betID *int64) (fromMain, fromSpot int64, err error) {
	if amount <= 0 {
		return 0, 0, appErr.ErrInvalidStake
	}
	if prior, err := findLog(tx, reference); err != nil {
		return 0, 0, err
	} else if prior != nil {
		return -prior.PoolMain, -prior.PoolSpot, nil
	}

	if w.Spendable() < amount {
		return 0, 0, appErr.ErrInsufficientFunds
	}

	fromMain = amount
	if fromMain > w.BalanceMain {
		fromMain = w.BalanceMain
	}
	fromSpot = amount - fromMain

	w.BalanceMain -= fromMain
	w.BalanceSpot -= fromSpot
	w.TotalWagered += amount
	w.UpdatedAt = time.Now()
	if err := tx.Save(w).Error; err != nil {
		return 0, 0, err
	}

	if err := writeLog(tx, w, logType, -amount, -fromMain, -fromSpot, reference, roundID, betID); err != nil {
		return 0, 0, err
	}
	return fromMain, fromSpot, nil
}

// CreditTx adds funds to the given pools. Winnings always target the spot
// pool; stake refunds target the main pool. Idempotent per reference.
func (s *Service) CreditTx(tx *gorm.DB, w *model.Wallet, toMain, toSpot int64, logType, reference string, roundID, betID *int64) error {
	if toMain < 0 || toSpot < 0 || toMain+toSpot == 0 {
		return appErr.New(appErr.KindValidation, "invalid credit amount")
	}
	if prior, err := findLog(tx, reference); err != nil {
		return err
	} else if prior != nil {
		return nil
	}

	w.BalanceMain += toMain
	w.BalanceSpot += toSpot
	if logType == LogCreditWin {
		w.TotalWon += toMain + toSpot
	}
	w.UpdatedAt = time.Now()
	if err := tx.Save(w).Error; err != nil {
		return err
	}

	return writeLog(tx, w, logType, toMain+toSpot, toMain, toSpot, reference, roundID, betID)
}

const (
	LogDebitStake  = "debit_stake"
	LogCreditWin   = "credit_win"
	LogRefundStake = "refund_stake"
)

func findLog(tx *gorm.DB, reference string) (*model.BillingLog, error) {
	var log model.BillingLog
	err := tx.Where("reference = ?", reference).First(&log).Error
	if err == nil {
		return &log, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return nil, err
}

func writeLog(tx *gorm.DB, w *model.Wallet, logType string, delta, poolMain, poolSpot int64, reference string, roundID, betID *int64) error {
	meta, _ := json.Marshal(map[string]interface{}{
		"main": w.BalanceMain,
		"spot": w.BalanceSpot,
	})
	log := model.BillingLog{
		UserID:       w.UserID,
		Type:         logType,
		Delta:        delta,
		PoolMain:     poolMain,
		PoolSpot:     poolSpot,
		BalanceAfter: w.Spendable(),
		Reference:    reference,
		RoundID:      roundID,
		BetID:        betID,
		MetaJSON:     datatypes.JSON(meta),
		CreatedAt:    time.Now(),
	}
	if err := tx.Create(&log).Error; err != nil {
		return fmt.Errorf("billing log: %w", err)
	}
	return nil
}

package ledger

import (
	"context"
	"fmt"
	"time"

	"crash-service/internal/model"
	appErr "crash-service/pkg/errors"
	"crash-service/pkg/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func defaultSettings(mode string) model.RiskSettings {
	return model.RiskSettings{
		Mode:             mode,
		MinBet:           100,     // 1.00
		MaxBet:           100000,  // 1,000.00
		MaxBetPerRound:   200000,  // per player
		MaxRoundExposure: 2000000, // house exposure
		MaxWinPerBet:     1000000, // 10,000.00
		MaxMultiplier:    10000,   // 100.00x
		HouseEdge:        0.05,
		MinAutoCashout:   101,
		MaxAutoCashout:   10000,
		Enabled:          true,
		BetCooldownMS:    500,
		MaxBetsPerMinute: 30,
		UpdatedAt:        time.Now(),
	}
}

// Settings returns the mode's risk settings, lazily creating the row with
// defaults on first access.
func (s *Service) Settings(ctx context.Context, mode string) (*model.RiskSettings, error) {
	return s.settingsTx(s.db.WithContext(ctx), mode)
}

func (s *Service) settingsTx(tx *gorm.DB, mode string) (*model.RiskSettings, error) {
	var settings model.RiskSettings
	err := tx.Where(model.RiskSettings{Mode: mode}).
		Attrs(defaultSettings(mode)).
		FirstOrCreate(&settings).Error
	if err != nil {
		return nil, err
	}
	return &settings, nil
}

// SettingsUpdate carries operator mutations; nil fields stay untouched.
type SettingsUpdate struct {
	MinBet           *int64
	MaxBet           *int64
	MaxBetPerRound   *int64
	MaxRoundExposure *int64
	MaxWinPerBet     *int64
	MaxMultiplier    *int64
	HouseEdge        *float64
	MinAutoCashout   *int64
	MaxAutoCashout   *int64
	Enabled          *bool
	BetCooldownMS    *int64
	MaxBetsPerMinute *int64
}

func (s *Service) UpdateSettings(ctx context.Context, mode string, u SettingsUpdate) (*model.RiskSettings, error) {
	settings, err := s.Settings(ctx, mode)
	if err != nil {
		return nil, err
	}

	if u.HouseEdge != nil && (*u.HouseEdge < 0 || *u.HouseEdge >= 1) {
		return nil, appErr.New(appErr.KindValidation, "house edge must be in [0,1)")
	}

	apply := func(dst *int64, src *int64) {
		if src != nil {
			*dst = *src
		}
	}
	apply(&settings.MinBet, u.MinBet)
	apply(&settings.MaxBet, u.MaxBet)
	apply(&settings.MaxBetPerRound, u.MaxBetPerRound)
	apply(&settings.MaxRoundExposure, u.MaxRoundExposure)
	apply(&settings.MaxWinPerBet, u.MaxWinPerBet)
	apply(&settings.MaxMultiplier, u.MaxMultiplier)
	apply(&settings.MinAutoCashout, u.MinAutoCashout)
	apply(&settings.MaxAutoCashout, u.MaxAutoCashout)
	apply(&settings.BetCooldownMS, u.BetCooldownMS)
	apply(&settings.MaxBetsPerMinute, u.MaxBetsPerMinute)
	if u.HouseEdge != nil {
		settings.HouseEdge = *u.HouseEdge
	}
	if u.Enabled != nil {
		settings.Enabled = *u.Enabled
	}
	if settings.MinBet > settings.MaxBet {
		return nil, appErr.New(appErr.KindValidation, "minBet exceeds maxBet")
	}
	settings.UpdatedAt = time.Now()

	if err := s.db.WithContext(ctx).Save(settings).Error; err != nil {
		return nil, err
	}
	return settings, nil
}

// checkBetRate enforces the per-player cooldown and per-minute cap through
// redis before a bet reaches the admission transaction. Read-only: bets that
// fail validation or funding must not eat into the budget, so the keys are
// only written by chargeBetRate after the bet commits. Degrades open when no
// redis client is wired (unit tests) or redis is unreachable.
func (s *Service) checkBetRate(ctx context.Context, mode string, userID int64, settings *model.RiskSettings) error {
	if s.rdb == nil {
		return nil
	}

	if settings.BetCooldownMS > 0 {
		n, err := s.rdb.Exists(ctx, cooldownKey(mode, userID)).Result()
		if err != nil {
			logger.Log.Warn("bet cooldown check unavailable", zap.Error(err))
		} else if n > 0 {
			return appErr.ErrBetCooldown
		}
	}

	if settings.MaxBetsPerMinute > 0 {
		count, err := s.rdb.Get(ctx, rateKey(mode, userID)).Int64()
		if err != nil && err != redis.Nil {
			logger.Log.Warn("bet rate check unavailable", zap.Error(err))
			return nil
		}
		if count >= settings.MaxBetsPerMinute {
			return appErr.ErrBetRateLimit
		}
	}
	return nil
}

// chargeBetRate burns one unit of the player's bet budget. Called only once
// the bet is committed.
func (s *Service) chargeBetRate(ctx context.Context, mode string, userID int64, settings *model.RiskSettings) {
	if s.rdb == nil {
		return
	}

	if settings.BetCooldownMS > 0 {
		key := cooldownKey(mode, userID)
		if err := s.rdb.SetNX(ctx, key, 1, time.Duration(settings.BetCooldownMS)*time.Millisecond).Err(); err != nil {
			logger.Log.Warn("bet cooldown charge failed", zap.Error(err))
		}
	}

	if settings.MaxBetsPerMinute > 0 {
		key := rateKey(mode, userID)
		count, err := s.rdb.Incr(ctx, key).Result()
		if err != nil {
			logger.Log.Warn("bet rate charge failed", zap.Error(err))
			return
		}
		if count == 1 {
			s.rdb.Expire(ctx, key, 2*time.Minute)
		}
	}
}

func cooldownKey(mode string, userID int64) string {
	return fmt.Sprintf("crash:bet:cooldown:%s:%d", mode, userID)
}

// rateKey buckets per-minute counts on the wall clock minute.
func rateKey(mode string, userID int64) string {
	return fmt.Sprintf("crash:bet:rate:%s:%d:%d", mode, userID, time.Now().Unix()/60)
}

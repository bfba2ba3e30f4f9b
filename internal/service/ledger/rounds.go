package ledger

import (
	"context"
	"errors"
	"time"

	"crash-service/internal/model"
	"crash-service/internal/service/fair"
	appErr "crash-service/pkg/errors"

	"gorm.io/gorm"
)

// CreateRound derives the next round for a mode: fresh server seed bound to
// the deployment secret, published hash, nonce = previous + 1, crash point
// capped at the configured multiplier ceiling. Persisted as pending.
func (s *Service) CreateRound(ctx context.Context, mode string) (*model.Round, error) {
	settings, err := s.Settings(ctx, mode)
	if err != nil {
		return nil, err
	}

	var round *model.Round
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var lastNonce int64
		if err := tx.Model(&model.Round{}).
			Where("mode = ?", mode).
			Select("COALESCE(MAX(nonce), 0)").
			Scan(&lastNonce).Error; err != nil {
			return err
		}
		nonce := lastNonce + 1

		serverSeed := fair.DeriveServerSeed(s.cfg.SeedSecret, mode, nonce)
		crashPoint := fair.CrashPoint(serverSeed, s.cfg.ClientSeed, nonce, settings.HouseEdge)
		if settings.MaxMultiplier > 0 && crashPoint > settings.MaxMultiplier {
			crashPoint = settings.MaxMultiplier
		}

		round = &model.Round{
			Mode:           mode,
			Nonce:          nonce,
			ServerSeed:     serverSeed,
			ServerSeedHash: fair.SeedHash(serverSeed),
			ClientSeed:     s.cfg.ClientSeed,
			CrashPoint:     crashPoint,
			Status:         model.RoundStatusPending,
			CreatedAt:      time.Now(),
		}
		return tx.Create(round).Error
	})
	if err != nil {
		return nil, err
	}
	return round, nil
}

// BeginFlight locks the betting window: pending -> running, started_at
// stamped. No bets are admitted for this round afterwards.
func (s *Service) BeginFlight(ctx context.Context, roundID int64) (time.Time, error) {
	now := time.Now()
	return now, s.advanceRound(ctx, roundID, model.RoundStatusPending, map[string]interface{}{
		"status":     model.RoundStatusRunning,
		"started_at": now,
	})
}

// MarkCrashed stamps the crash: running -> crashed.
func (s *Service) MarkCrashed(ctx context.Context, roundID int64) (time.Time, error) {
	now := time.Now()
	return now, s.advanceRound(ctx, roundID, model.RoundStatusRunning, map[string]interface{}{
		"status":     model.RoundStatusCrashed,
		"crashed_at": now,
	})
}

// MarkSettled closes the round: crashed -> settled.
func (s *Service) MarkSettled(ctx context.Context, roundID int64) error {
	return s.advanceRound(ctx, roundID, model.RoundStatusCrashed, map[string]interface{}{
		"status": model.RoundStatusSettled,
	})
}

// advanceRound applies a guarded status transition. The WHERE clause on the
// expected status keeps transitions monotonic even if two writers race.
func (s *Service) advanceRound(ctx context.Context, roundID int64, expect string, updates map[string]interface{}) error {
	res := s.db.WithContext(ctx).Model(&model.Round{}).
		Where("id = ? AND status = ?", roundID, expect).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return appErr.New(appErr.KindStateConflict, "round is not in the expected phase")
	}
	return nil
}

// RoundView is the public projection of a round. The server seed appears
// only once the round has crashed and the commitment can be checked.
type RoundView struct {
	ID             int64      `json:"id"`
	Mode           string     `json:"mode"`
	Nonce          int64      `json:"nonce"`
	ServerSeed     string     `json:"serverSeed,omitempty"`
	ServerSeedHash string     `json:"serverSeedHash"`
	ClientSeed     string     `json:"clientSeed"`
	CrashPoint     *int64     `json:"crashPoint,omitempty"`
	Status         string     `json:"status"`
	StartedAt      *time.Time `json:"startedAt,omitempty"`
	CrashedAt      *time.Time `json:"crashedAt,omitempty"`
}

func viewOf(r model.Round) RoundView {
	v := RoundView{
		ID:             r.ID,
		Mode:           r.Mode,
		Nonce:          r.Nonce,
		ServerSeedHash: r.ServerSeedHash,
		ClientSeed:     r.ClientSeed,
		Status:         r.Status,
		StartedAt:      r.StartedAt,
		CrashedAt:      r.CrashedAt,
	}
	if r.Status == model.RoundStatusCrashed || r.Status == model.RoundStatusSettled {
		v.ServerSeed = r.ServerSeed
		crash := r.CrashPoint
		v.CrashPoint = &crash
	}
	return v
}

// RecentRounds lists the newest rounds for a mode, seeds hidden until
// revealed. Bounded at 50 entries.
func (s *Service) RecentRounds(ctx context.Context, mode string, limit int) ([]RoundView, error) {
	if limit <= 0 || limit > 50 {
		limit = 50
	}
	var rounds []model.Round
	err := s.db.WithContext(ctx).
		Where("mode = ?", mode).
		Order("id DESC").
		Limit(limit).
		Find(&rounds).Error
	if err != nil {
		return nil, err
	}
	views := make([]RoundView, 0, len(rounds))
	for _, r := range rounds {
		views = append(views, viewOf(r))
	}
	return views, nil
}

type VerifyParams struct {
	Mode       string
	ServerSeed string
	ClientSeed string
	Nonce      int64
	CrashPoint int64 // hundredths
}

// VerifyRound recomputes the crash point from a revealed seed pair under the
// mode's current house edge and multiplier cap and compares it to the claim.
func (s *Service) VerifyRound(ctx context.Context, p VerifyParams) (bool, error) {
	settings, err := s.Settings(ctx, p.Mode)
	if err != nil {
		return false, err
	}
	computed := fair.CrashPoint(p.ServerSeed, p.ClientSeed, p.Nonce, settings.HouseEdge)
	if settings.MaxMultiplier > 0 && computed > settings.MaxMultiplier {
		computed = settings.MaxMultiplier
	}
	return computed == p.CrashPoint, nil
}

type UserStats struct {
	Bets           int64 `json:"bets"`
	TotalWagered   int64 `json:"totalWagered"`
	TotalWon       int64 `json:"totalWon"`
	BestMultiplier int64 `json:"bestMultiplier"`
}

func (s *Service) UserStats(ctx context.Context, userID int64, mode string) (*UserStats, error) {
	var stats UserStats
	q := s.db.WithContext(ctx).Model(&model.Bet{}).
		Where("user_id = ? AND mode = ? AND status <> ?", userID, mode, model.BetStatusCancelled)
	if err := q.Count(&stats.Bets).Error; err != nil {
		return nil, err
	}
	row := s.db.WithContext(ctx).Model(&model.Bet{}).
		Where("user_id = ? AND mode = ? AND status <> ?", userID, mode, model.BetStatusCancelled).
		Select("COALESCE(SUM(amount), 0), COALESCE(SUM(win_amount), 0), COALESCE(MAX(cashout_multiplier), 0)").
		Row()
	if err := row.Scan(&stats.TotalWagered, &stats.TotalWon, &stats.BestMultiplier); err != nil {
		return nil, err
	}
	return &stats, nil
}

// UserBets returns the player's newest bets for a mode.
func (s *Service) UserBets(ctx context.Context, userID int64, mode string, limit int) ([]model.Bet, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var bets []model.Bet
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND mode = ?", userID, mode).
		Order("id DESC").
		Limit(limit).
		Find(&bets).Error
	if err != nil {
		return nil, err
	}
	return bets, nil
}

// CurrentRound returns the newest non-settled round for a mode, or nil when
// the scheduler is between rounds.
func (s *Service) CurrentRound(ctx context.Context, mode string) (*model.Round, error) {
	var round model.Round
	err := s.db.WithContext(ctx).
		Where("mode = ? AND status <> ?", mode, model.RoundStatusSettled).
		Order("id DESC").
		First(&round).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &round, nil
}

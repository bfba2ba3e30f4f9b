package ledger

import (
	"context"

	"crash-service/internal/model"
	appErr "crash-service/pkg/errors"
	"crash-service/pkg/logger"

	"go.uber.org/zap"
)

// RecoverStaleRounds closes out every round a previous owner left
// unfinished. Runs once after lease acquisition, before the first new round:
// an orphaned running round would otherwise stay cashable forever, letting a
// player probe the hidden crash point with no time pressure.
//
// Rounds still in their betting window are voided with full stake refunds,
// since the window never closed fairly. Rounds already in flight or crashed
// settle their remaining bets as losses.
func (s *Service) RecoverStaleRounds(ctx context.Context, mode string, batch int) error {
	var stale []model.Round
	err := s.db.WithContext(ctx).
		Where("mode = ? AND status <> ?", mode, model.RoundStatusSettled).
		Order("id").
		Find(&stale).Error
	if err != nil {
		return err
	}

	for i := range stale {
		round := &stale[i]
		logger.Log.Warn("recovering stale round",
			zap.String("mode", mode),
			zap.Int64("roundID", round.ID),
			zap.String("status", round.Status))
		if err := s.recoverRound(ctx, round, batch); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) recoverRound(ctx context.Context, round *model.Round, batch int) error {
	switch round.Status {
	case model.RoundStatusPending:
		if err := s.refundRoundBets(ctx, round.ID); err != nil {
			return err
		}
		// Skips the flight phases; guarded on the stale status so a racing
		// owner is never overridden.
		return s.db.WithContext(ctx).Model(&model.Round{}).
			Where("id = ? AND status = ?", round.ID, model.RoundStatusPending).
			Update("status", model.RoundStatusSettled).Error

	case model.RoundStatusRunning:
		if _, err := s.MarkCrashed(ctx, round.ID); err != nil {
			if appErr.KindOf(err) != appErr.KindStateConflict {
				return err
			}
		}
		fallthrough
	case model.RoundStatusCrashed:
		for {
			settled, err := s.SettleLostBatch(ctx, round.ID, batch)
			if err != nil {
				return err
			}
			if len(settled) == 0 {
				break
			}
		}
		if err := s.MarkSettled(ctx, round.ID); err != nil {
			if appErr.KindOf(err) != appErr.KindStateConflict {
				return err
			}
		}
	}
	return nil
}

// refundRoundBets cancels every active bet on a voided round. Bets that
// settle concurrently are skipped.
func (s *Service) refundRoundBets(ctx context.Context, roundID int64) error {
	var active []model.Bet
	err := s.db.WithContext(ctx).
		Where("round_id = ? AND status = ?", roundID, model.BetStatusActive).
		Find(&active).Error
	if err != nil {
		return err
	}
	for _, bet := range active {
		if _, err := s.CancelBet(ctx, bet.UserID, bet.ID); err != nil {
			if appErr.KindOf(err) == appErr.KindStateConflict {
				continue
			}
			return err
		}
	}
	return nil
}

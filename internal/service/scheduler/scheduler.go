package scheduler

import (
	"context"
	"errors"
	"math"
	"time"

	"crash-service/internal/model"
	"crash-service/internal/service/lease"
	"crash-service/internal/service/ledger"
	"crash-service/internal/ws"
	appErr "crash-service/pkg/errors"
	"crash-service/pkg/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Config struct {
	Mode          string
	BettingWindow time.Duration
	TickInterval  time.Duration
	GrowthRate    float64 // exponent per second of flight
	Cooldown      time.Duration
	SettleBatch   int
	LeaseTTL      time.Duration
	Heartbeat     time.Duration
}

// Scheduler perpetually drives one mode's rounds: create round, betting
// countdown, flight ticks, crash, settlement, cooldown. Exactly one replica
// owns a mode at a time; the redis lease enforces it and losing the lease is
// fatal for the whole process.
type Scheduler struct {
	cfg      Config
	ledger   *ledger.Service
	hub      *ws.Hub
	lease    *lease.Lease
	lastBeat time.Time
}

func New(cfg Config, ledgerSvc *ledger.Service, hub *ws.Hub, rdb *redis.Client) *Scheduler {
	return &Scheduler{
		cfg:    cfg,
		ledger: ledgerSvc,
		hub:    hub,
		lease:  lease.New(rdb, cfg.Mode, cfg.LeaseTTL),
	}
}

// Run blocks until ctx is cancelled or the lease is lost. A non-nil return
// other than ctx.Err() means the caller must terminate the process: the
// loop no longer holds exclusive ownership of round state.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := s.lease.Release(releaseCtx); err != nil {
			logger.Log.Warn("lease release failed", zap.String("mode", s.cfg.Mode), zap.Error(err))
		}
	}()

	logger.Log.Info("scheduler started", zap.String("mode", s.cfg.Mode), zap.String("leaseKey", s.lease.Key()))

	// A previous owner may have died mid-round; close out its leftovers
	// before creating anything new, or an orphaned round stays cashable.
	if err := s.ledger.RecoverStaleRounds(ctx, s.cfg.Mode, s.cfg.SettleBatch); err != nil {
		return err
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.runRound(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return ctx.Err()
			}
			if appErr.KindOf(err) == appErr.KindLeaseLost || appErr.KindOf(err) == appErr.KindUpstream {
				return err
			}
			logger.Log.Error("round failed, retrying after cooldown",
				zap.String("mode", s.cfg.Mode), zap.Error(err))
			if err := s.wait(ctx, s.cfg.Cooldown); err != nil {
				return err
			}
		}
	}
}

// acquire retries until this instance owns the mode's lease.
func (s *Scheduler) acquire(ctx context.Context) error {
	for {
		err := s.lease.Acquire(ctx)
		if err == nil {
			s.lastBeat = time.Now()
			return nil
		}
		if !errors.Is(err, appErr.ErrLeaseHeld) {
			logger.Log.Warn("lease acquire failed", zap.String("mode", s.cfg.Mode), zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.cfg.LeaseTTL / 2):
		}
	}
}

func (s *Scheduler) runRound(ctx context.Context) error {
	round, err := s.ledger.CreateRound(ctx, s.cfg.Mode)
	if err != nil {
		return err
	}

	s.hub.Broadcast(s.cfg.Mode, ws.EventRoundStart, map[string]interface{}{
		"round_id":         round.ID,
		"betting_duration": s.cfg.BettingWindow.Seconds(),
		"crash_point_hash": round.ServerSeedHash,
	})

	if err := s.countdown(ctx, round); err != nil {
		return err
	}

	startedAt, err := s.ledger.BeginFlight(ctx, round.ID)
	if err != nil {
		return err
	}
	s.hub.Broadcast(s.cfg.Mode, ws.EventRoundLockBets, map[string]interface{}{
		"round_id": round.ID,
	})

	if err := s.flight(ctx, round, startedAt); err != nil {
		return err
	}

	if _, err := s.ledger.MarkCrashed(ctx, round.ID); err != nil {
		return err
	}
	s.hub.Broadcast(s.cfg.Mode, ws.EventRoundCrash, map[string]interface{}{
		"round_id":    round.ID,
		"crash_point": float64(round.CrashPoint) / 100,
		"server_seed": round.ServerSeed,
		"client_seed": round.ClientSeed,
		"nonce":       round.Nonce,
	})

	if err := s.settle(ctx, round); err != nil {
		return err
	}
	if err := s.ledger.MarkSettled(ctx, round.ID); err != nil {
		return err
	}

	logger.Log.Info("round settled",
		zap.String("mode", s.cfg.Mode),
		zap.Int64("roundID", round.ID),
		zap.Int64("crashPoint", round.CrashPoint))

	return s.wait(ctx, s.cfg.Cooldown)
}

// countdown runs the betting window, broadcasting remaining seconds.
func (s *Scheduler) countdown(ctx context.Context, round *model.Round) error {
	deadline := time.Now().Add(s.cfg.BettingWindow)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		s.hub.Broadcast(s.cfg.Mode, ws.EventRoundCountdown, map[string]interface{}{
			"round_id":  round.ID,
			"remaining": math.Ceil(remaining.Seconds()),
		})
		if err := s.beat(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// flight drives the multiplier from 1.00x until it reaches the round's
// pre-committed crash point. Every tick broadcasts the multiplier and runs
// the auto-cashout sweep; ticks never exceed the crash point.
func (s *Scheduler) flight(ctx context.Context, round *model.Round, startedAt time.Time) error {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		m := Multiplier(time.Since(startedAt), s.cfg.GrowthRate)
		if m >= round.CrashPoint {
			return nil
		}

		s.hub.Broadcast(s.cfg.Mode, ws.EventMultiplierUpdate, map[string]interface{}{
			"multiplier": float64(m) / 100,
		})

		for _, res := range s.ledger.AutoCashoutSweep(ctx, round.ID, m) {
			s.hub.SendToUser(s.cfg.Mode, res.UserID, ws.EventAutoCashoutTriggered, map[string]interface{}{
				"bet_id":     res.BetID,
				"multiplier": float64(res.Multiplier) / 100,
				"win_amount": res.WinAmount,
			})
			s.hub.Broadcast(s.cfg.Mode, ws.EventPlayerCashout, map[string]interface{}{
				"user_id":    res.UserID,
				"bet_id":     res.BetID,
				"multiplier": float64(res.Multiplier) / 100,
				"win_amount": res.WinAmount,
			})
		}

		if err := s.beat(ctx); err != nil {
			return err
		}
	}
}

// settle marks remaining bets lost in bounded batches, heartbeating between
// batches so a large round cannot starve the lease.
func (s *Scheduler) settle(ctx context.Context, round *model.Round) error {
	for {
		batch, err := s.ledger.SettleLostBatch(ctx, round.ID, s.cfg.SettleBatch)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		for _, bet := range batch {
			s.hub.SendToUser(s.cfg.Mode, bet.UserID, ws.EventBetCrashed, map[string]interface{}{
				"bet_id":   bet.ID,
				"round_id": round.ID,
			})
		}
		if err := s.beat(ctx); err != nil {
			return err
		}
	}
}

// beat renews the lease when the heartbeat cadence has elapsed. Renewal
// failure means another process may own the mode; the error propagates up
// and terminates this scheduler.
func (s *Scheduler) beat(ctx context.Context) error {
	if time.Since(s.lastBeat) < s.cfg.Heartbeat {
		return nil
	}
	if err := s.lease.Renew(ctx); err != nil {
		logger.Log.Error("lease heartbeat failed", zap.String("mode", s.cfg.Mode), zap.Error(err))
		return err
	}
	s.lastBeat = time.Now()
	return nil
}

// wait sleeps in small slices so the lease heartbeat keeps its wall-clock
// cadence through long blocking phases.
func (s *Scheduler) wait(ctx context.Context, d time.Duration) error {
	deadline := time.Now().Add(d)
	for {
		if err := s.beat(ctx); err != nil {
			return err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		slice := 250 * time.Millisecond
		if remaining < slice {
			slice = remaining
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(slice):
		}
	}
}

// Multiplier computes the flight curve at a point in time: an exponential
// climb from 1.00x, quantized to hundredths. Monotonically non-decreasing
// in elapsed time.
func Multiplier(elapsed time.Duration, rate float64) int64 {
	if elapsed < 0 {
		return 100
	}
	m := int64(math.Floor(100 * math.Exp(rate*elapsed.Seconds())))
	if m < 100 {
		m = 100
	}
	return m
}

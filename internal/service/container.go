package service

import (
	"context"
	"errors"

	"crash-service/internal/config"
	"crash-service/internal/service/ledger"
	"crash-service/internal/service/scheduler"
	"crash-service/internal/service/wallet"
	"crash-service/internal/ws"
	"crash-service/pkg/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Container struct {
	Ledger *ledger.Service
	Wallet *wallet.Service
	Hub    *ws.Hub

	schedulers []*scheduler.Scheduler
}

func NewContainer(db *gorm.DB, rdb *redis.Client) *Container {
	crashCfg := config.GlobalConfig.Crash

	walletSvc := wallet.NewService(db)
	ledgerSvc := ledger.NewService(db, rdb, walletSvc, ledger.Config{
		SeedSecret: crashCfg.SeedSecret,
		ClientSeed: crashCfg.ClientSeed,
	})
	hub := ws.NewHub()

	c := &Container{
		Ledger: ledgerSvc,
		Wallet: walletSvc,
		Hub:    hub,
	}
	for _, mode := range crashCfg.Modes {
		c.schedulers = append(c.schedulers, scheduler.New(scheduler.Config{
			Mode:          mode,
			BettingWindow: crashCfg.BettingWindow,
			TickInterval:  crashCfg.TickInterval,
			GrowthRate:    crashCfg.GrowthRate,
			Cooldown:      crashCfg.Cooldown,
			SettleBatch:   crashCfg.SettleBatch,
			LeaseTTL:      crashCfg.LeaseTTL,
			Heartbeat:     crashCfg.LeaseHeartbeat,
		}, ledgerSvc, hub, rdb))
	}
	return c
}

// Start seeds per-mode risk settings and launches one scheduler goroutine
// per configured mode. A scheduler returning a non-context error lost its
// lease or its coordination store; the process must not keep running.
func (c *Container) Start(ctx context.Context) error {
	for _, mode := range config.GlobalConfig.Crash.Modes {
		if _, err := c.Ledger.Settings(ctx, mode); err != nil {
			return err
		}
	}

	for _, sched := range c.schedulers {
		go func(sched *scheduler.Scheduler) {
			err := sched.Run(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Log.Fatal("scheduler terminated", zap.Error(err))
			}
		}(sched)
	}
	return nil
}

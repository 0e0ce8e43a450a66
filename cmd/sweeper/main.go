package main

import (
	"context"
	"os"
	"time"

	"smallbiznis-payout/internal/app"
	"smallbiznis-payout/services/reconcile"

	"github.com/spf13/pflag"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func main() {
	timeout := pflag.Duration("timeout", time.Hour, "abort the sweep after this long")
	pflag.Parse()

	var sweeper *reconcile.Sweeper
	application := fx.New(append(app.Core(reconcile.Module), fx.Populate(&sweeper))...)

	startCtx, cancel := context.WithTimeout(context.Background(), fx.DefaultTimeout)
	defer cancel()
	if err := application.Start(startCtx); err != nil {
		zap.L().Error("failed to start sweeper", zap.Error(err))
		os.Exit(1)
	}

	ctx, runCancel := context.WithTimeout(context.Background(), *timeout)
	rep, runErr := sweeper.Sweep(ctx)
	runCancel()

	if runErr != nil {
		zap.L().Error("❌ reconciliation sweep failed", zap.Error(runErr))
	} else {
		zap.L().Info("✅ reconciliation sweep finished",
			zap.String("run_id", rep.RunID),
			zap.Bool("disabled", rep.Disabled),
			zap.Bool("leased", rep.Leased),
			zap.Int("reward_succeeded", rep.Reward.Succeeded),
			zap.Int("reward_failed", rep.Reward.Failed),
			zap.Int("campaign_succeeded", rep.Campaign.Succeeded),
			zap.Int("campaign_failed", rep.Campaign.Failed),
		)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), fx.DefaultTimeout)
	defer stopCancel()
	if err := application.Stop(stopCtx); err != nil {
		zap.L().Warn("failed to stop sweeper cleanly", zap.Error(err))
	}

	if runErr != nil {
		os.Exit(1)
	}
}

package main

import (
	"context"
	"os"
	"time"

	"smallbiznis-payout/internal/app"
	"smallbiznis-payout/services/payout"

	"github.com/spf13/pflag"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func main() {
	campaignID := pflag.String("campaign-id", "", "pay out a single campaign instead of every due one")
	timeout := pflag.Duration("timeout", 2*time.Hour, "abort the run after this long")
	pflag.Parse()

	var svc *payout.Service
	application := fx.New(append(app.Core(payout.Module), fx.Populate(&svc))...)

	startCtx, cancel := context.WithTimeout(context.Background(), fx.DefaultTimeout)
	defer cancel()
	if err := application.Start(startCtx); err != nil {
		zap.L().Error("failed to start payout", zap.Error(err))
		os.Exit(1)
	}

	runErr := run(svc, *campaignID, *timeout)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), fx.DefaultTimeout)
	defer stopCancel()
	if err := application.Stop(stopCtx); err != nil {
		zap.L().Warn("failed to stop payout cleanly", zap.Error(err))
	}

	if runErr != nil {
		os.Exit(1)
	}
}

func run(svc *payout.Service, campaignID string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if campaignID != "" {
		rep, err := svc.RunCampaign(ctx, campaignID)
		if err != nil {
			zap.L().Error("❌ campaign payout failed", zap.String("campaign_id", campaignID), zap.Error(err))
			return err
		}
		zap.L().Info("✅ campaign payout finished",
			zap.String("campaign_id", campaignID),
			zap.Bool("skipped", rep.Skipped),
			zap.String("skip_reason", rep.SkipReason),
			zap.Int("succeeded", rep.Succeeded),
			zap.Int("failed", rep.Failed),
			zap.Bool("audited", rep.Audited),
		)
		return nil
	}

	rep, err := svc.RunDue(ctx)
	if err != nil {
		zap.L().Error("❌ due payout run failed", zap.Error(err))
		return err
	}
	zap.L().Info("✅ due payout run finished",
		zap.String("run_id", rep.RunID),
		zap.Int("campaigns", len(rep.Campaigns)),
	)
	return nil
}

package main

import (
	"log"

	"smallbiznis-payout/internal/app"
	"smallbiznis-payout/pkg/health"
	"smallbiznis-payout/pkg/profiling"
	"smallbiznis-payout/pkg/server"
	asynqtask "smallbiznis-payout/pkg/task"
	"smallbiznis-payout/services/payout"
	"smallbiznis-payout/services/reconcile"
	"smallbiznis-payout/services/task"

	"go.uber.org/fx"
)

func main() {
	opts := app.Core(
		payout.Module,
		reconcile.Module,
		asynqtask.Server,
		task.Module,
		health.Module,
		server.OpsModule,
		profiling.Module,
	)

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	fx.New(opts...).Run()
}

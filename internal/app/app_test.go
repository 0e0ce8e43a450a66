package app

import (
	"testing"

	"smallbiznis-payout/pkg/health"
	"smallbiznis-payout/pkg/profiling"
	"smallbiznis-payout/pkg/server"
	asynqtask "smallbiznis-payout/pkg/task"
	"smallbiznis-payout/services/payout"
	"smallbiznis-payout/services/reconcile"
	"smallbiznis-payout/services/task"

	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
)

func TestPayoutGraph(t *testing.T) {
	require.NoError(t, fx.ValidateApp(Core(payout.Module)...))
}

func TestSweeperGraph(t *testing.T) {
	require.NoError(t, fx.ValidateApp(Core(reconcile.Module)...))
}

func TestWorkerGraph(t *testing.T) {
	opts := Core(
		payout.Module,
		reconcile.Module,
		asynqtask.Server,
		task.Module,
		health.Module,
		server.OpsModule,
		profiling.Module,
	)
	require.NoError(t, fx.ValidateApp(opts...))
}

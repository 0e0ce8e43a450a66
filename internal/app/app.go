// Package app assembles the fx options shared by the payout binaries.
package app

import (
	"smallbiznis-payout/pkg/alert"
	"smallbiznis-payout/pkg/config"
	"smallbiznis-payout/pkg/db"
	"smallbiznis-payout/pkg/featureflags"
	"smallbiznis-payout/pkg/gen"
	"smallbiznis-payout/pkg/hashistack/secretmanager"
	"smallbiznis-payout/pkg/lease"
	"smallbiznis-payout/pkg/logger"
	"smallbiznis-payout/pkg/otelcol"
	"smallbiznis-payout/pkg/redis"
	"smallbiznis-payout/pkg/task"
	"smallbiznis-payout/services/balance"
	"smallbiznis-payout/services/bootstrap"
	"smallbiznis-payout/services/campaign"
	"smallbiznis-payout/services/ledger"
	"smallbiznis-payout/services/notification"
	"smallbiznis-payout/services/transfer"
	"smallbiznis-payout/services/wallet"

	"github.com/jonboulle/clockwork"
	"go.uber.org/fx"
)

// Infra is config, logging, storage and the external clients.
func Infra() fx.Option {
	return fx.Options(
		secretmanager.Optional(),
		config.Select(),
		logger.Module,
		logger.FxLogger,
		otelcol.Module,
		db.Module,
		redis.Module,
		gen.Module,
		lease.Module,
		alert.Module,
		featureflags.Module,
		task.Client,
		ledger.Module,
		fx.Provide(clockwork.NewRealClock),
	)
}

// Stores is every persistence module plus schema bootstrap.
func Stores() fx.Option {
	return fx.Options(
		bootstrap.Module,
		campaign.Module,
		wallet.Module,
		transfer.Module,
		notification.Module,
		balance.Module,
	)
}

// Core is Infra and Stores together.
func Core(opts ...fx.Option) []fx.Option {
	return append([]fx.Option{Infra(), Stores()}, opts...)
}

package balance

import (
	"context"
	"errors"
	"fmt"

	"smallbiznis-payout/pkg/alert"
	"smallbiznis-payout/pkg/config"
	"smallbiznis-payout/pkg/metrics"
	"smallbiznis-payout/services/ledger"
	"smallbiznis-payout/services/wallet"

	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Monitor watches the house ledger accounts and raises low-balance alerts.
type Monitor struct {
	houseOrgID string
	threshold  decimal.Decimal

	wallets *wallet.Store
	ledger  ledger.Client
	alerter alert.Alerter
}

type MonitorParams struct {
	fx.In

	Config  *config.Config
	Wallets *wallet.Store
	Ledger  ledger.Client
	Alerter alert.Alerter
}

func NewMonitor(p MonitorParams) (*Monitor, error) {
	threshold := decimal.Zero
	if raw := p.Config.Alert.LowBalanceThreshold; raw != "" {
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid ALERT.LOW_BALANCE_THRESHOLD %q: %w", raw, err)
		}
		threshold = v
	}

	return &Monitor{
		houseOrgID: p.Config.Payout.HouseOrgID,
		threshold:  threshold,
		wallets:    p.Wallets,
		ledger:     p.Ledger,
		alerter:    p.Alerter,
	}, nil
}

// Check polls every house account once.
func (m *Monitor) Check(ctx context.Context) error {
	w, err := m.wallets.OrgWallet(ctx, m.houseOrgID)
	if err != nil {
		return err
	}

	currencies, err := m.wallets.CurrenciesByWallet(ctx, w.ID)
	if err != nil {
		return err
	}

	var errs []error
	for _, c := range currencies {
		if _, err := m.CheckAccount(ctx, c.Symbol, c.TatumID); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.Symbol, err))
		}
	}
	return errors.Join(errs...)
}

// CheckAccount reads one account, exports it, and alerts when it is low.
func (m *Monitor) CheckAccount(ctx context.Context, symbol, accountID string) (ledger.Balance, error) {
	bal, err := m.ledger.GetAccountBalance(ctx, accountID)
	if err != nil {
		zap.L().Error("failed to read house balance", zap.String("symbol", symbol), zap.String("account_id", accountID), zap.Error(err))
		return ledger.Balance{}, err
	}

	metrics.HouseBalance.WithLabelValues(symbol, "available").Set(bal.Available.InexactFloat64())
	metrics.HouseBalance.WithLabelValues(symbol, "total").Set(bal.Total.InexactFloat64())

	if m.threshold.IsPositive() && bal.Available.LessThan(m.threshold) {
		if err := m.alerter.Alert(ctx, alert.Message{
			Severity: alert.SeverityCritical,
			Title:    "House ledger balance low",
			Text:     fmt.Sprintf("%s available balance %s is below %s", symbol, bal.Available, m.threshold),
			Fields: map[string]string{
				"symbol":     symbol,
				"account_id": accountID,
				"available":  bal.Available.String(),
				"total":      bal.Total.String(),
			},
		}); err != nil {
			zap.L().Warn("failed to send low balance alert", zap.Error(err))
		}
	}

	return bal, nil
}

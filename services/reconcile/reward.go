package reconcile

import (
	"context"
	"fmt"

	"smallbiznis-payout/services/ledger"
	"smallbiznis-payout/services/transfer"

	"go.uber.org/zap"
)

// rewardPass settles house-funded rewards. The sender is fixed per token, so
// each page goes out as one batch per symbol and every leg is recorded on
// its own outcome.
func (s *Sweeper) rewardPass(ctx context.Context, pr *PassReport) error {
	ctx, span := s.tracer.Start(ctx, "reconcile.reward_pass")
	defer span.End()

	return s.paginate(ctx, transfer.Filter{Actions: transfer.RewardActions}, func(rows []*transfer.Transfer) error {
		pr.Scanned += len(rows)

		bySymbol := map[string][]*transfer.Transfer{}
		var symbols []string
		for _, t := range rows {
			if _, ok := bySymbol[t.Symbol]; !ok {
				symbols = append(symbols, t.Symbol)
			}
			bySymbol[t.Symbol] = append(bySymbol[t.Symbol], t)
		}

		for _, symbol := range symbols {
			outcomes, err := s.settleRewards(ctx, symbol, bySymbol[symbol], pr)
			if err != nil {
				return err
			}
			if err := s.record(ctx, passReward, pr, outcomes); err != nil {
				return fmt.Errorf("record reward outcomes: %w", err)
			}
		}
		return nil
	})
}

func (s *Sweeper) settleRewards(ctx context.Context, symbol string, rows []*transfer.Transfer, pr *PassReport) ([]transfer.Outcome, error) {
	house, err := s.wallets.OrgCurrency(ctx, s.houseOrgID, symbol)
	if err != nil {
		return nil, fmt.Errorf("house account for %s: %w", symbol, err)
	}

	walletIDs := make([]string, 0, len(rows))
	for _, t := range rows {
		walletIDs = append(walletIDs, t.WalletID)
	}
	wallets, err := s.wallets.WalletsByIDs(ctx, walletIDs)
	if err != nil {
		return nil, err
	}
	currencies, err := s.wallets.CurrenciesByWallets(ctx, walletIDs, symbol)
	if err != nil {
		return nil, err
	}

	outcomes := make([]transfer.Outcome, 0, len(rows))
	var legs []ledger.BatchLeg
	var legRows []*transfer.Transfer
	for _, t := range rows {
		cur, ok := currencies[t.WalletID]
		if !ok {
			w, found := wallets[t.WalletID]
			if !found {
				outcomes = append(outcomes, transfer.Outcome{ID: t.ID, Action: t.Action, Err: fmt.Errorf("wallet %s not found", t.WalletID)})
				continue
			}
			cur, err = s.provisioner.Ensure(ctx, w, symbol)
			if err != nil {
				pr.rejected.add(err, t.WalletID)
				outcomes = append(outcomes, transfer.Outcome{ID: t.ID, Action: t.Action, Err: err})
				continue
			}
			currencies[t.WalletID] = cur
		}

		legs = append(legs, ledger.BatchLeg{
			RecipientAccountID: cur.TatumID,
			Amount:             t.Amount,
			PaymentID:          paymentID(t),
			RecipientNote:      string(t.Action),
		})
		legRows = append(legRows, t)
	}

	if len(legs) == 0 {
		return outcomes, nil
	}

	insufficient := false
	for i, res := range s.ledger.TransferBatch(ctx, house.TatumID, legs) {
		t := legRows[i]
		outcomes = append(outcomes, transfer.Outcome{ID: t.ID, Action: t.Action, Reference: res.Reference, Err: res.Err})
		if res.Err != nil {
			insufficient = insufficient || ledger.IsInsufficientBalance(res.Err)
			pr.rejected.add(res.Err, legs[i].RecipientAccountID)
			zap.L().Warn("reward transfer retry failed",
				zap.String("transfer_id", t.ID),
				zap.String("wallet_id", t.WalletID),
				zap.Error(res.Err),
			)
		}
	}

	if insufficient && s.monitor != nil {
		_, _ = s.monitor.CheckAccount(ctx, symbol, house.TatumID)
	}
	return outcomes, nil
}

func paymentID(t *transfer.Transfer) string {
	if t.IdempotencyKey != nil && *t.IdempotencyKey != "" {
		return *t.IdempotencyKey
	}
	return t.ID
}

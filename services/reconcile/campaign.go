package reconcile

import (
	"context"
	"errors"
	"fmt"

	"smallbiznis-payout/pkg/lease"
	"smallbiznis-payout/pkg/rediskey"
	"smallbiznis-payout/services/campaign"
	"smallbiznis-payout/services/ledger"
	"smallbiznis-payout/services/transfer"
	"smallbiznis-payout/services/wallet"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// campaignPass retries campaign rewards and fees one transfer at a time,
// since the sending account differs per campaign.
func (s *Sweeper) campaignPass(ctx context.Context, pr *PassReport) error {
	ctx, span := s.tracer.Start(ctx, "reconcile.campaign_pass")
	defer span.End()

	return s.paginate(ctx, transfer.Filter{Actions: transfer.CampaignActions}, func(rows []*transfer.Transfer) error {
		pr.Scanned += len(rows)

		byCampaign := map[string][]*transfer.Transfer{}
		var ids []string
		for _, t := range rows {
			if t.CampaignID == nil {
				pr.Skipped++
				zap.L().Warn("campaign transfer without campaign id", zap.String("transfer_id", t.ID))
				continue
			}
			if _, ok := byCampaign[*t.CampaignID]; !ok {
				ids = append(ids, *t.CampaignID)
			}
			byCampaign[*t.CampaignID] = append(byCampaign[*t.CampaignID], t)
		}

		campaigns, err := s.campaigns.ByIDs(ctx, ids)
		if err != nil {
			return err
		}

		for _, id := range ids {
			c, ok := campaigns[id]
			if !ok {
				pr.Skipped += len(byCampaign[id])
				zap.L().Warn("transfers reference unknown campaign", zap.String("campaign_id", id))
				continue
			}
			if err := s.settleCampaign(ctx, c, byCampaign[id], pr); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Sweeper) settleCampaign(ctx context.Context, c *campaign.Campaign, rows []*transfer.Transfer, pr *PassReport) error {
	log := zap.L().With(zap.String("campaign_id", c.ID))

	// A payout run still holding the campaign owns its rows.
	release, err := s.locker.Acquire(ctx, rediskey.CampaignLease(c.ID), s.leaseTTL)
	if errors.Is(err, lease.ErrNotAcquired) {
		pr.Skipped += len(rows)
		log.Info("campaign payout in progress, skipping its transfers")
		return nil
	}
	if err != nil {
		return fmt.Errorf("acquire campaign lease: %w", err)
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			log.Warn("failed to release campaign lease", zap.Error(err))
		}
	}()

	cutoff := s.clock.Now().Add(-s.staleAfter)
	senders := map[string]*wallet.Currency{}

	var legs []ledger.TransferRequest
	var legRows []*transfer.Transfer
	var outcomes []transfer.Outcome
	for _, t := range rows {
		if t.Status == transfer.StatusPending && t.UpdatedAt.After(cutoff) && !c.Audited() {
			pr.Skipped++
			continue
		}

		sender, ok := senders[t.Symbol]
		if !ok {
			sender, err = s.wallets.OrgCurrency(ctx, c.OrgID, t.Symbol)
			if err != nil {
				outcomes = append(outcomes, transfer.Outcome{ID: t.ID, Action: t.Action, Err: fmt.Errorf("campaign account: %w", err)})
				continue
			}
			senders[t.Symbol] = sender
		}

		recipient, err := s.recipient(ctx, t)
		if err != nil {
			pr.rejected.add(err, t.WalletID)
			outcomes = append(outcomes, transfer.Outcome{ID: t.ID, Action: t.Action, Err: err})
			continue
		}

		legs = append(legs, ledger.TransferRequest{
			SenderAccountID:    sender.TatumID,
			RecipientAccountID: recipient.TatumID,
			Amount:             t.Amount,
			PaymentID:          paymentID(t),
			SenderNote:         fmt.Sprintf("%s %s", t.Action, c.ID),
			RecipientNote:      c.Name,
		})
		legRows = append(legRows, t)
	}

	sent := make([]transfer.Outcome, len(legs))
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, req := range legs {
		g.Go(func() error {
			res, err := s.ledger.Transfer(ctx, req)
			sent[i] = transfer.Outcome{ID: legRows[i].ID, Action: legRows[i].Action, Reference: res.Reference, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	for i, o := range sent {
		if o.Err != nil {
			pr.rejected.add(o.Err, legs[i].RecipientAccountID)
			log.Warn("campaign transfer retry failed", zap.String("transfer_id", o.ID), zap.Error(o.Err))
		}
	}

	if err := s.record(ctx, passCampaign, pr, append(outcomes, sent...)); err != nil {
		return fmt.Errorf("record campaign outcomes: %w", err)
	}
	return nil
}

// recipient resolves the account a row pays into, provisioning it for
// participant wallets that never had one.
func (s *Sweeper) recipient(ctx context.Context, t *transfer.Transfer) (*wallet.Currency, error) {
	cur, err := s.wallets.Currency(ctx, t.WalletID, t.Symbol)
	if err != nil {
		return nil, err
	}
	if cur != nil {
		return cur, nil
	}

	wallets, err := s.wallets.WalletsByIDs(ctx, []string{t.WalletID})
	if err != nil {
		return nil, err
	}
	w, ok := wallets[t.WalletID]
	if !ok {
		return nil, fmt.Errorf("wallet %s not found", t.WalletID)
	}
	return s.provisioner.Ensure(ctx, w, t.Symbol)
}

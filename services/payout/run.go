package payout

import (
	"context"
	"fmt"

	"smallbiznis-payout/pkg/alert"
	"smallbiznis-payout/pkg/db/pagination"
	"smallbiznis-payout/pkg/errutil"
	"smallbiznis-payout/pkg/metrics"
	"smallbiznis-payout/services/campaign"
	"smallbiznis-payout/services/ledger"
	"smallbiznis-payout/services/reward"
	"smallbiznis-payout/services/transfer"
	"smallbiznis-payout/services/wallet"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// run carries the state of one campaign payout.
type run struct {
	svc    *Service
	c      *campaign.Campaign
	log    *zap.Logger
	report *Report

	pool   reward.Pool
	house  *wallet.Currency
	sender *wallet.Currency

	// tokens maps idempotency key to the recipient's device token.
	tokens       map[string]string
	paidTokens   []string
	insufficient bool
}

func (r *run) execute(ctx context.Context) error {
	s := r.svc

	table, err := r.c.Tiers()
	if err != nil {
		return errutil.ValidationFailed("invalid reward algorithm", err, errutil.WithDetail("campaign_id", r.c.ID))
	}
	r.pool, err = reward.Compute(r.c.TotalParticipationScore, table, s.feeRate)
	if err != nil {
		return errutil.ValidationFailed("cannot compute reward pool", err, errutil.WithDetail("campaign_id", r.c.ID))
	}
	r.report.Pool = r.pool

	r.log.Info("💰 reward pool computed",
		zap.String("tier", r.pool.Tier.Key),
		zap.String("gross", r.pool.Gross.String()),
		zap.String("fee", r.pool.Fee.String()),
		zap.String("net", r.pool.Net.String()),
	)

	if r.house, err = r.orgCurrency(ctx, s.houseOrgID); err != nil {
		return err
	}
	if r.sender, err = r.orgCurrency(ctx, r.c.OrgID); err != nil {
		return err
	}

	p := pagination.Pagination{Limit: s.pageSize}
	for page := 0; ; page++ {
		rows, info, err := s.campaigns.ParticipantsPage(ctx, r.c.ID, p)
		if err != nil {
			return fmt.Errorf("load participants page %d: %w", page, err)
		}
		if page == 0 {
			if err := r.releaseHold(ctx); err != nil {
				return err
			}
		}

		if err := r.payPage(ctx, page, rows); err != nil {
			return err
		}
		r.report.Pages++

		if !info.HasMore {
			break
		}
		p.Cursor = info.NextCursor
	}

	if err := r.payFee(ctx); err != nil {
		return err
	}

	audited, err := s.campaigns.MarkAudited(ctx, r.c.ID, s.clock.Now())
	if err != nil {
		return fmt.Errorf("mark campaign audited: %w", err)
	}
	r.report.Audited = audited
	if !audited {
		r.log.Warn("campaign left PENDING before audit could be recorded")
	}

	r.log.Info("✅ campaign payout finished",
		zap.Int("succeeded", r.report.Succeeded),
		zap.Int("failed", r.report.Failed),
		zap.Int("already_recorded", r.report.AlreadyRecorded),
		zap.Int("zero_share", r.report.ZeroShare),
	)

	r.notify(ctx)
	r.alertInsufficient(ctx)
	return nil
}

func (r *run) orgCurrency(ctx context.Context, orgID string) (*wallet.Currency, error) {
	c, err := r.svc.wallets.OrgCurrency(ctx, orgID, r.c.Symbol)
	if errutil.HasStatus(err, errutil.StatusNotFound) {
		return nil, errutil.NotFound("currency not found", fmt.Errorf("%w: org %s symbol %s", ErrCurrencyNotFound, orgID, r.c.Symbol),
			errutil.WithDetail("org_id", orgID),
			errutil.WithDetail("symbol", r.c.Symbol),
		)
	}
	return c, err
}

// releaseHold lifts the balance blockage placed at campaign launch. A
// blockage the ledger no longer knows about counts as released.
func (r *run) releaseHold(ctx context.Context) error {
	if r.c.TatumBlockageID == nil || *r.c.TatumBlockageID == "" {
		return nil
	}

	blockageID := *r.c.TatumBlockageID
	if err := r.svc.ledger.UnblockBalance(ctx, blockageID); err != nil {
		if !ledger.IsNotFound(err) {
			return errutil.Unavailable("failed to release campaign balance hold", err, errutil.WithDetail("blockage_id", blockageID))
		}
		r.log.Warn("balance hold already released", zap.String("blockage_id", blockageID))
	}

	if err := r.svc.campaigns.ClearBlockage(ctx, r.c.ID); err != nil {
		return fmt.Errorf("clear blockage: %w", err)
	}
	r.log.Info("🔓 released campaign balance hold", zap.String("blockage_id", blockageID))
	return nil
}

type candidate struct {
	participant *campaign.Participant
	user        *wallet.User
	wallet      *wallet.Wallet
	share       decimal.Decimal
	key         string
}

func (r *run) payPage(ctx context.Context, page int, rows []*campaign.Participant) error {
	s := r.svc
	ctx, span := s.tracer.Start(ctx, "payout.page", trace.WithAttributes(
		attribute.String("campaign_id", r.c.ID),
		attribute.Int("page", page),
		attribute.Int("participants", len(rows)),
	))
	defer span.End()

	if len(rows) == 0 {
		return nil
	}

	userIDs := make([]string, 0, len(rows))
	for _, p := range rows {
		userIDs = append(userIDs, p.UserID)
	}
	users, err := s.wallets.UsersByIDs(ctx, userIDs)
	if err != nil {
		return err
	}
	wallets, err := s.wallets.WalletsByUserIDs(ctx, userIDs)
	if err != nil {
		return err
	}

	candidates := make([]candidate, 0, len(rows))
	keys := make([]string, 0, len(rows))
	for _, p := range rows {
		u, ok := users[p.UserID]
		if !ok {
			return errutil.NotFound("participant user not found", fmt.Errorf("%w: %s", ErrUserNotFound, p.UserID),
				errutil.WithDetail("participant_id", p.ID))
		}
		w, ok := wallets[p.UserID]
		if !ok {
			return errutil.NotFound("participant wallet not found", fmt.Errorf("%w: user %s", ErrWalletNotFound, p.UserID),
				errutil.WithDetail("participant_id", p.ID))
		}

		amount := reward.Share(r.pool.Net, p.ParticipationScore, r.c.TotalParticipationScore, s.precision)
		if !amount.IsPositive() {
			r.report.ZeroShare++
			metrics.TransfersSkippedTotal.WithLabelValues("zero_share").Inc()
			continue
		}

		key := transfer.IdempotencyKey(r.c.ID, w.ID, p.ID, r.c.PayoutEpoch)
		candidates = append(candidates, candidate{participant: p, user: u, wallet: w, share: amount, key: key})
		keys = append(keys, key)
	}

	existing, err := s.transfers.ExistingKeys(ctx, keys)
	if err != nil {
		return err
	}

	pending := candidates[:0]
	for _, cand := range candidates {
		if _, ok := existing[cand.key]; ok {
			r.report.AlreadyRecorded++
			metrics.TransfersSkippedTotal.WithLabelValues("already_recorded").Inc()
			continue
		}
		pending = append(pending, cand)
	}
	if len(pending) == 0 {
		return nil
	}

	walletIDs := make([]string, 0, len(pending))
	for _, cand := range pending {
		walletIDs = append(walletIDs, cand.wallet.ID)
	}
	currencies, err := s.wallets.CurrenciesByWallets(ctx, walletIDs, r.c.Symbol)
	if err != nil {
		return err
	}

	legs := make([]leg, 0, len(pending))
	rowsToCreate := make([]*transfer.Transfer, 0, len(pending))
	for _, cand := range pending {
		var sendErr error
		cur, ok := currencies[cand.wallet.ID]
		if !ok {
			cur, err = s.provisioner.Ensure(ctx, cand.wallet, r.c.Symbol)
			switch {
			case err == nil:
			case ledger.IsTransient(err):
				// The sweeper provisions the account and pays the row later.
				sendErr = err
				cur = &wallet.Currency{}
				r.log.Warn("participant account not provisioned, deferring leg",
					zap.String("wallet_id", cand.wallet.ID),
					zap.Error(err),
				)
			default:
				return errutil.NotFound("participant currency account unavailable", fmt.Errorf("%w: %w", ErrCurrencyNotFound, err),
					errutil.WithDetail("wallet_id", cand.wallet.ID))
			}
		}

		campaignID, participantID, key := r.c.ID, cand.participant.ID, cand.key
		row := &transfer.Transfer{
			Amount:         cand.share,
			Action:         transfer.ActionCampaignReward,
			CampaignID:     &campaignID,
			WalletID:       cand.wallet.ID,
			ParticipantID:  &participantID,
			Symbol:         r.c.Symbol,
			IdempotencyKey: &key,
		}
		rowsToCreate = append(rowsToCreate, row)
		legs = append(legs, leg{row: row, req: ledger.TransferRequest{
			SenderAccountID:    r.sender.TatumID,
			RecipientAccountID: cur.TatumID,
			Amount:             cand.share,
			PaymentID:          key,
			SenderNote:         "campaign reward " + r.c.ID,
			RecipientNote:      r.c.Name,
		}, err: sendErr})
		if cand.user.DeviceToken != nil && *cand.user.DeviceToken != "" {
			r.tokens[key] = *cand.user.DeviceToken
		}
	}

	if err := s.transfers.CreatePending(ctx, rowsToCreate); err != nil {
		return fmt.Errorf("record pending transfers: %w", err)
	}

	outcomes := s.dispatch(ctx, legs)
	if err := s.transfers.MarkOutcomes(ctx, outcomes); err != nil {
		return fmt.Errorf("record transfer outcomes: %w", err)
	}

	for i, o := range outcomes {
		if o.Err != nil {
			r.report.Failed++
			if ledger.IsInsufficientBalance(o.Err) {
				r.insufficient = true
			}
			r.log.Warn("campaign reward transfer failed",
				zap.String("transfer_id", o.ID),
				zap.String("wallet_id", legs[i].row.WalletID),
				zap.Error(o.Err),
			)
			continue
		}
		r.report.Succeeded++
		if tok, ok := r.tokens[*legs[i].row.IdempotencyKey]; ok {
			r.paidTokens = append(r.paidTokens, tok)
		}
	}

	r.log.Info("📄 payout page settled",
		zap.Int("page", page),
		zap.Int("sent", len(legs)),
	)
	return nil
}

// payFee moves the house fee from the campaign owner's account once per
// campaign. Campaigns owned by the house keep the fee where it is.
func (r *run) payFee(ctx context.Context) error {
	s := r.svc
	if r.c.OrgID == s.houseOrgID || !r.pool.Fee.IsPositive() {
		return nil
	}

	key := transfer.IdempotencyKey(r.c.ID, r.house.WalletID, transfer.FeeParticipant, r.c.PayoutEpoch)
	existing, err := s.transfers.ExistingKeys(ctx, []string{key})
	if err != nil {
		return err
	}
	if _, ok := existing[key]; ok {
		return nil
	}

	campaignID := r.c.ID
	row := &transfer.Transfer{
		Amount:         r.pool.Fee,
		Action:         transfer.ActionCampaignFee,
		CampaignID:     &campaignID,
		WalletID:       r.house.WalletID,
		Symbol:         r.c.Symbol,
		IdempotencyKey: &key,
	}
	if err := s.transfers.CreatePending(ctx, []*transfer.Transfer{row}); err != nil {
		return fmt.Errorf("record fee transfer: %w", err)
	}

	outcomes := s.dispatch(ctx, []leg{{row: row, req: ledger.TransferRequest{
		SenderAccountID:    r.sender.TatumID,
		RecipientAccountID: r.house.TatumID,
		Amount:             r.pool.Fee,
		PaymentID:          key,
		SenderNote:         "campaign fee " + r.c.ID,
	}}})
	if err := s.transfers.MarkOutcomes(ctx, outcomes); err != nil {
		return fmt.Errorf("record fee outcome: %w", err)
	}

	r.report.FeeStatus = outcomes[0].Status()
	if err := outcomes[0].Err; err != nil {
		if ledger.IsInsufficientBalance(err) {
			r.insufficient = true
		}
		r.log.Warn("campaign fee transfer failed", zap.String("transfer_id", row.ID), zap.Error(err))
	}
	return nil
}

func (r *run) notify(ctx context.Context) {
	if len(r.paidTokens) == 0 {
		return
	}
	if err := r.svc.notifier.Notify(ctx, r.c.ID, r.paidTokens); err != nil {
		r.log.Warn("failed to queue payout notifications", zap.Error(err))
	}
}

func (r *run) alertInsufficient(ctx context.Context) {
	if !r.insufficient {
		return
	}
	err := r.svc.alerter.Alert(ctx, alert.Message{
		Severity: alert.SeverityCritical,
		Title:    "Campaign account balance insufficient",
		Text:     fmt.Sprintf("Transfers for campaign %s failed with insufficient balance; the sweeper will retry once the account is funded.", r.c.ID),
		Fields: map[string]string{
			"campaign_id": r.c.ID,
			"account_id":  r.sender.TatumID,
			"symbol":      r.c.Symbol,
		},
	})
	if err != nil {
		r.log.Warn("failed to deliver balance alert", zap.Error(err))
	}
}

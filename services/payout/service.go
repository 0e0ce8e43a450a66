package payout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"smallbiznis-payout/pkg/alert"
	"smallbiznis-payout/pkg/config"
	"smallbiznis-payout/pkg/db/pagination"
	"smallbiznis-payout/pkg/errutil"
	"smallbiznis-payout/pkg/featureflags"
	"smallbiznis-payout/pkg/lease"
	"smallbiznis-payout/pkg/metrics"
	"smallbiznis-payout/pkg/rediskey"
	"smallbiznis-payout/services/campaign"
	"smallbiznis-payout/services/ledger"
	"smallbiznis-payout/services/notification"
	"smallbiznis-payout/services/reward"
	"smallbiznis-payout/services/transfer"
	"smallbiznis-payout/services/wallet"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Service struct {
	houseOrgID          string
	feeRate             decimal.Decimal
	pageSize            int
	concurrency         int
	campaignConcurrency int
	precision           int32
	maxAttempts         int
	leaseTTL            time.Duration

	campaigns   *campaign.Store
	wallets     *wallet.Store
	provisioner *wallet.Provisioner
	transfers   *transfer.Store
	ledger      ledger.Client
	locker      lease.Locker
	alerter     alert.Alerter
	notifier    notification.Notifier
	flags       featureflags.FeatureFlag
	clock       clockwork.Clock
	tracer      trace.Tracer
	newBackOff  func() backoff.BackOff
}

type ServiceParams struct {
	fx.In

	Config      *config.Config
	Campaigns   *campaign.Store
	Wallets     *wallet.Store
	Provisioner *wallet.Provisioner
	Transfers   *transfer.Store
	Ledger      ledger.Client
	Locker      lease.Locker
	Alerter     alert.Alerter
	Flags       featureflags.FeatureFlag
	Notifier    notification.Notifier `optional:"true"`
	Clock       clockwork.Clock       `optional:"true"`
	BackOff     func() backoff.BackOff `optional:"true"`
}

func NewService(p ServiceParams) (*Service, error) {
	cfg := p.Config.Payout
	if cfg.HouseOrgID == "" {
		return nil, errors.New("PAYOUT.HOUSE_ORG_ID is required")
	}

	feeRate, err := decimal.NewFromString(cfg.FeeRate)
	if err != nil {
		return nil, fmt.Errorf("invalid PAYOUT.FEE_RATE %q: %w", cfg.FeeRate, err)
	}
	if feeRate.IsNegative() || feeRate.GreaterThan(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("%w: PAYOUT.FEE_RATE %s", reward.ErrInvalidFeeRate, feeRate)
	}
	if cfg.AmountPrecision < 0 {
		return nil, fmt.Errorf("invalid PAYOUT.AMOUNT_PRECISION %d: must not be negative", cfg.AmountPrecision)
	}

	s := &Service{
		houseOrgID:          cfg.HouseOrgID,
		feeRate:             feeRate,
		pageSize:            orDefault(cfg.PageSize, pagination.DefaultLimit),
		concurrency:         orDefault(cfg.Concurrency, 20),
		campaignConcurrency: orDefault(cfg.CampaignConcurrency, 4),
		precision:           cfg.AmountPrecision,
		maxAttempts:         orDefault(cfg.MaxAttempts, 3),
		leaseTTL:            cfg.LeaseTTL,
		campaigns:           p.Campaigns,
		wallets:             p.Wallets,
		provisioner:         p.Provisioner,
		transfers:           p.Transfers,
		ledger:              p.Ledger,
		locker:              p.Locker,
		alerter:             p.Alerter,
		notifier:            p.Notifier,
		flags:               p.Flags,
		clock:               p.Clock,
		tracer:              otel.Tracer("smallbiznis-payout/payout"),
		newBackOff:          p.BackOff,
	}

	if s.leaseTTL <= 0 {
		s.leaseTTL = 30 * time.Minute
	}
	if s.notifier == nil {
		s.notifier = notification.Nop{}
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	if s.newBackOff == nil {
		s.newBackOff = defaultBackOff
	}

	return s, nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func traced(ctx context.Context, log *zap.Logger) *zap.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return log
	}
	return log.With(
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	)
}

// RunDue pays every approved, unaudited campaign whose end date has passed.
// Campaigns run concurrently; one campaign failing never stops the others.
func (s *Service) RunDue(ctx context.Context) (*DueReport, error) {
	report := &DueReport{RunID: uuid.NewString()}

	if !s.flags.IsEnabled(ctx, featureflags.PayoutEnabled, true) {
		zap.L().Warn("⏸️ payouts disabled by feature flag", zap.String("run_id", report.RunID))
		return report, nil
	}

	ctx, span := s.tracer.Start(ctx, "payout.run_due", trace.WithAttributes(attribute.String("run_id", report.RunID)))
	defer span.End()

	log := traced(ctx, zap.L()).With(zap.String("run_id", report.RunID))
	now := s.clock.Now()
	log.Info("▶️ starting due payout run", zap.Time("now", now))

	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	g.SetLimit(s.campaignConcurrency)

	p := pagination.Pagination{Limit: s.pageSize}
	for {
		due, info, err := s.campaigns.ListDue(ctx, now, p)
		if err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("list due campaigns: %w", err))
			mu.Unlock()
			break
		}

		for _, c := range due {
			g.Go(func() error {
				r, err := s.runCampaign(ctx, report.RunID, c.ID)
				mu.Lock()
				defer mu.Unlock()
				if r != nil {
					report.Campaigns = append(report.Campaigns, r)
				}
				if err != nil {
					errs = append(errs, fmt.Errorf("campaign %s: %w", c.ID, err))
				}
				return nil
			})
		}

		if !info.HasMore {
			break
		}
		p.Cursor = info.NextCursor
	}
	_ = g.Wait()

	err := errors.Join(errs...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "due run finished with errors")
	}
	log.Info("✅ due payout run finished", zap.Int("campaigns", len(report.Campaigns)), zap.Int("errors", len(errs)))
	return report, err
}

// RunCampaign pays a single campaign. Re-running it is safe: legs already
// recorded are skipped.
func (s *Service) RunCampaign(ctx context.Context, campaignID string) (*Report, error) {
	return s.runCampaign(ctx, uuid.NewString(), campaignID)
}

func (s *Service) runCampaign(ctx context.Context, runID, campaignID string) (report *Report, err error) {
	start := s.clock.Now()
	ctx, span := s.tracer.Start(ctx, "payout.run_campaign", trace.WithAttributes(
		attribute.String("campaign_id", campaignID),
		attribute.String("run_id", runID),
	))
	log := traced(ctx, zap.L()).With(zap.String("campaign_id", campaignID), zap.String("run_id", runID))

	defer func() {
		outcome := "audited"
		switch {
		case err != nil:
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			log.Error("❌ campaign payout aborted", zap.Error(err))
			s.alertFatal(ctx, campaignID, runID, err)
		case report != nil && report.Skipped:
			outcome = "skipped"
		}
		metrics.CampaignRunsTotal.WithLabelValues(outcome).Inc()
		metrics.CampaignRunDuration.WithLabelValues(outcome).Observe(s.clock.Since(start).Seconds())
		span.End()
	}()

	release, err := s.locker.Acquire(ctx, rediskey.CampaignLease(campaignID), s.leaseTTL)
	if errors.Is(err, lease.ErrNotAcquired) {
		log.Info("campaign is being paid by another worker")
		return skipped(campaignID, runID, "leased"), nil
	}
	if err != nil {
		return nil, errutil.Unavailable("failed to acquire campaign lease", err)
	}
	defer func() {
		if rerr := release(context.WithoutCancel(ctx)); rerr != nil {
			log.Warn("failed to release campaign lease", zap.Error(rerr))
		}
	}()

	c, err := s.campaigns.Get(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	switch c.AuditStatus {
	case campaign.AuditAudited:
		log.Info("campaign already audited")
		return skipped(campaignID, runID, "audited"), nil
	case campaign.AuditError:
		return nil, errutil.FailedPrecondition("campaign is in ERROR state", nil, errutil.WithDetail("campaign_id", c.ID))
	}

	r := &run{
		svc:    s,
		c:      c,
		log:    log,
		report: &Report{CampaignID: c.ID, RunID: runID},
		tokens: map[string]string{},
	}
	if err := r.execute(ctx); err != nil {
		return r.report, err
	}
	return r.report, nil
}

func (s *Service) alertFatal(ctx context.Context, campaignID, runID string, cause error) {
	fields := map[string]string{
		"campaign_id": campaignID,
		"run_id":      runID,
	}
	if st := errutil.StatusOf(cause); st != "" {
		fields["status"] = string(st)
	}

	if err := s.alerter.Alert(context.WithoutCancel(ctx), alert.Message{
		Severity: alert.SeverityCritical,
		Title:    "Campaign payout aborted",
		Text:     cause.Error(),
		Fields:   fields,
	}); err != nil {
		zap.L().Warn("failed to deliver payout alert", zap.String("campaign_id", campaignID), zap.Error(err))
	}
}

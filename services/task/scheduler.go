package task

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Scheduler enqueues the periodic triggers. Enqueue is deduplicated, so
// several worker replicas may run a scheduler each.
type Scheduler struct {
	service *Service
	clock   clockwork.Clock

	cancel context.CancelFunc
	done   chan struct{}
}

func NewScheduler(svc *Service) *Scheduler {
	return &Scheduler{service: svc, clock: svc.clock}
}

// StartScheduler ties the scheduler loop to the fx lifecycle.
func StartScheduler(lc fx.Lifecycle, s *Scheduler) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			s.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return s.Stop(ctx)
		},
	})
}

// Start runs the loop on its own context; the OnStart context ends with startup.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx)
}

func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) ticker(d time.Duration) clockwork.Ticker {
	if d <= 0 {
		return nil
	}
	return s.clock.NewTicker(d)
}

func tick(t clockwork.Ticker) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.Chan()
}

func stop(tickers ...clockwork.Ticker) {
	for _, t := range tickers {
		if t != nil {
			t.Stop()
		}
	}
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)

	cfg := s.service.schedule
	payoutT := s.ticker(cfg.payout)
	sweepT := s.ticker(cfg.sweep)
	balanceT := s.ticker(cfg.balance)
	defer stop(payoutT, sweepT, balanceT)

	zap.L().Info("[Scheduler] started",
		zap.Duration("payout_interval", cfg.payout),
		zap.Duration("sweep_interval", cfg.sweep),
		zap.Duration("balance_interval", cfg.balance),
	)

	for {
		select {
		case <-ctx.Done():
			zap.L().Warn("[Scheduler] stopped")
			return
		case <-tick(payoutT):
			s.trigger(ctx, "payout", s.service.EnqueueRunDue)
		case <-tick(sweepT):
			s.trigger(ctx, "sweep", s.service.EnqueueSweep)
		case <-tick(balanceT):
			s.trigger(ctx, "balance", s.service.EnqueueBalanceCheck)
		}
	}
}

func (s *Scheduler) trigger(ctx context.Context, name string, enqueue func(context.Context) error) {
	start := s.clock.Now()
	if err := enqueue(ctx); err != nil {
		zap.L().Error("[Scheduler] failed to enqueue", zap.String("trigger", name), zap.Error(err))
		return
	}
	zap.L().Debug("[Scheduler] triggered",
		zap.String("trigger", name),
		zap.Duration("duration", s.clock.Since(start)),
	)
}

package payout

import (
	"context"
	"time"

	"smallbiznis-payout/services/ledger"
	"smallbiznis-payout/services/transfer"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type leg struct {
	row *transfer.Transfer
	req ledger.TransferRequest
	// err marks a leg that cannot be sent this run; it is recorded FAILED
	// for the sweeper.
	err error
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 30 * time.Second
	b.Reset()
	return b
}

// send issues one transfer. Only rejections the ledger never acted on are
// retried here; anything else is returned for the row to record.
func (s *Service) send(ctx context.Context, req ledger.TransferRequest) (ledger.TransferResult, error) {
	attempts := s.maxAttempts
	if attempts < 1 {
		attempts = 1
	}
	b := backoff.WithContext(backoff.WithMaxRetries(s.newBackOff(), uint64(attempts-1)), ctx)

	var res ledger.TransferResult
	err := backoff.RetryNotify(func() error {
		r, err := s.ledger.Transfer(ctx, req)
		if err != nil {
			if ledger.IsRetryable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		res = r
		return nil
	}, b, func(err error, wait time.Duration) {
		zap.L().Debug("retrying ledger transfer",
			zap.String("payment_id", req.PaymentID),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	})
	return res, err
}

// dispatch sends every leg with bounded concurrency. A failing leg never
// stops the others.
func (s *Service) dispatch(ctx context.Context, legs []leg) []transfer.Outcome {
	outcomes := make([]transfer.Outcome, len(legs))

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, l := range legs {
		if l.err != nil {
			outcomes[i] = transfer.Outcome{ID: l.row.ID, Action: l.row.Action, Err: l.err}
			continue
		}
		g.Go(func() error {
			res, err := s.send(ctx, l.req)
			outcomes[i] = transfer.Outcome{ID: l.row.ID, Action: l.row.Action, Reference: res.Reference, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

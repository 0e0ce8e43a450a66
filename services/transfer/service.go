package transfer

import (
	"context"
	"fmt"

	"smallbiznis-payout/pkg/db/option"
	"smallbiznis-payout/pkg/db/pagination"
	"smallbiznis-payout/pkg/metrics"
	"smallbiznis-payout/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxErrorLen = 1024

type Store struct {
	db   *gorm.DB
	node *snowflake.Node

	transfer repository.Repository[Transfer]
}

type StoreParams struct {
	fx.In

	DB   *gorm.DB
	Node *snowflake.Node
}

func NewStore(p StoreParams) *Store {
	return &Store{
		db:       p.DB,
		node:     p.Node,
		transfer: repository.ProvideStore[Transfer](p.DB),
	}
}

// ExistingKeys returns the transfers already recorded for keys, keyed by idempotency key.
func (s *Store) ExistingKeys(ctx context.Context, keys []string) (map[string]*Transfer, error) {
	out := make(map[string]*Transfer, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	rows, err := s.transfer.Find(ctx, nil, option.WithIn("idempotency_key", keys))
	if err != nil {
		return nil, err
	}
	for _, t := range rows {
		if t.IdempotencyKey != nil {
			out[*t.IdempotencyKey] = t
		}
	}
	return out, nil
}

// CreatePending inserts rows as PENDING before any ledger call is made. A
// duplicate idempotency key fails the whole insert.
func (s *Store) CreatePending(ctx context.Context, rows []*Transfer) error {
	for _, t := range rows {
		if t.ID == "" {
			t.ID = s.node.Generate().String()
		}
		t.Status = StatusPending
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.transfer.WithTrx(tx).BatchCreate(ctx, rows)
	})
}

// MarkOutcomes records a page of ledger results in one commit. SUCCEEDED
// rows are never touched again.
func (s *Store) MarkOutcomes(ctx context.Context, outcomes []Outcome) error {
	if len(outcomes) == 0 {
		return nil
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, o := range outcomes {
			updates := map[string]any{
				"status":   o.Status(),
				"attempts": gorm.Expr("attempts + 1"),
			}
			if o.Err != nil {
				updates["error_message"] = truncate(o.Err.Error(), maxErrorLen)
			} else {
				updates["ledger_reference"] = o.Reference
				updates["error_message"] = ""
			}

			res := tx.Model(&Transfer{}).
				Where("id = ? AND status <> ?", o.ID, StatusSucceeded).
				Updates(updates)
			if res.Error != nil {
				return fmt.Errorf("mark transfer %s: %w", o.ID, res.Error)
			}
			if res.RowsAffected == 0 {
				zap.L().Warn("transfer already settled or missing", zap.String("transfer_id", o.ID))
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, o := range outcomes {
		metrics.TransfersTotal.WithLabelValues(string(o.Action), string(o.Status())).Inc()
	}
	return nil
}

// ListUnsettled pages through transfers matching f in id order.
func (s *Store) ListUnsettled(ctx context.Context, f Filter, p pagination.Pagination) ([]*Transfer, *pagination.PageInfo, error) {
	statuses := f.Statuses
	if len(statuses) == 0 {
		statuses = []Status{StatusPending, StatusFailed}
	}

	rows, err := s.transfer.Find(ctx, nil,
		option.WithIn("action", toStrings(f.Actions)),
		option.WithIn("status", toStrings(statuses)),
		option.ApplyPagination(p),
	)
	if err != nil {
		return nil, nil, err
	}

	return pagination.Paginate(rows, p.Size(), func(t *Transfer) pagination.Cursor {
		return pagination.Cursor{ID: t.ID}
	})
}

func (s *Store) CountByCampaign(ctx context.Context, campaignID string, action Action) (int64, error) {
	return s.transfer.Count(ctx, &Transfer{CampaignID: &campaignID, Action: action})
}

func toStrings[T ~string](vs []T) []string {
	out := make([]string, 0, len(vs))
	for _, v := range vs {
		out = append(out, string(v))
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

package campaign

import (
	"context"
	"time"

	"smallbiznis-payout/pkg/db/option"
	"smallbiznis-payout/pkg/db/pagination"
	"smallbiznis-payout/pkg/errutil"
	"smallbiznis-payout/pkg/repository"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Store struct {
	db *gorm.DB

	campaign    repository.Repository[Campaign]
	participant repository.Repository[Participant]
}

type StoreParams struct {
	fx.In

	DB *gorm.DB
}

func NewStore(p StoreParams) *Store {
	return &Store{
		db:          p.DB,
		campaign:    repository.ProvideStore[Campaign](p.DB),
		participant: repository.ProvideStore[Participant](p.DB),
	}
}

func (s *Store) Get(ctx context.Context, id string) (*Campaign, error) {
	c, err := s.campaign.FindOne(ctx, &Campaign{ID: id})
	if err != nil {
		zap.L().Error("failed to load campaign", zap.String("campaign_id", id), zap.Error(err))
		return nil, err
	}
	if c == nil {
		return nil, errutil.NotFound("campaign not found", nil, errutil.WithDetail("campaign_id", id))
	}
	return c, nil
}

// ListDue pages through approved, unaudited, non-global campaigns whose end
// date has passed.
func (s *Store) ListDue(ctx context.Context, now time.Time, p pagination.Pagination) ([]*Campaign, *pagination.PageInfo, error) {
	rows, err := s.campaign.Find(ctx, nil,
		option.ApplyOperator(
			option.Condition{Field: "status", Operator: option.EQ, Value: StatusApproved},
			option.Condition{Field: "audit_status", Operator: option.EQ, Value: AuditPending},
			option.Condition{Field: "is_global", Operator: option.EQ, Value: false},
			option.Condition{Field: "end_date", Operator: option.LT, Value: now},
		),
		option.ApplyPagination(p),
	)
	if err != nil {
		return nil, nil, err
	}

	return pagination.Paginate(rows, p.Size(), func(c *Campaign) pagination.Cursor {
		return pagination.Cursor{ID: c.ID}
	})
}

// ParticipantsPage returns one page of a campaign's payable participants in id order.
func (s *Store) ParticipantsPage(ctx context.Context, campaignID string, p pagination.Pagination) ([]*Participant, *pagination.PageInfo, error) {
	rows, err := s.participant.Find(ctx, nil,
		option.ApplyOperator(
			option.Condition{Field: "campaign_id", Operator: option.EQ, Value: campaignID},
			option.Condition{Field: "blacklist", Operator: option.EQ, Value: false},
		),
		option.ApplyPagination(p),
	)
	if err != nil {
		return nil, nil, err
	}

	return pagination.Paginate(rows, p.Size(), func(p *Participant) pagination.Cursor {
		return pagination.Cursor{ID: p.ID}
	})
}

// MarkAudited moves a PENDING campaign to AUDITED. It reports false when the
// campaign was not PENDING, so the transition happens at most once.
func (s *Store) MarkAudited(ctx context.Context, id string, at time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&Campaign{}).
		Where("id = ? AND audit_status = ?", id, AuditPending).
		Updates(map[string]any{
			"audit_status": AuditAudited,
			"audited_at":   at,
			"audit_error":  "",
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ClearBlockage forgets the balance hold once it has been released.
func (s *Store) ClearBlockage(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Model(&Campaign{}).
		Where("id = ?", id).
		Update("tatum_blockage_id", nil).Error
}

// MarkError parks a campaign in ERROR. Payout runs never call it; operators
// use it to stop a campaign from being picked up again.
func (s *Store) MarkError(ctx context.Context, id, reason string) error {
	res := s.db.WithContext(ctx).Model(&Campaign{}).
		Where("id = ? AND audit_status = ?", id, AuditPending).
		Updates(map[string]any{
			"audit_status": AuditError,
			"audit_error":  reason,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errutil.FailedPrecondition("campaign is not pending", nil, errutil.WithDetail("campaign_id", id))
	}
	return nil
}

// ByIDs loads campaigns keyed by id.
func (s *Store) ByIDs(ctx context.Context, ids []string) (map[string]*Campaign, error) {
	out := make(map[string]*Campaign, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := s.campaign.Find(ctx, nil, option.WithIn("id", ids))
	if err != nil {
		return nil, err
	}
	for _, c := range rows {
		out[c.ID] = c
	}
	return out, nil
}

package campaign

import (
	"encoding/json"
	"fmt"
	"time"

	"smallbiznis-payout/services/reward"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type Status string
type AuditStatus string

const (
	StatusDraft    Status = "DRAFT"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
	StatusClosed   Status = "CLOSED"

	AuditPending AuditStatus = "PENDING"
	AuditAudited AuditStatus = "AUDITED"
	AuditError   AuditStatus = "ERROR"
)

type Campaign struct {
	ID                      string          `gorm:"column:id;primaryKey;type:varchar(64)"`
	OrgID                   string          `gorm:"column:org_id;index;not null"`
	Name                    string          `gorm:"column:name;type:varchar(255)"`
	Status                  Status          `gorm:"column:status;type:varchar(32);not null;default:'DRAFT'"`
	AuditStatus             AuditStatus     `gorm:"column:audit_status;type:varchar(32);not null;default:'PENDING';index"`
	IsGlobal                bool            `gorm:"column:is_global;not null;default:false"`
	EndDate                 time.Time       `gorm:"column:end_date;index"`
	TotalParticipationScore decimal.Decimal `gorm:"column:total_participation_score;type:varchar(64);not null;default:'0'"`
	Algorithm               datatypes.JSON  `gorm:"column:algorithm"`
	Symbol                  string          `gorm:"column:symbol;type:varchar(32);not null"`
	TatumBlockageID         *string         `gorm:"column:tatum_blockage_id"`
	// PayoutEpoch is part of every payout idempotency key. Bumping it lets an
	// operator deliberately pay a campaign again.
	PayoutEpoch int        `gorm:"column:payout_epoch;not null;default:1"`
	AuditError  string     `gorm:"column:audit_error;type:text"`
	AuditedAt   *time.Time `gorm:"column:audited_at"`
	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

type algorithm struct {
	Tiers       reward.TierTable           `json:"tiers"`
	PointValues map[string]decimal.Decimal `json:"pointValues"`
}

func (c *Campaign) algorithm() (algorithm, error) {
	var a algorithm
	if len(c.Algorithm) == 0 {
		return a, fmt.Errorf("campaign %s: %w: algorithm is empty", c.ID, reward.ErrInvalidTierTable)
	}
	if err := json.Unmarshal(c.Algorithm, &a); err != nil {
		return a, fmt.Errorf("campaign %s: %w: %v", c.ID, reward.ErrInvalidTierTable, err)
	}
	return a, nil
}

// Tiers decodes the tier table from the algorithm column.
func (c *Campaign) Tiers() (reward.TierTable, error) {
	a, err := c.algorithm()
	if err != nil {
		return nil, err
	}
	return a.Tiers, nil
}

// PointValues returns the per-action weights used upstream to accumulate scores.
func (c *Campaign) PointValues() (map[string]decimal.Decimal, error) {
	a, err := c.algorithm()
	if err != nil {
		return nil, err
	}
	return a.PointValues, nil
}

func (c *Campaign) Audited() bool {
	return c.AuditStatus == AuditAudited
}

type Participant struct {
	ID                 string          `gorm:"column:id;primaryKey;type:varchar(64)"`
	CampaignID         string          `gorm:"column:campaign_id;not null;uniqueIndex:idx_participant_campaign_user"`
	UserID             string          `gorm:"column:user_id;not null;uniqueIndex:idx_participant_campaign_user"`
	ParticipationScore decimal.Decimal `gorm:"column:participation_score;type:varchar(64);not null;default:'0'"`
	Blacklist          bool            `gorm:"column:blacklist;not null;default:false"`
	CreatedAt          time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

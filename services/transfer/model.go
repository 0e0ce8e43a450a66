package transfer

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Action string
type Status string

const (
	ActionCampaignReward      Action = "CAMPAIGN_REWARD"
	ActionCampaignFee         Action = "CAMPAIGN_FEE"
	ActionLoginReward         Action = "LOGIN_REWARD"
	ActionRegistrationReward  Action = "REGISTRATION_REWARD"
	ActionParticipationReward Action = "PARTICIPATION_REWARD"
	ActionSharingReward       Action = "SHARING_REWARD"

	StatusPending   Status = "PENDING"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
)

// RewardActions are paid from the house account rather than a campaign account.
var RewardActions = []Action{
	ActionLoginReward,
	ActionRegistrationReward,
	ActionParticipationReward,
	ActionSharingReward,
}

// CampaignActions are paid from a campaign owner's account.
var CampaignActions = []Action{
	ActionCampaignReward,
	ActionCampaignFee,
}

type Transfer struct {
	ID              string          `gorm:"column:id;primaryKey;type:varchar(64)"`
	Amount          decimal.Decimal `gorm:"column:amount;type:varchar(78);not null"`
	Action          Action          `gorm:"column:action;type:varchar(32);not null;index:idx_transfer_action_status"`
	Status          Status          `gorm:"column:status;type:varchar(16);not null;default:'PENDING';index:idx_transfer_action_status"`
	CampaignID      *string         `gorm:"column:campaign_id;index"`
	WalletID        string          `gorm:"column:wallet_id;not null;index"`
	ParticipantID   *string         `gorm:"column:participant_id"`
	Symbol          string          `gorm:"column:symbol;type:varchar(32);not null"`
	IdempotencyKey  *string         `gorm:"column:idempotency_key;type:varchar(64);uniqueIndex"`
	LedgerReference *string         `gorm:"column:ledger_reference"`
	ErrorMessage    string          `gorm:"column:error_message;type:text"`
	Attempts        int             `gorm:"column:attempts;not null;default:0"`
	CreatedAt       time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

// IdempotencyKey derives the natural key of a campaign payout leg. The
// amount is left out so two participants earning the same share never collide.
func IdempotencyKey(campaignID, walletID, participantID string, epoch int) string {
	raw := strings.Join([]string{campaignID, walletID, participantID, strconv.Itoa(epoch)}, "|")
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// FeeParticipant stands in for the participant id in a campaign fee key.
const FeeParticipant = "fee"

// Outcome is the ledger result of one transfer attempt.
type Outcome struct {
	ID        string
	Action    Action
	Reference string
	Err       error
}

func (o Outcome) Status() Status {
	if o.Err != nil {
		return StatusFailed
	}
	return StatusSucceeded
}

type Filter struct {
	Actions  []Action
	Statuses []Status
}

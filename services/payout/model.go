package payout

import (
	"errors"

	"smallbiznis-payout/services/reward"
	"smallbiznis-payout/services/transfer"
)

var (
	ErrCurrencyNotFound = errors.New("payout: currency not found")
	ErrWalletNotFound   = errors.New("payout: wallet not found")
	ErrUserNotFound     = errors.New("payout: user not found")
)

// Report summarizes one campaign run.
type Report struct {
	CampaignID string
	RunID      string
	Skipped    bool
	SkipReason string
	Pool       reward.Pool
	Pages      int

	Succeeded       int
	Failed          int
	AlreadyRecorded int
	ZeroShare       int

	// FeeStatus is empty when no fee transfer was due in this run.
	FeeStatus transfer.Status
	Audited   bool
}

func skipped(campaignID, runID, reason string) *Report {
	return &Report{CampaignID: campaignID, RunID: runID, Skipped: true, SkipReason: reason}
}

// DueReport summarizes a run over every due campaign.
type DueReport struct {
	RunID     string
	Campaigns []*Report
}

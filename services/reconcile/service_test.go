package reconcile

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"smallbiznis-payout/pkg/alert"
	"smallbiznis-payout/pkg/config"
	"smallbiznis-payout/pkg/featureflags"
	"smallbiznis-payout/pkg/lease"
	"smallbiznis-payout/pkg/rediskey"
	"smallbiznis-payout/services/balance"
	"smallbiznis-payout/services/campaign"
	"smallbiznis-payout/services/ledger"
	"smallbiznis-payout/services/ledger/ledgertest"
	"smallbiznis-payout/services/testutil"
	"smallbiznis-payout/services/transfer"
	"smallbiznis-payout/services/wallet"

	"github.com/bwmarrin/snowflake"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type alerterMock struct {
	mu   sync.Mutex
	msgs []alert.Message
}

func (a *alerterMock) Alert(_ context.Context, msg alert.Message) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.msgs = append(a.msgs, msg)
	return nil
}

type fixture struct {
	db      *gorm.DB
	sweeper *Sweeper
	ledger  *ledgertest.Stub
	locker  *lease.Local
	alerts  *alerterMock
	clock   *clockwork.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testutil.NewTestDB(t,
		&campaign.Campaign{}, &campaign.Participant{},
		&wallet.User{}, &wallet.Wallet{}, &wallet.Currency{},
		&transfer.Transfer{},
	)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Payout.HouseOrgID = "house"
	cfg.Payout.Concurrency = 4
	cfg.Sweeper.PageSize = 2
	cfg.Sweeper.PendingStaleAfter = time.Hour
	cfg.Alert.LowBalanceThreshold = "1000"

	f := &fixture{
		db:     db,
		ledger: ledgertest.New(),
		alerts: &alerterMock{},
		clock:  clockwork.NewFakeClockAt(time.Now()),
	}
	f.locker = lease.NewLocal(f.clock)

	wallets := wallet.NewStore(wallet.StoreParams{DB: db})
	monitor, err := balance.NewMonitor(balance.MonitorParams{Config: cfg, Wallets: wallets, Ledger: f.ledger, Alerter: f.alerts})
	require.NoError(t, err)

	f.sweeper, err = NewSweeper(SweeperParams{
		Config:      cfg,
		Transfers:   transfer.NewStore(transfer.StoreParams{DB: db, Node: node}),
		Campaigns:   campaign.NewStore(campaign.StoreParams{DB: db}),
		Wallets:     wallets,
		Provisioner: wallet.NewProvisioner(wallet.ProvisionerParams{Store: wallets, Ledger: f.ledger, Node: node}),
		Ledger:      f.ledger,
		Locker:      f.locker,
		Alerter:     f.alerts,
		Flags:       featureflags.Static{},
		Monitor:     monitor,
		Clock:       f.clock,
	})
	require.NoError(t, err)

	f.orgAccount(t, "house", "acc-house")
	f.orgAccount(t, "org-a", "acc-org-a")
	return f
}

func ptr(s string) *string { return &s }

func (f *fixture) orgAccount(t *testing.T, orgID, accountID string) {
	t.Helper()
	walletID := "w-" + orgID
	require.NoError(t, f.db.Create(&wallet.Wallet{ID: walletID, OrgID: ptr(orgID)}).Error)
	require.NoError(t, f.db.Create(&wallet.Currency{ID: "cur-" + orgID, WalletID: walletID, Symbol: "GEMS", TatumID: accountID}).Error)
}

func (f *fixture) userWallet(t *testing.T, id string, withAccount bool) {
	t.Helper()
	require.NoError(t, f.db.Create(&wallet.Wallet{ID: "w-" + id, UserID: ptr("u-" + id)}).Error)
	if withAccount {
		require.NoError(t, f.db.Create(&wallet.Currency{ID: "cur-" + id, WalletID: "w-" + id, Symbol: "GEMS", TatumID: "acc-" + id}).Error)
	}
}

func (f *fixture) row(t *testing.T, tr transfer.Transfer) {
	t.Helper()
	if tr.Symbol == "" {
		tr.Symbol = "GEMS"
	}
	if tr.Amount.IsZero() {
		tr.Amount = decimal.NewFromInt(10)
	}
	require.NoError(t, f.db.Create(&tr).Error)
}

func (f *fixture) campaign(t *testing.T, id string, audit campaign.AuditStatus) {
	t.Helper()
	require.NoError(t, f.db.Create(&campaign.Campaign{
		ID:          id,
		OrgID:       "org-a",
		Status:      campaign.StatusApproved,
		AuditStatus: audit,
		Symbol:      "GEMS",
	}).Error)
}

func (f *fixture) status(t *testing.T, id string) transfer.Status {
	t.Helper()
	var tr transfer.Transfer
	require.NoError(t, f.db.First(&tr, "id = ?", id).Error)
	return tr.Status
}

func (f *fixture) unsettled(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&transfer.Transfer{}).Where("status <> ?", transfer.StatusSucceeded).Count(&n).Error)
	return n
}

func TestSweepConverges(t *testing.T) {
	f := newFixture(t)
	f.campaign(t, "c1", campaign.AuditAudited)

	actions := []transfer.Action{
		transfer.ActionLoginReward,
		transfer.ActionRegistrationReward,
		transfer.ActionParticipationReward,
		transfer.ActionSharingReward,
	}
	for i, a := range actions {
		id := fmt.Sprintf("r%d", i)
		f.userWallet(t, id, i%2 == 0)
		status := transfer.StatusFailed
		if i%2 == 1 {
			status = transfer.StatusPending
		}
		f.row(t, transfer.Transfer{ID: id, Action: a, Status: status, WalletID: "w-" + id})
	}

	f.userWallet(t, "p1", true)
	f.row(t, transfer.Transfer{ID: "t1", Action: transfer.ActionCampaignReward, Status: transfer.StatusFailed, CampaignID: ptr("c1"), WalletID: "w-p1"})
	f.row(t, transfer.Transfer{ID: "t2", Action: transfer.ActionCampaignFee, Status: transfer.StatusFailed, CampaignID: ptr("c1"), WalletID: "w-house"})
	f.row(t, transfer.Transfer{ID: "t3", Action: transfer.ActionCampaignReward, Status: transfer.StatusSucceeded, CampaignID: ptr("c1"), WalletID: "w-p1"})

	report, err := f.sweeper.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 4, report.Reward.Succeeded)
	require.Equal(t, 2, report.Campaign.Succeeded)
	require.Zero(t, f.unsettled(t))

	require.Equal(t, 2, f.ledger.Calls["transfer_batch"])
	require.True(t, f.ledger.Sent("acc-house").Equal(decimal.NewFromInt(10)))
	require.True(t, f.ledger.Sent("acc-p1").Equal(decimal.NewFromInt(10)))

	again, err := f.sweeper.Sweep(context.Background())
	require.NoError(t, err)
	require.Zero(t, again.Reward.Scanned)
	require.Zero(t, again.Campaign.Scanned)
}

func TestRewardBatchRecordsEachLeg(t *testing.T) {
	f := newFixture(t)
	for _, id := range []string{"a", "b", "c"} {
		f.userWallet(t, id, true)
		f.row(t, transfer.Transfer{ID: "t-" + id, Action: transfer.ActionLoginReward, Status: transfer.StatusFailed, WalletID: "w-" + id})
	}
	f.ledger.FailFunc = func(req ledger.TransferRequest) error {
		if req.RecipientAccountID == "acc-b" {
			return ledgertest.Permanent("transfer_batch", http.StatusBadRequest, ledger.CodeAccountNotFound)
		}
		return nil
	}

	report, err := f.sweeper.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, report.Reward.Succeeded)
	require.Equal(t, 1, report.Reward.Failed)
	require.Equal(t, transfer.StatusSucceeded, f.status(t, "t-a"))
	require.Equal(t, transfer.StatusFailed, f.status(t, "t-b"))
	require.Equal(t, transfer.StatusSucceeded, f.status(t, "t-c"))

	require.Len(t, f.alerts.msgs, 1)
	require.Equal(t, "Reconciliation transfers rejected", f.alerts.msgs[0].Title)
	require.Equal(t, passReward, f.alerts.msgs[0].Fields["pass"])
	require.Equal(t, ledger.CodeAccountNotFound+"=1", f.alerts.msgs[0].Fields["codes"])
	require.Equal(t, "acc-b", f.alerts.msgs[0].Fields["accounts"])
}

func TestPermanentRejectionsAlertOncePerPass(t *testing.T) {
	f := newFixture(t)
	f.campaign(t, "c1", campaign.AuditAudited)
	for _, id := range []string{"a", "b"} {
		f.userWallet(t, id, true)
		f.row(t, transfer.Transfer{ID: "r-" + id, Action: transfer.ActionLoginReward, Status: transfer.StatusFailed, WalletID: "w-" + id})
	}
	f.userWallet(t, "p1", true)
	f.userWallet(t, "p2", true)
	f.row(t, transfer.Transfer{ID: "t1", Action: transfer.ActionCampaignReward, Status: transfer.StatusFailed, CampaignID: ptr("c1"), WalletID: "w-p1"})
	f.row(t, transfer.Transfer{ID: "t2", Action: transfer.ActionCampaignReward, Status: transfer.StatusFailed, CampaignID: ptr("c1"), WalletID: "w-p2"})

	f.ledger.FailFunc = func(req ledger.TransferRequest) error {
		if req.RecipientAccountID == "acc-b" || req.RecipientAccountID == "acc-p2" {
			return ledgertest.Permanent("transfer", http.StatusBadRequest, "account.frozen")
		}
		return ledgertest.Permanent("transfer", http.StatusBadRequest, ledger.CodeAccountNotFound)
	}

	report, err := f.sweeper.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, report.Reward.Failed)
	require.Equal(t, 2, report.Campaign.Failed)

	require.Len(t, f.alerts.msgs, 2)
	byPass := map[string]alert.Message{}
	for _, m := range f.alerts.msgs {
		require.Equal(t, "Reconciliation transfers rejected", m.Title)
		require.Equal(t, alert.SeverityCritical, m.Severity)
		require.Equal(t, report.RunID, m.Fields["run_id"])
		byPass[m.Fields["pass"]] = m
	}

	reward := byPass[passReward]
	require.Equal(t, "2", reward.Fields["rejected"])
	require.Equal(t, "account.frozen=1, "+ledger.CodeAccountNotFound+"=1", reward.Fields["codes"])
	require.Equal(t, "acc-a, acc-b", reward.Fields["accounts"])

	camp := byPass[passCampaign]
	require.Equal(t, "2", camp.Fields["rejected"])
	require.Equal(t, "acc-p1, acc-p2", camp.Fields["accounts"])
}

func TestTransientFailuresDoNotAlert(t *testing.T) {
	f := newFixture(t)
	f.userWallet(t, "a", true)
	f.row(t, transfer.Transfer{ID: "t-a", Action: transfer.ActionLoginReward, Status: transfer.StatusFailed, WalletID: "w-a"})
	f.ledger.FailFunc = func(ledger.TransferRequest) error {
		return ledgertest.Transient("transfer", http.StatusBadGateway)
	}

	report, err := f.sweeper.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Reward.Failed)
	require.Empty(t, f.alerts.msgs)
}

func TestRewardInsufficientBalanceChecksHouse(t *testing.T) {
	f := newFixture(t)
	f.userWallet(t, "a", true)
	f.row(t, transfer.Transfer{ID: "t-a", Action: transfer.ActionSharingReward, Status: transfer.StatusFailed, WalletID: "w-a"})
	f.ledger.Balances["acc-house"] = ledger.Balance{Available: decimal.NewFromInt(3), Total: decimal.NewFromInt(3)}
	f.ledger.FailFunc = func(ledger.TransferRequest) error {
		return ledgertest.Permanent("transfer_batch", http.StatusForbidden, ledger.CodeInsufficientBalance)
	}

	_, err := f.sweeper.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, transfer.StatusFailed, f.status(t, "t-a"))
	require.Len(t, f.alerts.msgs, 1)
	require.Equal(t, "acc-house", f.alerts.msgs[0].Fields["account_id"])
}

func TestFreshPendingCampaignRowsWait(t *testing.T) {
	f := newFixture(t)
	f.campaign(t, "c1", campaign.AuditPending)
	f.userWallet(t, "p1", true)
	f.userWallet(t, "p2", true)
	f.row(t, transfer.Transfer{ID: "fresh", Action: transfer.ActionCampaignReward, Status: transfer.StatusPending, CampaignID: ptr("c1"), WalletID: "w-p1"})
	f.row(t, transfer.Transfer{ID: "stale", Action: transfer.ActionCampaignReward, Status: transfer.StatusPending, CampaignID: ptr("c1"), WalletID: "w-p2"})
	require.NoError(t, f.db.Model(&transfer.Transfer{}).Where("id = ?", "stale").
		UpdateColumn("updated_at", f.clock.Now().Add(-2*time.Hour)).Error)

	report, err := f.sweeper.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Campaign.Skipped)
	require.Equal(t, 1, report.Campaign.Succeeded)
	require.Equal(t, transfer.StatusPending, f.status(t, "fresh"))
	require.Equal(t, transfer.StatusSucceeded, f.status(t, "stale"))
	require.True(t, f.ledger.Sent("acc-p2").Equal(decimal.NewFromInt(10)))
}

func TestCampaignRowsWaitForRunningPayout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.campaign(t, "c1", campaign.AuditAudited)
	f.userWallet(t, "p1", true)
	f.row(t, transfer.Transfer{ID: "t1", Action: transfer.ActionCampaignReward, Status: transfer.StatusFailed, CampaignID: ptr("c1"), WalletID: "w-p1"})

	release, err := f.locker.Acquire(ctx, rediskey.CampaignLease("c1"), time.Minute)
	require.NoError(t, err)
	defer release(ctx)

	report, err := f.sweeper.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Campaign.Skipped)
	require.Equal(t, transfer.StatusFailed, f.status(t, "t1"))
	require.Zero(t, f.ledger.TransferCount())
}

func TestCampaignFailureStaysFailed(t *testing.T) {
	f := newFixture(t)
	f.campaign(t, "c1", campaign.AuditAudited)
	f.userWallet(t, "p1", false)
	f.row(t, transfer.Transfer{ID: "t1", Action: transfer.ActionCampaignReward, Status: transfer.StatusFailed, CampaignID: ptr("c1"), WalletID: "w-p1", Attempts: 1})
	f.ledger.FailFunc = func(ledger.TransferRequest) error {
		return ledgertest.Transient("transfer", http.StatusBadGateway)
	}

	report, err := f.sweeper.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Campaign.Failed)

	var tr transfer.Transfer
	require.NoError(t, f.db.First(&tr, "id = ?", "t1").Error)
	require.Equal(t, transfer.StatusFailed, tr.Status)
	require.Equal(t, 2, tr.Attempts)
	require.NotEmpty(t, tr.ErrorMessage)
	require.Len(t, f.ledger.Accounts, 1)
}

func TestSweepSkipsWhenDisabledOrLeased(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.sweeper.flags = featureflags.Static{featureflags.SweeperEnabled: false}
	report, err := f.sweeper.Sweep(ctx)
	require.NoError(t, err)
	require.True(t, report.Disabled)

	f.sweeper.flags = featureflags.Static{}
	release, err := f.locker.Acquire(ctx, rediskey.SweepLeaseKey, time.Minute)
	require.NoError(t, err)
	defer release(ctx)

	report, err = f.sweeper.Sweep(ctx)
	require.NoError(t, err)
	require.True(t, report.Leased)
}

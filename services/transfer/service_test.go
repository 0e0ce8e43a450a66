package transfer

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"smallbiznis-payout/pkg/db/pagination"
	"smallbiznis-payout/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newStore(t *testing.T) *Store {
	db := testutil.NewTestDB(t, &Transfer{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return NewStore(StoreParams{DB: db, Node: node})
}

func ptr(s string) *string { return &s }

func get(t *testing.T, s *Store, id string) *Transfer {
	t.Helper()
	got, err := s.transfer.FindOne(context.Background(), &Transfer{ID: id})
	require.NoError(t, err)
	return got
}

func TestIdempotencyKey(t *testing.T) {
	a := IdempotencyKey("c1", "w1", "p1", 1)
	require.Len(t, a, 64)
	require.Equal(t, a, IdempotencyKey("c1", "w1", "p1", 1))
	require.NotEqual(t, a, IdempotencyKey("c1", "w1", "p2", 1))
	require.NotEqual(t, a, IdempotencyKey("c1", "w1", "p1", 2))
}

func TestCreatePendingRejectsDuplicateKey(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	key := IdempotencyKey("c1", "w1", "p1", 1)

	first := &Transfer{Amount: decimal.NewFromInt(5), Action: ActionCampaignReward, WalletID: "w1", Symbol: "GEMS", IdempotencyKey: ptr(key)}
	require.NoError(t, s.CreatePending(ctx, []*Transfer{first}))
	require.NotEmpty(t, first.ID)

	dup := &Transfer{Amount: decimal.NewFromInt(5), Action: ActionCampaignReward, WalletID: "w1", Symbol: "GEMS", IdempotencyKey: ptr(key)}
	require.Error(t, s.CreatePending(ctx, []*Transfer{dup}))

	existing, err := s.ExistingKeys(ctx, []string{key, "other"})
	require.NoError(t, err)
	require.Len(t, existing, 1)
	require.Equal(t, first.ID, existing[key].ID)
	require.Equal(t, StatusPending, existing[key].Status)
}

func TestMarkOutcomesNeverDowngradesSucceeded(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	a := &Transfer{Amount: decimal.NewFromInt(1), Action: ActionCampaignReward, WalletID: "w1", Symbol: "GEMS"}
	b := &Transfer{Amount: decimal.NewFromInt(2), Action: ActionCampaignReward, WalletID: "w2", Symbol: "GEMS"}
	require.NoError(t, s.CreatePending(ctx, []*Transfer{a, b}))

	require.NoError(t, s.MarkOutcomes(ctx, []Outcome{
		{ID: a.ID, Reference: "ref-a"},
		{ID: b.ID, Err: errors.New("ledger down")},
	}))

	got := get(t, s, a.ID)
	require.Equal(t, StatusSucceeded, got.Status)
	require.Equal(t, "ref-a", *got.LedgerReference)
	require.Equal(t, 1, got.Attempts)

	got = get(t, s, b.ID)
	require.Equal(t, StatusFailed, got.Status)
	require.Equal(t, "ledger down", got.ErrorMessage)

	require.NoError(t, s.MarkOutcomes(ctx, []Outcome{
		{ID: a.ID, Err: errors.New("late failure")},
		{ID: b.ID, Reference: "ref-b"},
	}))

	got = get(t, s, a.ID)
	require.Equal(t, StatusSucceeded, got.Status)
	require.Equal(t, 1, got.Attempts)

	got = get(t, s, b.ID)
	require.Equal(t, StatusSucceeded, got.Status)
	require.Empty(t, got.ErrorMessage)
	require.Equal(t, 2, got.Attempts)
}

func TestListUnsettledPages(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	var rows []*Transfer
	for i := 0; i < 5; i++ {
		rows = append(rows, &Transfer{
			ID:       fmt.Sprintf("t%d", i),
			Amount:   decimal.NewFromInt(int64(i + 1)),
			Action:   ActionLoginReward,
			WalletID: fmt.Sprintf("w%d", i),
			Symbol:   "GEMS",
		})
	}
	rows = append(rows, &Transfer{ID: "t9", Amount: decimal.NewFromInt(1), Action: ActionCampaignReward, WalletID: "w9", Symbol: "GEMS"})
	require.NoError(t, s.CreatePending(ctx, rows))
	require.NoError(t, s.MarkOutcomes(ctx, []Outcome{{ID: "t1", Reference: "r"}, {ID: "t3", Err: errors.New("x")}}))

	var ids []string
	p := pagination.Pagination{Limit: 2}
	for {
		page, info, err := s.ListUnsettled(ctx, Filter{Actions: RewardActions}, p)
		require.NoError(t, err)
		for _, r := range page {
			ids = append(ids, r.ID)
		}
		if !info.HasMore {
			break
		}
		p.Cursor = info.NextCursor
	}
	require.Equal(t, []string{"t0", "t2", "t3", "t4"}, ids)

	failed, _, err := s.ListUnsettled(ctx, Filter{Actions: RewardActions, Statuses: []Status{StatusFailed}}, pagination.Pagination{})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.Equal(t, "t3", failed[0].ID)
}

func TestAmountKeepsPrecision(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	amount := decimal.RequireFromString("123456789.123456789012345678")

	tr := &Transfer{Amount: amount, Action: ActionCampaignReward, WalletID: "w1", Symbol: "GEMS", CampaignID: ptr("c1")}
	require.NoError(t, s.CreatePending(ctx, []*Transfer{tr}))

	got := get(t, s, tr.ID)
	require.True(t, amount.Equal(got.Amount))

	n, err := s.CountByCampaign(ctx, "c1", ActionCampaignReward)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

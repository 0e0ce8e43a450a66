package reward

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestComputeSingleTierCampaign(t *testing.T) {
	table := TierTable{"LEVEL1": {Threshold: d("0"), TotalCoiins: d("1000")}}

	pool, err := Compute(d("500"), table, d("0.10"))
	require.NoError(t, err)
	require.True(t, pool.Gross.Equal(d("1000")))
	require.True(t, pool.Fee.Equal(d("100")))
	require.True(t, pool.Net.Equal(d("900")))

	a := Share(pool.Net, d("300"), d("500"), 8)
	b := Share(pool.Net, d("200"), d("500"), 8)
	require.True(t, a.Equal(d("540")), a.String())
	require.True(t, b.Equal(d("360")), b.String())
	require.True(t, a.Add(b).Equal(pool.Net))
}

func TestSplitFeeRejectsOutOfRangeRate(t *testing.T) {
	_, err := SplitFee(d("100"), d("1.5"))
	require.ErrorIs(t, err, ErrInvalidFeeRate)

	_, err = SplitFee(d("100"), d("-0.1"))
	require.ErrorIs(t, err, ErrInvalidFeeRate)

	pool, err := SplitFee(d("100"), decimal.Zero)
	require.NoError(t, err)
	require.True(t, pool.Net.Equal(d("100")))
}

func TestShareZeroTotal(t *testing.T) {
	shares := Shares(d("900"), decimal.Zero, []decimal.Decimal{d("0"), d("10"), d("300")}, 8)
	for _, s := range shares {
		require.True(t, s.IsZero())
	}
}

func TestShareTruncatesRepeatingFraction(t *testing.T) {
	s := Share(d("100"), d("1"), d("3"), 4)
	require.Equal(t, "33.3333", s.String())
}

func TestShareNeverExceedsNet(t *testing.T) {
	s := Share(d("900"), d("700"), d("500"), 8)
	require.True(t, s.Equal(d("900")))
}

func TestSharesConserveNetPool(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	net := d("12345.6789")

	for round := 0; round < 50; round++ {
		n := 1 + rng.Intn(2000)
		scores := make([]decimal.Decimal, n)
		total := decimal.Zero
		for i := range scores {
			scores[i] = decimal.NewFromInt(int64(rng.Intn(10000))).Div(decimal.NewFromInt(7))
			total = total.Add(scores[i])
		}
		if total.IsZero() {
			continue
		}

		sum := decimal.Zero
		for _, s := range Shares(net, total, scores, 8) {
			require.False(t, s.IsNegative())
			sum = sum.Add(s)
		}

		require.True(t, sum.LessThanOrEqual(net), "round %d: %s > %s", round, sum, net)
		// each share loses at most one unit in the last place
		tolerance := decimal.New(int64(n), -8)
		require.True(t, net.Sub(sum).LessThanOrEqual(tolerance), "round %d: drift %s", round, net.Sub(sum))
	}
}

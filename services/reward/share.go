package reward

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var ErrInvalidFeeRate = errors.New("reward: fee rate must be within [0, 1]")

// Pool is a campaign's payable amount split into house fee and participant pool.
type Pool struct {
	Tier  Tier
	Gross decimal.Decimal
	Fee   decimal.Decimal
	Net   decimal.Decimal
}

// SplitFee applies the fee rate once to the gross amount.
func SplitFee(gross, rate decimal.Decimal) (Pool, error) {
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
		return Pool{}, fmt.Errorf("%w: got %s", ErrInvalidFeeRate, rate)
	}

	fee := gross.Mul(rate)
	return Pool{Gross: gross, Fee: fee, Net: gross.Sub(fee)}, nil
}

// Compute selects the tier for the campaign's total score and splits its payout.
func Compute(total decimal.Decimal, table TierTable, feeRate decimal.Decimal) (Pool, error) {
	tier, err := SelectTier(total, table)
	if err != nil {
		return Pool{}, err
	}

	pool, err := SplitFee(tier.TotalCoiins, feeRate)
	if err != nil {
		return Pool{}, err
	}
	pool.Tier = tier
	return pool, nil
}

// Share returns net * score / total truncated to precision decimal places.
// Truncation keeps the sum of all shares at or below net. A zero or negative
// total pays nothing.
func Share(net, score, total decimal.Decimal, precision int32) decimal.Decimal {
	if !total.IsPositive() || !score.IsPositive() || !net.IsPositive() {
		return decimal.Zero
	}

	if score.GreaterThanOrEqual(total) {
		return net.Truncate(precision)
	}

	q, _ := net.Mul(score).QuoRem(total, precision)
	return q
}

// Shares computes Share for every score in order.
func Shares(net, total decimal.Decimal, scores []decimal.Decimal, precision int32) []decimal.Decimal {
	out := make([]decimal.Decimal, len(scores))
	for i, s := range scores {
		out[i] = Share(net, s, total, precision)
	}
	return out
}

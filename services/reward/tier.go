package reward

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidTierTable = errors.New("reward: invalid tier table")
	ErrNegativeScore    = errors.New("reward: negative participation score")
)

// Tier is one reward bracket. TotalCoiins keeps the upstream JSON spelling.
type Tier struct {
	Key         string          `json:"-"`
	Threshold   decimal.Decimal `json:"threshold"`
	TotalCoiins decimal.Decimal `json:"totalCoiins"`
}

// TierTable maps tier keys (LEVEL1, LEVEL2, ...) to brackets.
type TierTable map[string]Tier

// Sorted returns the brackets ordered by threshold and checks that the table
// is usable: non-empty, non-negative, distinct thresholds, and payouts that
// never shrink as the threshold grows.
func (t TierTable) Sorted() ([]Tier, error) {
	if len(t) == 0 {
		return nil, fmt.Errorf("%w: no tiers defined", ErrInvalidTierTable)
	}

	tiers := make([]Tier, 0, len(t))
	for key, tier := range t {
		tier.Key = key
		if tier.Threshold.IsNegative() || tier.TotalCoiins.IsNegative() {
			return nil, fmt.Errorf("%w: tier %s has negative values", ErrInvalidTierTable, key)
		}
		tiers = append(tiers, tier)
	}

	sort.Slice(tiers, func(i, j int) bool {
		if c := tiers[i].Threshold.Cmp(tiers[j].Threshold); c != 0 {
			return c < 0
		}
		return tiers[i].Key < tiers[j].Key
	})

	for i := 1; i < len(tiers); i++ {
		prev, cur := tiers[i-1], tiers[i]
		if cur.Threshold.Equal(prev.Threshold) {
			return nil, fmt.Errorf("%w: tiers %s and %s share threshold %s", ErrInvalidTierTable, prev.Key, cur.Key, cur.Threshold)
		}
		if cur.TotalCoiins.LessThan(prev.TotalCoiins) {
			return nil, fmt.Errorf("%w: tier %s pays less than lower tier %s", ErrInvalidTierTable, cur.Key, prev.Key)
		}
	}

	return tiers, nil
}

// SelectTier returns the bracket with the largest threshold not above score.
// A score below every threshold falls into the lowest bracket.
func SelectTier(score decimal.Decimal, table TierTable) (Tier, error) {
	if score.IsNegative() {
		return Tier{}, ErrNegativeScore
	}

	tiers, err := table.Sorted()
	if err != nil {
		return Tier{}, err
	}

	selected := tiers[0]
	for _, tier := range tiers[1:] {
		if tier.Threshold.GreaterThan(score) {
			break
		}
		selected = tier
	}
	return selected, nil
}

package group

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/x-xyz/bidding/domain"
)

func TestThresholdValidate(t *testing.T) {
	cases := []struct {
		desc   string
		policy ThresholdPolicy
		ok     bool
	}{
		{"count", ThresholdPolicy{Kind: ThresholdKindCount, Count: 3}, true},
		{"count above members", ThresholdPolicy{Kind: ThresholdKindCount, Count: 6}, false},
		{"zero count", ThresholdPolicy{Kind: ThresholdKindCount}, false},
		{"count with percentage", ThresholdPolicy{Kind: ThresholdKindCount, Count: 2, Percentage: decimal.NewFromInt(50)}, false},
		{"percentage", ThresholdPolicy{Kind: ThresholdKindPercentage, Percentage: decimal.NewFromInt(60)}, true},
		{"percentage above 100", ThresholdPolicy{Kind: ThresholdKindPercentage, Percentage: decimal.NewFromInt(101)}, false},
		{"percentage with count", ThresholdPolicy{Kind: ThresholdKindPercentage, Count: 1, Percentage: decimal.NewFromInt(60)}, false},
		{"unknown kind", ThresholdPolicy{Kind: "both"}, false},
	}
	for _, c := range cases {
		err := c.policy.Validate(5)
		if c.ok {
			assert.NoError(t, err, c.desc)
		} else {
			assert.True(t, errors.Is(err, domain.ErrInvalidThreshold), c.desc)
			assert.True(t, errors.Is(err, domain.ErrValidation), c.desc)
		}
	}
}

func TestThresholdIsMet(t *testing.T) {
	count := ThresholdPolicy{Kind: ThresholdKindCount, Count: 3}
	assert.False(t, count.IsMet(2, 5))
	assert.True(t, count.IsMet(3, 5))

	pct := ThresholdPolicy{Kind: ThresholdKindPercentage, Percentage: decimal.NewFromInt(60)}
	assert.False(t, pct.IsMet(2, 5))
	assert.True(t, pct.IsMet(3, 5))

	third := ThresholdPolicy{Kind: ThresholdKindPercentage, Percentage: decimal.RequireFromString("33.34")}
	assert.False(t, third.IsMet(1, 3))
	assert.True(t, third.IsMet(2, 3))

	assert.False(t, count.IsMet(0, 0))
}

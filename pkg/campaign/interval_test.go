package campaign_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/gdbrns/go-whatsapp-campaign-engine/pkg/campaign"
)

func TestNextDelay_StaysWithinBounds(t *testing.T) {
	cases := []struct{ min, max int }{
		{1, 1},
		{1, 5},
		{30, 60},
		{3599, 3600},
	}
	for _, tc := range cases {
		lo := time.Duration(tc.min) * time.Second
		hi := time.Duration(tc.max) * time.Second
		for i := 0; i < 2000; i++ {
			d := campaign.NextDelay(tc.min, tc.max)
			assert.GreaterOrEqual(t, d, lo)
			assert.LessOrEqual(t, d, hi)
			assert.Zero(t, d%time.Millisecond, "delay must be whole milliseconds")
		}
	}
}

func TestNextDelay_EqualBoundsIsExact(t *testing.T) {
	assert.Equal(t, 7*time.Second, campaign.NextDelay(7, 7))
}

func TestNextDelay_SpreadsAcrossRange(t *testing.T) {
	seen := map[bool]int{}
	for i := 0; i < 500; i++ {
		seen[campaign.NextDelay(1, 3) > 2*time.Second]++
	}
	assert.Positive(t, seen[true])
	assert.Positive(t, seen[false])
}

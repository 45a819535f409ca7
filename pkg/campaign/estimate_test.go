package campaign_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/gdbrns/go-whatsapp-campaign-engine/pkg/campaign"
)

func TestEstimate(t *testing.T) {
	cases := []struct {
		total, min, max int
		want            string
	}{
		{5, 1, 1, "less than 1m"},
		{0, 10, 20, "less than 1m"},
		{24, 30, 30, "12m"},
		{100, 30, 60, "1h 15m"},
		{65, 60, 60, "1h 5m"},
		{3, 15, 26, "1m"},
	}
	for _, tc := range cases {
		d := campaign.EstimateDuration(tc.total, tc.min, tc.max)
		assert.Equal(t, tc.want, campaign.FormatEstimate(d), "total=%d min=%d max=%d", tc.total, tc.min, tc.max)
	}
	assert.Equal(t, 4500*time.Second, campaign.EstimateDuration(100, 30, 60))
}

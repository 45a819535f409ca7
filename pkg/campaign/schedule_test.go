package campaign_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/gdbrns/go-whatsapp-campaign-engine/pkg/campaign"
)

func at(day, hour, minute int) time.Time {
	return time.Date(2026, time.March, day, hour, minute, 0, 0, time.UTC)
}

func TestNextEligible_CustomHours(t *testing.T) {
	hours := []int{9, 14, 20}

	cases := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"later today", at(10, 10, 0), at(10, 14, 0)},
		{"wraps to tomorrow", at(10, 21, 0), at(11, 9, 0)},
		{"current hour never qualifies", at(10, 14, 30), at(10, 20, 0)},
		{"before first hour", at(10, 3, 15), at(10, 9, 0)},
		{"end of month", at(31, 22, 0), time.Date(2026, time.April, 1, 9, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, campaign.NextEligible(tc.now, hours))
		})
	}
}

func TestResolveStartTime(t *testing.T) {
	now := at(10, 10, 25)
	post := at(12, 8, 0)

	assert.Equal(t, now, campaign.ResolveStartTime(now, campaign.ScheduleImmediate, nil, nil))
	assert.Equal(t, post, campaign.ResolveStartTime(now, campaign.ScheduleScheduled, &post, nil))
	assert.Equal(t, at(10, 11, 0), campaign.ResolveStartTime(now, campaign.ScheduleDaytime, nil, nil))
	assert.Equal(t, at(10, 19, 0), campaign.ResolveStartTime(now, campaign.ScheduleNighttime, nil, nil))
	assert.Equal(t, at(10, 11, 0), campaign.ResolveStartTime(now, campaign.ScheduleOddHours, nil, nil))
	assert.Equal(t, at(10, 12, 0), campaign.ResolveStartTime(now, campaign.ScheduleEvenHours, nil, nil))

	late := at(10, 23, 30)
	assert.Equal(t, at(11, 0, 0), campaign.ResolveStartTime(late, campaign.ScheduleNighttime, nil, nil))
	assert.Equal(t, at(11, 6, 0), campaign.ResolveStartTime(late, campaign.ScheduleDaytime, nil, nil))
}

func TestHoursFor(t *testing.T) {
	assert.Equal(t, []int{6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18}, campaign.HoursFor(campaign.ScheduleDaytime))
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 19, 20, 21, 22, 23}, campaign.HoursFor(campaign.ScheduleNighttime))
	assert.Equal(t, []int{1, 3, 5, 7, 9, 11, 13, 15, 17, 19, 21, 23}, campaign.HoursFor(campaign.ScheduleOddHours))
	assert.Equal(t, []int{0, 2, 4, 6, 8, 10, 12, 14, 16, 18, 20, 22}, campaign.HoursFor(campaign.ScheduleEvenHours))
	assert.Nil(t, campaign.HoursFor(campaign.ScheduleImmediate))
	assert.Nil(t, campaign.HoursFor(campaign.ScheduleScheduled))

	hours := campaign.HoursFor(campaign.ScheduleDaytime)
	hours[0] = 99
	assert.Equal(t, 6, campaign.HoursFor(campaign.ScheduleDaytime)[0])
}

func TestNormalizeHours(t *testing.T) {
	assert.Equal(t, []int{0, 9, 23}, campaign.NormalizeHours([]int{23, 9, 9, -1, 0, 24}))
	assert.Nil(t, campaign.NormalizeHours(nil))
}

func TestInWindow(t *testing.T) {
	assert.True(t, campaign.InWindow(at(10, 3, 0), nil))
	assert.True(t, campaign.InWindow(at(10, 14, 59), []int{9, 14}))
	assert.False(t, campaign.InWindow(at(10, 15, 0), []int{9, 14}))
}

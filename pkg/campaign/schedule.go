package campaign

import (
	"slices"
	"time"
)

var (
	DaytimeHours   = hourRange(6, 18)
	NighttimeHours = append(hourRange(0, 5), hourRange(19, 23)...)
	OddHours       = hourStep(1)
	EvenHours      = hourStep(0)
)

func hourRange(from, to int) []int {
	hours := make([]int, 0, to-from+1)
	for h := from; h <= to; h++ {
		hours = append(hours, h)
	}
	return hours
}

func hourStep(start int) []int {
	hours := make([]int, 0, 12)
	for h := start; h < 24; h += 2 {
		hours = append(hours, h)
	}
	return hours
}

// HoursFor returns the canonical hour set of a canned schedule type, or nil
// for immediate and scheduled.
func HoursFor(t ScheduleType) []int {
	switch t {
	case ScheduleDaytime:
		return slices.Clone(DaytimeHours)
	case ScheduleNighttime:
		return slices.Clone(NighttimeHours)
	case ScheduleOddHours:
		return slices.Clone(OddHours)
	case ScheduleEvenHours:
		return slices.Clone(EvenHours)
	}
	return nil
}

// NormalizeHours sorts, dedupes and drops values outside 0..23.
func NormalizeHours(hours []int) []int {
	if len(hours) == 0 {
		return nil
	}
	out := make([]int, 0, len(hours))
	for _, h := range hours {
		if h >= 0 && h <= 23 {
			out = append(out, h)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// ResolveStartTime computes when a campaign's first send may happen.
func ResolveStartTime(now time.Time, t ScheduleType, timePost *time.Time, hours []int) time.Time {
	switch t {
	case ScheduleImmediate:
		return now
	case ScheduleScheduled:
		if timePost == nil {
			return now
		}
		return *timePost
	}

	set := hours
	if len(set) == 0 {
		set = HoursFor(t)
	}
	return NextEligible(now, set)
}

// NextEligible is the first hour in the set strictly after the current hour
// today, else the earliest hour in the set tomorrow. The current hour never
// qualifies.
func NextEligible(now time.Time, hours []int) time.Time {
	set := NormalizeHours(hours)
	if len(set) == 0 {
		return now
	}

	y, m, d := now.Date()
	for _, h := range set {
		if h > now.Hour() {
			return time.Date(y, m, d, h, 0, 0, 0, now.Location())
		}
	}
	return time.Date(y, m, d+1, set[0], 0, 0, 0, now.Location())
}

// InWindow reports whether now falls inside one of the hours. An empty set
// is always open.
func InWindow(now time.Time, hours []int) bool {
	if len(hours) == 0 {
		return true
	}
	return slices.Contains(hours, now.Hour())
}

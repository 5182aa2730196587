package streak

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func days(ss ...string) []time.Time {
	out := make([]time.Time, len(ss))
	for i, s := range ss {
		out[i] = day(s)
	}
	return out
}

func TestCountStreak(t *testing.T) {
	today := day("2026-03-10")
	tests := []struct {
		name  string
		dates []time.Time
		want  int
	}{
		{"пусто", nil, 0},
		{"только сегодня", days("2026-03-10"), 1},
		{"три дня подряд", days("2026-03-10", "2026-03-09", "2026-03-08"), 3},
		{"сегодня ещё нет", days("2026-03-09", "2026-03-08"), 2},
		{"разрыв", days("2026-03-10", "2026-03-09", "2026-03-07"), 2},
		{"вчера пропущен", days("2026-03-08", "2026-03-07"), 0},
		{"через месяц", days("2026-03-01", "2026-02-28", "2026-02-27"), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CountStreak(tt.dates, today))
		})
	}
}

func TestCountStreak_AcrossMonthBoundary(t *testing.T) {
	dates := days("2026-03-01", "2026-02-28", "2026-02-27")
	assert.Equal(t, 3, CountStreak(dates, day("2026-03-01")))
}

func TestCountStreak_LocalToday(t *testing.T) {
	// 01:30 по Москве 11 марта, в UTC ещё 10 марта
	msk := time.FixedZone("MSK", 3*60*60)
	now := time.Date(2026, 3, 11, 1, 30, 0, 0, msk)
	assert.Equal(t, 2, CountStreak(days("2026-03-11", "2026-03-10"), now))
}

func TestMilestones(t *testing.T) {
	ms := []*Milestone{
		{Day: 7, BonusPoints: 150, IsActive: true},
		{Day: 3, BonusPoints: 50, IsActive: true},
		{Day: 5, BonusPoints: 80, IsActive: false},
	}

	bonus, m := MilestoneBonus(ms, 3)
	assert.Equal(t, int64(50), bonus)
	assert.NotNil(t, m)

	bonus, m = MilestoneBonus(ms, 5)
	assert.Zero(t, bonus)
	assert.Nil(t, m)

	assert.Equal(t, 3, NextMilestone(ms, 0).Day)
	assert.Equal(t, 7, NextMilestone(ms, 3).Day)
	assert.Equal(t, 7, NextMilestone(ms, 4).Day)
	assert.Nil(t, NextMilestone(ms, 7))
}

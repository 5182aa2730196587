// Package streak — rewards.go содержит логику бонусов за рубежи серии.
package streak

import "sort"

// MilestoneBonus возвращает бонус за день серии или 0, если рубежа нет.
func MilestoneBonus(milestones []*Milestone, day int) (int64, *Milestone) {
	for _, m := range milestones {
		if m.IsActive && m.Day == day {
			return m.BonusPoints, m
		}
	}
	return 0, nil
}

// NextMilestone — ближайший активный рубеж после текущей серии.
func NextMilestone(milestones []*Milestone, streak int) *Milestone {
	sorted := make([]*Milestone, 0, len(milestones))
	for _, m := range milestones {
		if m.IsActive {
			sorted = append(sorted, m)
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Day < sorted[j].Day })

	for _, m := range sorted {
		if m.Day > streak {
			return m
		}
	}
	return nil
}

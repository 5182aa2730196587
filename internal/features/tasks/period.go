package tasks

import (
	"fmt"
	"time"

	"serotonyl.ru/points-engine/internal/common"
)

// Period — границы периода задания (даты включительно).
type Period struct {
	Schedule Schedule
	Start    time.Time
	End      time.Time
}

// PeriodFor возвращает период, в который попадает t.
// Сутки считаются в часовом поясе t, неделя — с понедельника по воскресенье.
func PeriodFor(schedule Schedule, t time.Time) Period {
	day := common.DayStart(t)
	switch schedule {
	case ScheduleWeekly:
		// time.Weekday: воскресенье = 0, сдвигаем так, чтобы понедельник был 0
		offset := (int(day.Weekday()) + 6) % 7
		monday := day.AddDate(0, 0, -offset)
		return Period{Schedule: schedule, Start: monday, End: monday.AddDate(0, 0, 6)}
	default:
		return Period{Schedule: ScheduleDaily, Start: day, End: day}
	}
}

// Key — дата начала периода в формате 2006-01-02.
func (p Period) Key() string {
	return common.FormatDate(p.Start)
}

// ClaimRequestID — детерминированный ключ начисления награды за период.
func ClaimRequestID(userID, taskID int64, p Period) string {
	return common.TruncateRequestID(fmt.Sprintf("task:%d:%d:%s", userID, taskID, p.Key()))
}

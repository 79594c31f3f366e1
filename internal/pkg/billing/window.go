package billing

import "time"

const (
	periodDays    = 30
	graceDays     = 1
	scheduleHour  = 10
	scheduleSlots = 60
)

// Window holds the period boundaries and next charge instant for one
// subscription period.
type Window struct {
	StartAt        time.Time
	EndAt          time.Time
	EndGraceAt     time.Time
	NextScheduleAt time.Time
}

// ComputeWindow derives the billing period for a charge at chargedAt. The
// period runs 30 days with one grace day; the next recurring charge fires the
// day after the period ends, between 10:00 and 10:59. minuteDraw is the
// caller's uniform draw in [0,59] so the result stays deterministic under
// test; out-of-range draws are clamped.
func ComputeWindow(chargedAt time.Time, minuteDraw int) Window {
	if minuteDraw < 0 {
		minuteDraw = 0
	}
	if minuteDraw >= scheduleSlots {
		minuteDraw = scheduleSlots - 1
	}

	endAt := chargedAt.AddDate(0, 0, periodDays)
	endGraceAt := endAt.AddDate(0, 0, graceDays)

	// The next schedule keeps only the calendar date of endAt+1d; its
	// time-of-day is forced into the 10:00-10:59 slot.
	nextDay := endAt.AddDate(0, 0, 1)
	nextScheduleAt := time.Date(
		nextDay.Year(), nextDay.Month(), nextDay.Day(),
		scheduleHour, minuteDraw, 0, 0, nextDay.Location(),
	)

	return Window{
		StartAt:        chargedAt,
		EndAt:          endAt,
		EndGraceAt:     endGraceAt,
		NextScheduleAt: nextScheduleAt,
	}
}

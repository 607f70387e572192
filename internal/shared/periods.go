package shared

import "time"

// WeekRange is a half-open [Start, End) interval.
type WeekRange struct {
	Start time.Time
	End   time.Time
}

// ISOWeekStart returns Monday 00:00 UTC of the ISO week containing t.
func ISOWeekStart(t time.Time) time.Time {
	t = t.UTC()
	weekday := int(t.Weekday())
	if weekday == 0 {
		weekday = 7
	}
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return day.AddDate(0, 0, -(weekday - 1))
}

// CurrentAndPreviousWeek returns the ISO week containing now and the week before it.
func CurrentAndPreviousWeek(now time.Time) (current WeekRange, previous WeekRange) {
	start := ISOWeekStart(now)
	current = WeekRange{Start: start, End: start.AddDate(0, 0, 7)}
	previous = WeekRange{Start: start.AddDate(0, 0, -7), End: start}
	return current, previous
}

// WeeklyCount compares confirmed slip counts week over week.
type WeeklyCount struct {
	CurrentWeek   int     `json:"current_week"`
	PreviousWeek  int     `json:"previous_week"`
	ChangePercent float64 `json:"change_percent"`
}

// NewWeeklyCount derives the percentage change. A previous week of zero yields
// 100 when the current week has activity and 0 otherwise.
func NewWeeklyCount(current, previous int) WeeklyCount {
	wc := WeeklyCount{CurrentWeek: current, PreviousWeek: previous}
	switch {
	case previous == 0 && current == 0:
		wc.ChangePercent = 0
	case previous == 0:
		wc.ChangePercent = 100
	default:
		wc.ChangePercent = float64(current-previous) / float64(previous) * 100
	}
	return wc
}

// DateRange is an inclusive day range normalised to a half-open UTC interval.
type DateRange struct {
	From time.Time
	To   time.Time
}

// Truncate drops the time of day in UTC.
func Truncate(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// NewDateRange turns the inclusive day range [from, to] into [from, to+1day).
// A zero from defaults to the first day of the month of now, a zero to defaults
// to now. The bool result is false when from falls after to.
func NewDateRange(from, to, now time.Time) (DateRange, bool) {
	if to.IsZero() {
		to = now
	}
	to = Truncate(to)
	if from.IsZero() {
		from = time.Date(to.Year(), to.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
	from = Truncate(from)
	if from.After(to) {
		return DateRange{}, false
	}
	return DateRange{From: from, To: to.AddDate(0, 0, 1)}, true
}

// Package schedule decides whether outreach may be sent at a given instant for
// a target country and timezone. Nothing here reads the wall clock; callers
// pass "now" in.
package schedule

import (
	"fmt"
	"time"
	_ "time/tzdata"
)

const dateLayout = "2006-01-02"

const (
	DefaultWorkingHoursStart = 9
	DefaultWorkingHoursEnd   = 17
)

// Settings is the sending window of one campaign.
type Settings struct {
	CountryCode       string
	Timezone          string
	WorkingHoursStart int
	WorkingHoursEnd   int
	SkipWeekends      bool
	SkipHolidays      bool
}

// DefaultSettings returns business hours with weekends and holidays skipped.
func DefaultSettings() Settings {
	return Settings{
		WorkingHoursStart: DefaultWorkingHoursStart,
		WorkingHoursEnd:   DefaultWorkingHoursEnd,
		SkipWeekends:      true,
		SkipHolidays:      true,
	}
}

// hours returns the working window, substituting defaults for an unset (0,0)
// pair or an inverted range.
func (s Settings) hours() (int, int) {
	start, end := s.WorkingHoursStart, s.WorkingHoursEnd
	if (start == 0 && end == 0) || end <= start || start < 0 || end > 24 {
		return DefaultWorkingHoursStart, DefaultWorkingHoursEnd
	}
	return start, end
}

// Verdict is the outcome of evaluating one instant.
type Verdict struct {
	Allowed bool
	Reason  string
	Local   time.Time
}

const (
	ReasonWeekend      = "weekend"
	ReasonOutsideHours = "outside_working_hours"
	ReasonHoliday      = "holiday"
)

// Evaluate checks weekend, working hours and holidays, in that order.
func (c *Calendar) Evaluate(nowUTC time.Time, s Settings) Verdict {
	local := nowUTC.In(c.Location(s.CountryCode, s.Timezone))
	start, end := s.hours()

	if s.SkipWeekends && c.IsWeekend(s.CountryCode, local.Weekday()) {
		return Verdict{Reason: ReasonWeekend, Local: local}
	}
	if h := local.Hour(); h < start || h >= end {
		return Verdict{Reason: ReasonOutsideHours, Local: local}
	}
	if s.SkipHolidays && c.IsHoliday(s.CountryCode, local.Format(dateLayout)) {
		return Verdict{Reason: ReasonHoliday, Local: local}
	}
	return Verdict{Allowed: true, Local: local}
}

func (c *Calendar) CanSend(nowUTC time.Time, s Settings) bool {
	return c.Evaluate(nowUTC, s).Allowed
}

// CanSend evaluates against the embedded calendar.
func CanSend(nowUTC time.Time, s Settings) bool {
	return DefaultCalendar().CanSend(nowUTC, s)
}

// Evaluate evaluates against the embedded calendar.
func Evaluate(nowUTC time.Time, s Settings) Verdict {
	return DefaultCalendar().Evaluate(nowUTC, s)
}

// maxWindowSearchDays bounds NextWindow for settings that never open.
const maxWindowSearchDays = 60

// NextWindow returns the first instant at or after from when sending is
// permitted, in UTC.
func (c *Calendar) NextWindow(from time.Time, s Settings) (time.Time, error) {
	loc := c.Location(s.CountryCode, s.Timezone)
	start, _ := s.hours()
	t := from.In(loc)

	for i := 0; i <= maxWindowSearchDays*2; i++ {
		v := c.Evaluate(t, s)
		if v.Allowed {
			return t.UTC(), nil
		}
		dayStart := time.Date(t.Year(), t.Month(), t.Day(), start, 0, 0, 0, loc)
		if v.Reason == ReasonOutsideHours && t.Before(dayStart) {
			t = dayStart
			continue
		}
		next := t.AddDate(0, 0, 1)
		t = time.Date(next.Year(), next.Month(), next.Day(), start, 0, 0, 0, loc)
	}
	return time.Time{}, fmt.Errorf("no send window within %d days of %s", maxWindowSearchDays, from.Format(time.RFC3339))
}

func NextWindow(from time.Time, s Settings) (time.Time, error) {
	return DefaultCalendar().NextWindow(from, s)
}

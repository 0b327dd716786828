package scheduler

import (
	"fmt"
	"time"
)

// Calendar knows which days the market trades: weekdays that are not holidays.
type Calendar struct {
	loc      *time.Location
	holidays map[string]bool
}

// NewCalendar parses holidays as YYYY-MM-DD dates in loc.
func NewCalendar(loc *time.Location, holidays []string) (*Calendar, error) {
	c := &Calendar{loc: loc, holidays: make(map[string]bool, len(holidays))}
	for _, h := range holidays {
		if _, err := time.ParseInLocation("2006-01-02", h, loc); err != nil {
			return nil, fmt.Errorf("holiday %q: %w", h, err)
		}
		c.holidays[h] = true
	}
	return c, nil
}

func (c *Calendar) Location() *time.Location { return c.loc }

// IsTradingDay reports whether the market trades on t's date in the calendar's zone.
func (c *Calendar) IsTradingDay(t time.Time) bool {
	t = t.In(c.loc)
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return !c.holidays[t.Format("2006-01-02")]
}

// PrevTradingDay returns midnight of the last trading day before t.
func (c *Calendar) PrevTradingDay(t time.Time) time.Time {
	t = t.In(c.loc)
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, c.loc)
	for i := 0; i < 30; i++ {
		day = day.AddDate(0, 0, -1)
		if c.IsTradingDay(day) {
			return day
		}
	}
	return day
}

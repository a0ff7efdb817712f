// Package calendar provides a day-granularity Date used for ban and activity bookkeeping.
//
// All date math in shotbot happens in one configured location (admission.timezone,
// default UTC) so that "today" never depends on the host timezone.
package calendar

import (
	"fmt"
	"time"
)

// DefaultLocation is used when no timezone is configured.
var DefaultLocation = time.UTC

// Date is a calendar date without a time component.
// The zero value is "no date".
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// Of returns the calendar date of t in loc (nil means DefaultLocation).
func Of(t time.Time, loc *time.Location) Date {
	if loc == nil {
		loc = DefaultLocation
	}
	y, m, d := t.In(loc).Date()
	return Date{Year: y, Month: m, Day: d}
}

// New builds a normalized Date (e.g. Jan 32 becomes Feb 1).
func New(year int, month time.Month, day int) Date {
	return Of(time.Date(year, month, day, 0, 0, 0, 0, time.UTC), time.UTC)
}

func (d Date) IsZero() bool { return d == Date{} }

// midnight anchors the date at UTC midnight so day arithmetic is DST-free.
func (d Date) midnight() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

// DaysSince returns the number of whole days from o to d (negative if d is before o).
func (d Date) DaysSince(o Date) int {
	return int(d.midnight().Sub(o.midnight()).Hours() / 24)
}

func (d Date) AddDays(n int) Date {
	return Of(d.midnight().AddDate(0, 0, n), time.UTC)
}

func (d Date) Before(o Date) bool { return d.midnight().Before(o.midnight()) }

// String formats the date as ISO 8601 (YYYY-MM-DD); zero dates format as "".
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// Parse parses an ISO 8601 date. An empty string yields the zero Date.
func Parse(s string) (Date, error) {
	if s == "" {
		return Date{}, nil
	}
	t, err := time.ParseInLocation(time.DateOnly, s, time.UTC)
	if err != nil {
		return Date{}, fmt.Errorf("calendar: invalid date %q: %w", s, err)
	}
	return Of(t, time.UTC), nil
}

// LoadLocation resolves a configured timezone name; empty means DefaultLocation.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		return DefaultLocation, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("calendar: invalid timezone %q: %w", name, err)
	}
	return loc, nil
}

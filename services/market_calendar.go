package services

import (
	"fmt"
	"time"
)

// TimeOfDay is a wall-clock time without a date, e.g. the 06:30 market open.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "HH:MM" into a TimeOfDay.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	var t TimeOfDay
	if _, err := fmt.Sscanf(s, "%d:%d", &t.Hour, &t.Minute); err != nil {
		return TimeOfDay{}, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	if t.Hour < 0 || t.Hour > 23 || t.Minute < 0 || t.Minute > 59 {
		return TimeOfDay{}, fmt.Errorf("invalid time of day %q", s)
	}
	return t, nil
}

// MustTimeOfDay parses "HH:MM" and panics on malformed input. Intended for
// configuration defaults validated at startup.
func MustTimeOfDay(s string) TimeOfDay {
	t, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

// On anchors the time of day to the date of the given instant, in that
// instant's location.
func (t TimeOfDay) On(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour, t.Minute, 0, 0, day.Location())
}

// Before reports whether t is earlier in the day than other.
func (t TimeOfDay) Before(other TimeOfDay) bool {
	return t.Hour*60+t.Minute < other.Hour*60+other.Minute
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// TradingWindow is the interval of a single day during which order-submitting
// operations are permitted.
type TradingWindow struct {
	OpenAt  time.Time
	CloseAt time.Time
}

// Contains reports whether now falls inside the window.
func (w TradingWindow) Contains(now time.Time) bool {
	return !now.Before(w.OpenAt) && now.Before(w.CloseAt)
}

// MarketCalendar answers whether the market is open at a given instant. The
// open/close boundaries come from configuration, weekends are excluded, and
// exchange holidays are intentionally not modeled; callers that need the
// authoritative answer use the gateway's remote clock instead.
type MarketCalendar struct {
	loc     *time.Location
	openAt  TimeOfDay
	closeAt TimeOfDay
}

// NewMarketCalendar creates a calendar with the given open/close boundaries
// ("HH:MM") interpreted in loc.
func NewMarketCalendar(openAt, closeAt string, loc *time.Location) (*MarketCalendar, error) {
	open, err := ParseTimeOfDay(openAt)
	if err != nil {
		return nil, err
	}
	close_, err := ParseTimeOfDay(closeAt)
	if err != nil {
		return nil, err
	}
	if !open.Before(close_) {
		return nil, fmt.Errorf("market open %s must precede close %s", open, close_)
	}
	return &MarketCalendar{loc: loc, openAt: open, closeAt: close_}, nil
}

// IsOpen reports whether the market is open at now: a weekday, at or after
// the open boundary and strictly before the close boundary.
func (c *MarketCalendar) IsOpen(now time.Time) bool {
	now = now.In(c.loc)
	if wd := now.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	w := c.TradingWindowFor(now)
	return w.Contains(now)
}

// TradingWindowFor returns the open/close boundaries anchored to day's date.
func (c *MarketCalendar) TradingWindowFor(day time.Time) TradingWindow {
	day = day.In(c.loc)
	return TradingWindow{
		OpenAt:  c.openAt.On(day),
		CloseAt: c.closeAt.On(day),
	}
}

// Location returns the calendar's timezone.
func (c *MarketCalendar) Location() *time.Location {
	return c.loc
}

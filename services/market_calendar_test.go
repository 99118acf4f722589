package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeOfDay(t *testing.T) {
	tod, err := ParseTimeOfDay("06:30")
	require.NoError(t, err)
	assert.Equal(t, TimeOfDay{Hour: 6, Minute: 30}, tod)

	_, err = ParseTimeOfDay("25:00")
	assert.Error(t, err)

	_, err = ParseTimeOfDay("nope")
	assert.Error(t, err)
}

func TestMarketCalendarIsOpen(t *testing.T) {
	cal, err := NewMarketCalendar("06:30", "13:00", time.UTC)
	require.NoError(t, err)

	monday := func(hour, min int) time.Time {
		return time.Date(2026, 3, 2, hour, min, 0, 0, time.UTC)
	}

	assert.False(t, cal.IsOpen(monday(6, 29)), "before the open boundary")
	assert.True(t, cal.IsOpen(monday(6, 30)), "open boundary is inclusive")
	assert.True(t, cal.IsOpen(monday(12, 59)))
	assert.False(t, cal.IsOpen(monday(13, 0)), "close boundary is exclusive")

	saturday := time.Date(2026, 3, 7, 10, 0, 0, 0, time.UTC)
	sunday := time.Date(2026, 3, 8, 10, 0, 0, 0, time.UTC)
	assert.False(t, cal.IsOpen(saturday))
	assert.False(t, cal.IsOpen(sunday))
}

func TestMarketCalendarRejectsInvertedWindow(t *testing.T) {
	_, err := NewMarketCalendar("13:00", "06:30", time.UTC)
	assert.Error(t, err)
}

func TestTradingWindowFor(t *testing.T) {
	cal, err := NewMarketCalendar("06:30", "13:00", time.UTC)
	require.NoError(t, err)

	day := time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)
	w := cal.TradingWindowFor(day)
	assert.Equal(t, time.Date(2026, 3, 2, 6, 30, 0, 0, time.UTC), w.OpenAt)
	assert.Equal(t, time.Date(2026, 3, 2, 13, 0, 0, 0, time.UTC), w.CloseAt)
	assert.True(t, w.Contains(day))
	assert.False(t, w.Contains(w.CloseAt))
}

package shared

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestISOWeekStart(t *testing.T) {
	monday := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)

	require.Equal(t, monday, ISOWeekStart(time.Date(2024, 6, 3, 15, 4, 0, 0, time.UTC)))
	require.Equal(t, monday, ISOWeekStart(time.Date(2024, 6, 6, 9, 0, 0, 0, time.UTC)))
	require.Equal(t, monday, ISOWeekStart(time.Date(2024, 6, 9, 23, 59, 0, 0, time.UTC)), "sunday belongs to the week that started monday")
}

func TestCurrentAndPreviousWeek(t *testing.T) {
	cur, prev := CurrentAndPreviousWeek(time.Date(2024, 6, 5, 12, 0, 0, 0, time.UTC))
	require.Equal(t, time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC), cur.Start)
	require.Equal(t, time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC), cur.End)
	require.Equal(t, time.Date(2024, 5, 27, 0, 0, 0, 0, time.UTC), prev.Start)
	require.Equal(t, cur.Start, prev.End)
}

func TestNewWeeklyCount(t *testing.T) {
	require.Equal(t, 0.0, NewWeeklyCount(0, 0).ChangePercent)
	require.Equal(t, 100.0, NewWeeklyCount(3, 0).ChangePercent)
	require.Equal(t, 50.0, NewWeeklyCount(6, 4).ChangePercent)
	require.Equal(t, -75.0, NewWeeklyCount(1, 4).ChangePercent)
}

func TestNewDateRange(t *testing.T) {
	now := time.Date(2024, 6, 18, 10, 0, 0, 0, time.UTC)

	r, ok := NewDateRange(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC), now)
	require.True(t, ok)
	require.Equal(t, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), r.From)
	require.Equal(t, time.Date(2024, 6, 11, 0, 0, 0, 0, time.UTC), r.To)

	r, ok = NewDateRange(time.Time{}, time.Time{}, now)
	require.True(t, ok)
	require.Equal(t, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), r.From)
	require.Equal(t, time.Date(2024, 6, 19, 0, 0, 0, 0, time.UTC), r.To)

	_, ok = NewDateRange(time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC), time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), now)
	require.False(t, ok)
}

package calendar

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigmasight/batch-core/internal/batcherrors"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestIsTradingDay_Weekend(t *testing.T) {
	c := New()
	assert.False(t, c.IsTradingDay(date(2024, time.June, 15))) // Saturday
	assert.False(t, c.IsTradingDay(date(2024, time.June, 16))) // Sunday
}

func TestIsTradingDay_Holidays(t *testing.T) {
	c := New()
	assert.False(t, c.IsTradingDay(date(2024, time.January, 1)))  // New Year's Day
	assert.False(t, c.IsTradingDay(date(2024, time.July, 4)))     // Independence Day
	assert.False(t, c.IsTradingDay(date(2024, time.December, 25))) // Christmas
	assert.False(t, c.IsTradingDay(date(2024, time.March, 29)))   // Good Friday 2024
}

func TestIsTradingDay_ObservedWeekendHoliday(t *testing.T) {
	c := New()
	// July 4, 2026 falls on a Saturday -> observed Friday July 3.
	assert.False(t, c.IsTradingDay(date(2026, time.July, 3)))
	assert.True(t, c.IsTradingDay(date(2026, time.July, 2)))
}

func TestIsTradingDay_OrdinaryWeekday(t *testing.T) {
	c := New()
	assert.True(t, c.IsTradingDay(date(2024, time.June, 14))) // Friday, not a holiday
}

func TestEnumerateTradingDays_AscendingAndExcludesNonTradingDays(t *testing.T) {
	c := New()
	days := c.EnumerateTradingDays(date(2024, time.January, 1), date(2024, time.January, 5))
	require.NotEmpty(t, days)
	for i := 1; i < len(days); i++ {
		assert.True(t, days[i].After(days[i-1]))
	}
	for _, d := range days {
		assert.True(t, c.IsTradingDay(d))
	}
	// Jan 1 2024 (holiday) and Jan 6/7 (weekend, out of range anyway) excluded.
	for _, d := range days {
		assert.False(t, d.Equal(date(2024, time.January, 1)))
	}
}

func TestRequireTradingDay(t *testing.T) {
	c := New()
	assert.NoError(t, c.RequireTradingDay(date(2024, time.June, 14))) // Friday

	err := c.RequireTradingDay(date(2024, time.June, 15)) // Saturday
	require.Error(t, err)
	assert.True(t, errors.Is(err, batcherrors.ErrNoTradingDay))

	err = c.RequireTradingDay(date(2024, time.December, 25)) // Christmas
	require.Error(t, err)
	assert.True(t, errors.Is(err, batcherrors.ErrNoTradingDay))
}

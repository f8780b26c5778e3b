package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func ist(year int, month time.Month, day, hour, min int) time.Time {
	return time.Date(year, month, day, hour, min, 0, 0, IndiaLocation)
}

func TestGetMarketStatus(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		want MarketStatus
	}{
		{"weekday pre-open", ist(2025, time.September, 1, 9, 5), MarketPreOpen},
		{"open at bell", ist(2025, time.September, 1, 9, 15), MarketOpen},
		{"midday", ist(2025, time.September, 1, 12, 0), MarketOpen},
		{"at close", ist(2025, time.September, 1, 15, 30), MarketClosed},
		{"before pre-open", ist(2025, time.September, 1, 8, 59), MarketClosed},
		{"saturday", ist(2025, time.September, 6, 12, 0), MarketClosed},
		{"sunday", ist(2025, time.September, 7, 12, 0), MarketClosed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetMarketStatus(tt.now))
		})
	}
}

func TestDaysToExpiry(t *testing.T) {
	expiry := ist(2025, time.September, 30, 0, 0)

	assert.Equal(t, 29, DaysToExpiry(ist(2025, time.September, 1, 11, 0), expiry))
	assert.Equal(t, 1, DaysToExpiry(ist(2025, time.September, 29, 23, 59), expiry))
	assert.Equal(t, 0, DaysToExpiry(ist(2025, time.September, 30, 9, 20), expiry),
		"expiry day is day zero")
	assert.Equal(t, 0, DaysToExpiry(ist(2025, time.October, 2, 10, 0), expiry),
		"past expiry clamps at zero")
}

func TestYearsToExpiry(t *testing.T) {
	expiry := ist(2025, time.September, 30, 0, 0)

	// 29 days plus the 11:00 -> 15:30 stub on expiry day.
	got := YearsToExpiry(ist(2025, time.September, 1, 11, 0), expiry)
	want := (29*24 + 4.5) / 24 / 365
	assert.InDelta(t, want, got, 1e-9)

	assert.Zero(t, YearsToExpiry(ist(2025, time.October, 1, 10, 0), expiry))
}

func TestNextMarketOpen(t *testing.T) {
	// Friday afternoon rolls to Monday.
	next := NextMarketOpen(ist(2025, time.September, 5, 16, 0))
	assert.Equal(t, ist(2025, time.September, 8, 9, 15), next)

	// Before the bell opens same day.
	next = NextMarketOpen(ist(2025, time.September, 3, 8, 0))
	assert.Equal(t, ist(2025, time.September, 3, 9, 15), next)
}

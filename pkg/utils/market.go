// Package utils provides market calendar helpers for Indian exchanges.
package utils

import (
	"time"
)

// IndiaLocation is the timezone for Indian markets.
var IndiaLocation *time.Location

func init() {
	var err error
	IndiaLocation, err = time.LoadLocation("Asia/Kolkata")
	if err != nil {
		// Fallback to UTC+5:30
		IndiaLocation = time.FixedZone("IST", 5*60*60+30*60)
	}
}

// MarketStatus represents the current market session.
type MarketStatus string

const (
	MarketOpen    MarketStatus = "OPEN"
	MarketPreOpen MarketStatus = "PRE_OPEN"
	MarketClosed  MarketStatus = "CLOSED"
)

// GetMarketStatus returns the market status at the given instant.
func GetMarketStatus(now time.Time) MarketStatus {
	now = now.In(IndiaLocation)

	if now.Weekday() == time.Saturday || now.Weekday() == time.Sunday {
		return MarketClosed
	}

	timeMinutes := now.Hour()*60 + now.Minute()

	// Pre-open: 9:00 - 9:15
	if timeMinutes >= 540 && timeMinutes < 555 {
		return MarketPreOpen
	}

	// Market open: 9:15 - 15:30
	if timeMinutes >= 555 && timeMinutes < 930 {
		return MarketOpen
	}

	return MarketClosed
}

// IsMarketOpen returns true if the market is open at the given instant.
func IsMarketOpen(now time.Time) bool {
	return GetMarketStatus(now) == MarketOpen
}

// DaysToExpiry returns whole calendar days from now until expiry, clamped
// at zero. Expiry day itself is day 0 regardless of the hour.
func DaysToExpiry(now, expiry time.Time) int {
	now = now.In(IndiaLocation)
	expiry = expiry.In(IndiaLocation)

	nowDate := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, IndiaLocation)
	expDate := time.Date(expiry.Year(), expiry.Month(), expiry.Day(), 0, 0, 0, 0, IndiaLocation)

	days := int(expDate.Sub(nowDate).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

// YearsToExpiry returns time to expiry as a fraction of a 365-day year,
// measured to the 15:30 IST close on expiry day. Never negative.
func YearsToExpiry(now, expiry time.Time) float64 {
	expiry = expiry.In(IndiaLocation)
	close := time.Date(expiry.Year(), expiry.Month(), expiry.Day(), 15, 30, 0, 0, IndiaLocation)

	years := close.Sub(now).Hours() / 24 / 365
	if years < 0 {
		return 0
	}
	return years
}

// NextMarketOpen returns the next 9:15 IST open strictly after now,
// skipping weekends.
func NextMarketOpen(now time.Time) time.Time {
	now = now.In(IndiaLocation)

	next := time.Date(now.Year(), now.Month(), now.Day(), 9, 15, 0, 0, IndiaLocation)
	if now.After(next) {
		next = next.AddDate(0, 0, 1)
	}
	for next.Weekday() == time.Saturday || next.Weekday() == time.Sunday {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

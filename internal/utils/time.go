package utils

import "time"

// marketLocation is the exchange time zone for Shanghai and Shenzhen listings.
// Falls back to a fixed UTC+8 zone when tzdata is not available.
var marketLocation = loadMarketLocation()

func loadMarketLocation() *time.Location {
	loc, err := time.LoadLocation("Asia/Shanghai")
	if err != nil {
		return time.FixedZone("CST", 8*60*60)
	}
	return loc
}

// NowUTC returns current time in UTC timezone.
// Used throughout the codebase for consistent timestamp handling.
func NowUTC() time.Time {
	return time.Now().UTC()
}

// MarketLocation returns the A-share market time zone.
func MarketLocation() *time.Location {
	return marketLocation
}

// TradingDay returns the calendar date of t in the market time zone,
// formatted as YYYY-MM-DD. Daily quotas roll over on this boundary.
func TradingDay(t time.Time) string {
	return t.In(marketLocation).Format("2006-01-02")
}

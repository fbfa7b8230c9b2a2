package truedata

import "time"

// ExpiryLayout is the DD-MM-YYYY date format used by the analytics API.
const ExpiryLayout = "02-01-2006"

// NextMonthlyExpiry returns the last Thursday of the month after now.
func NextMonthlyExpiry(now time.Time) string {
	return LastThursday(now.Year(), now.Month()+1, now.Location()).Format(ExpiryLayout)
}

// LastThursday returns the last Thursday of the given month. Months outside
// 1..12 are normalised the way time.Date does.
func LastThursday(year int, month time.Month, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	d := time.Date(year, month+1, 0, 0, 0, 0, 0, loc)
	for d.Weekday() != time.Thursday {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

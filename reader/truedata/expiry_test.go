package truedata

import (
	"testing"
	"time"
)

func TestNextMonthlyExpiry(t *testing.T) {
	cases := []struct {
		now  time.Time
		want string
	}{
		{time.Date(2025, 10, 15, 0, 0, 0, 0, time.UTC), "27-11-2025"},
		{time.Date(2025, 11, 30, 0, 0, 0, 0, time.UTC), "25-12-2025"},
		{time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC), "29-01-2026"},
		{time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), "29-02-2024"},
	}
	for _, c := range cases {
		if got := NextMonthlyExpiry(c.now); got != c.want {
			t.Errorf("NextMonthlyExpiry(%s) = %s, want %s", c.now.Format("2006-01-02"), got, c.want)
		}
	}
}

func TestLastThursday(t *testing.T) {
	d := LastThursday(2025, time.July, nil)
	if d.Weekday() != time.Thursday || d.Day() != 31 {
		t.Fatalf("unexpected last thursday %s", d)
	}
}

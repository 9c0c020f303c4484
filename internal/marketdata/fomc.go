package marketdata

import (
	"context"
	"time"
)

// fomcDecisionDates are the scheduled FOMC statement days.
var fomcDecisionDates = []string{
	"2025-01-29", "2025-03-19", "2025-05-07", "2025-06-18",
	"2025-07-30", "2025-09-17", "2025-10-29", "2025-12-10",
	"2026-01-28", "2026-03-18", "2026-04-29", "2026-06-17",
	"2026-07-29", "2026-09-16", "2026-10-28", "2026-12-09",
}

// FOMCCalendar serves the static Fed meeting schedule.
type FOMCCalendar struct {
	dates []time.Time
}

// Ensure FOMCCalendar implements FedSource at compile time.
var _ FedSource = (*FOMCCalendar)(nil)

// NewFOMCCalendar parses the built-in schedule.
func NewFOMCCalendar() *FOMCCalendar {
	dates := make([]time.Time, 0, len(fomcDecisionDates))
	for _, s := range fomcDecisionDates {
		d, err := time.Parse("2006-01-02", s)
		if err != nil {
			panic("marketdata: bad FOMC date " + s)
		}
		dates = append(dates, d)
	}
	return &FOMCCalendar{dates: dates}
}

// FetchFedCalendar returns meeting dates within r, in chronological order.
func (c *FOMCCalendar) FetchFedCalendar(ctx context.Context, r DateRange) ([]time.Time, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []time.Time
	for _, d := range c.dates {
		if r.Contains(d) {
			out = append(out, d)
		}
	}
	return out, nil
}

// Package events annotates a trade window with earnings and Fed meeting risk.
// Annotations are advisory and never change scores.
package events

import (
	"fmt"
	"sort"
	"time"

	"github.com/eddiefleurent/forward_factor/internal/models"
	"github.com/eddiefleurent/forward_factor/internal/volatility"
)

// Window is the span a calendar spread is exposed to.
type Window struct {
	ScanDate        time.Time
	FrontExpiration time.Time
	BackExpiration  time.Time
}

// Annotate builds the Events block for one opportunity. fed may be unsorted
// and may contain dates outside the window.
func Annotate(w Window, earnings *time.Time, fed []time.Time) models.Events {
	ev := models.Events{
		FedEvents: []string{},
		Warnings:  []string{},
	}

	if earnings != nil {
		d := *earnings
		days := models.DaysBetween(w.ScanDate, d)
		ev.EarningsDate = &d
		ev.DaysToEarnings = &days

		switch {
		case volatility.EarningsInWindow(earnings, w.ScanDate, w.FrontExpiration):
			ev.HasEarningsSoon = true
			ev.EarningsInTrade = true
			ev.Warnings = append(ev.Warnings, fmt.Sprintf(
				"HIGH RISK: earnings on %s (%d days) fall inside the front window ending %s; IV crush lands before the near leg expires",
				d.Format(models.DateLayout), days, w.FrontExpiration.Format(models.DateLayout)))
		case afterFront(d, w) && volatility.EarningsInWindow(earnings, w.ScanDate, w.BackExpiration):
			ev.EarningsInTrade = true
			ev.Warnings = append(ev.Warnings, fmt.Sprintf(
				"MODERATE RISK: earnings on %s (%d days) fall between the front and back expirations; the event shifts the spread's theta/vega balance",
				d.Format(models.DateLayout), days))
		}
	}

	meetings := inWindow(fed, w.ScanDate, w.BackExpiration)
	for _, m := range meetings {
		ev.FedEvents = append(ev.FedEvents, m.Format(models.DateLayout))
	}
	for _, m := range meetings {
		if models.DaysBetween(m, w.FrontExpiration) >= 0 {
			ev.Warnings = append(ev.Warnings, fmt.Sprintf(
				"FED RISK: FOMC decision on %s falls inside the front window", m.Format(models.DateLayout)))
		} else {
			ev.Warnings = append(ev.Warnings, fmt.Sprintf(
				"FED RISK: FOMC decision on %s falls between the front and back expirations", m.Format(models.DateLayout)))
		}
	}
	return ev
}

func afterFront(d time.Time, w Window) bool {
	return models.DaysBetween(w.FrontExpiration, d) > 0
}

// inWindow returns the dates in [from, to], sorted and deduplicated by day.
func inWindow(dates []time.Time, from, to time.Time) []time.Time {
	var out []time.Time
	seen := make(map[string]bool, len(dates))
	for _, d := range dates {
		if models.DaysBetween(from, d) < 0 || models.DaysBetween(d, to) < 0 {
			continue
		}
		key := d.Format(models.DateLayout)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

package main

import (
	"fmt"
	"time"

	"mp_harvester/internal/domain"
)

// requestedWindow builds the interval for a command from YYYY-MM-DD strings.
// An empty end means the day of now; an empty begin reaches lookbackDays
// before end.
func requestedWindow(begin, end string, lookbackDays int, now time.Time, loc *time.Location) (domain.Interval, error) {
	now = now.In(loc)
	endAt := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	if end != "" {
		t, err := time.ParseInLocation(domain.DateLayout, end, loc)
		if err != nil {
			return domain.Interval{}, fmt.Errorf("parse end date: %w", err)
		}
		endAt = t
	}

	beginAt := endAt.AddDate(0, 0, -lookbackDays)
	if begin != "" {
		t, err := time.ParseInLocation(domain.DateLayout, begin, loc)
		if err != nil {
			return domain.Interval{}, fmt.Errorf("parse begin date: %w", err)
		}
		beginAt = t
	}

	return domain.NewInterval(beginAt, endAt)
}

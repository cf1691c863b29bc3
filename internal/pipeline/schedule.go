package pipeline

import (
	"time"

	"medevent/internal/types"
)

// endOfDay is the wall-clock fallback for events with a date but no usable
// start or end time.
const endOfDay = "23:59:59"

// ComputeRunAt derives the earliest moment a certificate task for the event
// should run. Certificates must never be generated before the event is over,
// so the run time anchors on the event's end:
//
//  1. event date + end_time when the event carries one,
//  2. event date + start_time when only a start is known,
//  3. event date at 23:59:59 UTC when neither time parses,
//  4. now, when the event has no date at all.
//
// A computed time already in the past is clamped to now so backlogged events
// become due on the next sweep instead of sorting ahead of everything else.
func ComputeRunAt(event *types.Event, now time.Time) time.Time {
	now = now.UTC()
	if event.Date.IsZero() {
		return now
	}

	clock := endOfDay
	if t := firstParsable(event.EndTime, event.StartTime); t != "" {
		clock = t
	}
	runAt := atClock(event.Date, clock)

	if runAt.Before(now) {
		return now
	}
	return runAt
}

// firstParsable returns the first candidate that is a valid HH:MM:SS wall
// clock, or empty when none is.
func firstParsable(candidates ...string) string {
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if _, err := time.Parse(time.TimeOnly, c); err == nil {
			return c
		}
	}
	return ""
}

// atClock combines a calendar date with an HH:MM:SS wall clock in UTC. The
// clock is assumed valid; callers vet it with firstParsable first.
func atClock(date time.Time, clock string) time.Time {
	t, err := time.Parse(time.TimeOnly, clock)
	if err != nil {
		t, _ = time.Parse(time.TimeOnly, endOfDay)
	}
	return time.Date(date.Year(), date.Month(), date.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.UTC)
}

// Package pipeline implements the certificate auto-generation core: the
// enqueue policy invoked from the attendance-scan flow, the periodic batch
// processor that drives scheduled tasks to completion, and the task state
// machine shared by both.
package pipeline

import (
	"fmt"
	"time"

	"medevent/internal/types"
)

// fanOutKeyPart is the user segment of a fan-out task's idempotency key.
// Fan-out tasks carry no attendee, but the key still needs four segments so
// per-user keys and marker keys can never collide.
const fanOutKeyPart = "all"

// keyDateLayout is the date component format of idempotency keys.
const keyDateLayout = "2006-01-02"

// IdempotencyKey composes the deterministic key for one logical unit of
// certificate work: task type, event, attendee, and the event's calendar day.
// Every trigger path (scan-time enqueue, fan-out resolution, batch re-runs)
// derives the same key from the same inputs, which is what lets the unique
// constraint absorb duplicate scheduling.
//
// An empty userID produces the fan-out marker key for the event.
func IdempotencyKey(taskType types.TaskType, eventID, userID string, date time.Time) string {
	userPart := userID
	if userPart == "" {
		userPart = fanOutKeyPart
	}
	return fmt.Sprintf("%s:%s:%s:%s", taskType, eventID, userPart, date.UTC().Format(keyDateLayout))
}

// KeyDate returns the date component used in idempotency keys for the event:
// the event's own date when scheduled, otherwise the reference time's day.
// Undated events fall back to the day the trigger fired so their keys remain
// deterministic within the day while still being unique per event.
func KeyDate(event *types.Event, now time.Time) time.Time {
	if !event.Date.IsZero() {
		return event.Date
	}
	return now.UTC()
}

package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"medevent/internal/types"
)

func TestComputeRunAt(t *testing.T) {
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	eventDay := time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		event types.Event
		want  time.Time
	}{
		{
			name:  "end time wins when present",
			event: types.Event{Date: eventDay, StartTime: "09:00:00", EndTime: "17:30:00"},
			want:  time.Date(2026, 4, 10, 17, 30, 0, 0, time.UTC),
		},
		{
			name:  "start time when end is missing",
			event: types.Event{Date: eventDay, StartTime: "09:00:00"},
			want:  time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC),
		},
		{
			name:  "end of day when neither parses",
			event: types.Event{Date: eventDay, StartTime: "soonish", EndTime: "later"},
			want:  time.Date(2026, 4, 10, 23, 59, 59, 0, time.UTC),
		},
		{
			name:  "end of day when no times are set",
			event: types.Event{Date: eventDay},
			want:  time.Date(2026, 4, 10, 23, 59, 59, 0, time.UTC),
		},
		{
			name:  "malformed end falls through to valid start",
			event: types.Event{Date: eventDay, StartTime: "10:15:00", EndTime: "25:99:00"},
			want:  time.Date(2026, 4, 10, 10, 15, 0, 0, time.UTC),
		},
		{
			name:  "undated event runs now",
			event: types.Event{},
			want:  now,
		},
		{
			name:  "past event clamps to now",
			event: types.Event{Date: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), EndTime: "17:00:00"},
			want:  now,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeRunAt(&tt.event, now)
			assert.Equal(t, tt.want, got)
			assert.False(t, got.Before(now), "run time must never be in the past")
		})
	}
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(types.TaskStatusPending, types.TaskStatusProcessing))
	assert.True(t, CanTransition(types.TaskStatusProcessing, types.TaskStatusCompleted))
	assert.True(t, CanTransition(types.TaskStatusProcessing, types.TaskStatusFailed))

	assert.False(t, CanTransition(types.TaskStatusPending, types.TaskStatusCompleted))
	assert.False(t, CanTransition(types.TaskStatusCompleted, types.TaskStatusPending))
	assert.False(t, CanTransition(types.TaskStatusFailed, types.TaskStatusProcessing))

	err := ValidateTransition(types.TaskStatusCompleted, types.TaskStatusFailed)
	assert.Error(t, err)
}

package models_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mossy-p/studyroom-signaling/internal/models"
)

func TestTimerTransitions(t *testing.T) {
	t0 := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)

	timer := models.NewTimer()
	assert.Equal(t, models.DefaultTimerSeconds, timer.Remaining(t0))
	assert.False(t, timer.Running)

	timer = timer.Start(t0, "u1", 0)
	assert.True(t, timer.Running)
	assert.Equal(t, "u1", timer.UpdatedBy)
	assert.Equal(t, models.DefaultTimerSeconds-60, timer.Remaining(t0.Add(time.Minute)))

	// starting again while running keeps the original start
	again := timer.Start(t0.Add(time.Minute), "u2", 0)
	assert.Equal(t, timer, again)

	timer = timer.Pause(t0.Add(5*time.Minute), "u2")
	assert.False(t, timer.Running)
	assert.Equal(t, models.DefaultTimerSeconds-300, timer.RemainingSeconds)
	assert.Equal(t, timer.RemainingSeconds, timer.Remaining(t0.Add(time.Hour)))

	timer = timer.Start(t0.Add(10*time.Minute), "u1", 0)
	assert.Equal(t, models.DefaultTimerSeconds-300-30, timer.Remaining(t0.Add(10*time.Minute+30*time.Second)))

	timer = timer.Reset(t0.Add(11*time.Minute), "u1")
	assert.False(t, timer.Running)
	assert.Equal(t, models.DefaultTimerSeconds, timer.RemainingSeconds)
	assert.True(t, timer.StartedAt.IsZero())
}

func TestTimerStartWithDuration(t *testing.T) {
	t0 := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)

	timer := models.NewTimer().Start(t0, "u1", 300)
	assert.Equal(t, 300, timer.DurationSeconds)
	assert.Equal(t, 0, timer.Remaining(t0.Add(10*time.Minute)), "remaining never goes negative")

	// a finished timer starts over from its duration
	timer = timer.Pause(t0.Add(10*time.Minute), "u1").Start(t0.Add(11*time.Minute), "u1", 0)
	assert.Equal(t, 300, timer.Remaining(t0.Add(11*time.Minute)))
}

func TestTimerUpdate(t *testing.T) {
	t0 := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)

	timer := models.NewTimer().Start(t0, "u1", 0).Update(t0.Add(time.Minute), "u2", 120)
	assert.True(t, timer.Running)
	assert.Equal(t, 120, timer.Remaining(t0.Add(time.Minute)))
	assert.Equal(t, 60, timer.Remaining(t0.Add(2*time.Minute)))
	assert.Equal(t, "u2", timer.UpdatedBy)
}

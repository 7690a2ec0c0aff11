package models

import "time"

// DefaultTimerSeconds is one pomodoro.
const DefaultTimerSeconds = 25 * 60

// TimerState is the shared countdown of a room. While running, the remaining
// time is RemainingSeconds minus the time elapsed since StartedAt.
type TimerState struct {
	DurationSeconds  int       `json:"durationSeconds" bson:"durationSeconds"`
	RemainingSeconds int       `json:"remainingSeconds" bson:"remainingSeconds"`
	Running          bool      `json:"running" bson:"running"`
	StartedAt        time.Time `json:"startedAt,omitzero" bson:"startedAt"`
	UpdatedBy        string    `json:"updatedBy,omitempty" bson:"updatedBy"`
	UpdatedAt        time.Time `json:"updatedAt,omitzero" bson:"updatedAt"`
}

func NewTimer() TimerState {
	return TimerState{DurationSeconds: DefaultTimerSeconds, RemainingSeconds: DefaultTimerSeconds}
}

// Remaining projects the remaining seconds at now.
func (t TimerState) Remaining(now time.Time) int {
	if !t.Running {
		return t.RemainingSeconds
	}
	left := t.RemainingSeconds - int(now.Sub(t.StartedAt)/time.Second)
	if left < 0 {
		return 0
	}
	return left
}

// Start runs the timer. A positive duration restarts it from that length;
// otherwise a paused timer resumes and a finished one starts over.
func (t TimerState) Start(now time.Time, by string, durationSeconds int) TimerState {
	switch {
	case durationSeconds > 0:
		t.DurationSeconds = durationSeconds
		t.RemainingSeconds = durationSeconds
	case t.Running:
		return t
	case t.RemainingSeconds <= 0:
		t.RemainingSeconds = t.DurationSeconds
	}
	t.Running = true
	t.StartedAt = now
	return t.touch(now, by)
}

func (t TimerState) Pause(now time.Time, by string) TimerState {
	if !t.Running {
		return t
	}
	t.RemainingSeconds = t.Remaining(now)
	t.Running = false
	t.StartedAt = time.Time{}
	return t.touch(now, by)
}

func (t TimerState) Reset(now time.Time, by string) TimerState {
	t.Running = false
	t.RemainingSeconds = t.DurationSeconds
	t.StartedAt = time.Time{}
	return t.touch(now, by)
}

// Update sets the remaining seconds explicitly, keeping the running flag.
func (t TimerState) Update(now time.Time, by string, remainingSeconds int) TimerState {
	t.RemainingSeconds = remainingSeconds
	if t.Running {
		t.StartedAt = now
	}
	return t.touch(now, by)
}

func (t TimerState) touch(now time.Time, by string) TimerState {
	t.UpdatedBy = by
	t.UpdatedAt = now
	return t
}

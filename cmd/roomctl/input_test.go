package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mossy-p/studyroom-signaling/internal/models"
)

func TestParseInput(t *testing.T) {
	tests := []struct {
		line  string
		event models.EventName
		data  any
		local string
	}{
		{line: "  hello there ", event: models.EventChatMessage, data: models.ChatSend{Body: "hello there"}},
		{line: "/notes chapter 4 summary", event: models.EventNotesUpdate, data: models.NotesUpdate{Content: "chapter 4 summary"}},
		{line: "/timer start 1500", event: models.EventTimerStart, data: models.TimerAction{DurationSeconds: 1500}},
		{line: "/timer update 60", event: models.EventTimerUpdate, data: models.TimerAction{RemainingSeconds: 60}},
		{line: "/timer pause", event: models.EventTimerPause, data: models.TimerAction{}},
		{line: "/timer reset", event: models.EventTimerReset, data: models.TimerAction{}},
		{line: "/video off", event: models.EventToggleVideo, data: models.ToggleMedia{Enabled: false}},
		{line: "/audio on", event: models.EventToggleAudio, data: models.ToggleMedia{Enabled: true}},
		{line: "/share start", event: models.EventScreenShareStarted, data: models.ScreenShare{}},
		{line: "/share stop", event: models.EventScreenShareStopped, data: models.ScreenShare{}},
		{line: "/clear", event: models.EventWhiteboardClear, data: models.WhiteboardClear{}},
		{line: "/who", local: localWho},
		{line: "/quit", local: localQuit},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			cmd, err := parseInput(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.event, cmd.event)
			assert.Equal(t, tt.data, cmd.data)
			assert.Equal(t, tt.local, cmd.local)
		})
	}
}

func TestParseInputRejects(t *testing.T) {
	_, err := parseInput("   ")
	assert.ErrorIs(t, err, errEmptyInput)

	for _, line := range []string{"/dance", "/timer start", "/timer start -5", "/timer lap", "/video maybe", "/share"} {
		_, err := parseInput(line)
		assert.Error(t, err, line)
	}
}

func TestRenderParticipants(t *testing.T) {
	var buf bytes.Buffer
	renderParticipants(&buf, models.RoomSnapshot{
		RoomID:     "K7QX2M",
		HostUserID: "alice",
		Participants: []models.Participant{
			{UserID: "alice", DisplayName: "Alice", IsHost: true, Video: true, Audio: true, JoinedAt: time.Now()},
			{UserID: "bob", DisplayName: "Bob", IsScreenSharing: true, JoinedAt: time.Now()},
		},
	})
	out := buf.String()
	assert.Contains(t, out, "K7QX2M")
	assert.Contains(t, out, "Alice")
	assert.Contains(t, out, "bob")
	assert.Contains(t, strings.ToUpper(out), "TOTAL")
}

func TestRenderShared(t *testing.T) {
	var buf bytes.Buffer
	now := time.Now()
	timer := models.NewTimer().Start(now, "alice", 90)
	renderShared(&buf, &models.NotesDocument{Content: "read chapter 4", UpdatedBy: "bob"}, &timer, now)
	out := buf.String()
	assert.Contains(t, out, "1m30s (running)")
	assert.Contains(t, out, "read chapter 4")

	buf.Reset()
	renderShared(&buf, nil, nil, now)
	assert.Contains(t, buf.String(), "Timer")
}

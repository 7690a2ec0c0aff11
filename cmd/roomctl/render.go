package main

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/mossy-p/studyroom-signaling/internal/models"
)

func renderParticipants(w io.Writer, snap models.RoomSnapshot) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("Room %s", snap.RoomID)
	t.AppendHeader(table.Row{"User", "Name", "Host", "Video", "Audio", "Screen", "Joined"})
	for _, p := range snap.Participants {
		t.AppendRow(table.Row{
			p.UserID,
			p.DisplayName,
			check(p.IsHost),
			onOff(p.Video),
			onOff(p.Audio),
			check(p.IsScreenSharing),
			p.JoinedAt.Local().Format(time.Kitchen),
		})
	}
	t.AppendFooter(table.Row{"", "", "", "", "", "Total", len(snap.Participants)})
	t.SetStyle(table.StyleLight)
	t.Render()
}

func renderShared(w io.Writer, notes *models.NotesDocument, timer *models.TimerState, now time.Time) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Shared", "Value", "By"})
	if timer != nil {
		status := "paused"
		if timer.Running {
			status = "running"
		}
		remaining := time.Duration(timer.Remaining(now)) * time.Second
		t.AppendRow(table.Row{"Timer", fmt.Sprintf("%s (%s)", remaining, status), timer.UpdatedBy})
	} else {
		t.AppendRow(table.Row{"Timer", "-", ""})
	}
	if notes != nil && notes.Content != "" {
		t.AppendRow(table.Row{"Notes", truncate(notes.Content, 60), notes.UpdatedBy})
	} else {
		t.AppendRow(table.Row{"Notes", "-", ""})
	}
	t.SetStyle(table.StyleLight)
	t.Render()
}

func check(b bool) string {
	if b {
		return "✓"
	}
	return ""
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

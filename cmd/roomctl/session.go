package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/mossy-p/studyroom-signaling/internal/client"
	"github.com/mossy-p/studyroom-signaling/internal/models"
)

// peerEvents are the frames negotiation cares about.
var peerEvents = map[models.EventName]bool{
	models.EventUserJoined:   true,
	models.EventUserLeft:     true,
	models.EventOffer:        true,
	models.EventAnswer:       true,
	models.EventICECandidate: true,
	models.EventRoomDeleted:  true,
}

func (s *session) printf(format string, args ...any) {
	fmt.Fprintf(s.out, "%s  %s\n", time.Now().Format("15:04:05"), fmt.Sprintf(format, args...))
}

func (s *session) queuePeer(work func(context.Context)) {
	select {
	case s.peerWork <- work:
	default:
		s.printf("peer queue full, dropping negotiation step")
	}
}

func (s *session) status(state client.State, mode client.Mode) {
	s.printf("status: %s (%s)", state, mode)
	switch state {
	case client.StateReconnecting:
		s.reconnected = true
	case client.StateConnected:
		// the server treats the new socket as a rejoin; old peer connections are stale
		if s.reconnected && s.resetPeers != nil {
			s.resetPeers()
		}
		s.reconnected = false
	}
}

// roomState handles polled snapshots. Realtime snapshots arrive through event with backfill.
func (s *session) roomState(st models.RoomState, source client.Source) {
	if source != client.SourcePolling {
		return
	}
	s.mu.Lock()
	s.view.ApplyState(st)
	s.mu.Unlock()
	s.printf("polled %s: %d participant(s), host %s", st.RoomID, len(st.Participants), orDash(st.HostUserID))
}

func (s *session) event(f models.Frame) {
	if s.forwardPeer != nil && peerEvents[f.Event] {
		s.forwardPeer(f)
	}

	s.mu.Lock()
	line := s.describe(f)
	if err := s.view.Apply(f); err != nil {
		s.mu.Unlock()
		s.printf("malformed %s: %v", f.Event, err)
		return
	}
	s.mu.Unlock()

	if line != "" {
		s.printf("%s", line)
	}
}

// describe renders a frame for the terminal. Callers hold s.mu; it runs before
// the frame is applied so departing participants can still be named.
func (s *session) describe(f models.Frame) string {
	switch f.Event {
	case models.EventRoomState:
		var ev models.RoomStateEvent
		if json.Unmarshal(f.Data, &ev) != nil {
			return ""
		}
		return fmt.Sprintf("in %s: %d participant(s), host %s", ev.RoomID, len(ev.Participants), orDash(ev.HostUserID))

	case models.EventUserJoined:
		var ev models.UserJoinedEvent
		if json.Unmarshal(f.Data, &ev) != nil {
			return ""
		}
		return fmt.Sprintf("%s joined", displayName(ev.Participant))

	case models.EventUserLeft:
		var ev models.UserLeftEvent
		if json.Unmarshal(f.Data, &ev) != nil {
			return ""
		}
		return fmt.Sprintf("%s left", s.name(ev.UserID))

	case models.EventHostChanged:
		var ev models.HostChangedEvent
		if json.Unmarshal(f.Data, &ev) != nil {
			return ""
		}
		return fmt.Sprintf("%s is now the host", s.name(ev.HostUserID))

	case models.EventChatMessage:
		var msg models.ChatMessage
		if json.Unmarshal(f.Data, &msg) != nil {
			return ""
		}
		if msg.Type == models.ChatTypeSystem {
			return fmt.Sprintf("* %s", msg.Body)
		}
		return fmt.Sprintf("<%s> %s", orDash(msg.UserName), msg.Body)

	case models.EventNotesUpdate:
		var notes models.NotesDocument
		if json.Unmarshal(f.Data, &notes) != nil {
			return ""
		}
		return fmt.Sprintf("notes updated by %s: %s", s.name(notes.UpdatedBy), truncate(notes.Content, 60))

	case models.EventTimerUpdate:
		var timer models.TimerState
		if json.Unmarshal(f.Data, &timer) != nil {
			return ""
		}
		status := "paused"
		if timer.Running {
			status = "running"
		}
		remaining := time.Duration(timer.Remaining(time.Now())) * time.Second
		return fmt.Sprintf("timer %s, %s left (%s)", status, remaining, s.name(timer.UpdatedBy))

	case models.EventWhiteboardClear:
		var ev models.WhiteboardClear
		if json.Unmarshal(f.Data, &ev) != nil {
			return ""
		}
		return fmt.Sprintf("whiteboard cleared by %s", s.name(ev.ClearedBy))

	case models.EventToggleVideo, models.EventToggleAudio:
		var ev models.ToggleMedia
		if json.Unmarshal(f.Data, &ev) != nil {
			return ""
		}
		kind := "video"
		if f.Event == models.EventToggleAudio {
			kind = "audio"
		}
		return fmt.Sprintf("%s turned %s %s", s.name(ev.UserID), kind, onOff(ev.Enabled))

	case models.EventScreenShareStarted, models.EventScreenShareStopped:
		var ev models.ScreenShare
		if json.Unmarshal(f.Data, &ev) != nil {
			return ""
		}
		if f.Event == models.EventScreenShareStarted {
			return fmt.Sprintf("%s started sharing their screen", s.name(ev.UserID))
		}
		return fmt.Sprintf("%s stopped sharing their screen", s.name(ev.UserID))

	case models.EventRoomDeleted:
		var ev models.RoomDeletedEvent
		if json.Unmarshal(f.Data, &ev) != nil {
			return ""
		}
		if s.stop != nil {
			s.stop()
		}
		return fmt.Sprintf("room %s was deleted by %s", ev.RoomID, s.name(ev.DeletedBy))

	case models.EventError:
		var ev models.ErrorEvent
		if json.Unmarshal(f.Data, &ev) != nil {
			return ""
		}
		return fmt.Sprintf("server rejected %s: %s (%s)", orDash(string(ev.Event)), ev.Message, ev.Code)
	}
	return ""
}

func (s *session) name(userID string) string {
	if userID == "" {
		return "someone"
	}
	if p, ok := s.view.Participant(userID); ok {
		return displayName(p)
	}
	return userID
}

// readInput sends one event per stdin line until ctx ends or input runs out.
func (s *session) readInput(ctx context.Context, m *client.Manager, in io.Reader) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		cmd, err := parseInput(scanner.Text())
		if errors.Is(err, errEmptyInput) {
			continue
		}
		if err != nil {
			s.printf("%v", err)
			continue
		}

		switch cmd.local {
		case localQuit:
			s.stop()
			return
		case localHelp:
			fmt.Fprintln(s.out, helpText)
			continue
		case localWho:
			s.mu.Lock()
			renderParticipants(s.out, s.view.Snapshot)
			renderShared(s.out, s.view.Notes, s.view.Timer, time.Now())
			s.mu.Unlock()
			continue
		}

		if err := m.Send(ctx, cmd.event, cmd.data); err != nil {
			if errors.Is(err, client.ErrNotConnected) {
				s.printf("not connected, %s not sent", cmd.event)
				continue
			}
			if ctx.Err() != nil {
				return
			}
			s.printf("send %s: %v", cmd.event, err)
		}
	}
}

func displayName(p models.Participant) string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.UserID
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

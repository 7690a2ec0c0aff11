package client

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/mossy-p/studyroom-signaling/internal/models"
)

// RoomView is the local picture of a room, folded from inbound events. It is
// meant to be updated from Manager callbacks and is not safe for concurrent use.
type RoomView struct {
	Snapshot models.RoomSnapshot
	Chat     []models.ChatMessage
	Board    *models.Board
	Notes    *models.NotesDocument
	Timer    *models.TimerState
	Deleted  bool

	chatLimit int
}

func NewRoomView(chatLimit int) *RoomView {
	return &RoomView{Board: models.NewBoard(), chatLimit: chatLimit}
}

// ApplyState replaces presence with a snapshot. Notes and timer are taken
// unless the view already holds a newer copy from a live update.
func (v *RoomView) ApplyState(st models.RoomState) {
	v.Snapshot = st.RoomSnapshot
	if st.Notes != nil && (v.Notes == nil || !v.Notes.UpdatedAt.After(st.Notes.UpdatedAt)) {
		v.Notes = st.Notes
	}
	if st.Timer != nil && (v.Timer == nil || !v.Timer.UpdatedAt.After(st.Timer.UpdatedAt)) {
		v.Timer = st.Timer
	}
}

// Apply folds one inbound frame into the view. Unknown events are ignored.
func (v *RoomView) Apply(frame models.Frame) error {
	switch frame.Event {
	case models.EventRoomState:
		var ev models.RoomStateEvent
		if err := decode(frame, &ev); err != nil {
			return err
		}
		v.ApplyState(models.RoomState{RoomSnapshot: ev.RoomSnapshot, Notes: ev.Notes, Timer: ev.Timer})
		v.Deleted = false
		// backfill only rides on the joiner's room-state
		if ev.Chat != nil {
			v.Chat = nil
			for _, msg := range ev.Chat {
				v.addChat(msg)
			}
		}
		if ev.Strokes != nil {
			v.Board.Clear()
			for _, s := range ev.Strokes {
				v.Board.Apply(s)
			}
		}

	case models.EventUserJoined:
		var ev models.UserJoinedEvent
		if err := decode(frame, &ev); err != nil {
			return err
		}
		v.upsert(ev.Participant)

	case models.EventUserLeft:
		var ev models.UserLeftEvent
		if err := decode(frame, &ev); err != nil {
			return err
		}
		v.Snapshot.Participants = slices.DeleteFunc(v.Snapshot.Participants, func(p models.Participant) bool {
			return p.ConnectionID == ev.ConnectionID
		})

	case models.EventHostChanged:
		var ev models.HostChangedEvent
		if err := decode(frame, &ev); err != nil {
			return err
		}
		v.Snapshot.HostUserID = ev.HostUserID
		for i := range v.Snapshot.Participants {
			v.Snapshot.Participants[i].IsHost = v.Snapshot.Participants[i].UserID == ev.HostUserID
		}

	case models.EventChatMessage:
		var msg models.ChatMessage
		if err := decode(frame, &msg); err != nil {
			return err
		}
		v.addChat(msg)

	case models.EventWhiteboardUpdate:
		var ev models.WhiteboardUpdate
		if err := decode(frame, &ev); err != nil {
			return err
		}
		v.Board.Apply(ev.Stroke)

	case models.EventWhiteboardClear:
		v.Board.Clear()

	case models.EventNotesUpdate:
		var notes models.NotesDocument
		if err := decode(frame, &notes); err != nil {
			return err
		}
		v.Notes = &notes

	case models.EventTimerUpdate:
		var timer models.TimerState
		if err := decode(frame, &timer); err != nil {
			return err
		}
		v.Timer = &timer

	case models.EventToggleVideo, models.EventToggleAudio:
		var ev models.ToggleMedia
		if err := decode(frame, &ev); err != nil {
			return err
		}
		v.update(ev.UserID, func(p *models.Participant) {
			if frame.Event == models.EventToggleVideo {
				p.Video = ev.Enabled
			} else {
				p.Audio = ev.Enabled
			}
		})

	case models.EventScreenShareStarted, models.EventScreenShareStopped:
		var ev models.ScreenShare
		if err := decode(frame, &ev); err != nil {
			return err
		}
		started := frame.Event == models.EventScreenShareStarted
		v.update(ev.UserID, func(p *models.Participant) { p.IsScreenSharing = started })

	case models.EventRoomDeleted:
		v.Snapshot.Participants = nil
		v.Snapshot.HostUserID = ""
		v.Deleted = true
	}
	return nil
}

// Participant looks up a present user.
func (v *RoomView) Participant(userID string) (models.Participant, bool) {
	for _, p := range v.Snapshot.Participants {
		if p.UserID == userID {
			return p, true
		}
	}
	return models.Participant{}, false
}

func (v *RoomView) addChat(msg models.ChatMessage) {
	if slices.ContainsFunc(v.Chat, func(m models.ChatMessage) bool { return m.ID == msg.ID }) {
		return
	}
	v.Chat = append(v.Chat, msg)
	if v.chatLimit > 0 && len(v.Chat) > v.chatLimit {
		v.Chat = slices.Delete(v.Chat, 0, len(v.Chat)-v.chatLimit)
	}
}

func (v *RoomView) upsert(p models.Participant) {
	for i := range v.Snapshot.Participants {
		if v.Snapshot.Participants[i].UserID == p.UserID {
			v.Snapshot.Participants[i] = p
			return
		}
	}
	v.Snapshot.Participants = append(v.Snapshot.Participants, p)
}

func (v *RoomView) update(userID string, fn func(*models.Participant)) {
	for i := range v.Snapshot.Participants {
		if v.Snapshot.Participants[i].UserID == userID {
			fn(&v.Snapshot.Participants[i])
		}
	}
}

func decode(frame models.Frame, into any) error {
	if err := json.Unmarshal(frame.Data, into); err != nil {
		return fmt.Errorf("decode %s: %w", frame.Event, err)
	}
	return nil
}

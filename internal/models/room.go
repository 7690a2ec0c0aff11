package models

import (
	"strings"
	"time"
)

// ConnectionStatus describes the transport health of a participant.
type ConnectionStatus string

const (
	ConnectionStatusConnected ConnectionStatus = "connected"
	ConnectionStatusRejoined  ConnectionStatus = "rejoined"
)

// Participant is one user's presence in a room
type Participant struct {
	ConnectionID     string           `json:"connectionId"`
	UserID           string           `json:"userId"`
	DisplayName      string           `json:"displayName"`
	IsHost           bool             `json:"isHost"`
	Video            bool             `json:"video"`
	Audio            bool             `json:"audio"`
	IsScreenSharing  bool             `json:"isScreenSharing"`
	JoinedAt         time.Time        `json:"joinedAt"`
	ConnectionStatus ConnectionStatus `json:"connectionStatus"`
}

// RoomSnapshot is the full participant list of a room at one point in time.
type RoomSnapshot struct {
	RoomID       string        `json:"roomId"`
	HostUserID   string        `json:"hostUserId,omitempty"`
	Participants []Participant `json:"participants"`
}

// RoomState is what the polling endpoint serves: presence plus the small shared state.
type RoomState struct {
	RoomSnapshot
	Timer *TimerState    `json:"timer,omitempty"`
	Notes *NotesDocument `json:"notes,omitempty"`
}

// RoomRecord stores information about a room
type RoomRecord struct {
	Code      string    `json:"code" bson:"_id"` // Short, shareable room code (e.g., "K7QX2M")
	CreatorID string    `json:"creatorId" bson:"creatorId"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
}

// CreateRoomResponse is the response for creating a room
type CreateRoomResponse struct {
	RoomID string `json:"roomId"`
	Code   string `json:"code"`
}

// NormalizeRoomCode trims a room code and, when upper is set, folds it to uppercase.
func NormalizeRoomCode(code string, upper bool) string {
	code = strings.TrimSpace(code)
	if upper {
		code = strings.ToUpper(code)
	}
	return code
}

// RoomInfo describes a room code and how many participants it holds right now.
type RoomInfo struct {
	RoomRecord
	ParticipantCount int    `json:"participantCount"`
	HostUserID       string `json:"hostUserId,omitempty"`
	Live             bool   `json:"live"`
}

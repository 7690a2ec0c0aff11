package models

import "time"

type ChatType string

const (
	ChatTypeText   ChatType = "text"
	ChatTypeSystem ChatType = "system"
)

// ChatMessage is append-only and persisted so late joiners can backfill.
type ChatMessage struct {
	ID        string              `json:"id" bson:"_id"`
	RoomID    string              `json:"roomId" bson:"roomId"`
	UserID    string              `json:"userId" bson:"userId"`
	UserName  string              `json:"userName" bson:"userName"`
	Body      string              `json:"body" bson:"body"`
	Type      ChatType            `json:"type" bson:"type"`
	CreatedAt time.Time           `json:"createdAt" bson:"createdAt"`
	Reactions map[string][]string `json:"reactions,omitempty" bson:"reactions,omitempty"` // emoji -> user ids
}

// NotesDocument is the shared notes blob of a room. Last writer wins.
type NotesDocument struct {
	RoomID    string    `json:"roomId" bson:"_id"`
	Content   string    `json:"content" bson:"content"`
	UpdatedBy string    `json:"updatedBy" bson:"updatedBy"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt"`
}

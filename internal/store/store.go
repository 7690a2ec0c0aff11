// Package store defines the document store that keeps room collaboration state.
package store

import (
	"context"
	"errors"

	"github.com/mossy-p/studyroom-signaling/internal/models"
)

// ErrNotFound is returned when a requested document does not exist
var ErrNotFound = errors.New("document not found")

// Store is the document store behind rooms. Implementations must be safe for concurrent use.
type Store interface {
	// Room records
	SaveRoom(ctx context.Context, room models.RoomRecord) error
	GetRoom(ctx context.Context, code string) (models.RoomRecord, error)
	// DeleteRoom removes the record and every document belonging to the room.
	DeleteRoom(ctx context.Context, code string) error

	// Chat log, returned oldest first
	AppendChat(ctx context.Context, msg models.ChatMessage) error
	RecentChat(ctx context.Context, roomID string, limit int) ([]models.ChatMessage, error)

	// Whiteboard strokes, upserted by stroke id
	PutStroke(ctx context.Context, roomID string, stroke models.WhiteboardStroke) error
	Strokes(ctx context.Context, roomID string) ([]models.WhiteboardStroke, error)
	ClearStrokes(ctx context.Context, roomID string) error

	// Shared notes and timer, last writer wins
	SaveNotes(ctx context.Context, notes models.NotesDocument) error
	GetNotes(ctx context.Context, roomID string) (models.NotesDocument, error)
	SaveTimer(ctx context.Context, roomID string, timer models.TimerState) error
	GetTimer(ctx context.Context, roomID string) (models.TimerState, error)

	Ping(ctx context.Context) error
	Close() error
}

// Package storetest holds the behaviour every store backend must share.
package storetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mossy-p/studyroom-signaling/internal/models"
	"github.com/mossy-p/studyroom-signaling/internal/store"
)

// Run exercises s. The store must start empty and keep at least chatLimit chat messages per room.
func Run(t *testing.T, s store.Store, chatLimit int) {
	ctx := context.Background()
	t0 := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("Ping", func(t *testing.T) {
		assert.NoError(t, s.Ping(ctx))
	})

	t.Run("Rooms", func(t *testing.T) {
		_, err := s.GetRoom(ctx, "NOPE00")
		assert.ErrorIs(t, err, store.ErrNotFound)

		rec := models.RoomRecord{Code: "K7QX2M", CreatorID: "u1", CreatedAt: t0}
		require.NoError(t, s.SaveRoom(ctx, rec))

		got, err := s.GetRoom(ctx, "K7QX2M")
		require.NoError(t, err)
		assert.Equal(t, rec.Code, got.Code)
		assert.Equal(t, rec.CreatorID, got.CreatorID)
		assert.True(t, rec.CreatedAt.Equal(got.CreatedAt))
	})

	t.Run("ChatOldestFirst", func(t *testing.T) {
		for i := 0; i < chatLimit+2; i++ {
			require.NoError(t, s.AppendChat(ctx, models.ChatMessage{
				ID:        fmt.Sprintf("m%02d", i),
				RoomID:    "CHAT01",
				UserID:    "u1",
				Body:      fmt.Sprintf("hello %d", i),
				Type:      models.ChatTypeText,
				CreatedAt: t0.Add(time.Duration(i) * time.Second),
			}))
		}

		recent, err := s.RecentChat(ctx, "CHAT01", 3)
		require.NoError(t, err)
		require.Len(t, recent, 3)
		assert.Equal(t, fmt.Sprintf("m%02d", chatLimit-1), recent[0].ID)
		assert.Equal(t, fmt.Sprintf("m%02d", chatLimit+1), recent[2].ID)

		empty, err := s.RecentChat(ctx, "EMPTY0", 10)
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("StrokesUpsertAndClear", func(t *testing.T) {
		stroke := models.WhiteboardStroke{
			ID:        "s1",
			UserID:    "u1",
			Tool:      "pen",
			Points:    []models.Point{{X: 1, Y: 1}, {X: 2, Y: 2}},
			Color:     "#111111",
			Width:     3,
			Timestamp: 200,
		}
		require.NoError(t, s.PutStroke(ctx, "BOARD1", stroke))
		require.NoError(t, s.PutStroke(ctx, "BOARD1", stroke))

		second := stroke
		second.ID = "s0"
		second.Timestamp = 100
		require.NoError(t, s.PutStroke(ctx, "BOARD1", second))

		strokes, err := s.Strokes(ctx, "BOARD1")
		require.NoError(t, err)
		require.Len(t, strokes, 2)
		assert.Equal(t, "s0", strokes[0].ID)
		assert.True(t, stroke.Equal(strokes[1]))

		require.NoError(t, s.ClearStrokes(ctx, "BOARD1"))
		strokes, err = s.Strokes(ctx, "BOARD1")
		require.NoError(t, err)
		assert.Empty(t, strokes)
	})

	t.Run("NotesLastWriterWins", func(t *testing.T) {
		_, err := s.GetNotes(ctx, "NOTES1")
		assert.ErrorIs(t, err, store.ErrNotFound)

		require.NoError(t, s.SaveNotes(ctx, models.NotesDocument{RoomID: "NOTES1", Content: "a", UpdatedBy: "u1", UpdatedAt: t0}))
		require.NoError(t, s.SaveNotes(ctx, models.NotesDocument{RoomID: "NOTES1", Content: "b", UpdatedBy: "u2", UpdatedAt: t0.Add(time.Second)}))

		notes, err := s.GetNotes(ctx, "NOTES1")
		require.NoError(t, err)
		assert.Equal(t, "b", notes.Content)
		assert.Equal(t, "u2", notes.UpdatedBy)
	})

	t.Run("Timer", func(t *testing.T) {
		_, err := s.GetTimer(ctx, "TIMER1")
		assert.ErrorIs(t, err, store.ErrNotFound)

		timer := models.NewTimer().Start(t0, "u1", 600)
		require.NoError(t, s.SaveTimer(ctx, "TIMER1", timer))

		got, err := s.GetTimer(ctx, "TIMER1")
		require.NoError(t, err)
		assert.True(t, got.Running)
		assert.Equal(t, 600, got.DurationSeconds)
		assert.Equal(t, timer.Remaining(t0.Add(time.Minute)), got.Remaining(t0.Add(time.Minute)))
	})

	t.Run("DeleteRoomRemovesDocuments", func(t *testing.T) {
		const code = "GONE01"
		require.NoError(t, s.SaveRoom(ctx, models.RoomRecord{Code: code, CreatorID: "u1", CreatedAt: t0}))
		require.NoError(t, s.AppendChat(ctx, models.ChatMessage{ID: "gone-1", RoomID: code, Body: "bye", CreatedAt: t0}))
		require.NoError(t, s.PutStroke(ctx, code, models.WhiteboardStroke{ID: "s1", Tool: "pen", Points: []models.Point{{X: 1, Y: 1}}}))
		require.NoError(t, s.SaveNotes(ctx, models.NotesDocument{RoomID: code, Content: "x", UpdatedAt: t0}))
		require.NoError(t, s.SaveTimer(ctx, code, models.NewTimer()))

		require.NoError(t, s.DeleteRoom(ctx, code))

		_, err := s.GetRoom(ctx, code)
		assert.ErrorIs(t, err, store.ErrNotFound)
		chat, err := s.RecentChat(ctx, code, 10)
		require.NoError(t, err)
		assert.Empty(t, chat)
		strokes, err := s.Strokes(ctx, code)
		require.NoError(t, err)
		assert.Empty(t, strokes)
		_, err = s.GetNotes(ctx, code)
		assert.ErrorIs(t, err, store.ErrNotFound)
		_, err = s.GetTimer(ctx, code)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

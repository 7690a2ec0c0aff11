package models_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mossy-p/studyroom-signaling/internal/models"
)

func stroke(id string, ts int64) models.WhiteboardStroke {
	return models.WhiteboardStroke{
		ID:        id,
		UserID:    "u1",
		Tool:      "pen",
		Points:    []models.Point{{X: 1, Y: 2}, {X: 3, Y: 4}},
		Color:     "#000000",
		Width:     2,
		Timestamp: ts,
	}
}

func TestBoardApplyIsIdempotent(t *testing.T) {
	board := models.NewBoard()

	assert.True(t, board.Apply(stroke("s1", 10)))
	before := board.Strokes()

	assert.False(t, board.Apply(stroke("s1", 10)), "replaying a stroke must not change the board")
	assert.Equal(t, before, board.Strokes())
	assert.Equal(t, 1, board.Len())
}

func TestBoardApplyReplacesChangedStroke(t *testing.T) {
	board := models.NewBoard()
	board.Apply(stroke("s1", 10))
	board.Apply(stroke("s2", 20))

	changed := stroke("s1", 10)
	changed.Color = "#ff0000"
	assert.True(t, board.Apply(changed))

	strokes := board.Strokes()
	assert.Len(t, strokes, 2)
	assert.Equal(t, "s1", strokes[0].ID, "replacement keeps the original draw order")
	assert.Equal(t, "#ff0000", strokes[0].Color)
}

func TestBoardClear(t *testing.T) {
	board := models.NewBoard()
	board.Apply(stroke("s1", 10))
	board.Clear()

	assert.Zero(t, board.Len())
	assert.Empty(t, board.Strokes())
	assert.True(t, board.Apply(stroke("s1", 10)))
}

func TestSortStrokes(t *testing.T) {
	strokes := []models.WhiteboardStroke{stroke("b", 20), stroke("c", 10), stroke("a", 20)}
	models.SortStrokes(strokes)

	assert.Equal(t, []string{"c", "a", "b"}, []string{strokes[0].ID, strokes[1].ID, strokes[2].ID})
}

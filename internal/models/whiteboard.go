package models

import (
	"slices"
	"sort"
)

type Point struct {
	X float64 `json:"x" bson:"x" msgpack:"x"`
	Y float64 `json:"y" bson:"y" msgpack:"y"`
}

// WhiteboardStroke is one pen/eraser gesture. Timestamp is unix milliseconds.
type WhiteboardStroke struct {
	ID        string  `json:"id" bson:"id" msgpack:"id" validate:"omitempty,max=64"`
	UserID    string  `json:"userId" bson:"userId" msgpack:"userId"`
	Tool      string  `json:"tool" bson:"tool" msgpack:"tool" validate:"required,max=32"`
	Points    []Point `json:"points" bson:"points" msgpack:"points" validate:"required,min=1,max=10000"`
	Color     string  `json:"color" bson:"color" msgpack:"color" validate:"max=32"`
	Width     float64 `json:"width" bson:"width" msgpack:"width" validate:"gte=0,lte=200"`
	Timestamp int64   `json:"timestamp" bson:"timestamp" msgpack:"timestamp"`
}

// Equal reports whether two strokes would render identically.
func (s WhiteboardStroke) Equal(o WhiteboardStroke) bool {
	return s.ID == o.ID && s.UserID == o.UserID && s.Tool == o.Tool &&
		s.Color == o.Color && s.Width == o.Width && s.Timestamp == o.Timestamp &&
		slices.Equal(s.Points, o.Points)
}

// SortStrokes orders strokes by drawing time, then id.
func SortStrokes(strokes []WhiteboardStroke) {
	sort.SliceStable(strokes, func(i, j int) bool {
		if strokes[i].Timestamp != strokes[j].Timestamp {
			return strokes[i].Timestamp < strokes[j].Timestamp
		}
		return strokes[i].ID < strokes[j].ID
	})
}

// Board is the rendered stroke list of a whiteboard, keyed by stroke id so
// replaying a stroke leaves it unchanged. Not safe for concurrent use.
type Board struct {
	strokes map[string]WhiteboardStroke
	order   []string
}

func NewBoard() *Board {
	return &Board{strokes: make(map[string]WhiteboardStroke)}
}

// Apply draws s and reports whether the board changed.
func (b *Board) Apply(s WhiteboardStroke) bool {
	if prev, ok := b.strokes[s.ID]; ok {
		if prev.Equal(s) {
			return false
		}
		b.strokes[s.ID] = s
		return true
	}
	b.strokes[s.ID] = s
	b.order = append(b.order, s.ID)
	return true
}

func (b *Board) Clear() {
	b.strokes = make(map[string]WhiteboardStroke)
	b.order = nil
}

func (b *Board) Len() int {
	return len(b.order)
}

// Strokes returns the strokes in the order they were first drawn.
func (b *Board) Strokes() []WhiteboardStroke {
	out := make([]WhiteboardStroke, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, b.strokes[id])
	}
	return out
}

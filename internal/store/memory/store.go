// Package memory provides an in-memory implementation of the store interface
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/mossy-p/studyroom-signaling/internal/models"
	"github.com/mossy-p/studyroom-signaling/internal/store"
)

// Store keeps everything in process memory. It is the default backend and the one tests use.
type Store struct {
	mu      sync.RWMutex
	rooms   map[string]models.RoomRecord
	chat    map[string][]models.ChatMessage
	strokes map[string]map[string]models.WhiteboardStroke
	notes   map[string]models.NotesDocument
	timers  map[string]models.TimerState
	// chatLimit caps the chat log kept per room, 0 keeps everything
	chatLimit int
}

var _ store.Store = (*Store)(nil)

func New(chatLimit int) *Store {
	return &Store{
		rooms:     make(map[string]models.RoomRecord),
		chat:      make(map[string][]models.ChatMessage),
		strokes:   make(map[string]map[string]models.WhiteboardStroke),
		notes:     make(map[string]models.NotesDocument),
		timers:    make(map[string]models.TimerState),
		chatLimit: chatLimit,
	}
}

func (s *Store) SaveRoom(ctx context.Context, room models.RoomRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[room.Code] = room
	return nil
}

func (s *Store) GetRoom(ctx context.Context, code string) (models.RoomRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[code]
	if !ok {
		return models.RoomRecord{}, store.ErrNotFound
	}
	return room, nil
}

func (s *Store) DeleteRoom(ctx context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, code)
	delete(s.chat, code)
	delete(s.strokes, code)
	delete(s.notes, code)
	delete(s.timers, code)
	return nil
}

func (s *Store) AppendChat(ctx context.Context, msg models.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	log := append(s.chat[msg.RoomID], msg)
	if s.chatLimit > 0 && len(log) > s.chatLimit {
		log = slices.Clone(log[len(log)-s.chatLimit:])
	}
	s.chat[msg.RoomID] = log
	return nil
}

func (s *Store) RecentChat(ctx context.Context, roomID string, limit int) ([]models.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log := s.chat[roomID]
	if limit > 0 && len(log) > limit {
		log = log[len(log)-limit:]
	}
	return slices.Clone(log), nil
}

func (s *Store) PutStroke(ctx context.Context, roomID string, stroke models.WhiteboardStroke) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	board, ok := s.strokes[roomID]
	if !ok {
		board = make(map[string]models.WhiteboardStroke)
		s.strokes[roomID] = board
	}
	board[stroke.ID] = stroke
	return nil
}

func (s *Store) Strokes(ctx context.Context, roomID string) ([]models.WhiteboardStroke, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := slices.Collect(maps.Values(s.strokes[roomID]))
	models.SortStrokes(out)
	return out, nil
}

func (s *Store) ClearStrokes(ctx context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.strokes, roomID)
	return nil
}

func (s *Store) SaveNotes(ctx context.Context, notes models.NotesDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes[notes.RoomID] = notes
	return nil
}

func (s *Store) GetNotes(ctx context.Context, roomID string) (models.NotesDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	notes, ok := s.notes[roomID]
	if !ok {
		return models.NotesDocument{}, store.ErrNotFound
	}
	return notes, nil
}

func (s *Store) SaveTimer(ctx context.Context, roomID string, timer models.TimerState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timers[roomID] = timer
	return nil
}

func (s *Store) GetTimer(ctx context.Context, roomID string) (models.TimerState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	timer, ok := s.timers[roomID]
	if !ok {
		return models.TimerState{}, store.ErrNotFound
	}
	return timer, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return nil
}

func (s *Store) Close() error {
	return nil
}

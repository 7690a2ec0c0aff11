// Package redis provides a Redis implementation of the store interface
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/mossy-p/studyroom-signaling/config"
	"github.com/mossy-p/studyroom-signaling/internal/metrics"
	"github.com/mossy-p/studyroom-signaling/internal/models"
	"github.com/mossy-p/studyroom-signaling/internal/store"
)

// Store keeps room documents in Redis. Every key carries the room TTL, refreshed on write.
// Strokes are msgpack encoded since boards hold many of them.
type Store struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
	chatLimit int
}

var _ store.Store = (*Store)(nil)

// New connects using cfg.
func New(ctx context.Context, cfg config.RedisConfig, chatLimit int) (*Store, error) {
	client, err := Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewWithClient(client, cfg.KeyPrefix, cfg.RoomTTL, chatLimit), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, keyPrefix string, ttl time.Duration, chatLimit int) *Store {
	return &Store{
		client:    client,
		keyPrefix: keyPrefix,
		ttl:       ttl,
		chatLimit: chatLimit,
	}
}

func (s *Store) roomKey(code string) string {
	return fmt.Sprintf("%srooms:%s", s.keyPrefix, code)
}

func (s *Store) chatKey(roomID string) string {
	return fmt.Sprintf("%srooms:%s:chat", s.keyPrefix, roomID)
}

func (s *Store) strokesKey(roomID string) string {
	return fmt.Sprintf("%srooms:%s:strokes", s.keyPrefix, roomID)
}

func (s *Store) notesKey(roomID string) string {
	return fmt.Sprintf("%srooms:%s:notes", s.keyPrefix, roomID)
}

func (s *Store) timerKey(roomID string) string {
	return fmt.Sprintf("%srooms:%s:timer", s.keyPrefix, roomID)
}

func observe(op string, start time.Time) {
	metrics.StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (s *Store) SaveRoom(ctx context.Context, room models.RoomRecord) error {
	defer observe("save_room", time.Now())
	return s.setJSON(ctx, s.roomKey(room.Code), room)
}

func (s *Store) GetRoom(ctx context.Context, code string) (models.RoomRecord, error) {
	defer observe("get_room", time.Now())
	var room models.RoomRecord
	err := s.getJSON(ctx, s.roomKey(code), &room)
	return room, err
}

func (s *Store) DeleteRoom(ctx context.Context, code string) error {
	defer observe("delete_room", time.Now())
	err := s.client.Del(ctx,
		s.roomKey(code), s.chatKey(code), s.strokesKey(code), s.notesKey(code), s.timerKey(code),
	).Err()
	if err != nil {
		return fmt.Errorf("failed to delete room: %w", err)
	}
	return nil
}

func (s *Store) AppendChat(ctx context.Context, msg models.ChatMessage) error {
	defer observe("append_chat", time.Now())
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal chat message: %w", err)
	}

	key := s.chatKey(msg.RoomID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, data)
		if s.chatLimit > 0 {
			pipe.LTrim(ctx, key, int64(-s.chatLimit), -1)
		}
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to append chat message: %w", err)
	}
	return nil
}

func (s *Store) RecentChat(ctx context.Context, roomID string, limit int) ([]models.ChatMessage, error) {
	defer observe("recent_chat", time.Now())
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}
	values, err := s.client.LRange(ctx, s.chatKey(roomID), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read chat: %w", err)
	}

	out := make([]models.ChatMessage, 0, len(values))
	for _, v := range values {
		var msg models.ChatMessage
		if err := json.Unmarshal([]byte(v), &msg); err != nil {
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

func (s *Store) PutStroke(ctx context.Context, roomID string, stroke models.WhiteboardStroke) error {
	defer observe("put_stroke", time.Now())
	data, err := msgpack.Marshal(&stroke)
	if err != nil {
		return fmt.Errorf("failed to marshal stroke: %w", err)
	}

	key := s.strokesKey(roomID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, stroke.ID, data)
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save stroke: %w", err)
	}
	return nil
}

func (s *Store) Strokes(ctx context.Context, roomID string) ([]models.WhiteboardStroke, error) {
	defer observe("strokes", time.Now())
	values, err := s.client.HGetAll(ctx, s.strokesKey(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read strokes: %w", err)
	}

	out := make([]models.WhiteboardStroke, 0, len(values))
	for _, v := range values {
		var stroke models.WhiteboardStroke
		if err := msgpack.Unmarshal([]byte(v), &stroke); err != nil {
			continue
		}
		out = append(out, stroke)
	}
	models.SortStrokes(out)
	return out, nil
}

func (s *Store) ClearStrokes(ctx context.Context, roomID string) error {
	defer observe("clear_strokes", time.Now())
	if err := s.client.Del(ctx, s.strokesKey(roomID)).Err(); err != nil {
		return fmt.Errorf("failed to clear strokes: %w", err)
	}
	return nil
}

func (s *Store) SaveNotes(ctx context.Context, notes models.NotesDocument) error {
	defer observe("save_notes", time.Now())
	return s.setJSON(ctx, s.notesKey(notes.RoomID), notes)
}

func (s *Store) GetNotes(ctx context.Context, roomID string) (models.NotesDocument, error) {
	defer observe("get_notes", time.Now())
	var notes models.NotesDocument
	err := s.getJSON(ctx, s.notesKey(roomID), &notes)
	return notes, err
}

func (s *Store) SaveTimer(ctx context.Context, roomID string, timer models.TimerState) error {
	defer observe("save_timer", time.Now())
	return s.setJSON(ctx, s.timerKey(roomID), timer)
}

func (s *Store) GetTimer(ctx context.Context, roomID string) (models.TimerState, error) {
	defer observe("get_timer", time.Now())
	var timer models.TimerState
	err := s.getJSON(ctx, s.timerKey(roomID), &timer)
	return timer, err
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) setJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save %s: %w", key, err)
	}
	return nil
}

func (s *Store) getJSON(ctx context.Context, key string, v any) error {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return store.ErrNotFound
		}
		return fmt.Errorf("failed to get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return nil
}

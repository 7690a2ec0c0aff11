// Package mongo provides a MongoDB implementation of the store interface
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/mossy-p/studyroom-signaling/config"
	"github.com/mossy-p/studyroom-signaling/internal/metrics"
	"github.com/mossy-p/studyroom-signaling/internal/models"
	"github.com/mossy-p/studyroom-signaling/internal/store"
)

const (
	colRooms   = "rooms"
	colChat    = "chat_messages"
	colStrokes = "strokes"
	colNotes   = "notes"
	colTimers  = "timers"
)

type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

var _ store.Store = (*Store)(nil)

// strokeDoc stores one stroke keyed by room and stroke id.
type strokeDoc struct {
	ID     string                  `bson:"_id"`
	RoomID string                  `bson:"roomId"`
	Stroke models.WhiteboardStroke `bson:"stroke"`
}

type timerDoc struct {
	RoomID string            `bson:"_id"`
	Timer  models.TimerState `bson:"timer"`
}

func New(ctx context.Context, cfg config.MongoConfig) (*Store, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	s := &Store{client: client, db: client.Database(cfg.Database)}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	_, err := s.db.Collection(colChat).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "roomId", Value: 1}, {Key: "createdAt", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create chat index: %w", err)
	}
	_, err = s.db.Collection(colStrokes).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "roomId", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create stroke index: %w", err)
	}
	return nil
}

func strokeID(roomID, id string) string {
	return roomID + ":" + id
}

func observe(op string, start time.Time) {
	metrics.StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (s *Store) SaveRoom(ctx context.Context, room models.RoomRecord) error {
	defer observe("save_room", time.Now())
	_, err := s.db.Collection(colRooms).ReplaceOne(ctx, bson.M{"_id": room.Code}, room, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save room: %w", err)
	}
	return nil
}

func (s *Store) GetRoom(ctx context.Context, code string) (models.RoomRecord, error) {
	defer observe("get_room", time.Now())
	var room models.RoomRecord
	err := s.db.Collection(colRooms).FindOne(ctx, bson.M{"_id": code}).Decode(&room)
	return room, notFound(err, "room")
}

func (s *Store) DeleteRoom(ctx context.Context, code string) error {
	defer observe("delete_room", time.Now())
	if _, err := s.db.Collection(colRooms).DeleteOne(ctx, bson.M{"_id": code}); err != nil {
		return fmt.Errorf("failed to delete room: %w", err)
	}
	if _, err := s.db.Collection(colChat).DeleteMany(ctx, bson.M{"roomId": code}); err != nil {
		return fmt.Errorf("failed to delete chat: %w", err)
	}
	if _, err := s.db.Collection(colStrokes).DeleteMany(ctx, bson.M{"roomId": code}); err != nil {
		return fmt.Errorf("failed to delete strokes: %w", err)
	}
	if _, err := s.db.Collection(colNotes).DeleteOne(ctx, bson.M{"_id": code}); err != nil {
		return fmt.Errorf("failed to delete notes: %w", err)
	}
	if _, err := s.db.Collection(colTimers).DeleteOne(ctx, bson.M{"_id": code}); err != nil {
		return fmt.Errorf("failed to delete timer: %w", err)
	}
	return nil
}

func (s *Store) AppendChat(ctx context.Context, msg models.ChatMessage) error {
	defer observe("append_chat", time.Now())
	if _, err := s.db.Collection(colChat).InsertOne(ctx, msg); err != nil {
		return fmt.Errorf("failed to append chat message: %w", err)
	}
	return nil
}

func (s *Store) RecentChat(ctx context.Context, roomID string, limit int) ([]models.ChatMessage, error) {
	defer observe("recent_chat", time.Now())
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := s.db.Collection(colChat).Find(ctx, bson.M{"roomId": roomID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to read chat: %w", err)
	}
	defer cursor.Close(ctx)

	var out []models.ChatMessage
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode chat: %w", err)
	}
	// newest first from the query, callers want oldest first
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *Store) PutStroke(ctx context.Context, roomID string, stroke models.WhiteboardStroke) error {
	defer observe("put_stroke", time.Now())
	doc := strokeDoc{ID: strokeID(roomID, stroke.ID), RoomID: roomID, Stroke: stroke}
	_, err := s.db.Collection(colStrokes).ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save stroke: %w", err)
	}
	return nil
}

func (s *Store) Strokes(ctx context.Context, roomID string) ([]models.WhiteboardStroke, error) {
	defer observe("strokes", time.Now())
	cursor, err := s.db.Collection(colStrokes).Find(ctx, bson.M{"roomId": roomID})
	if err != nil {
		return nil, fmt.Errorf("failed to read strokes: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []strokeDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode strokes: %w", err)
	}
	out := make([]models.WhiteboardStroke, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.Stroke)
	}
	models.SortStrokes(out)
	return out, nil
}

func (s *Store) ClearStrokes(ctx context.Context, roomID string) error {
	defer observe("clear_strokes", time.Now())
	if _, err := s.db.Collection(colStrokes).DeleteMany(ctx, bson.M{"roomId": roomID}); err != nil {
		return fmt.Errorf("failed to clear strokes: %w", err)
	}
	return nil
}

func (s *Store) SaveNotes(ctx context.Context, notes models.NotesDocument) error {
	defer observe("save_notes", time.Now())
	_, err := s.db.Collection(colNotes).ReplaceOne(ctx, bson.M{"_id": notes.RoomID}, notes, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save notes: %w", err)
	}
	return nil
}

func (s *Store) GetNotes(ctx context.Context, roomID string) (models.NotesDocument, error) {
	defer observe("get_notes", time.Now())
	var notes models.NotesDocument
	err := s.db.Collection(colNotes).FindOne(ctx, bson.M{"_id": roomID}).Decode(&notes)
	return notes, notFound(err, "notes")
}

func (s *Store) SaveTimer(ctx context.Context, roomID string, timer models.TimerState) error {
	defer observe("save_timer", time.Now())
	doc := timerDoc{RoomID: roomID, Timer: timer}
	_, err := s.db.Collection(colTimers).ReplaceOne(ctx, bson.M{"_id": roomID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save timer: %w", err)
	}
	return nil
}

func (s *Store) GetTimer(ctx context.Context, roomID string) (models.TimerState, error) {
	defer observe("get_timer", time.Now())
	var doc timerDoc
	err := s.db.Collection(colTimers).FindOne(ctx, bson.M{"_id": roomID}).Decode(&doc)
	return doc.Timer, notFound(err, "timer")
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// DropDatabase removes every collection. Used to clean up test databases.
func (s *Store) DropDatabase(ctx context.Context) error {
	return s.db.Drop(ctx)
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func notFound(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return store.ErrNotFound
	}
	return fmt.Errorf("failed to get %s: %w", what, err)
}

// Package broadcast fans room-wide collaboration events out to every member of a room.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/mossy-p/studyroom-signaling/internal/metrics"
	"github.com/mossy-p/studyroom-signaling/internal/models"
	"github.com/mossy-p/studyroom-signaling/internal/store"
)

var (
	ErrUnknownChannel  = errors.New("unknown broadcast channel")
	ErrPayloadMismatch = errors.New("payload does not match channel")
	errBudgetExhausted = errors.New("room store budget exhausted")
)

type Channel string

const (
	ChannelChat             Channel = "chat"
	ChannelWhiteboardStroke Channel = "whiteboard-stroke"
	ChannelWhiteboardClear  Channel = "whiteboard-clear"
	ChannelNotes            Channel = "notes"
	ChannelTimer            Channel = "timer"
)

// Policy says how a channel is delivered.
type Policy struct {
	Event         models.EventName
	IncludeSender bool
}

var policies = map[Channel]Policy{
	ChannelChat:             {Event: models.EventChatMessage, IncludeSender: true},
	ChannelWhiteboardStroke: {Event: models.EventWhiteboardUpdate},
	ChannelWhiteboardClear:  {Event: models.EventWhiteboardClear, IncludeSender: true},
	ChannelNotes:            {Event: models.EventNotesUpdate},
	ChannelTimer:            {Event: models.EventTimerUpdate},
}

// PolicyFor returns the delivery policy of ch.
func PolicyFor(ch Channel) (Policy, bool) {
	p, ok := policies[ch]
	return p, ok
}

// Directory lists the live connections of a room.
type Directory interface {
	Recipients(roomID string) []models.Recipient
}

// Deliverer queues a frame on one connection and reports whether it was accepted.
type Deliverer interface {
	Deliver(connID string, frame []byte) bool
}

type Options struct {
	PersistStrokes bool
	// RoomBudget bounds the store writes one room may have in flight.
	RoomBudget   int64
	StoreTimeout time.Duration
	ChatBackfill int
}

type roomState struct {
	sem     *semaphore.Weighted
	timerMu sync.Mutex
	timer   *models.TimerState
}

type Broadcaster struct {
	store  store.Store
	dir    Directory
	out    Deliverer
	opts   Options
	logger zerolog.Logger

	mu    sync.Mutex
	rooms map[string]*roomState
}

func New(st store.Store, dir Directory, out Deliverer, opts Options, logger zerolog.Logger) *Broadcaster {
	if opts.RoomBudget <= 0 {
		opts.RoomBudget = 1
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 5 * time.Second
	}
	return &Broadcaster{
		store:  st,
		dir:    dir,
		out:    out,
		opts:   opts,
		logger: logger.With().Str("component", "broadcast").Logger(),
		rooms:  make(map[string]*roomState),
	}
}

func (b *Broadcaster) room(roomID string) *roomState {
	b.mu.Lock()
	defer b.mu.Unlock()
	rs, ok := b.rooms[roomID]
	if !ok {
		rs = &roomState{sem: semaphore.NewWeighted(b.opts.RoomBudget)}
		b.rooms[roomID] = rs
	}
	return rs
}

// Publish persists payload as the channel requires and delivers it to the room.
// A failed write is logged and counted but never stops delivery.
//
// Payload types: chat takes models.ChatMessage, whiteboard-stroke takes
// models.WhiteboardStroke, whiteboard-clear takes models.WhiteboardClear,
// notes takes models.NotesDocument and timer takes models.TimerState.
func (b *Broadcaster) Publish(ctx context.Context, roomID string, ch Channel, senderConnID string, payload any) error {
	policy, ok := policies[ch]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownChannel, ch)
	}
	data, write, err := b.prepare(roomID, ch, payload)
	if err != nil {
		return err
	}

	if write != nil {
		if err := b.persist(ctx, roomID, write); err != nil {
			metrics.PersistFailures.WithLabelValues(string(ch)).Inc()
			b.logger.Error().Err(err).Str("room_id", roomID).Str("channel", string(ch)).Msg("failed to persist, broadcasting anyway")
		}
	}

	frame, err := models.EncodeFrame(policy.Event, data)
	if err != nil {
		return err
	}
	b.deliver(roomID, frame, senderConnID, policy.IncludeSender)
	metrics.Broadcasts.WithLabelValues(string(ch)).Inc()
	return nil
}

func (b *Broadcaster) prepare(roomID string, ch Channel, payload any) (any, func(context.Context) error, error) {
	mismatch := fmt.Errorf("%w: %s got %T", ErrPayloadMismatch, ch, payload)

	switch ch {
	case ChannelChat:
		msg, ok := payload.(models.ChatMessage)
		if !ok {
			return nil, nil, mismatch
		}
		return msg, func(ctx context.Context) error { return b.store.AppendChat(ctx, msg) }, nil
	case ChannelWhiteboardStroke:
		stroke, ok := payload.(models.WhiteboardStroke)
		if !ok {
			return nil, nil, mismatch
		}
		data := models.WhiteboardUpdate{Stroke: stroke}
		if !b.opts.PersistStrokes {
			return data, nil, nil
		}
		return data, func(ctx context.Context) error { return b.store.PutStroke(ctx, roomID, stroke) }, nil
	case ChannelWhiteboardClear:
		cleared, ok := payload.(models.WhiteboardClear)
		if !ok {
			return nil, nil, mismatch
		}
		return cleared, func(ctx context.Context) error { return b.store.ClearStrokes(ctx, roomID) }, nil
	case ChannelNotes:
		notes, ok := payload.(models.NotesDocument)
		if !ok {
			return nil, nil, mismatch
		}
		return notes, func(ctx context.Context) error { return b.store.SaveNotes(ctx, notes) }, nil
	case ChannelTimer:
		timer, ok := payload.(models.TimerState)
		if !ok {
			return nil, nil, mismatch
		}
		return timer, func(ctx context.Context) error { return b.store.SaveTimer(ctx, roomID, timer) }, nil
	}
	return nil, nil, fmt.Errorf("%w: %q", ErrUnknownChannel, ch)
}

// persist runs write inside the room budget, bounded by the store timeout.
func (b *Broadcaster) persist(ctx context.Context, roomID string, write func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, b.opts.StoreTimeout)
	defer cancel()

	sem := b.room(roomID).sem
	if err := sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("%w: %v", errBudgetExhausted, err)
	}
	defer sem.Release(1)

	return write(ctx)
}

func (b *Broadcaster) deliver(roomID string, frame []byte, senderConnID string, includeSender bool) {
	for _, r := range b.dir.Recipients(roomID) {
		if !includeSender && r.ConnectionID == senderConnID {
			continue
		}
		if !b.out.Deliver(r.ConnectionID, frame) {
			b.logger.Warn().Str("room_id", roomID).Str("connection_id", r.ConnectionID).Msg("recipient not accepting, frame dropped")
		}
	}
}

// ApplyTimer runs fn on the room timer and broadcasts the result. Timer
// transitions of one room are serialized so every member sees them in order.
func (b *Broadcaster) ApplyTimer(ctx context.Context, roomID, senderConnID string, fn func(models.TimerState) models.TimerState) (models.TimerState, error) {
	rs := b.room(roomID)
	rs.timerMu.Lock()
	defer rs.timerMu.Unlock()

	current := b.loadTimer(ctx, roomID, rs)
	next := fn(current)
	rs.timer = &next

	if err := b.Publish(ctx, roomID, ChannelTimer, senderConnID, next); err != nil {
		return next, err
	}
	return next, nil
}

// loadTimer returns the cached timer, falling back to the store and then a fresh timer. Callers hold timerMu.
func (b *Broadcaster) loadTimer(ctx context.Context, roomID string, rs *roomState) models.TimerState {
	if rs.timer != nil {
		return *rs.timer
	}
	ctx, cancel := context.WithTimeout(ctx, b.opts.StoreTimeout)
	defer cancel()

	timer, err := b.store.GetTimer(ctx, roomID)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		timer = models.NewTimer()
	default:
		b.logger.Error().Err(err).Str("room_id", roomID).Msg("failed to load timer")
		timer = models.NewTimer()
	}
	rs.timer = &timer
	return timer
}

// Backfill is the collaboration state handed to a joiner.
type Backfill struct {
	Chat    []models.ChatMessage
	Strokes []models.WhiteboardStroke
	Notes   *models.NotesDocument
	Timer   *models.TimerState
}

// Backfill loads what a late joiner needs to catch up. Pieces that fail to load are logged and left out.
func (b *Broadcaster) Backfill(ctx context.Context, roomID string) Backfill {
	ctx, cancel := context.WithTimeout(ctx, b.opts.StoreTimeout)
	defer cancel()

	var out Backfill
	chat, err := b.store.RecentChat(ctx, roomID, b.opts.ChatBackfill)
	if err != nil {
		b.logger.Error().Err(err).Str("room_id", roomID).Msg("failed to load chat backfill")
	}
	out.Chat = chat

	if b.opts.PersistStrokes {
		strokes, err := b.store.Strokes(ctx, roomID)
		if err != nil {
			b.logger.Error().Err(err).Str("room_id", roomID).Msg("failed to load strokes")
		}
		out.Strokes = strokes
	}

	out.Notes, out.Timer = b.shared(ctx, roomID)
	return out
}

// SharedState returns the notes and timer of a room, nil when unknown.
func (b *Broadcaster) SharedState(ctx context.Context, roomID string) (*models.NotesDocument, *models.TimerState) {
	ctx, cancel := context.WithTimeout(ctx, b.opts.StoreTimeout)
	defer cancel()
	return b.shared(ctx, roomID)
}

func (b *Broadcaster) shared(ctx context.Context, roomID string) (*models.NotesDocument, *models.TimerState) {
	var notes *models.NotesDocument
	doc, err := b.store.GetNotes(ctx, roomID)
	switch {
	case err == nil:
		notes = &doc
	case !errors.Is(err, store.ErrNotFound):
		b.logger.Error().Err(err).Str("room_id", roomID).Msg("failed to load notes")
	}

	b.mu.Lock()
	rs, ok := b.rooms[roomID]
	b.mu.Unlock()
	if ok {
		rs.timerMu.Lock()
		cached := rs.timer
		rs.timerMu.Unlock()
		if cached != nil {
			timer := *cached
			return notes, &timer
		}
	}

	var timer *models.TimerState
	state, err := b.store.GetTimer(ctx, roomID)
	switch {
	case err == nil:
		timer = &state
	case !errors.Is(err, store.ErrNotFound):
		b.logger.Error().Err(err).Str("room_id", roomID).Msg("failed to load timer")
	}
	return notes, timer
}

// Forget drops the per-room budget and cached timer once a room is gone.
func (b *Broadcaster) Forget(roomID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.rooms, roomID)
}

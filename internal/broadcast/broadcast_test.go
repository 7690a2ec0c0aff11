package broadcast_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mossy-p/studyroom-signaling/internal/broadcast"
	"github.com/mossy-p/studyroom-signaling/internal/models"
	"github.com/mossy-p/studyroom-signaling/internal/registry"
	"github.com/mossy-p/studyroom-signaling/internal/store"
	"github.com/mossy-p/studyroom-signaling/internal/store/memory"
)

type outbox struct {
	mu     sync.Mutex
	frames map[string][]models.Frame
}

func (o *outbox) Deliver(connID string, frame []byte) bool {
	f, err := models.DecodeFrame(frame)
	if err != nil {
		return false
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.frames == nil {
		o.frames = make(map[string][]models.Frame)
	}
	o.frames[connID] = append(o.frames[connID], f)
	return true
}

func (o *outbox) to(connID string) []models.Frame {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]models.Frame(nil), o.frames[connID]...)
}

// failingStore refuses every write
type failingStore struct {
	*memory.Store
}

var errDown = errors.New("store down")

func (failingStore) AppendChat(context.Context, models.ChatMessage) error { return errDown }
func (failingStore) PutStroke(context.Context, string, models.WhiteboardStroke) error {
	return errDown
}
func (failingStore) SaveNotes(context.Context, models.NotesDocument) error { return errDown }

// blockingStore holds chat writes until released
type blockingStore struct {
	*memory.Store
	release chan struct{}
}

func (s blockingStore) AppendChat(ctx context.Context, msg models.ChatMessage) error {
	select {
	case <-s.release:
		return s.Store.AppendChat(ctx, msg)
	case <-ctx.Done():
		return ctx.Err()
	}
}

type fixture struct {
	reg *registry.Registry
	out *outbox
	b   *broadcast.Broadcaster
}

func setup(t *testing.T, st store.Store, opts broadcast.Options) fixture {
	t.Helper()
	reg := registry.New(registry.Options{GracePeriod: time.Minute}, zerolog.Nop())
	t.Cleanup(reg.Close)
	out := &outbox{}
	reg.Join("ROOM", "u1", "One", "c1")
	reg.Join("ROOM", "u2", "Two", "c2")
	reg.Join("ROOM", "u3", "Three", "c3")
	reg.Join("ELSEWHERE", "u4", "Four", "c4")
	return fixture{reg: reg, out: out, b: broadcast.New(st, reg, out, opts, zerolog.Nop())}
}

func chat(id, body string) models.ChatMessage {
	return models.ChatMessage{
		ID:        id,
		RoomID:    "ROOM",
		UserID:    "u1",
		UserName:  "One",
		Body:      body,
		Type:      models.ChatTypeText,
		CreatedAt: time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestChatEchoesToSender(t *testing.T) {
	st := memory.New(0)
	f := setup(t, st, broadcast.Options{ChatBackfill: 10})

	require.NoError(t, f.b.Publish(context.Background(), "ROOM", broadcast.ChannelChat, "c1", chat("m1", "hello")))

	for _, conn := range []string{"c1", "c2", "c3"} {
		frames := f.out.to(conn)
		require.Len(t, frames, 1, conn)
		assert.Equal(t, models.EventChatMessage, frames[0].Event)

		var msg models.ChatMessage
		require.NoError(t, json.Unmarshal(frames[0].Data, &msg))
		assert.Equal(t, "hello", msg.Body)
	}
	assert.Empty(t, f.out.to("c4"), "other rooms never see the event")

	stored, err := st.RecentChat(context.Background(), "ROOM", 10)
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestStrokeSkipsSender(t *testing.T) {
	st := memory.New(0)
	f := setup(t, st, broadcast.Options{PersistStrokes: true})

	stroke := models.WhiteboardStroke{ID: "s1", UserID: "u2", Tool: "pen", Points: []models.Point{{X: 1, Y: 1}}}
	require.NoError(t, f.b.Publish(context.Background(), "ROOM", broadcast.ChannelWhiteboardStroke, "c2", stroke))

	assert.Empty(t, f.out.to("c2"))
	require.Len(t, f.out.to("c1"), 1)
	require.Len(t, f.out.to("c3"), 1)

	var update models.WhiteboardUpdate
	require.NoError(t, json.Unmarshal(f.out.to("c1")[0].Data, &update))
	assert.Equal(t, "s1", update.Stroke.ID)

	strokes, err := st.Strokes(context.Background(), "ROOM")
	require.NoError(t, err)
	assert.Len(t, strokes, 1)
}

func TestStrokesNotPersistedWhenDisabled(t *testing.T) {
	st := memory.New(0)
	f := setup(t, st, broadcast.Options{PersistStrokes: false})

	stroke := models.WhiteboardStroke{ID: "s1", Tool: "pen", Points: []models.Point{{X: 1, Y: 1}}}
	require.NoError(t, f.b.Publish(context.Background(), "ROOM", broadcast.ChannelWhiteboardStroke, "c2", stroke))

	strokes, err := st.Strokes(context.Background(), "ROOM")
	require.NoError(t, err)
	assert.Empty(t, strokes)
	assert.Len(t, f.out.to("c1"), 1)
}

func TestClearReachesEveryoneAndWipesStrokes(t *testing.T) {
	st := memory.New(0)
	f := setup(t, st, broadcast.Options{PersistStrokes: true})
	require.NoError(t, st.PutStroke(context.Background(), "ROOM", models.WhiteboardStroke{ID: "s1"}))

	require.NoError(t, f.b.Publish(context.Background(), "ROOM", broadcast.ChannelWhiteboardClear, "c1", models.WhiteboardClear{ClearedBy: "u1"}))

	for _, conn := range []string{"c1", "c2", "c3"} {
		require.Len(t, f.out.to(conn), 1, conn)
		assert.Equal(t, models.EventWhiteboardClear, f.out.to(conn)[0].Event)
	}
	strokes, err := st.Strokes(context.Background(), "ROOM")
	require.NoError(t, err)
	assert.Empty(t, strokes)
}

func TestPersistFailureStillBroadcasts(t *testing.T) {
	f := setup(t, failingStore{memory.New(0)}, broadcast.Options{PersistStrokes: true})

	require.NoError(t, f.b.Publish(context.Background(), "ROOM", broadcast.ChannelChat, "c1", chat("m1", "still here")))
	require.NoError(t, f.b.Publish(context.Background(), "ROOM", broadcast.ChannelNotes, "c1", models.NotesDocument{RoomID: "ROOM", Content: "x"}))

	assert.Len(t, f.out.to("c1"), 1, "chat echo only, notes skip the sender")
	assert.Len(t, f.out.to("c2"), 2)
}

func TestSlowStoreStillBroadcasts(t *testing.T) {
	st := blockingStore{Store: memory.New(0), release: make(chan struct{})}
	f := setup(t, st, broadcast.Options{RoomBudget: 1, StoreTimeout: 50 * time.Millisecond})

	start := time.Now()
	require.NoError(t, f.b.Publish(context.Background(), "ROOM", broadcast.ChannelChat, "c1", chat("m1", "slow")))
	assert.Less(t, time.Since(start), time.Second)
	assert.Len(t, f.out.to("c2"), 1)
}

func TestPublishRejectsBadInput(t *testing.T) {
	f := setup(t, memory.New(0), broadcast.Options{})

	err := f.b.Publish(context.Background(), "ROOM", "reactions", "c1", nil)
	assert.ErrorIs(t, err, broadcast.ErrUnknownChannel)

	err = f.b.Publish(context.Background(), "ROOM", broadcast.ChannelChat, "c1", "hello")
	assert.ErrorIs(t, err, broadcast.ErrPayloadMismatch)
	assert.Empty(t, f.out.to("c2"))
}

func TestPolicyTable(t *testing.T) {
	tests := []struct {
		ch            broadcast.Channel
		event         models.EventName
		includeSender bool
	}{
		{broadcast.ChannelChat, models.EventChatMessage, true},
		{broadcast.ChannelWhiteboardStroke, models.EventWhiteboardUpdate, false},
		{broadcast.ChannelWhiteboardClear, models.EventWhiteboardClear, true},
		{broadcast.ChannelNotes, models.EventNotesUpdate, false},
		{broadcast.ChannelTimer, models.EventTimerUpdate, false},
	}
	for _, tt := range tests {
		p, ok := broadcast.PolicyFor(tt.ch)
		require.True(t, ok, tt.ch)
		assert.Equal(t, tt.event, p.Event, tt.ch)
		assert.Equal(t, tt.includeSender, p.IncludeSender, tt.ch)
	}
}

func TestApplyTimerSerializesAndPersists(t *testing.T) {
	st := memory.New(0)
	f := setup(t, st, broadcast.Options{})
	now := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)

	timer, err := f.b.ApplyTimer(context.Background(), "ROOM", "c1", func(ts models.TimerState) models.TimerState {
		return ts.Start(now, "u1", 600)
	})
	require.NoError(t, err)
	assert.True(t, timer.Running)

	timer, err = f.b.ApplyTimer(context.Background(), "ROOM", "c2", func(ts models.TimerState) models.TimerState {
		return ts.Pause(now.Add(time.Minute), "u2")
	})
	require.NoError(t, err)
	assert.Equal(t, 540, timer.RemainingSeconds)

	stored, err := st.GetTimer(context.Background(), "ROOM")
	require.NoError(t, err)
	assert.Equal(t, timer, stored)

	// c1 sees only c2's update, c3 sees both in order
	require.Len(t, f.out.to("c1"), 1)
	frames := f.out.to("c3")
	require.Len(t, frames, 2)
	var last models.TimerState
	require.NoError(t, json.Unmarshal(frames[1].Data, &last))
	assert.False(t, last.Running)
}

func TestApplyTimerLoadsPersistedState(t *testing.T) {
	st := memory.New(0)
	now := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, st.SaveTimer(context.Background(), "ROOM", models.NewTimer().Start(now, "u1", 300)))
	f := setup(t, st, broadcast.Options{})

	timer, err := f.b.ApplyTimer(context.Background(), "ROOM", "c1", func(ts models.TimerState) models.TimerState {
		return ts.Pause(now.Add(time.Minute), "u1")
	})
	require.NoError(t, err)
	assert.Equal(t, 240, timer.RemainingSeconds)
}

func TestBackfill(t *testing.T) {
	st := memory.New(0)
	f := setup(t, st, broadcast.Options{PersistStrokes: true, ChatBackfill: 2})
	ctx := context.Background()

	for _, id := range []string{"m1", "m2", "m3"} {
		require.NoError(t, f.b.Publish(ctx, "ROOM", broadcast.ChannelChat, "c1", chat(id, id)))
	}
	require.NoError(t, f.b.Publish(ctx, "ROOM", broadcast.ChannelWhiteboardStroke, "c1",
		models.WhiteboardStroke{ID: "s1", Tool: "pen", Points: []models.Point{{X: 1, Y: 1}}}))
	require.NoError(t, f.b.Publish(ctx, "ROOM", broadcast.ChannelNotes, "c1", models.NotesDocument{RoomID: "ROOM", Content: "agenda"}))

	fill := f.b.Backfill(ctx, "ROOM")
	require.Len(t, fill.Chat, 2)
	assert.Equal(t, "m2", fill.Chat[0].ID)
	assert.Len(t, fill.Strokes, 1)
	require.NotNil(t, fill.Notes)
	assert.Equal(t, "agenda", fill.Notes.Content)
	assert.Nil(t, fill.Timer)

	notes, timer := f.b.SharedState(ctx, "EMPTY")
	assert.Nil(t, notes)
	assert.Nil(t, timer)
}

func TestForgetDropsCachedTimer(t *testing.T) {
	st := memory.New(0)
	f := setup(t, st, broadcast.Options{})
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)

	_, err := f.b.ApplyTimer(ctx, "ROOM", "c1", func(ts models.TimerState) models.TimerState {
		return ts.Start(now, "u1", 600)
	})
	require.NoError(t, err)

	require.NoError(t, st.DeleteRoom(ctx, "ROOM"))
	f.b.Forget("ROOM")

	_, timer := f.b.SharedState(ctx, "ROOM")
	assert.Nil(t, timer)
}

package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mossy-p/studyroom-signaling/internal/client"
	"github.com/mossy-p/studyroom-signaling/internal/models"
)

type fakeConn struct {
	frames chan []byte
	mu     sync.Mutex
	sent   []models.Frame
	closed atomic.Bool
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan []byte, 16)}
}

func (c *fakeConn) Frames() <-chan []byte { return c.frames }
func (c *fakeConn) Err() error            { return errors.New("fake connection dropped") }

func (c *fakeConn) Send(frame []byte) error {
	if c.closed.Load() {
		return client.ErrConnClosed
	}
	f, err := models.DecodeFrame(frame)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, f)
	return nil
}

func (c *fakeConn) Close() error {
	c.closed.Store(true)
	return nil
}

// drop simulates the server going away.
func (c *fakeConn) drop() {
	c.once.Do(func() { close(c.frames) })
}

func (c *fakeConn) sentEvents() []models.EventName {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.EventName, len(c.sent))
	for i, f := range c.sent {
		out[i] = f.Event
	}
	return out
}

// fakeDialer fails the first failures dials, then hands out conns.
type fakeDialer struct {
	failures int32
	calls    atomic.Int32
	conns    chan *fakeConn
}

func (d *fakeDialer) Dial(ctx context.Context) (client.Conn, error) {
	n := d.calls.Add(1)
	if d.failures < 0 || n <= d.failures {
		return nil, errors.New("connection refused")
	}
	c := newFakeConn()
	d.conns <- c
	return c, nil
}

type fakePoller struct {
	calls atomic.Int32
	state models.RoomState
}

func (p *fakePoller) Poll(ctx context.Context, roomID string) (models.RoomState, error) {
	p.calls.Add(1)
	st := p.state
	st.RoomID = roomID
	return st, nil
}

type recorder struct {
	mu        sync.Mutex
	statuses  []string
	snapshots chan snapshot
}

type snapshot struct {
	state  models.RoomState
	source client.Source
	at     time.Time
}

func newRecorder() *recorder {
	return &recorder{snapshots: make(chan snapshot, 64)}
}

func (r *recorder) callbacks() client.Callbacks {
	return client.Callbacks{
		OnStatus: func(s client.State, m client.Mode) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.statuses = append(r.statuses, s.String()+"/"+m.String())
		},
		OnRoomState: func(st models.RoomState, src client.Source) {
			r.snapshots <- snapshot{state: st, source: src, at: time.Now()}
		},
	}
}

func (r *recorder) seen(status string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.statuses {
		if s == status {
			return true
		}
	}
	return false
}

func run(t *testing.T, m *client.Manager) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(2 * time.Second):
			t.Error("manager did not stop")
		}
	})
}

func roomStateFrame(t *testing.T, participants ...string) []byte {
	t.Helper()
	ev := models.RoomStateEvent{RoomSnapshot: models.RoomSnapshot{RoomID: "ABC123"}}
	for _, id := range participants {
		ev.Participants = append(ev.Participants, models.Participant{UserID: id, ConnectionID: "c-" + id})
	}
	frame, err := models.EncodeFrame(models.EventRoomState, ev)
	require.NoError(t, err)
	return frame
}

func TestFallsBackToPollingAfterThreeFailures(t *testing.T) {
	dialer := &fakeDialer{failures: -1, conns: make(chan *fakeConn, 1)}
	poller := &fakePoller{state: models.RoomState{RoomSnapshot: models.RoomSnapshot{
		Participants: []models.Participant{{UserID: "alice", IsHost: true}},
		HostUserID:   "alice",
	}}}
	rec := newRecorder()
	pollInterval := 300 * time.Millisecond

	m := client.NewManager(client.Options{
		RoomID:             "ABC123",
		UserID:             "bob",
		ReconnectBase:      5 * time.Millisecond,
		ReconnectMax:       10 * time.Millisecond,
		MaxConnectAttempts: 3,
		PollInterval:       pollInterval,
	}, dialer, poller, rec.callbacks(), zerolog.Nop())

	run(t, m)

	require.Eventually(t, func() bool { return rec.seen("reconnecting/polling") }, 2*time.Second, 5*time.Millisecond)
	fellBack := time.Now()
	assert.GreaterOrEqual(t, dialer.calls.Load(), int32(3))

	select {
	case snap := <-rec.snapshots:
		assert.Equal(t, client.SourcePolling, snap.source)
		assert.Equal(t, "ABC123", snap.state.RoomID)
		assert.Equal(t, "alice", snap.state.HostUserID)
		assert.WithinDuration(t, fellBack, snap.at, pollInterval)
	case <-time.After(pollInterval + time.Second):
		t.Fatal("no snapshot while polling")
	}

	// realtime attempts keep going in the background
	calls := dialer.calls.Load()
	assert.Eventually(t, func() bool { return dialer.calls.Load() > calls }, time.Second, 5*time.Millisecond)
}

func TestReconnectLeavesPollingMode(t *testing.T) {
	dialer := &fakeDialer{failures: 3, conns: make(chan *fakeConn, 4)}
	poller := &fakePoller{}
	rec := newRecorder()

	m := client.NewManager(client.Options{
		RoomID:             "ABC123",
		UserID:             "bob",
		DisplayName:        "Bob",
		ReconnectBase:      20 * time.Millisecond,
		ReconnectMax:       40 * time.Millisecond,
		MaxConnectAttempts: 3,
		PollInterval:       time.Hour,
	}, dialer, poller, rec.callbacks(), zerolog.Nop())

	run(t, m)

	var conn *fakeConn
	select {
	case conn = <-dialer.conns:
	case <-time.After(2 * time.Second):
		t.Fatal("never reconnected")
	}

	require.Eventually(t, func() bool { return rec.seen("connected/realtime") }, time.Second, 5*time.Millisecond)
	assert.True(t, rec.seen("reconnecting/polling"))
	assert.Eventually(t, func() bool {
		events := conn.sentEvents()
		return len(events) == 1 && events[0] == models.EventJoinRoom
	}, time.Second, 5*time.Millisecond)

	conn.mu.Lock()
	var join models.JoinRoom
	require.NoError(t, json.Unmarshal(conn.sent[0].Data, &join))
	conn.mu.Unlock()
	assert.Equal(t, models.JoinRoom{RoomID: "ABC123", UserID: "bob", DisplayName: "Bob"}, join)

	// the one immediate poll ran, the hourly ticker never fired again
	assert.Eventually(t, func() bool { return poller.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	conn.frames <- roomStateFrame(t, "alice", "bob")
	select {
	case snap := <-rec.snapshots:
		if snap.source == client.SourcePolling {
			snap = <-rec.snapshots
		}
		assert.Equal(t, client.SourceRealtime, snap.source)
		assert.Len(t, snap.state.Participants, 2)
	case <-time.After(time.Second):
		t.Fatal("room-state not delivered")
	}
}

func TestRejoinsAfterConnectionDrop(t *testing.T) {
	dialer := &fakeDialer{conns: make(chan *fakeConn, 4)}
	rec := newRecorder()

	m := client.NewManager(client.Options{
		RoomID:        "ABC123",
		UserID:        "bob",
		ReconnectBase: 5 * time.Millisecond,
		ReconnectMax:  10 * time.Millisecond,
	}, dialer, &fakePoller{}, rec.callbacks(), zerolog.Nop())

	run(t, m)

	first := <-dialer.conns
	require.Eventually(t, func() bool { return len(first.sentEvents()) == 1 }, time.Second, 5*time.Millisecond)

	first.drop()

	var second *fakeConn
	select {
	case second = <-dialer.conns:
	case <-time.After(time.Second):
		t.Fatal("did not redial after drop")
	}
	assert.True(t, first.closed.Load())
	assert.True(t, rec.seen("reconnecting/realtime"))
	assert.Eventually(t, func() bool {
		events := second.sentEvents()
		return len(events) == 1 && events[0] == models.EventJoinRoom
	}, time.Second, 5*time.Millisecond)
}

func TestSendRequiresConnection(t *testing.T) {
	dialer := &fakeDialer{failures: -1, conns: make(chan *fakeConn, 1)}
	m := client.NewManager(client.Options{
		RoomID:        "ABC123",
		UserID:        "bob",
		ReconnectBase: time.Hour,
	}, dialer, &fakePoller{}, client.Callbacks{}, zerolog.Nop())

	run(t, m)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := m.Send(ctx, models.EventChatMessage, models.ChatSend{Body: "hi"})
	assert.ErrorIs(t, err, client.ErrNotConnected)
}

func TestSendAndLeaveOnStop(t *testing.T) {
	dialer := &fakeDialer{conns: make(chan *fakeConn, 1)}
	m := client.NewManager(client.Options{RoomID: "ABC123", UserID: "bob"}, dialer, &fakePoller{}, client.Callbacks{}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	conn := <-dialer.conns
	require.Eventually(t, func() bool { return len(conn.sentEvents()) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, m.Send(context.Background(), models.EventChatMessage, models.ChatSend{Body: "hi"}))

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, []models.EventName{models.EventJoinRoom, models.EventChatMessage, models.EventLeaveRoom}, conn.sentEvents())
	assert.True(t, conn.closed.Load())

	assert.ErrorIs(t, m.Send(context.Background(), models.EventChatMessage, models.ChatSend{Body: "late"}), client.ErrStopped)
}

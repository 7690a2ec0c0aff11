package relay_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mossy-p/studyroom-signaling/internal/models"
	"github.com/mossy-p/studyroom-signaling/internal/registry"
	"github.com/mossy-p/studyroom-signaling/internal/relay"
)

type outbox struct {
	mu     sync.Mutex
	frames map[string][][]byte
	refuse bool
}

func (o *outbox) Deliver(connID string, frame []byte) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.refuse {
		return false
	}
	if o.frames == nil {
		o.frames = make(map[string][][]byte)
	}
	o.frames[connID] = append(o.frames[connID], frame)
	return true
}

func (o *outbox) to(connID string) [][]byte {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.frames[connID]
}

func setup(t *testing.T) (*registry.Registry, *outbox, *relay.Relay) {
	t.Helper()
	reg := registry.New(registry.Options{GracePeriod: time.Minute, NormalizeCodes: true}, zerolog.Nop())
	t.Cleanup(reg.Close)
	out := &outbox{}
	return reg, out, relay.New(reg, out, zerolog.Nop())
}

func offer(to string) models.SignalingEnvelope {
	return models.SignalingEnvelope{
		Type:       models.SignalTypeOffer,
		RoomID:     "ABC123",
		FromUserID: "u1",
		ToUserID:   to,
		Payload:    json.RawMessage(`{"type":"offer","sdp":"v=0"}`),
	}
}

func TestRelayDeliversToTargetOnly(t *testing.T) {
	reg, out, r := setup(t)
	reg.Join("ABC123", "u1", "", "c1")
	reg.Join("ABC123", "u2", "", "c2")
	reg.Join("ABC123", "u3", "", "c3")

	require.NoError(t, r.Relay(context.Background(), offer("u2")))

	require.Len(t, out.to("c2"), 1)
	assert.Empty(t, out.to("c1"))
	assert.Empty(t, out.to("c3"))

	frame, err := models.DecodeFrame(out.to("c2")[0])
	require.NoError(t, err)
	assert.Equal(t, models.EventOffer, frame.Event)

	var env models.SignalingEnvelope
	require.NoError(t, json.Unmarshal(frame.Data, &env))
	assert.Equal(t, "u1", env.FromUserID)
	assert.JSONEq(t, `{"type":"offer","sdp":"v=0"}`, string(env.Payload))
}

func TestRelayFollowsReconnect(t *testing.T) {
	reg, out, r := setup(t)
	reg.Join("ABC123", "u1", "", "c1")
	reg.Join("ABC123", "u2", "", "c2")
	reg.Join("ABC123", "u2", "", "c2b")

	require.NoError(t, r.Relay(context.Background(), offer("u2")))
	assert.Empty(t, out.to("c2"))
	assert.Len(t, out.to("c2b"), 1)
}

func TestOfferToDepartedUserIsDropped(t *testing.T) {
	reg, out, r := setup(t)
	reg.Join("ABC123", "u1", "", "c1")
	reg.Join("ABC123", "u2", "", "c2")
	reg.Leave("c2")

	assert.NoError(t, r.Relay(context.Background(), offer("u2")))
	assert.Empty(t, out.to("c2"))

	// the sender keeps working
	reg.Join("ABC123", "u3", "", "c3")
	assert.NoError(t, r.Relay(context.Background(), offer("u3")))
	assert.Len(t, out.to("c3"), 1)
}

func TestRelayRefusedDeliveryIsSilent(t *testing.T) {
	reg, out, r := setup(t)
	reg.Join("ABC123", "u1", "", "c1")
	reg.Join("ABC123", "u2", "", "c2")
	out.refuse = true

	assert.NoError(t, r.Relay(context.Background(), offer("u2")))
}

func TestRelayRejectsMalformedEnvelopes(t *testing.T) {
	_, _, r := setup(t)

	bad := offer("u2")
	bad.Type = "renegotiate"
	assert.ErrorIs(t, r.Relay(context.Background(), bad), relay.ErrInvalidEnvelope)

	bad = offer("")
	assert.ErrorIs(t, r.Relay(context.Background(), bad), relay.ErrInvalidEnvelope)

	bad = offer("u1")
	assert.ErrorIs(t, r.Relay(context.Background(), bad), relay.ErrInvalidEnvelope)

	bad = offer("u2")
	bad.RoomID = ""
	assert.ErrorIs(t, r.Relay(context.Background(), bad), relay.ErrInvalidEnvelope)
}

func TestRelayHonoursCancelledContext(t *testing.T) {
	_, _, r := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, r.Relay(ctx, offer("u2")), context.Canceled)
}

// Package relay forwards WebRTC negotiation envelopes between two participants.
package relay

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/mossy-p/studyroom-signaling/internal/metrics"
	"github.com/mossy-p/studyroom-signaling/internal/models"
)

var ErrInvalidEnvelope = errors.New("invalid signaling envelope")

// Directory resolves the live connection of a user in a room.
type Directory interface {
	ConnectionFor(roomID, userID string) (string, bool)
}

// Deliverer queues a frame on one connection and reports whether it was accepted.
type Deliverer interface {
	Deliver(connID string, frame []byte) bool
}

type Relay struct {
	dir    Directory
	out    Deliverer
	logger zerolog.Logger
}

func New(dir Directory, out Deliverer, logger zerolog.Logger) *Relay {
	return &Relay{
		dir:    dir,
		out:    out,
		logger: logger.With().Str("component", "relay").Logger(),
	}
}

// Relay sends env to the current connection of env.ToUserID. Envelopes for
// users that are not in the room are dropped without error; they are never
// stored or broadcast.
func (r *Relay) Relay(ctx context.Context, env models.SignalingEnvelope) error {
	if err := validate(env); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	connID, ok := r.dir.ConnectionFor(env.RoomID, env.ToUserID)
	if !ok {
		metrics.SignalsDropped.WithLabelValues(string(env.Type)).Inc()
		r.logger.Debug().
			Str("room_id", env.RoomID).
			Str("from", env.FromUserID).
			Str("to", env.ToUserID).
			Str("type", string(env.Type)).
			Msg("target not in room, dropping envelope")
		return nil
	}

	frame, err := models.EncodeFrame(models.EventName(env.Type), env)
	if err != nil {
		return fmt.Errorf("relay %s: %w", env.Type, err)
	}

	if !r.out.Deliver(connID, frame) {
		metrics.SignalsDropped.WithLabelValues(string(env.Type)).Inc()
		r.logger.Warn().
			Str("room_id", env.RoomID).
			Str("to", env.ToUserID).
			Str("type", string(env.Type)).
			Msg("target connection not accepting, dropping envelope")
		return nil
	}
	metrics.SignalsRelayed.WithLabelValues(string(env.Type)).Inc()
	return nil
}

func validate(env models.SignalingEnvelope) error {
	switch {
	case !env.Type.Valid():
		return fmt.Errorf("%w: unknown type %q", ErrInvalidEnvelope, env.Type)
	case env.RoomID == "":
		return fmt.Errorf("%w: missing room", ErrInvalidEnvelope)
	case env.FromUserID == "" || env.ToUserID == "":
		return fmt.Errorf("%w: missing sender or target", ErrInvalidEnvelope)
	case env.FromUserID == env.ToUserID:
		return fmt.Errorf("%w: sender and target are the same user", ErrInvalidEnvelope)
	}
	return nil
}

package handlers

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/mossy-p/studyroom-signaling/config"
	"github.com/mossy-p/studyroom-signaling/internal/broadcast"
	"github.com/mossy-p/studyroom-signaling/internal/hub"
	"github.com/mossy-p/studyroom-signaling/internal/metrics"
	"github.com/mossy-p/studyroom-signaling/internal/models"
	"github.com/mossy-p/studyroom-signaling/internal/registry"
	"github.com/mossy-p/studyroom-signaling/internal/relay"
	"github.com/mossy-p/studyroom-signaling/internal/store"
)

// Handler serves the HTTP and websocket surface of the service.
type Handler struct {
	cfg         *config.Config
	registry    *registry.Registry
	relay       *relay.Relay
	broadcaster *broadcast.Broadcaster
	hub         *hub.Hub
	store       store.Store
	logger      zerolog.Logger
	now         func() time.Time
}

type Deps struct {
	Config      *config.Config
	Registry    *registry.Registry
	Relay       *relay.Relay
	Broadcaster *broadcast.Broadcaster
	Hub         *hub.Hub
	Store       store.Store
	Logger      zerolog.Logger
}

// New wires a Handler and subscribes it to registry changes.
func New(d Deps) *Handler {
	h := &Handler{
		cfg:         d.Config,
		registry:    d.Registry,
		relay:       d.Relay,
		broadcaster: d.Broadcaster,
		hub:         d.Hub,
		store:       d.Store,
		logger:      d.Logger.With().Str("component", "handlers").Logger(),
		now:         time.Now,
	}
	d.Registry.RegisterNotifier(h)
	return h
}

// send encodes one frame for a single connection.
func (h *Handler) send(connID string, event models.EventName, data any) {
	frame, err := models.EncodeFrame(event, data)
	if err != nil {
		h.logger.Error().Err(err).Str("event", string(event)).Msg("failed to encode frame")
		return
	}
	h.hub.Deliver(connID, frame)
}

// fanout sends one frame to every participant except skipConnID.
func (h *Handler) fanout(participants []models.Participant, skipConnID string, event models.EventName, data any) {
	frame, err := models.EncodeFrame(event, data)
	if err != nil {
		h.logger.Error().Err(err).Str("event", string(event)).Msg("failed to encode frame")
		return
	}
	for _, p := range participants {
		if p.ConnectionID == skipConnID {
			continue
		}
		h.hub.Deliver(p.ConnectionID, frame)
	}
}

// toOthers sends a frame to everyone in roomID except skipConnID.
func (h *Handler) toOthers(roomID, skipConnID string, event models.EventName, data any) {
	frame, err := models.EncodeFrame(event, data)
	if err != nil {
		h.logger.Error().Err(err).Str("event", string(event)).Msg("failed to encode frame")
		return
	}
	for _, r := range h.registry.Recipients(roomID) {
		if r.ConnectionID == skipConnID {
			continue
		}
		h.hub.Deliver(r.ConnectionID, frame)
	}
}

// Error codes carried by error frames.
const (
	codeUnknownEvent   = "unknown-event"
	codeInvalidPayload = "invalid-payload"
	codeNotInRoom      = "not-in-room"
	codeUnauthorized   = "unauthorized"
	codeJoinFailed     = "join-failed"
	codeInternal       = "internal"
)

func (h *Handler) sendError(c *hub.Client, code, message string, event models.EventName) {
	metrics.InboundRejected.WithLabelValues(code).Inc()
	h.send(c.ID, models.EventError, models.ErrorEvent{Code: code, Message: message, Event: event})
}

package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"

	"github.com/mossy-p/studyroom-signaling/internal/broadcast"
	"github.com/mossy-p/studyroom-signaling/internal/hub"
	"github.com/mossy-p/studyroom-signaling/internal/middleware"
	"github.com/mossy-p/studyroom-signaling/internal/models"
	"github.com/mossy-p/studyroom-signaling/internal/registry"
	"github.com/mossy-p/studyroom-signaling/internal/relay"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is handled by middleware
		return true
	},
}

// eventTimeout bounds the store work a single inbound event may trigger.
const eventTimeout = 10 * time.Second

// HandleWebSocket upgrades the request and hands the connection to the hub.
// The room is chosen later by a join-room event.
func (h *Handler) HandleWebSocket(c *gin.Context) {
	userID := middleware.UserID(c)
	if userID == "" && h.cfg.AuthRequired {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization required"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("failed to upgrade connection")
		return
	}

	client := h.hub.Serve(conn, userID, h)
	h.logger.Debug().Str("connection_id", client.ID).Str("user_id", userID).Msg("websocket connected")
}

// HandleMessage decodes and dispatches one inbound frame. A panic while
// handling it is reported to the sender and never reaches other events.
func (h *Handler) HandleMessage(c *hub.Client, message []byte) {
	var name models.EventName
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error().
				Str("connection_id", c.ID).
				Str("event", string(name)).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("recovered from panic while handling event")
			h.sendError(c, codeInternal, "internal error", name)
		}
	}()

	ev, err := models.DecodeInbound(message)
	if err != nil {
		code := codeInvalidPayload
		if errors.Is(err, models.ErrUnknownEvent) {
			code = codeUnknownEvent
		}
		if frame, ferr := models.DecodeFrame(message); ferr == nil {
			name = frame.Event
		}
		h.logger.Debug().Err(err).Str("connection_id", c.ID).Msg("rejected inbound event")
		h.sendError(c, code, err.Error(), name)
		return
	}
	name = ev.EventName()

	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	if join, ok := ev.(*models.JoinRoom); ok {
		h.handleJoin(ctx, c, join)
		return
	}

	roomID, self, ok := h.registry.Member(c.ID)
	if !ok {
		h.sendError(c, codeNotInRoom, "join a room first", name)
		return
	}

	switch e := ev.(type) {
	case *models.LeaveRoom:
		h.leave(c.ID)
	case *models.ChatSend:
		h.handleChat(ctx, c, roomID, self, e)
	case *models.WhiteboardUpdate:
		h.handleStroke(ctx, c, roomID, self, e)
	case *models.WhiteboardClear:
		h.publish(ctx, c, roomID, broadcast.ChannelWhiteboardClear, models.WhiteboardClear{ClearedBy: self.UserID}, name)
	case *models.NotesUpdate:
		notes := models.NotesDocument{RoomID: roomID, Content: e.Content, UpdatedBy: self.UserID, UpdatedAt: h.now().UTC()}
		h.publish(ctx, c, roomID, broadcast.ChannelNotes, notes, name)
	case *models.TimerAction:
		h.handleTimer(ctx, c, roomID, self, e)
	case *models.Signal:
		h.handleSignal(ctx, c, roomID, self, e)
	case *models.ToggleMedia:
		h.handleToggle(c, roomID, self, e)
	case *models.ScreenShare:
		h.handleScreenShare(c, roomID, self, e)
	default:
		h.sendError(c, codeUnknownEvent, fmt.Sprintf("unhandled event %q", name), name)
	}
}

// HandleDisconnect removes the connection from its room.
func (h *Handler) HandleDisconnect(c *hub.Client) {
	h.leave(c.ID)
}

func (h *Handler) leave(connID string) {
	p, ok := h.registry.Leave(connID)
	if ok {
		h.logger.Debug().Str("connection_id", connID).Str("user_id", p.UserID).Msg("left room")
	}
}

func (h *Handler) handleJoin(ctx context.Context, c *hub.Client, e *models.JoinRoom) {
	userID := c.UserID
	if userID == "" {
		if h.cfg.AuthRequired {
			h.sendError(c, codeUnauthorized, "a verified identity is required", models.EventJoinRoom)
			return
		}
		userID = e.UserID
	}
	if userID == "" {
		h.sendError(c, codeInvalidPayload, "userId is required", models.EventJoinRoom)
		return
	}
	displayName := e.DisplayName
	if displayName == "" {
		displayName = userID
	}

	roomID := h.registry.NormalizeRoomID(e.RoomID)
	if current, ok := h.registry.RoomOf(c.ID); ok && current != roomID {
		h.leave(c.ID)
	}

	snap, err := h.registry.Join(roomID, userID, displayName, c.ID)
	if err != nil {
		code := codeJoinFailed
		if errors.Is(err, registry.ErrInvalidJoin) {
			code = codeInvalidPayload
		}
		h.sendError(c, code, err.Error(), models.EventJoinRoom)
		return
	}

	if len(snap.Participants) == 1 {
		h.ensureRoomRecord(ctx, snap.RoomID, userID)
	}

	fill := h.broadcaster.Backfill(ctx, snap.RoomID)

	// Presence may have moved while the backfill was loading and those frames
	// already reached this connection, so the snapshot is re-read and sent in order.
	sent := h.registry.WithMember(c.ID, func(current models.RoomSnapshot) {
		h.send(c.ID, models.EventRoomState, models.RoomStateEvent{
			RoomSnapshot: current,
			Chat:         fill.Chat,
			Strokes:      fill.Strokes,
			Notes:        fill.Notes,
			Timer:        fill.Timer,
		})
	})
	if !sent {
		h.logger.Debug().Str("connection_id", c.ID).Str("room_id", snap.RoomID).Msg("left before room state was sent")
	}
}

func (h *Handler) handleChat(ctx context.Context, c *hub.Client, roomID string, self models.Participant, e *models.ChatSend) {
	msgType := e.Type
	if msgType == "" {
		msgType = models.ChatTypeText
	}
	msg := models.ChatMessage{
		ID:        ulid.Make().String(),
		RoomID:    roomID,
		UserID:    self.UserID,
		UserName:  self.DisplayName,
		Body:      e.Body,
		Type:      msgType,
		CreatedAt: h.now().UTC(),
	}
	h.publish(ctx, c, roomID, broadcast.ChannelChat, msg, models.EventChatMessage)
}

func (h *Handler) handleStroke(ctx context.Context, c *hub.Client, roomID string, self models.Participant, e *models.WhiteboardUpdate) {
	stroke := e.Stroke
	if stroke.ID == "" {
		stroke.ID = ulid.Make().String()
	}
	stroke.UserID = self.UserID
	if stroke.Timestamp == 0 {
		stroke.Timestamp = h.now().UnixMilli()
	}
	h.publish(ctx, c, roomID, broadcast.ChannelWhiteboardStroke, stroke, models.EventWhiteboardUpdate)
}

func (h *Handler) handleTimer(ctx context.Context, c *hub.Client, roomID string, self models.Participant, e *models.TimerAction) {
	now := h.now().UTC()
	_, err := h.broadcaster.ApplyTimer(ctx, roomID, c.ID, func(t models.TimerState) models.TimerState {
		switch e.Action {
		case models.EventTimerStart:
			return t.Start(now, self.UserID, e.DurationSeconds)
		case models.EventTimerPause:
			return t.Pause(now, self.UserID)
		case models.EventTimerReset:
			return t.Reset(now, self.UserID)
		default:
			return t.Update(now, self.UserID, e.RemainingSeconds)
		}
	})
	if err != nil {
		h.logger.Error().Err(err).Str("room_id", roomID).Msg("failed to apply timer")
		h.sendError(c, codeInternal, "timer update failed", e.Action)
	}
}

func (h *Handler) handleSignal(ctx context.Context, c *hub.Client, roomID string, self models.Participant, e *models.Signal) {
	env := models.SignalingEnvelope{
		Type:       e.Type,
		RoomID:     roomID,
		FromUserID: self.UserID,
		ToUserID:   e.ToUserID,
		Payload:    e.Payload,
	}
	if err := h.relay.Relay(ctx, env); err != nil {
		code := codeInternal
		if errors.Is(err, relay.ErrInvalidEnvelope) {
			code = codeInvalidPayload
		}
		h.sendError(c, code, err.Error(), e.EventName())
	}
}

func (h *Handler) handleToggle(c *hub.Client, roomID string, self models.Participant, e *models.ToggleMedia) {
	enabled := e.Enabled
	var err error
	if e.Kind == models.EventToggleVideo {
		_, err = h.registry.UpdateMedia(c.ID, &enabled, nil)
	} else {
		_, err = h.registry.UpdateMedia(c.ID, nil, &enabled)
	}
	if err != nil {
		h.sendError(c, codeNotInRoom, err.Error(), e.Kind)
		return
	}
	h.toOthers(roomID, c.ID, e.Kind, models.ToggleMedia{UserID: self.UserID, Enabled: enabled})
}

func (h *Handler) handleScreenShare(c *hub.Client, roomID string, self models.Participant, e *models.ScreenShare) {
	if _, err := h.registry.SetScreenSharing(c.ID, e.Started); err != nil {
		h.sendError(c, codeNotInRoom, err.Error(), e.EventName())
		return
	}
	h.toOthers(roomID, c.ID, e.EventName(), models.ScreenShare{UserID: self.UserID})
}

func (h *Handler) publish(ctx context.Context, c *hub.Client, roomID string, ch broadcast.Channel, payload any, event models.EventName) {
	if err := h.broadcaster.Publish(ctx, roomID, ch, c.ID, payload); err != nil {
		h.logger.Error().Err(err).Str("room_id", roomID).Str("channel", string(ch)).Msg("failed to publish")
		h.sendError(c, codeInternal, "broadcast failed", event)
	}
}

package handlers

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mossy-p/studyroom-signaling/internal/middleware"
	"github.com/mossy-p/studyroom-signaling/internal/models"
	"github.com/mossy-p/studyroom-signaling/internal/registry"
	"github.com/mossy-p/studyroom-signaling/internal/store"
)

const (
	roomCodeLength  = 6
	codeChars       = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789" // Removed ambiguous chars
	maxCodeAttempts = 5
)

const defaultStoreTimeout = 5 * time.Second

var errCodeSpaceExhausted = errors.New("could not allocate an unused room code")

// CreateRoom allocates a fresh room code (requires authentication)
func (h *Handler) CreateRoom(c *gin.Context) {
	userID := middleware.UserID(c)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	ctx, cancel := h.storeContext(c)
	defer cancel()

	code, err := h.unusedRoomCode(ctx)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to allocate room code")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create room"})
		return
	}

	record := models.RoomRecord{Code: code, CreatorID: userID, CreatedAt: h.now().UTC()}
	if err := h.store.SaveRoom(ctx, record); err != nil {
		h.logger.Error().Err(err).Str("room_id", code).Msg("failed to store room")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create room"})
		return
	}

	h.logger.Info().Str("room_id", code).Str("user_id", userID).Msg("room created")
	c.JSON(http.StatusCreated, models.CreateRoomResponse{RoomID: code, Code: code})
}

// GetRoom returns the stored record of a room merged with its live presence (public)
func (h *Handler) GetRoom(c *gin.Context) {
	roomID := h.registry.NormalizeRoomID(c.Param("roomId"))

	ctx, cancel := h.storeContext(c)
	defer cancel()

	record, err := h.store.GetRoom(ctx, roomID)
	stored := err == nil
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		h.logger.Error().Err(err).Str("room_id", roomID).Msg("failed to load room")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load room"})
		return
	}

	snap, live := h.registry.RoomSnapshot(roomID)
	if !stored && !live {
		c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
		return
	}
	if !stored {
		record.Code = roomID
	}

	c.JSON(http.StatusOK, models.RoomInfo{
		RoomRecord:       record,
		ParticipantCount: len(snap.Participants),
		HostUserID:       snap.HostUserID,
		Live:             live,
	})
}

// GetRoomState serves the polling fallback. Unknown rooms answer with an empty snapshot.
func (h *Handler) GetRoomState(c *gin.Context) {
	roomID := h.registry.NormalizeRoomID(c.Param("roomId"))

	snap, ok := h.registry.RoomSnapshot(roomID)
	if !ok {
		snap = models.RoomSnapshot{RoomID: roomID, Participants: []models.Participant{}}
	}

	notes, timer := h.broadcaster.SharedState(c.Request.Context(), roomID)
	c.JSON(http.StatusOK, models.RoomState{RoomSnapshot: snap, Notes: notes, Timer: timer})
}

// DeleteRoom dissolves a room and removes its stored state (requires authentication and host)
func (h *Handler) DeleteRoom(c *gin.Context) {
	userID := middleware.UserID(c)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}
	roomID := h.registry.NormalizeRoomID(c.Param("roomId"))

	ctx, cancel := h.storeContext(c)
	defer cancel()

	record, err := h.store.GetRoom(ctx, roomID)
	stored := err == nil
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		h.logger.Error().Err(err).Str("room_id", roomID).Msg("failed to load room")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete room"})
		return
	}

	// the live host decides; an idle room falls back to its creator
	host, live := h.registry.Host(roomID)
	switch {
	case !live && !stored:
		c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
		return
	case live && host != userID:
		c.JSON(http.StatusForbidden, gin.H{"error": "Only the room host can delete the room"})
		return
	case !live && record.CreatorID != userID:
		c.JSON(http.StatusForbidden, gin.H{"error": "Only the room creator can delete the room"})
		return
	}

	if live {
		members, err := h.registry.Dissolve(roomID)
		if err != nil && !errors.Is(err, registry.ErrRoomNotFound) {
			h.logger.Error().Err(err).Str("room_id", roomID).Msg("failed to dissolve room")
		}
		h.fanout(members, "", models.EventRoomDeleted, models.RoomDeletedEvent{RoomID: roomID, DeletedBy: userID})
	}

	if err := h.store.DeleteRoom(ctx, roomID); err != nil {
		h.logger.Error().Err(err).Str("room_id", roomID).Msg("failed to delete stored room")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete room"})
		return
	}

	h.logger.Info().Str("room_id", roomID).Str("user_id", userID).Msg("room deleted")
	c.JSON(http.StatusOK, gin.H{"message": "Room deleted"})
}

// ensureRoomRecord stores a record for rooms that were joined without being created first.
func (h *Handler) ensureRoomRecord(ctx context.Context, roomID, userID string) {
	_, err := h.store.GetRoom(ctx, roomID)
	if err == nil {
		return
	}
	if !errors.Is(err, store.ErrNotFound) {
		h.logger.Warn().Err(err).Str("room_id", roomID).Msg("failed to look up room record")
		return
	}
	record := models.RoomRecord{Code: roomID, CreatorID: userID, CreatedAt: h.now().UTC()}
	if err := h.store.SaveRoom(ctx, record); err != nil {
		h.logger.Warn().Err(err).Str("room_id", roomID).Msg("failed to store room record")
	}
}

func (h *Handler) unusedRoomCode(ctx context.Context) (string, error) {
	for range maxCodeAttempts {
		code := generateRoomCode()
		if _, live := h.registry.RoomSnapshot(code); live {
			continue
		}
		_, err := h.store.GetRoom(ctx, code)
		if errors.Is(err, store.ErrNotFound) {
			return code, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", errCodeSpaceExhausted
}

func (h *Handler) storeContext(c *gin.Context) (context.Context, context.CancelFunc) {
	timeout := h.cfg.Rooms.StoreTimeout
	if timeout <= 0 {
		timeout = defaultStoreTimeout
	}
	return context.WithTimeout(c.Request.Context(), timeout)
}

// generateRoomCode generates a random room code
func generateRoomCode() string {
	code := make([]byte, roomCodeLength)
	for i := range code {
		n, _ := rand.Int(rand.Reader, big.NewInt(int64(len(codeChars))))
		code[i] = codeChars[n.Int64()]
	}
	return string(code)
}

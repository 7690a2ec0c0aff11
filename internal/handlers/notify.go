package handlers

import (
	"github.com/mossy-p/studyroom-signaling/internal/models"
	"github.com/mossy-p/studyroom-signaling/internal/registry"
)

// RoomChanged turns registry mutations into presence frames. It runs under the
// room lock, so frames for one room leave in mutation order.
func (h *Handler) RoomChanged(change registry.Change) {
	participants := change.Snapshot.Participants
	state := models.RoomStateEvent{RoomSnapshot: change.Snapshot}

	switch change.Kind {
	case registry.ChangeJoined, registry.ChangeRejoined:
		if change.ReplacedConnectionID != "" {
			h.hub.Disconnect(change.ReplacedConnectionID)
		}
		self := change.Participant.ConnectionID
		h.fanout(participants, self, models.EventUserJoined, models.UserJoinedEvent{Participant: change.Participant})
		h.fanout(participants, self, models.EventRoomState, state)

	case registry.ChangeLeft:
		h.fanout(participants, "", models.EventUserLeft, models.UserLeftEvent{
			UserID:       change.Participant.UserID,
			ConnectionID: change.Participant.ConnectionID,
		})
		if change.HostChanged {
			h.fanout(participants, "", models.EventHostChanged, models.HostChangedEvent{
				HostUserID:         change.Snapshot.HostUserID,
				PreviousHostUserID: change.PreviousHostUserID,
			})
		}
		h.fanout(participants, "", models.EventRoomState, state)

	case registry.ChangeRefreshed:
		// nothing about the member changed, so peers keep their connections
		h.fanout(participants, change.Participant.ConnectionID, models.EventRoomState, state)

	case registry.ChangeMedia, registry.ChangeScreenShare:
		h.fanout(participants, "", models.EventRoomState, state)

	case registry.ChangeDissolved:
		// room-deleted is sent by whoever dissolved the room
	}
}

// RoomClosed drops the cached shared state of a room that was torn down.
func (h *Handler) RoomClosed(roomID string) {
	h.broadcaster.Forget(roomID)
	h.logger.Debug().Str("room_id", roomID).Msg("room closed")
}

// Package registry tracks which participants are present in which room.
//
// Each room is guarded by its own mutex so rooms never wait on each other.
// Locks are always taken in the order Registry.mu, room.mu, Registry.idxMu.
package registry

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mossy-p/studyroom-signaling/internal/metrics"
	"github.com/mossy-p/studyroom-signaling/internal/models"
)

var (
	ErrInvalidJoin    = errors.New("join requires a room, a user and a connection")
	ErrNotInRoom      = errors.New("connection is not in a room")
	ErrConnectionBusy = errors.New("connection already joined another room")
	ErrRoomNotFound   = errors.New("room not found")
)

type ChangeKind string

const (
	ChangeJoined      ChangeKind = "joined"
	ChangeRejoined    ChangeKind = "rejoined"
	ChangeRefreshed   ChangeKind = "refreshed" // repeated join on the same connection
	ChangeLeft        ChangeKind = "left"
	ChangeMedia       ChangeKind = "media"
	ChangeScreenShare ChangeKind = "screen-share"
	ChangeDissolved   ChangeKind = "dissolved"
)

// Change describes one mutation of a room together with the resulting snapshot.
type Change struct {
	Kind        ChangeKind
	RoomID      string
	Participant models.Participant
	// ReplacedConnectionID is the stale connection a rejoin took over.
	ReplacedConnectionID string
	Snapshot             models.RoomSnapshot
	HostChanged          bool
	PreviousHostUserID   string
	// Created is set when the join brought the room into existence.
	Created bool
}

// Notifier observes room mutations. Callbacks run while the room is locked,
// so they see changes of one room in order and must not call back into the Registry.
type Notifier interface {
	RoomChanged(Change)
	RoomClosed(roomID string)
}

type Options struct {
	// GracePeriod is how long an empty room is kept before it is torn down.
	GracePeriod    time.Duration
	NormalizeCodes bool
	Now            func() time.Time
}

type room struct {
	mu           sync.Mutex
	id           string
	participants map[string]models.Participant // connection id -> participant
	byUser       map[string]string             // user id -> connection id
	teardown     *time.Timer
	teardownGen  uint64
	closed       bool
}

type Registry struct {
	opts   Options
	logger zerolog.Logger

	mu    sync.Mutex
	rooms map[string]*room

	idxMu sync.Mutex
	conns map[string]string // connection id -> room id

	notifyMu  sync.RWMutex
	notifiers []Notifier
}

func New(opts Options, logger zerolog.Logger) *Registry {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Registry{
		opts:   opts,
		logger: logger.With().Str("component", "registry").Logger(),
		rooms:  make(map[string]*room),
		conns:  make(map[string]string),
	}
}

func (r *Registry) RegisterNotifier(n Notifier) {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()
	r.notifiers = append(r.notifiers, n)
}

// NormalizeRoomID applies the configured room code normalization.
func (r *Registry) NormalizeRoomID(roomID string) string {
	return models.NormalizeRoomCode(roomID, r.opts.NormalizeCodes)
}

// Join admits connID to roomID as userID. A user already present under another
// connection is replaced in place, keeping its host role and join time.
func (r *Registry) Join(roomID, userID, displayName, connID string) (models.RoomSnapshot, error) {
	roomID = r.NormalizeRoomID(roomID)
	if roomID == "" || userID == "" || connID == "" {
		return models.RoomSnapshot{}, ErrInvalidJoin
	}
	if current, ok := r.RoomOf(connID); ok && current != roomID {
		return models.RoomSnapshot{}, ErrConnectionBusy
	}

	for {
		rm, created := r.getOrCreate(roomID)
		rm.mu.Lock()
		if rm.closed {
			// lost the race with teardown; the next lookup creates a fresh room
			rm.mu.Unlock()
			continue
		}
		snap, err := r.joinLocked(rm, userID, displayName, connID, created)
		rm.mu.Unlock()
		return snap, err
	}
}

func (r *Registry) getOrCreate(roomID string) (*room, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rm, ok := r.rooms[roomID]; ok {
		return rm, false
	}
	rm := &room{
		id:           roomID,
		participants: make(map[string]models.Participant),
		byUser:       make(map[string]string),
	}
	r.rooms[roomID] = rm
	metrics.RoomsActive.Inc()
	r.logger.Info().Str("room_id", roomID).Msg("created room")
	return rm, true
}

func (r *Registry) joinLocked(rm *room, userID, displayName, connID string, created bool) (models.RoomSnapshot, error) {
	if existing, ok := rm.participants[connID]; ok && existing.UserID != userID {
		return models.RoomSnapshot{}, ErrConnectionBusy
	}
	if rm.teardown != nil {
		rm.teardown.Stop()
		rm.teardown = nil
		r.logger.Debug().Str("room_id", rm.id).Msg("cancelled room teardown")
	}
	rm.teardownGen++

	change := Change{Kind: ChangeJoined, RoomID: rm.id, Created: created}

	if oldConn, ok := rm.byUser[userID]; ok {
		p := rm.participants[oldConn]
		delete(rm.participants, oldConn)
		p.ConnectionID = connID
		if displayName != "" {
			p.DisplayName = displayName
		}
		change.Kind = ChangeRefreshed
		if oldConn != connID {
			p.ConnectionStatus = models.ConnectionStatusRejoined
			change.Kind = ChangeRejoined
			change.ReplacedConnectionID = oldConn
		}
		rm.participants[connID] = p
		rm.byUser[userID] = connID
		r.index(connID, rm.id, oldConn)

		change.Participant = p
		if change.Kind == ChangeRejoined {
			r.logger.Info().Str("room_id", rm.id).Str("user_id", userID).Str("replaced", oldConn).Msg("participant rejoined")
		} else {
			r.logger.Debug().Str("room_id", rm.id).Str("user_id", userID).Msg("repeated join on same connection")
		}
	} else {
		wasEmpty := len(rm.participants) == 0
		p := models.Participant{
			ConnectionID:     connID,
			UserID:           userID,
			DisplayName:      displayName,
			Video:            true,
			Audio:            true,
			JoinedAt:         r.opts.Now(),
			ConnectionStatus: models.ConnectionStatusConnected,
		}
		rm.participants[connID] = p
		rm.byUser[userID] = connID
		r.index(connID, rm.id, "")
		metrics.ParticipantsActive.Inc()

		if wasEmpty {
			if host := ElectHost(rm.list(), ""); host != "" {
				rm.setHost(host)
				change.HostChanged = true
			}
		}
		change.Participant = rm.participants[connID]
		r.logger.Info().Str("room_id", rm.id).Str("user_id", userID).Int("participants", len(rm.participants)).Msg("participant joined")
	}

	change.Snapshot = rm.snapshot()
	r.notify(change)

	// rejoined is announced once; the stored entry goes back to connected
	if p := rm.participants[connID]; p.ConnectionStatus == models.ConnectionStatusRejoined {
		p.ConnectionStatus = models.ConnectionStatusConnected
		rm.participants[connID] = p
	}
	return change.Snapshot, nil
}

// WithMember calls fn with the current snapshot of connID's room while the room
// is locked, so frames sent from fn are ordered with presence frames. It reports
// false when connID is no longer in a room.
func (r *Registry) WithMember(connID string, fn func(models.RoomSnapshot)) bool {
	rm, ok := r.roomFor(connID)
	if !ok {
		return false
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if _, ok := rm.participants[connID]; rm.closed || !ok {
		return false
	}
	fn(rm.snapshot())
	return true
}

// Leave removes connID from its room. It reports false when the connection is
// unknown, for example because a rejoin already replaced it.
func (r *Registry) Leave(connID string) (models.Participant, bool) {
	rm, ok := r.roomFor(connID)
	if !ok {
		return models.Participant{}, false
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	p, ok := rm.participants[connID]
	if rm.closed || !ok {
		return models.Participant{}, false
	}
	delete(rm.participants, connID)
	if rm.byUser[p.UserID] == connID {
		delete(rm.byUser, p.UserID)
	}
	r.unindex(connID)
	metrics.ParticipantsActive.Dec()

	change := Change{Kind: ChangeLeft, RoomID: rm.id, Participant: p}
	if p.IsHost {
		change.PreviousHostUserID = p.UserID
		if host := ElectHost(rm.list(), p.UserID); host != "" {
			rm.setHost(host)
			change.HostChanged = true
			metrics.HostElections.Inc()
			r.logger.Info().Str("room_id", rm.id).Str("host", host).Str("previous", p.UserID).Msg("host changed")
		}
	}
	r.logger.Info().Str("room_id", rm.id).Str("user_id", p.UserID).Int("participants", len(rm.participants)).Msg("participant left")

	if len(rm.participants) == 0 {
		r.scheduleTeardown(rm)
	}

	change.Snapshot = rm.snapshot()
	r.notify(change)
	return p, true
}

// UpdateMedia changes the advertised camera and microphone state. Nil leaves a flag as is.
func (r *Registry) UpdateMedia(connID string, video, audio *bool) (models.Participant, error) {
	return r.mutate(connID, ChangeMedia, func(p *models.Participant) {
		if video != nil {
			p.Video = *video
		}
		if audio != nil {
			p.Audio = *audio
		}
	})
}

func (r *Registry) SetScreenSharing(connID string, sharing bool) (models.Participant, error) {
	return r.mutate(connID, ChangeScreenShare, func(p *models.Participant) {
		p.IsScreenSharing = sharing
	})
}

func (r *Registry) mutate(connID string, kind ChangeKind, fn func(*models.Participant)) (models.Participant, error) {
	rm, ok := r.roomFor(connID)
	if !ok {
		return models.Participant{}, ErrNotInRoom
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	p, ok := rm.participants[connID]
	if rm.closed || !ok {
		return models.Participant{}, ErrNotInRoom
	}
	fn(&p)
	rm.participants[connID] = p

	r.notify(Change{Kind: kind, RoomID: rm.id, Participant: p, Snapshot: rm.snapshot()})
	return p, nil
}

// Dissolve removes every participant and closes the room immediately.
// It returns the participants that were present.
func (r *Registry) Dissolve(roomID string) ([]models.Participant, error) {
	roomID = r.NormalizeRoomID(roomID)

	r.mu.Lock()
	rm, ok := r.rooms[roomID]
	if !ok {
		r.mu.Unlock()
		return nil, ErrRoomNotFound
	}
	rm.mu.Lock()
	snap := rm.snapshot()
	for connID := range rm.participants {
		r.unindex(connID)
		metrics.ParticipantsActive.Dec()
	}
	rm.participants = make(map[string]models.Participant)
	rm.byUser = make(map[string]string)
	if rm.teardown != nil {
		rm.teardown.Stop()
		rm.teardown = nil
	}
	rm.closed = true
	delete(r.rooms, roomID)
	metrics.RoomsActive.Dec()
	r.notify(Change{Kind: ChangeDissolved, RoomID: roomID, Snapshot: snap})
	rm.mu.Unlock()
	r.mu.Unlock()

	r.logger.Info().Str("room_id", roomID).Int("participants", len(snap.Participants)).Msg("room dissolved")
	r.notifyClosed(roomID)
	return snap.Participants, nil
}

func (r *Registry) scheduleTeardown(rm *room) {
	if rm.teardown != nil {
		rm.teardown.Stop()
	}
	rm.teardownGen++
	gen := rm.teardownGen
	rm.teardown = time.AfterFunc(r.opts.GracePeriod, func() {
		r.teardownRoom(rm, gen)
	})
	r.logger.Debug().Str("room_id", rm.id).Dur("grace", r.opts.GracePeriod).Msg("scheduled room teardown")
}

func (r *Registry) teardownRoom(rm *room, gen uint64) {
	r.mu.Lock()
	rm.mu.Lock()
	if rm.closed || rm.teardownGen != gen || len(rm.participants) > 0 {
		rm.mu.Unlock()
		r.mu.Unlock()
		return
	}
	rm.closed = true
	rm.teardown = nil
	if r.rooms[rm.id] == rm {
		delete(r.rooms, rm.id)
		metrics.RoomsActive.Dec()
	}
	rm.mu.Unlock()
	r.mu.Unlock()

	r.logger.Info().Str("room_id", rm.id).Msg("removed empty room")
	r.notifyClosed(rm.id)
}

// Snapshot returns the participants of roomID ordered by join time, or nil for an unknown room.
func (r *Registry) Snapshot(roomID string) []models.Participant {
	snap, ok := r.RoomSnapshot(roomID)
	if !ok {
		return nil
	}
	return snap.Participants
}

func (r *Registry) RoomSnapshot(roomID string) (models.RoomSnapshot, bool) {
	rm, ok := r.get(r.NormalizeRoomID(roomID))
	if !ok {
		return models.RoomSnapshot{}, false
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.closed {
		return models.RoomSnapshot{}, false
	}
	return rm.snapshot(), true
}

// ConnectionFor returns the live connection of userID in roomID.
func (r *Registry) ConnectionFor(roomID, userID string) (string, bool) {
	rm, ok := r.get(r.NormalizeRoomID(roomID))
	if !ok {
		return "", false
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	connID, ok := rm.byUser[userID]
	return connID, ok && !rm.closed
}

// Recipients lists every live connection in roomID.
func (r *Registry) Recipients(roomID string) []models.Recipient {
	rm, ok := r.get(r.NormalizeRoomID(roomID))
	if !ok {
		return nil
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	out := make([]models.Recipient, 0, len(rm.participants))
	for connID, p := range rm.participants {
		out = append(out, models.Recipient{ConnectionID: connID, UserID: p.UserID})
	}
	return out
}

func (r *Registry) RoomOf(connID string) (string, bool) {
	r.idxMu.Lock()
	defer r.idxMu.Unlock()
	roomID, ok := r.conns[connID]
	return roomID, ok
}

// Member returns the room and participant entry of connID.
func (r *Registry) Member(connID string) (string, models.Participant, bool) {
	rm, ok := r.roomFor(connID)
	if !ok {
		return "", models.Participant{}, false
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	p, ok := rm.participants[connID]
	return rm.id, p, ok
}

// Host returns the user id holding the host role in roomID.
func (r *Registry) Host(roomID string) (string, bool) {
	rm, ok := r.get(r.NormalizeRoomID(roomID))
	if !ok {
		return "", false
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	host := rm.hostUserID()
	return host, host != ""
}

// Stats reports the number of rooms held and participants present.
func (r *Registry) Stats() (rooms, participants int) {
	r.idxMu.Lock()
	participants = len(r.conns)
	r.idxMu.Unlock()

	r.mu.Lock()
	rooms = len(r.rooms)
	r.mu.Unlock()
	return rooms, participants
}

// Close stops pending teardown timers.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rm := range r.rooms {
		rm.mu.Lock()
		if rm.teardown != nil {
			rm.teardown.Stop()
			rm.teardown = nil
		}
		rm.mu.Unlock()
	}
}

func (r *Registry) get(roomID string) (*room, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[roomID]
	return rm, ok
}

func (r *Registry) roomFor(connID string) (*room, bool) {
	roomID, ok := r.RoomOf(connID)
	if !ok {
		return nil, false
	}
	return r.get(roomID)
}

func (r *Registry) index(connID, roomID, replaced string) {
	r.idxMu.Lock()
	defer r.idxMu.Unlock()
	if replaced != "" {
		delete(r.conns, replaced)
	}
	r.conns[connID] = roomID
}

func (r *Registry) unindex(connID string) {
	r.idxMu.Lock()
	defer r.idxMu.Unlock()
	delete(r.conns, connID)
}

func (r *Registry) notify(change Change) {
	r.notifyMu.RLock()
	defer r.notifyMu.RUnlock()
	for _, n := range r.notifiers {
		n.RoomChanged(change)
	}
}

func (r *Registry) notifyClosed(roomID string) {
	r.notifyMu.RLock()
	defer r.notifyMu.RUnlock()
	for _, n := range r.notifiers {
		n.RoomClosed(roomID)
	}
}

func (rm *room) list() []models.Participant {
	out := make([]models.Participant, 0, len(rm.participants))
	for _, p := range rm.participants {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return joinedBefore(out[i], out[j]) })
	return out
}

func (rm *room) setHost(userID string) {
	for connID, p := range rm.participants {
		if p.IsHost != (p.UserID == userID) {
			p.IsHost = p.UserID == userID
			rm.participants[connID] = p
		}
	}
}

func (rm *room) hostUserID() string {
	for _, p := range rm.participants {
		if p.IsHost {
			return p.UserID
		}
	}
	return ""
}

func (rm *room) snapshot() models.RoomSnapshot {
	return models.RoomSnapshot{
		RoomID:       rm.id,
		HostUserID:   rm.hostUserID(),
		Participants: rm.list(),
	}
}

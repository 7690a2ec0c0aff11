package peer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/mossy-p/studyroom-signaling/internal/models"
)

var ErrNoVideoSender = errors.New("peer has no outgoing video track to replace")

const signalTimeout = 5 * time.Second

// State is the negotiation state of one remote participant.
type State int

const (
	StateNone State = iota
	StateNegotiating
	StateConnected
	StateRenegotiating
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateRenegotiating:
		return "renegotiating"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Signaler carries negotiation events to the signaling server.
type Signaler interface {
	Send(ctx context.Context, event models.EventName, data any) error
}

type Callbacks struct {
	OnState func(userID string, state State)
	// OnTrack hands out inbound media. Tracks end when the peer is closed.
	OnTrack func(userID string, track *webrtc.TrackRemote)
}

// Manager keeps one Conn per remote participant. Negotiation for a given
// participant runs under that participant's lock, so only one is ever in flight.
type Manager struct {
	selfID    string
	factory   Factory
	signaler  Signaler
	callbacks Callbacks
	logger    zerolog.Logger

	mu          sync.Mutex
	peers       map[string]*remote
	localTracks []webrtc.TrackLocal
	video       webrtc.TrackLocal
}

type remote struct {
	userID string
	conn   Conn

	mu           sync.Mutex
	state        State
	offerer      bool
	pendingOffer bool
	remoteSet    bool
	restarted    bool
	queued       []webrtc.ICECandidateInit
	videoSender  Sender
	remoteTracks []*webrtc.TrackRemote
}

func NewManager(selfID string, factory Factory, signaler Signaler, callbacks Callbacks, logger zerolog.Logger) *Manager {
	return &Manager{
		selfID:    selfID,
		factory:   factory,
		signaler:  signaler,
		callbacks: callbacks,
		logger:    logger.With().Str("component", "peer").Logger(),
		peers:     make(map[string]*remote),
	}
}

// SetLocalTracks sets the outgoing media for connections opened from now on.
// The first video track becomes the one ReplaceVideoTrack swaps.
func (m *Manager) SetLocalTracks(tracks ...webrtc.TrackLocal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.localTracks = tracks
	m.video = nil
	for _, t := range tracks {
		if t.Kind() == webrtc.RTPCodecTypeVideo {
			m.video = t
			break
		}
	}
}

// ReplaceVideoTrack swaps the outgoing video of every connection in place,
// for example camera to screen. Failures are returned, not retried.
func (m *Manager) ReplaceVideoTrack(track webrtc.TrackLocal) error {
	m.mu.Lock()
	for i, t := range m.localTracks {
		if t == m.video {
			m.localTracks[i] = track
		}
	}
	if m.video == nil {
		m.localTracks = append(m.localTracks, track)
	}
	m.video = track
	peers := m.snapshot()
	m.mu.Unlock()

	var errs []error
	for _, p := range peers {
		p.mu.Lock()
		sender := p.videoSender
		p.mu.Unlock()
		if sender == nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.userID, ErrNoVideoSender))
			continue
		}
		if err := sender.ReplaceTrack(track); err != nil {
			errs = append(errs, fmt.Errorf("%s: replace track: %w", p.userID, err))
		}
	}
	return errors.Join(errs...)
}

// HandleEvent routes a room event to the negotiation it concerns. Events that
// do not concern peers are ignored.
func (m *Manager) HandleEvent(ctx context.Context, frame models.Frame) error {
	switch frame.Event {
	case models.EventUserJoined:
		var ev models.UserJoinedEvent
		if err := json.Unmarshal(frame.Data, &ev); err != nil {
			return fmt.Errorf("decode %s: %w", frame.Event, err)
		}
		return m.PeerJoined(ctx, ev.Participant.UserID)

	case models.EventUserLeft:
		var ev models.UserLeftEvent
		if err := json.Unmarshal(frame.Data, &ev); err != nil {
			return fmt.Errorf("decode %s: %w", frame.Event, err)
		}
		m.PeerLeft(ev.UserID)

	case models.EventOffer, models.EventAnswer, models.EventICECandidate:
		var env models.SignalingEnvelope
		if err := json.Unmarshal(frame.Data, &env); err != nil {
			return fmt.Errorf("decode %s: %w", frame.Event, err)
		}
		return m.HandleSignal(ctx, env)

	case models.EventRoomDeleted:
		m.Close()
	}
	return nil
}

// PeerJoined offers to a newcomer. A participant that rejoins gets a fresh connection.
func (m *Manager) PeerJoined(ctx context.Context, userID string) error {
	if userID == "" || userID == m.selfID {
		return nil
	}
	m.PeerLeft(userID)

	p, err := m.open(userID, true)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return m.offer(ctx, p, false)
}

// PeerLeft closes the connection to userID and drops its inbound media.
func (m *Manager) PeerLeft(userID string) {
	m.mu.Lock()
	p, ok := m.peers[userID]
	delete(m.peers, userID)
	m.mu.Unlock()
	if ok {
		m.teardown(p)
	}
}

// HandleSignal applies one envelope addressed to this participant. Envelopes
// that no longer match the local negotiation state are dropped.
func (m *Manager) HandleSignal(ctx context.Context, env models.SignalingEnvelope) error {
	if env.FromUserID == "" || env.FromUserID == m.selfID {
		return nil
	}

	switch env.Type {
	case models.SignalTypeOffer:
		var desc webrtc.SessionDescription
		if err := json.Unmarshal(env.Payload, &desc); err != nil {
			return fmt.Errorf("decode offer: %w", err)
		}
		return m.handleOffer(ctx, env.FromUserID, desc)

	case models.SignalTypeAnswer:
		var desc webrtc.SessionDescription
		if err := json.Unmarshal(env.Payload, &desc); err != nil {
			return fmt.Errorf("decode answer: %w", err)
		}
		return m.handleAnswer(env.FromUserID, desc)

	case models.SignalTypeICECandidate:
		var candidate webrtc.ICECandidateInit
		if err := json.Unmarshal(env.Payload, &candidate); err != nil {
			return fmt.Errorf("decode candidate: %w", err)
		}
		return m.handleCandidate(env.FromUserID, candidate)
	}
	return nil
}

func (m *Manager) handleOffer(ctx context.Context, from string, desc webrtc.SessionDescription) error {
	p, ok := m.get(from)
	if !ok {
		var err error
		if p, err = m.open(from, false); err != nil {
			return err
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case p.state == StateConnected:
		m.logger.Debug().Str("peer", from).Msg("dropping offer, already connected")
		return nil
	case p.pendingOffer:
		m.logger.Debug().Str("peer", from).Msg("dropping offer, own offer pending")
		return nil
	case p.state == StateClosed:
		return nil
	}

	if err := p.conn.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("apply offer from %s: %w", from, err)
	}
	p.remoteSet = true
	m.flushCandidates(p)

	answer, err := p.conn.CreateAnswer()
	if err != nil {
		return fmt.Errorf("create answer for %s: %w", from, err)
	}
	if err := p.conn.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set answer for %s: %w", from, err)
	}
	if p.state == StateNone {
		m.setState(p, StateNegotiating)
	}
	return m.signal(ctx, models.EventAnswer, from, answer)
}

func (m *Manager) handleAnswer(from string, desc webrtc.SessionDescription) error {
	p, ok := m.get(from)
	if !ok {
		m.logger.Debug().Str("peer", from).Msg("dropping answer from unknown peer")
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.pendingOffer {
		m.logger.Debug().Str("peer", from).Msg("dropping answer, no offer pending")
		return nil
	}
	if err := p.conn.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("apply answer from %s: %w", from, err)
	}
	p.pendingOffer = false
	p.remoteSet = true
	m.flushCandidates(p)
	return nil
}

func (m *Manager) handleCandidate(from string, candidate webrtc.ICECandidateInit) error {
	p, ok := m.get(from)
	if !ok {
		m.logger.Debug().Str("peer", from).Msg("dropping candidate from unknown peer")
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.remoteSet {
		p.queued = append(p.queued, candidate)
		return nil
	}
	if err := p.conn.AddICECandidate(candidate); err != nil {
		return fmt.Errorf("add candidate from %s: %w", from, err)
	}
	return nil
}

// open creates and registers a connection to userID with the local tracks attached.
func (m *Manager) open(userID string, offerer bool) (*remote, error) {
	conn, err := m.factory()
	if err != nil {
		return nil, err
	}
	p := &remote{userID: userID, conn: conn, offerer: offerer}

	m.mu.Lock()
	tracks := append([]webrtc.TrackLocal(nil), m.localTracks...)
	video := m.video
	m.mu.Unlock()

	for _, t := range tracks {
		sender, err := conn.AddTrack(t)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("add %s track for %s: %w", t.Kind(), userID, err)
		}
		if t == video {
			p.videoSender = sender
		}
	}

	conn.OnICECandidate(func(c *webrtc.ICECandidateInit) {
		if c == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), signalTimeout)
		defer cancel()
		if err := m.signal(ctx, models.EventICECandidate, userID, c); err != nil {
			m.logger.Warn().Err(err).Str("peer", userID).Msg("failed to send candidate")
		}
	})
	conn.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		m.connectionStateChanged(p, s)
	})
	conn.OnTrack(func(track *webrtc.TrackRemote) {
		p.mu.Lock()
		closed := p.state == StateClosed
		if !closed {
			p.remoteTracks = append(p.remoteTracks, track)
		}
		p.mu.Unlock()
		if !closed && m.callbacks.OnTrack != nil {
			m.callbacks.OnTrack(userID, track)
		}
	})

	m.mu.Lock()
	m.peers[userID] = p
	m.mu.Unlock()
	return p, nil
}

// offer sends a local offer. Callers hold p.mu.
func (m *Manager) offer(ctx context.Context, p *remote, iceRestart bool) error {
	desc, err := p.conn.CreateOffer(iceRestart)
	if err != nil {
		return fmt.Errorf("create offer for %s: %w", p.userID, err)
	}
	if err := p.conn.SetLocalDescription(desc); err != nil {
		return fmt.Errorf("set offer for %s: %w", p.userID, err)
	}
	p.pendingOffer = true
	if iceRestart {
		m.setState(p, StateRenegotiating)
	} else {
		m.setState(p, StateNegotiating)
	}
	return m.signal(ctx, models.EventOffer, p.userID, desc)
}

func (m *Manager) connectionStateChanged(p *remote, s webrtc.PeerConnectionState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateClosed {
		return
	}

	switch s {
	case webrtc.PeerConnectionStateConnected:
		m.setState(p, StateConnected)

	case webrtc.PeerConnectionStateFailed:
		if p.restarted {
			m.logger.Warn().Str("peer", p.userID).Msg("connection failed after ice restart, closing")
			go m.PeerLeft(p.userID)
			return
		}
		p.restarted = true
		if !p.offerer {
			// the original offerer restarts; accept its next offer
			m.setState(p, StateRenegotiating)
			return
		}
		m.logger.Info().Str("peer", p.userID).Msg("ice failed, restarting")
		ctx, cancel := context.WithTimeout(context.Background(), signalTimeout)
		defer cancel()
		if err := m.offer(ctx, p, true); err != nil {
			m.logger.Warn().Err(err).Str("peer", p.userID).Msg("ice restart failed, closing")
			go m.PeerLeft(p.userID)
		}
	}
}

// flushCandidates applies candidates that arrived before the remote description. Callers hold p.mu.
func (m *Manager) flushCandidates(p *remote) {
	for _, c := range p.queued {
		if err := p.conn.AddICECandidate(c); err != nil {
			m.logger.Warn().Err(err).Str("peer", p.userID).Msg("failed to add queued candidate")
		}
	}
	p.queued = nil
}

func (m *Manager) signal(ctx context.Context, event models.EventName, to string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}
	if err := m.signaler.Send(ctx, event, models.Signal{ToUserID: to, Payload: raw}); err != nil {
		return fmt.Errorf("send %s to %s: %w", event, to, err)
	}
	return nil
}

func (m *Manager) teardown(p *remote) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateClosed {
		return
	}
	if err := p.conn.Close(); err != nil {
		m.logger.Debug().Err(err).Str("peer", p.userID).Msg("error closing peer connection")
	}
	p.remoteTracks = nil
	p.queued = nil
	p.videoSender = nil
	m.setState(p, StateClosed)
}

func (m *Manager) setState(p *remote, s State) {
	if p.state == s {
		return
	}
	p.state = s
	m.logger.Debug().Str("peer", p.userID).Stringer("state", s).Msg("peer state")
	if m.callbacks.OnState != nil {
		m.callbacks.OnState(p.userID, s)
	}
}

func (m *Manager) get(userID string) (*remote, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.peers[userID]
	return p, ok
}

func (m *Manager) snapshot() []*remote {
	out := make([]*remote, 0, len(m.peers))
	for _, p := range m.peers {
		out = append(out, p)
	}
	return out
}

// States reports the negotiation state of every open connection.
func (m *Manager) States() map[string]State {
	m.mu.Lock()
	peers := m.snapshot()
	m.mu.Unlock()

	out := make(map[string]State, len(peers))
	for _, p := range peers {
		p.mu.Lock()
		out[p.userID] = p.state
		p.mu.Unlock()
	}
	return out
}

// Close tears down every connection.
func (m *Manager) Close() {
	m.mu.Lock()
	peers := m.snapshot()
	m.peers = make(map[string]*remote)
	m.mu.Unlock()

	for _, p := range peers {
		m.teardown(p)
	}
}

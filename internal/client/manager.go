package client

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/mossy-p/studyroom-signaling/internal/models"
)

var (
	ErrNotConnected = errors.New("realtime connection is not established")
	ErrStopped      = errors.New("connection manager stopped")
)

// Callbacks observe a Manager. They all run on the event loop goroutine, one at a time.
type Callbacks struct {
	OnStatus func(State, Mode)
	// OnRoomState receives every snapshot, whether pushed or polled.
	OnRoomState func(models.RoomState, Source)
	// OnEvent receives every inbound frame, room-state included.
	OnEvent func(models.Frame)
}

type Options struct {
	RoomID      string
	UserID      string
	DisplayName string

	ReconnectBase time.Duration
	ReconnectMax  time.Duration
	// MaxConnectAttempts consecutive failures switch to polling.
	MaxConnectAttempts int
	PollInterval       time.Duration
}

// Manager owns the transport lifecycle of one room membership.
type Manager struct {
	opts      Options
	dialer    Dialer
	poller    Poller
	callbacks Callbacks
	logger    zerolog.Logger

	outbox  chan sendRequest
	stopped chan struct{}

	state State
	mode  Mode
}

type sendRequest struct {
	frame []byte
	reply chan error
}

type dialResult struct {
	conn Conn
	err  error
}

type pollResult struct {
	state models.RoomState
	err   error
}

func NewManager(opts Options, dialer Dialer, poller Poller, callbacks Callbacks, logger zerolog.Logger) *Manager {
	if opts.ReconnectBase <= 0 {
		opts.ReconnectBase = 500 * time.Millisecond
	}
	if opts.ReconnectMax < opts.ReconnectBase {
		opts.ReconnectMax = 30 * opts.ReconnectBase
	}
	if opts.MaxConnectAttempts <= 0 {
		opts.MaxConnectAttempts = 3
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	return &Manager{
		opts:      opts,
		dialer:    dialer,
		poller:    poller,
		callbacks: callbacks,
		logger:    logger.With().Str("component", "client").Str("room_id", opts.RoomID).Logger(),
		outbox:    make(chan sendRequest),
		stopped:   make(chan struct{}),
	}
}

// Send writes one event on the realtime connection. It fails with
// ErrNotConnected while the manager is reconnecting or polling.
func (m *Manager) Send(ctx context.Context, event models.EventName, data any) error {
	frame, err := models.EncodeFrame(event, data)
	if err != nil {
		return err
	}
	req := sendRequest{frame: frame, reply: make(chan error, 1)}
	select {
	case m.outbox <- req:
	case <-m.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) newBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.opts.ReconnectBase
	b.MaxInterval = m.opts.ReconnectMax
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Run drives the event loop until ctx is cancelled. It may be called once.
func (m *Manager) Run(ctx context.Context) error {
	defer close(m.stopped)

	bo := m.newBackoff()
	dialDone := make(chan dialResult, 1)
	pollDone := make(chan pollResult, 1)

	var (
		conn        Conn
		frames      <-chan []byte
		redial      <-chan time.Time
		pollTicker  *time.Ticker
		pollTick    <-chan time.Time
		dialing     bool
		pollRunning bool
		attempts    int
	)

	startDial := func() {
		dialing = true
		go func() {
			c, err := m.dialer.Dial(ctx)
			dialDone <- dialResult{conn: c, err: err}
		}()
	}
	startPoll := func() {
		if pollRunning {
			return
		}
		pollRunning = true
		go func() {
			st, err := m.poller.Poll(ctx, m.opts.RoomID)
			pollDone <- pollResult{state: st, err: err}
		}()
	}
	stopPolling := func() {
		if pollTicker != nil {
			pollTicker.Stop()
			pollTicker, pollTick = nil, nil
		}
	}
	scheduleRedial := func() {
		wait := bo.NextBackOff()
		m.logger.Debug().Dur("wait", wait).Int("attempts", attempts).Msg("scheduling reconnect")
		redial = time.After(wait)
	}

	m.setStatus(StateConnecting, ModeRealtime)
	startDial()

	for {
		select {
		case <-ctx.Done():
			stopPolling()
			if conn != nil {
				m.sendLeave(conn)
				conn.Close()
			}
			if dialing {
				go func() {
					if res := <-dialDone; res.conn != nil {
						res.conn.Close()
					}
				}()
			}
			m.setStatus(StateDisconnected, m.mode)
			return ctx.Err()

		case res := <-dialDone:
			dialing = false
			if res.err != nil {
				if ctx.Err() != nil {
					continue
				}
				attempts++
				m.logger.Warn().Err(res.err).Int("attempt", attempts).Msg("connect failed")
				if m.mode == ModeRealtime && attempts >= m.opts.MaxConnectAttempts {
					m.logger.Warn().Dur("interval", m.opts.PollInterval).Msg("falling back to polling")
					m.setStatus(StateReconnecting, ModePolling)
					pollTicker = time.NewTicker(m.opts.PollInterval)
					pollTick = pollTicker.C
					startPoll()
				} else if m.state != StateReconnecting {
					m.setStatus(StateReconnecting, m.mode)
				}
				scheduleRedial()
				continue
			}

			conn, frames = res.conn, res.conn.Frames()
			attempts = 0
			bo.Reset()
			stopPolling()
			m.setStatus(StateConnected, ModeRealtime)
			if err := m.join(conn); err != nil {
				m.logger.Warn().Err(err).Msg("failed to send join")
			}

		case <-redial:
			redial = nil
			startDial()

		case raw, ok := <-frames:
			if !ok {
				m.logger.Warn().Err(conn.Err()).Msg("connection lost")
				conn.Close()
				conn, frames = nil, nil
				m.setStatus(StateReconnecting, m.mode)
				scheduleRedial()
				continue
			}
			m.dispatch(raw)

		case <-pollTick:
			startPoll()

		case res := <-pollDone:
			pollRunning = false
			if res.err != nil {
				m.logger.Warn().Err(res.err).Msg("poll failed")
				continue
			}
			if m.mode == ModePolling && m.callbacks.OnRoomState != nil {
				m.callbacks.OnRoomState(res.state, SourcePolling)
			}

		case req := <-m.outbox:
			if conn == nil {
				req.reply <- ErrNotConnected
				continue
			}
			req.reply <- conn.Send(req.frame)
		}
	}
}

func (m *Manager) join(conn Conn) error {
	frame, err := models.EncodeFrame(models.EventJoinRoom, models.JoinRoom{
		RoomID:      m.opts.RoomID,
		UserID:      m.opts.UserID,
		DisplayName: m.opts.DisplayName,
	})
	if err != nil {
		return err
	}
	return conn.Send(frame)
}

func (m *Manager) sendLeave(conn Conn) {
	frame, err := models.EncodeFrame(models.EventLeaveRoom, models.LeaveRoom{})
	if err != nil {
		return
	}
	if err := conn.Send(frame); err != nil {
		m.logger.Debug().Err(err).Msg("failed to send leave")
	}
}

func (m *Manager) dispatch(raw []byte) {
	frame, err := models.DecodeFrame(raw)
	if err != nil {
		m.logger.Warn().Err(err).Msg("dropping malformed frame")
		return
	}

	if frame.Event == models.EventRoomState && m.callbacks.OnRoomState != nil {
		var ev models.RoomStateEvent
		if err := json.Unmarshal(frame.Data, &ev); err != nil {
			m.logger.Warn().Err(err).Msg("dropping malformed room-state")
		} else {
			m.callbacks.OnRoomState(models.RoomState{RoomSnapshot: ev.RoomSnapshot, Timer: ev.Timer, Notes: ev.Notes}, SourceRealtime)
		}
	}
	if m.callbacks.OnEvent != nil {
		m.callbacks.OnEvent(frame)
	}
}

func (m *Manager) setStatus(state State, mode Mode) {
	if m.state == state && m.mode == mode {
		return
	}
	m.state, m.mode = state, mode
	m.logger.Info().Stringer("state", state).Stringer("mode", mode).Msg("connection status")
	if m.callbacks.OnStatus != nil {
		m.callbacks.OnStatus(state, mode)
	}
}

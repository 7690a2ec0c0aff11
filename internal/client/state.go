// Package client keeps a participant attached to a study room across network
// blips, falling back to polling when the websocket cannot be established.
package client

// State is the transport lifecycle of a Manager.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	}
	return "unknown"
}

// Mode says where room snapshots come from.
type Mode int

const (
	ModeRealtime Mode = iota
	// ModePolling serves snapshots from the polling endpoint while the websocket is unreachable.
	ModePolling
)

func (m Mode) String() string {
	if m == ModePolling {
		return "polling"
	}
	return "realtime"
}

// Source tags a room snapshot with the channel that produced it.
type Source string

const (
	SourceRealtime Source = "realtime"
	SourcePolling  Source = "polling"
)

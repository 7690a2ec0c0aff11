package models

import "encoding/json"

// SignalType represents the type of WebRTC signaling message
type SignalType string

const (
	SignalTypeOffer        SignalType = "offer"
	SignalTypeAnswer       SignalType = "answer"
	SignalTypeICECandidate SignalType = "ice-candidate"
)

// Valid reports whether t is one of the relayable negotiation types.
func (t SignalType) Valid() bool {
	switch t {
	case SignalTypeOffer, SignalTypeAnswer, SignalTypeICECandidate:
		return true
	}
	return false
}

// SignalingEnvelope carries WebRTC negotiation data between exactly two participants.
// Payload is opaque to the server: an SDP description or an ICE candidate.
type SignalingEnvelope struct {
	Type       SignalType      `json:"type"`
	RoomID     string          `json:"roomId"`
	FromUserID string          `json:"fromUserId"`
	ToUserID   string          `json:"toUserId"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// Recipient is one live connection a room event can be delivered to.
type Recipient struct {
	ConnectionID string
	UserID       string
}

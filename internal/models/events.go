package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	ErrUnknownEvent   = errors.New("unknown event")
	ErrInvalidPayload = errors.New("invalid event payload")
)

// Payload caps. The validate tags on NotesUpdate and WhiteboardStroke repeat them.
const (
	MaxNotesLength  = 200000 // runes
	MaxStrokePoints = 10000

	// MaxFrameSize fits a notes update of MaxNotesLength runes that all need a
	// six byte JSON escape, and a stroke of MaxStrokePoints full precision points.
	MaxFrameSize int64 = 2 << 20
)

// EventName is the name carried in every websocket frame.
type EventName string

// Client to server.
const (
	EventJoinRoom           EventName = "join-room"
	EventLeaveRoom          EventName = "leave-room"
	EventChatMessage        EventName = "chat-message"
	EventWhiteboardUpdate   EventName = "whiteboard-update"
	EventWhiteboardClear    EventName = "whiteboard-clear"
	EventNotesUpdate        EventName = "notes-update"
	EventTimerStart         EventName = "timer-start"
	EventTimerPause         EventName = "timer-pause"
	EventTimerReset         EventName = "timer-reset"
	EventTimerUpdate        EventName = "timer-update"
	EventOffer              EventName = "offer"
	EventAnswer             EventName = "answer"
	EventICECandidate       EventName = "ice-candidate"
	EventToggleVideo        EventName = "toggle-video"
	EventToggleAudio        EventName = "toggle-audio"
	EventScreenShareStarted EventName = "screen-share-started"
	EventScreenShareStopped EventName = "screen-share-stopped"
)

// Server to client only. Broadcast events reuse the names above.
const (
	EventRoomState   EventName = "room-state"
	EventUserJoined  EventName = "user-joined"
	EventUserLeft    EventName = "user-left"
	EventHostChanged EventName = "host-changed"
	EventRoomDeleted EventName = "room-deleted"
	EventError       EventName = "error"
)

// Frame is the wire envelope for every websocket message.
type Frame struct {
	Event EventName       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// EncodeFrame marshals data under the given event name.
func EncodeFrame(name EventName, data any) ([]byte, error) {
	frame := Frame{Event: name}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", name, err)
		}
		frame.Data = raw
	}
	return json.Marshal(frame)
}

// DecodeFrame parses the envelope without interpreting the payload.
func DecodeFrame(raw []byte) (Frame, error) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if frame.Event == "" {
		return Frame{}, fmt.Errorf("%w: missing event name", ErrInvalidPayload)
	}
	return frame, nil
}

// Inbound is the closed set of client-to-server events.
type Inbound interface {
	EventName() EventName
	inbound()
}

type JoinRoom struct {
	RoomID      string `json:"roomId" validate:"required,max=64"`
	UserID      string `json:"userId" validate:"omitempty,max=128"`
	DisplayName string `json:"displayName" validate:"max=100"`
}

type LeaveRoom struct{}

type ChatSend struct {
	Body string   `json:"body" validate:"required,max=4000"`
	Type ChatType `json:"type" validate:"omitempty,oneof=text system"`
}

type WhiteboardUpdate struct {
	Stroke WhiteboardStroke `json:"stroke" validate:"required"`
}

type WhiteboardClear struct {
	ClearedBy string `json:"clearedBy,omitempty"`
}

type NotesUpdate struct {
	Content string `json:"content" validate:"max=200000"`
}

// TimerAction covers timer-start, timer-pause, timer-reset and timer-update.
type TimerAction struct {
	Action           EventName `json:"-"`
	DurationSeconds  int       `json:"durationSeconds" validate:"gte=0,lte=86400"`
	RemainingSeconds int       `json:"remainingSeconds" validate:"gte=0,lte=86400"`
}

// Signal covers offer, answer and ice-candidate.
type Signal struct {
	Type     SignalType      `json:"-"`
	ToUserID string          `json:"toUserId" validate:"required,max=128"`
	Payload  json.RawMessage `json:"payload" validate:"required"`
}

// ToggleMedia covers toggle-video and toggle-audio.
type ToggleMedia struct {
	Kind    EventName `json:"-"`
	UserID  string    `json:"userId,omitempty"`
	Enabled bool      `json:"enabled"`
}

// ScreenShare covers screen-share-started and screen-share-stopped.
type ScreenShare struct {
	Started bool   `json:"-"`
	UserID  string `json:"userId,omitempty"`
}

func (*JoinRoom) EventName() EventName         { return EventJoinRoom }
func (*LeaveRoom) EventName() EventName        { return EventLeaveRoom }
func (*ChatSend) EventName() EventName         { return EventChatMessage }
func (*WhiteboardUpdate) EventName() EventName { return EventWhiteboardUpdate }
func (*WhiteboardClear) EventName() EventName  { return EventWhiteboardClear }
func (*NotesUpdate) EventName() EventName      { return EventNotesUpdate }
func (e *TimerAction) EventName() EventName    { return e.Action }
func (e *Signal) EventName() EventName         { return EventName(e.Type) }
func (e *ToggleMedia) EventName() EventName    { return e.Kind }

func (e *ScreenShare) EventName() EventName {
	if e.Started {
		return EventScreenShareStarted
	}
	return EventScreenShareStopped
}

func (*JoinRoom) inbound()         {}
func (*LeaveRoom) inbound()        {}
func (*ChatSend) inbound()         {}
func (*WhiteboardUpdate) inbound() {}
func (*WhiteboardClear) inbound()  {}
func (*NotesUpdate) inbound()      {}
func (*TimerAction) inbound()      {}
func (*Signal) inbound()           {}
func (*ToggleMedia) inbound()      {}
func (*ScreenShare) inbound()      {}

var inboundEvents = map[EventName]func() Inbound{
	EventJoinRoom:           func() Inbound { return &JoinRoom{} },
	EventLeaveRoom:          func() Inbound { return &LeaveRoom{} },
	EventChatMessage:        func() Inbound { return &ChatSend{} },
	EventWhiteboardUpdate:   func() Inbound { return &WhiteboardUpdate{} },
	EventWhiteboardClear:    func() Inbound { return &WhiteboardClear{} },
	EventNotesUpdate:        func() Inbound { return &NotesUpdate{} },
	EventTimerStart:         func() Inbound { return &TimerAction{Action: EventTimerStart} },
	EventTimerPause:         func() Inbound { return &TimerAction{Action: EventTimerPause} },
	EventTimerReset:         func() Inbound { return &TimerAction{Action: EventTimerReset} },
	EventTimerUpdate:        func() Inbound { return &TimerAction{Action: EventTimerUpdate} },
	EventOffer:              func() Inbound { return &Signal{Type: SignalTypeOffer} },
	EventAnswer:             func() Inbound { return &Signal{Type: SignalTypeAnswer} },
	EventICECandidate:       func() Inbound { return &Signal{Type: SignalTypeICECandidate} },
	EventToggleVideo:        func() Inbound { return &ToggleMedia{Kind: EventToggleVideo} },
	EventToggleAudio:        func() Inbound { return &ToggleMedia{Kind: EventToggleAudio} },
	EventScreenShareStarted: func() Inbound { return &ScreenShare{Started: true} },
	EventScreenShareStopped: func() Inbound { return &ScreenShare{Started: false} },
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// report json field names in validation errors
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// DecodeInbound parses and validates one client frame into its typed variant.
func DecodeInbound(raw []byte) (Inbound, error) {
	frame, err := DecodeFrame(raw)
	if err != nil {
		return nil, err
	}

	newEvent, ok := inboundEvents[frame.Event]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, frame.Event)
	}

	ev := newEvent()
	if len(frame.Data) > 0 && string(frame.Data) != "null" {
		if err := json.Unmarshal(frame.Data, ev); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, frame.Event, err)
		}
	}
	if err := validate.Struct(ev); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, frame.Event, err)
	}
	return ev, nil
}

// Outbound payloads.

// RoomStateEvent is sent to a joiner with backfill and to everyone on presence changes without it.
type RoomStateEvent struct {
	RoomSnapshot
	Chat    []ChatMessage      `json:"chat,omitempty"`
	Strokes []WhiteboardStroke `json:"strokes,omitempty"`
	Notes   *NotesDocument     `json:"notes,omitempty"`
	Timer   *TimerState        `json:"timer,omitempty"`
}

type UserJoinedEvent struct {
	Participant Participant `json:"participant"`
}

type UserLeftEvent struct {
	UserID       string `json:"userId"`
	ConnectionID string `json:"connectionId"`
}

type HostChangedEvent struct {
	HostUserID         string `json:"hostUserId"`
	PreviousHostUserID string `json:"previousHostUserId,omitempty"`
}

type RoomDeletedEvent struct {
	RoomID    string `json:"roomId"`
	DeletedBy string `json:"deletedBy"`
}

// ErrorEvent rejects a client event explicitly instead of dropping it.
type ErrorEvent struct {
	Code    string    `json:"code"`
	Message string    `json:"message"`
	Event   EventName `json:"event,omitempty"`
}

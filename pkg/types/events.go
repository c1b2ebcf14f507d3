package types

import (
	"encoding/json"
	"fmt"
)

// InboundEvent is the closed set of client-to-server events.
// Only types in this package can implement it.
type InboundEvent interface {
	EventType() string
	Validate() error
	inbound()
}

type Identity struct {
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

type JoinRoom struct {
	RoomID   string   `json:"roomId"`
	Identity Identity `json:"identity"`
	// Username is accepted when identity.name is absent.
	Username string `json:"username,omitempty"`
}

type FileAdd struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Language string `json:"language"`
	Content  string `json:"content"`
}

type FileDelete struct {
	ID string `json:"id"`
}

type FileUpdate struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

type FileRename struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type LanguageChange struct {
	ID       string `json:"id"`
	Language string `json:"language"`
}

type CursorMove struct {
	Position json.RawMessage `json:"position"`
	FileID   string          `json:"fileId,omitempty"`
}

type ChatSend struct {
	Text string `json:"text"`
}

// Signal is an offer, answer or ICE candidate addressed to one peer.
// FUNCTIONAL DISCOVERY: Only target is read. Every other payload field (sdp,
// candidate, sdpMid, sdpMLineIndex or anything a client adds) is kept verbatim
// in Fields and forwarded untouched.
type Signal struct {
	Kind   string
	Target string
	Fields map[string]json.RawMessage
}

func (s *Signal) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	s.Target = ""
	if raw, ok := fields["target"]; ok {
		if err := json.Unmarshal(raw, &s.Target); err != nil {
			return fmt.Errorf("target: %w", err)
		}
	}
	delete(fields, "target")
	// from is attached by the server; a client cannot claim it.
	delete(fields, "from")
	s.Fields = fields
	return nil
}

// RelayPayload returns the forwarded fields with from set to fromID.
func (s *Signal) RelayPayload(fromID string) SignalRelayPayload {
	out := make(SignalRelayPayload, len(s.Fields)+1)
	for k, v := range s.Fields {
		out[k] = v
	}
	from, _ := json.Marshal(fromID)
	out["from"] = from
	return out
}

type RunCode struct {
	Language string `json:"language"`
	Code     string `json:"code"`
	FileName string `json:"fileName"`
}

func (*JoinRoom) EventType() string       { return EventJoinRoom }
func (*FileAdd) EventType() string        { return EventFileAdd }
func (*FileDelete) EventType() string     { return EventFileDelete }
func (*FileUpdate) EventType() string     { return EventFileUpdate }
func (*FileRename) EventType() string     { return EventFileRename }
func (*LanguageChange) EventType() string { return EventLanguageChange }
func (*CursorMove) EventType() string     { return EventCursorMove }
func (*ChatSend) EventType() string       { return EventChatMessage }
func (s *Signal) EventType() string       { return s.Kind }
func (*RunCode) EventType() string        { return EventRunCode }

func (*JoinRoom) inbound()       {}
func (*FileAdd) inbound()        {}
func (*FileDelete) inbound()     {}
func (*FileUpdate) inbound()     {}
func (*FileRename) inbound()     {}
func (*LanguageChange) inbound() {}
func (*CursorMove) inbound()     {}
func (*ChatSend) inbound()       {}
func (*Signal) inbound()         {}
func (*RunCode) inbound()        {}

// DecodeInbound parses a raw frame into a validated InboundEvent.
// ARCHITECTURAL DISCOVERY: Decoding happens once at the socket boundary so
// handlers never see untyped payloads. Unknown types and malformed payloads
// are reported as errors; callers drop the frame and keep the connection.
func DecodeInbound(data []byte) (InboundEvent, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	var event InboundEvent
	switch env.Type {
	case EventJoinRoom:
		event = &JoinRoom{}
	case EventFileAdd:
		event = &FileAdd{}
	case EventFileDelete:
		event = &FileDelete{}
	case EventFileUpdate:
		event = &FileUpdate{}
	case EventFileRename:
		event = &FileRename{}
	case EventLanguageChange:
		event = &LanguageChange{}
	case EventCursorMove:
		event = &CursorMove{}
	case EventChatMessage:
		event = &ChatSend{}
	case EventSignalOffer, EventSignalAnswer, EventSignalICE:
		event = &Signal{Kind: env.Type}
	case EventRunCode:
		event = &RunCode{}
	case "":
		return nil, ErrMissingType
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, env.Type)
	}

	if len(env.Payload) == 0 || string(env.Payload) == "null" {
		return nil, ErrMissingPayload
	}
	if err := json.Unmarshal(env.Payload, event); err != nil {
		return nil, fmt.Errorf("%w: %s payload: %v", ErrMalformedFrame, env.Type, err)
	}
	if err := event.Validate(); err != nil {
		return nil, err
	}
	return event, nil
}

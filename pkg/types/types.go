package types

import (
	"encoding/json"
	"time"
)

// ARCHITECTURAL DISCOVERY: Every frame on the wire is a {type, payload} envelope.
// Inbound types form a closed set decoded once at the socket boundary;
// outbound types are produced only by the server.
const (
	EventJoinRoom       = "JOIN_ROOM"
	EventFileAdd        = "FILE_ADD"
	EventFileDelete     = "FILE_DELETE"
	EventFileUpdate     = "FILE_UPDATE"
	EventFileRename     = "FILE_RENAME"
	EventLanguageChange = "LANGUAGE_CHANGE"
	EventCursorMove     = "CURSOR_MOVE"
	EventChatMessage    = "CHAT_MESSAGE"
	EventSignalOffer    = "SIGNAL_OFFER"
	EventSignalAnswer   = "SIGNAL_ANSWER"
	EventSignalICE      = "SIGNAL_ICE"
	EventRunCode        = "RUN_CODE"
)

const (
	MessageConnected       = "CONNECTED"
	MessageRoomJoined      = "ROOM_JOINED"
	MessageChatHistory     = "CHAT_HISTORY"
	MessageUserJoined      = "USER_JOINED"
	MessageUserLeft        = "USER_LEFT"
	MessageStateUpdate     = "STATE_UPDATE"
	MessageFileUpdate      = "FILE_UPDATE"
	MessageCursorUpdate    = "CURSOR_UPDATE"
	MessageNewChatMessage  = "NEW_CHAT_MESSAGE"
	MessageUserRanCode     = "USER_RAN_CODE"
	MessageExecutionResult = "EXECUTION_RESULT"
)

// Envelope is the raw wire frame before the payload is interpreted.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Message is an outbound frame.
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// NewMessage wraps a payload in an outbound envelope.
func NewMessage(messageType string, payload interface{}) *Message {
	return &Message{Type: messageType, Payload: payload}
}

// Participant is a connection's presence inside a room.
// FUNCTIONAL DISCOVERY: Identity is fixed at join time and attached by the
// server to chat, cursor and execution notices; clients cannot spoof it.
type Participant struct {
	ConnectionID string    `json:"connectionId"`
	DisplayName  string    `json:"displayName"`
	Color        string    `json:"color"`
	JoinedAt     time.Time `json:"joinedAt"`
}

// FileRecord is one shared document. Content is the full authoritative text.
type FileRecord struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Language       string `json:"language"`
	Content        string `json:"content"`
	LastModifiedBy string `json:"lastModifiedBy,omitempty"`
}

// ChatMessage is a chat line with the sender identity attached by the server.
type ChatMessage struct {
	ID        string      `json:"id"`
	RoomID    string      `json:"roomId"`
	User      Participant `json:"user"`
	Text      string      `json:"text"`
	Timestamp time.Time   `json:"timestamp"`
	// RoomInstance scopes storage to one lifetime of RoomID.
	RoomInstance string `json:"-"`
}

// Outbound payloads

type ConnectedPayload struct {
	ConnectionID string `json:"connectionId"`
}

type RoomJoinedPayload struct {
	RoomID       string        `json:"roomId"`
	Files        []FileRecord  `json:"files"`
	Participants []Participant `json:"participants"`
	Self         Participant   `json:"self"`
}

type ChatHistoryPayload struct {
	RoomID   string        `json:"roomId"`
	Messages []ChatMessage `json:"messages"`
}

type UserJoinedPayload struct {
	Participant Participant `json:"participant"`
}

type UserLeftPayload struct {
	ConnectionID string `json:"connectionId"`
}

type StateUpdatePayload struct {
	Files        []FileRecord  `json:"files"`
	Participants []Participant `json:"participants"`
}

type FileUpdatedPayload struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	UpdatedBy string `json:"updatedBy"`
}

type CursorUpdatePayload struct {
	Position  json.RawMessage `json:"position"`
	FileID    string          `json:"fileId,omitempty"`
	UserID    string          `json:"userId"`
	UserName  string          `json:"userName"`
	UserColor string          `json:"userColor"`
}

// SignalRelayPayload is the sender's signal payload minus target, plus the
// server-attached "from".
type SignalRelayPayload map[string]json.RawMessage

type UserRanCodePayload struct {
	User     Participant `json:"user"`
	FileName string      `json:"fileName"`
}

type ExecutionResultPayload struct {
	JobID         string `json:"jobId"`
	Stdout        string `json:"stdout"`
	Stderr        string `json:"stderr"`
	CompileOutput string `json:"compileOutput"`
	Status        string `json:"status"`
	HasError      bool   `json:"hasError"`
	TimedOut      bool   `json:"timedOut"`
}

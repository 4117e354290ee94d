package models

import (
	"encoding/json"
	"errors"
)

// Frame types accepted from clients. The typing pair is kebab-case because
// that is what deployed clients already send; everything else is upper snake.
const (
	TypeUserRegister   = "USER_REGISTER"
	TypeNicknameUpdate = "NICKNAME_UPDATE"
	TypeStatusUpdate   = "STATUS_UPDATE"
	TypeAddFriend      = "ADD_FRIEND"
	TypeMessageCreate  = "MESSAGE_CREATE"
	TypeMessageEdit    = "MESSAGE_EDIT"
	TypeCallOffer      = "CALL_OFFER"
	TypeCallAnswer     = "CALL_ANSWER"
	TypeICECandidate   = "ICE_CANDIDATE"
	TypeCallEnd        = "CALL_END"
	TypeStartTyping    = "start-typing"
	TypeStopTyping     = "stop-typing"
)

// Event types pushed to clients. MESSAGE_CREATE, MESSAGE_EDIT and
// ICE_CANDIDATE reuse the inbound spelling in both directions.
const (
	EventUserRegistered   = "USER_REGISTERED"
	EventUsersList        = "USERS_LIST"
	EventFriendsList      = "FRIENDS_LIST"
	EventUserConnected    = "USER_CONNECTED"
	EventUserDisconnected = "USER_DISCONNECTED"
	EventFriendOnline     = "FRIEND_ONLINE"
	EventFriendOffline    = "FRIEND_OFFLINE"
	EventFriendRequest    = "FRIEND_REQUEST"
	EventFriendAccepted   = "FRIEND_ACCEPTED"
	EventStatusUpdate     = "USER_STATUS_UPDATE"
	EventIncomingCall     = "INCOMING_CALL"
	EventCallAnswered     = "CALL_ANSWERED"
	EventCallEnded        = "CALL_ENDED"
	EventStartTyping      = "start-typing"
	EventStopTyping       = "stop-typing"
	EventError            = "ERROR"
)

var ErrEmptyType = errors.New("envelope has no type")

// Envelope is the single wire frame shape used in both directions.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Event builds an outbound envelope around payload. All payload types used
// on the wire are plain data structs, so a marshal failure is a programming
// error; it is surfaced to the client as an ERROR frame instead of a panic.
func Event(typ string, payload any) Envelope {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw, _ = json.Marshal(ErrorPayload{Code: "encode_failed", Message: err.Error()})
		return Envelope{Type: EventError, Payload: raw}
	}
	return Envelope{Type: typ, Payload: raw}
}

// DecodeEnvelope parses a raw client frame. Payload is kept raw so the
// dispatcher can decode it into the type the frame's handler expects.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, err
	}
	if env.Type == "" {
		return Envelope{}, ErrEmptyType
	}
	return env, nil
}

// Encode renders the envelope for the wire.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodePayload unmarshals the raw payload into a handler's typed payload.
// A missing payload decodes into the zero value.
func (e Envelope) DecodePayload(into any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(e.Payload, into)
}

// Inbound payloads. Field names are camelCase on the wire; that is the
// contract the clients were built against.
type UserRegisterPayload struct {
	UserID   string `json:"userId,omitempty"`
	UserCode string `json:"userCode,omitempty"` // legacy alias for userId
	Username string `json:"username,omitempty"`
}

// SentID returns whichever identity field the client filled in.
func (p UserRegisterPayload) SentID() string {
	if p.UserID != "" {
		return p.UserID
	}
	return p.UserCode
}

type NicknameUpdatePayload struct {
	Nickname string `json:"nickname"`
}

type StatusUpdatePayload struct {
	Status Status `json:"status"`
}

type AddFriendPayload struct {
	FriendCode string `json:"friendCode"`
}

type MessageCreatePayload struct {
	ChannelID   string       `json:"channelId"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

type MessageEditPayload struct {
	ChannelID string `json:"channelId"`
	MessageID string `json:"messageId"`
	Content   string `json:"content"`
}

// CallPayload carries every signaling frame. SDP and Candidate are relayed
// verbatim; the server never inspects them.
type CallPayload struct {
	TargetUserID string          `json:"targetUserId"`
	CallType     string          `json:"callType,omitempty"`
	SDP          json.RawMessage `json:"sdp,omitempty"`
	Candidate    json.RawMessage `json:"candidate,omitempty"`
}

type TypingPayload struct {
	ChannelID string `json:"channelId"`
}

// Outbound payloads.
type UserPayload struct {
	User User `json:"user"`
}

type UsersListPayload struct {
	Users []User `json:"users"`
}

type FriendsListPayload struct {
	Friends []FriendEntry `json:"friends"`
}

// FriendEntry is a relation as seen from one side: the other user plus the
// relation state.
type FriendEntry struct {
	User      User         `json:"user"`
	Status    FriendStatus `json:"status"`
	Requested bool         `json:"requested"` // true when the viewer sent the request
}

type TypingEventPayload struct {
	ChannelID string `json:"channelId"`
	UserID    string `json:"userId"`
}

// CallEventPayload is the relayed form of CallPayload with the sender
// substituted for the target.
type CallEventPayload struct {
	FromUserID string          `json:"fromUserId"`
	CallType   string          `json:"callType,omitempty"`
	SDP        json.RawMessage `json:"sdp,omitempty"`
	Candidate  json.RawMessage `json:"candidate,omitempty"`
}

type ErrorPayload struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	TargetUserID string `json:"targetUserId,omitempty"`
}

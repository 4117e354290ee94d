package models

import "time"

// Status is a user's presence status. Absence from the connection registry
// always reads as offline regardless of the stored value.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
	StatusIdle    Status = "idle"
	StatusDND     Status = "dnd"
)

// Valid reports whether s is one of the recognized status values.
func (s Status) Valid() bool {
	switch s {
	case StatusOnline, StatusOffline, StatusIdle, StatusDND:
		return true
	}
	return false
}

type User struct {
	ID       string    `json:"id"`
	Username string    `json:"username"`
	Status   Status    `json:"status"`
	LastSeen time.Time `json:"last_seen,omitempty"`
}

// Attachment is an opaque reference carried with a message. The server
// relays attachment metadata verbatim; blob storage is out of scope here.
type Attachment struct {
	URL      string `json:"url"`
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

type Message struct {
	ID          string       `json:"id"`
	ChannelID   string       `json:"channel_id"`
	AuthorID    string       `json:"author_id"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	Edited      bool         `json:"edited,omitempty"`
	EditedAt    *time.Time   `json:"edited_at,omitempty"`
}

type FriendStatus string

const (
	FriendPending  FriendStatus = "pending"
	FriendAccepted FriendStatus = "accepted"
	FriendBlocked  FriendStatus = "blocked"
)

// FriendRelation is the single relation record for an unordered user pair.
// UserA and UserB are kept in lexicographic order so the pair has one key.
type FriendRelation struct {
	UserA       string       `json:"user_a"`
	UserB       string       `json:"user_b"`
	Status      FriendStatus `json:"status"`
	RequestedBy string       `json:"requested_by"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Other returns the member of the pair that is not id.
func (r FriendRelation) Other(id string) string {
	if r.UserA == id {
		return r.UserB
	}
	return r.UserA
}

// Request/Response structures
type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

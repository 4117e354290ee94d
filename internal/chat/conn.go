// Package chat holds the server's realtime core: who is connected, which
// rooms exist, who hears what, and how messages and call signals travel
// between users. The gateway feeds it decoded frames and provides the
// Conn implementation; everything here is transport-agnostic.
package chat

import (
	"errors"

	"parley/internal/models"
)

// Conn is one user's attached client. Send must not block: it enqueues
// the envelope for the connection's writer and reports failure when the
// queue is full or the connection is closing.
type Conn interface {
	Send(env models.Envelope) error
	IsOpen() bool
	Close() error
}

var (
	ErrConnClosed    = errors.New("chat: connection closed")
	ErrSendQueueFull = errors.New("chat: send queue full")

	ErrEmptyMessage     = errors.New("chat: empty message")
	ErrBadChannel       = errors.New("chat: invalid channel")
	ErrUnknownUser      = errors.New("chat: unknown user")
	ErrNotAuthor        = errors.New("chat: only the author can edit a message")
	ErrMessageNotFound  = errors.New("chat: message not found")
	ErrTargetOffline    = errors.New("chat: target user offline")
	ErrSelfFriend       = errors.New("chat: cannot friend yourself")
	ErrFriendBlocked    = errors.New("chat: friend relation blocked")
	ErrBadStatus        = errors.New("chat: invalid status")
	ErrIdentityMismatch = errors.New("chat: frame identity does not match connection")
)

// Package store persists the chat state that must outlive a process
// restart: user profiles, room message logs and friend relations. Values
// are JSON blobs keyed by well-known prefixes, so every backend is a
// plain key-value store.
package store

import (
	"context"
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("store: key not found")

type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error

	// Scan returns every key under prefix with its value. Used to warm
	// the in-memory state at startup.
	Scan(ctx context.Context, prefix string) (map[string][]byte, error)

	Close() error
}

// Key builders. Every persisted object lives under one of these prefixes.
func UserKey(userID string) string     { return "username:" + userID }
func MessagesKey(roomID string) string { return "messages:" + roomID }
func FriendsKey(userID string) string  { return "friends:" + userID }

// Open builds the backend named by kind. dsn is the sqlite path or the
// redis URL; the memory backend ignores it.
func Open(kind, dsn string) (Store, error) {
	switch kind {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite":
		return OpenSQLite(dsn)
	case "redis":
		return OpenRedis(dsn)
	default:
		return nil, fmt.Errorf("store: unknown backend %q", kind)
	}
}

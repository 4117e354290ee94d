package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"parley/internal/models"
	"parley/internal/store"
)

const (
	// GlobalChannelID is the broadcast room every client knows without
	// being told. It doubles as the presence scope in global mode.
	GlobalChannelID = "global"

	// dmChannelPrefix marks viewer-relative direct channel ids: a client
	// talks to "dm-<peer>".
	dmChannelPrefix = "dm-"

	// dmRoomPrefix marks canonical direct room ids: both members' DMs
	// land in "dm:<lo>:<hi>" with the pair in lexicographic order.
	dmRoomPrefix = "dm:"
)

// CanonicalRoomID maps the channel id a client used to the room key the
// server stores under. Direct channels fold the viewer and peer into one
// unordered pair; everything else passes through.
func CanonicalRoomID(viewerID, channelID string) (string, error) {
	if channelID == "" {
		return "", ErrBadChannel
	}
	// Canonical ids are server-internal and never valid from a client.
	if strings.HasPrefix(channelID, dmRoomPrefix) {
		return "", ErrBadChannel
	}
	peer, ok := strings.CutPrefix(channelID, dmChannelPrefix)
	if !ok {
		return channelID, nil
	}
	if peer == "" || peer == viewerID {
		return "", ErrBadChannel
	}
	return dmRoomKey(viewerID, peer), nil
}

func dmRoomKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return dmRoomPrefix + a + ":" + b
}

// DMMembers splits a canonical direct room id into its two members.
func DMMembers(roomID string) (a, b string, ok bool) {
	rest, found := strings.CutPrefix(roomID, dmRoomPrefix)
	if !found {
		return "", "", false
	}
	a, b, ok = strings.Cut(rest, ":")
	if !ok || a == "" || b == "" {
		return "", "", false
	}
	return a, b, true
}

// IsDirectRoom reports whether roomID is a canonical direct room id.
func IsDirectRoom(roomID string) bool {
	return strings.HasPrefix(roomID, dmRoomPrefix)
}

// ChannelFor rewrites a canonical room id into the id viewerID knows the
// room by. Group rooms keep their id; a direct room becomes "dm-<peer>".
func ChannelFor(viewerID, roomID string) string {
	a, b, ok := DMMembers(roomID)
	if !ok {
		return roomID
	}
	peer := a
	if viewerID == a {
		peer = b
	}
	return dmChannelPrefix + peer
}

// RoomKind separates rooms whose audience is a resolution rule from
// rooms that carry their members with them.
type RoomKind int

const (
	// RoomBroadcast rooms have no member set of their own; the audience
	// rule in force decides who hears them.
	RoomBroadcast RoomKind = iota
	// RoomDirect rooms are pinned to the pair encoded in their id.
	RoomDirect
)

// Room is one append-only message log with a bounded tail. All reads and
// writes go through the room mutex; Submit holds it across append and
// fan-out so every receiver observes the same order.
type Room struct {
	id      string
	kind    RoomKind
	limit   int
	members map[string]struct{}

	mu  sync.Mutex
	log []models.Message
}

func newRoom(id string, limit int, history []models.Message) *Room {
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	r := &Room{id: id, kind: RoomBroadcast, limit: limit}
	if a, b, ok := DMMembers(id); ok {
		r.kind = RoomDirect
		r.members = map[string]struct{}{a: {}, b: {}}
	}
	r.log = append(r.log, history...)
	return r
}

func (r *Room) ID() string     { return r.id }
func (r *Room) Kind() RoomKind { return r.kind }

// Members returns the room's recorded member set, sorted. Broadcast
// rooms record none; their audience comes from the resolution rule.
func (r *Room) Members() []string {
	if len(r.members) == 0 {
		return nil
	}
	out := make([]string, 0, len(r.members))
	for id := range r.members {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// AppendThen appends msg and runs emit before releasing the room lock.
func (r *Room) AppendThen(msg models.Message, emit func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log = append(r.log, msg)
	if len(r.log) > r.limit {
		r.log = r.log[len(r.log)-r.limit:]
	}
	if emit != nil {
		emit()
	}
}

// Append stores msg, evicting from the head once the room is full.
func (r *Room) Append(msg models.Message) {
	r.AppendThen(msg, nil)
}

// EditThen rewrites a message's content in place and hands the updated
// copy to emit while still holding the room lock. Only the author may
// edit; evicted messages are gone and report ErrMessageNotFound.
func (r *Room) EditThen(messageID, editorID, content string, now time.Time, emit func(models.Message)) (models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.log {
		if r.log[i].ID != messageID {
			continue
		}
		if r.log[i].AuthorID != editorID {
			return models.Message{}, ErrNotAuthor
		}
		edited := now
		r.log[i].Content = content
		r.log[i].Edited = true
		r.log[i].EditedAt = &edited
		msg := r.log[i]
		if emit != nil {
			emit(msg)
		}
		return msg, nil
	}
	return models.Message{}, ErrMessageNotFound
}

// History returns a copy of the retained log, oldest first.
func (r *Room) History() []models.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Message, len(r.log))
	copy(out, r.log)
	return out
}

func (r *Room) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.log)
}

// Rooms creates rooms on first use and carries their logs to and from
// the store. Persistence is write-behind and best effort; the in-memory
// log is the source of truth while the process lives.
type Rooms struct {
	limit int
	store store.Store
	log   *slog.Logger

	mu    sync.RWMutex
	rooms map[string]*Room
}

const persistTimeout = 5 * time.Second

func NewRooms(limit int, st store.Store, log *slog.Logger) *Rooms {
	return &Rooms{
		limit: limit,
		store: st,
		log:   log,
		rooms: make(map[string]*Room),
	}
}

// Get returns the room for a canonical id, creating it and loading any
// persisted history on first use.
func (rs *Rooms) Get(roomID string) *Room {
	rs.mu.RLock()
	room, ok := rs.rooms[roomID]
	rs.mu.RUnlock()
	if ok {
		return room
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()
	if room, ok := rs.rooms[roomID]; ok {
		return room
	}
	room = newRoom(roomID, rs.limit, rs.loadHistory(roomID))
	rs.rooms[roomID] = room
	return room
}

func (rs *Rooms) loadHistory(roomID string) []models.Message {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	raw, err := rs.store.Get(ctx, store.MessagesKey(roomID))
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		rs.log.Warn("failed to load room history", "room", roomID, "error", err)
		return nil
	}

	var history []models.Message
	if err := json.Unmarshal(raw, &history); err != nil {
		rs.log.Warn("discarding corrupt room history", "room", roomID, "error", err)
		return nil
	}
	return history
}

// Persist writes the room's retained log to the store.
func (rs *Rooms) Persist(ctx context.Context, room *Room) error {
	raw, err := json.Marshal(room.History())
	if err != nil {
		return err
	}
	return rs.store.Put(ctx, store.MessagesKey(room.id), raw)
}

// PersistAsync snapshots and writes the room log without blocking the
// caller. Failures are logged and the next append retries.
func (rs *Rooms) PersistAsync(room *Room) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := rs.Persist(ctx, room); err != nil {
			rs.log.Warn("failed to persist room", "room", room.id, "error", err)
		}
	}()
}

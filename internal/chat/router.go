package chat

import (
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"parley/internal/metrics"
	"parley/internal/models"
)

// Router accepts messages from the gateway, stamps and stores them, and
// fans copies out to everyone in the room. Fan-out happens while the
// room lock is held, so two racing submitters cannot interleave their
// deliveries; the sends themselves only enqueue and never block.
type Router struct {
	registry  *Registry
	rooms     *Rooms
	audience  *Audience
	directory *Directory
	metrics   *metrics.Metrics
	log       *slog.Logger

	now   func() time.Time
	newID func() string
}

func NewRouter(registry *Registry, rooms *Rooms, audience *Audience, directory *Directory, m *metrics.Metrics, log *slog.Logger) *Router {
	return &Router{
		registry:  registry,
		rooms:     rooms,
		audience:  audience,
		directory: directory,
		metrics:   m,
		log:       log,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// Submit validates, stores and distributes one message. The returned
// message carries the canonical room id; each recipient's copy has the
// channel rewritten to their view of it.
func (r *Router) Submit(senderID string, payload models.MessageCreatePayload) (models.Message, error) {
	content := strings.TrimSpace(payload.Content)
	if content == "" && len(payload.Attachments) == 0 {
		return models.Message{}, ErrEmptyMessage
	}

	roomID, err := CanonicalRoomID(senderID, payload.ChannelID)
	if err != nil {
		return models.Message{}, err
	}
	if peer, ok := dmPeer(roomID, senderID); ok && !r.directory.Exists(peer) {
		return models.Message{}, ErrUnknownUser
	}

	msg := models.Message{
		ID:          r.newID(),
		ChannelID:   roomID,
		AuthorID:    senderID,
		Content:     content,
		Attachments: payload.Attachments,
		CreatedAt:   r.now().UTC(),
	}

	room := r.rooms.Get(roomID)
	members := r.audience.RoomMembers(roomID, senderID)
	room.AppendThen(msg, func() {
		r.fanOut(models.TypeMessageCreate, members, msg)
	})
	r.rooms.PersistAsync(room)

	r.metrics.MessageRouted()
	r.log.Debug("message routed", "room", roomID, "author", senderID, "id", msg.ID)
	return msg, nil
}

// Edit rewrites one of the editor's own messages and fans the edit out
// to the same audience a new message would reach.
func (r *Router) Edit(editorID string, payload models.MessageEditPayload) (models.Message, error) {
	content := strings.TrimSpace(payload.Content)
	if content == "" {
		return models.Message{}, ErrEmptyMessage
	}
	if payload.MessageID == "" {
		return models.Message{}, ErrMessageNotFound
	}

	roomID, err := CanonicalRoomID(editorID, payload.ChannelID)
	if err != nil {
		return models.Message{}, err
	}

	room := r.rooms.Get(roomID)
	members := r.audience.RoomMembers(roomID, editorID)
	msg, err := room.EditThen(payload.MessageID, editorID, content, r.now().UTC(), func(updated models.Message) {
		r.fanOut(models.TypeMessageEdit, members, updated)
	})
	if err != nil {
		return models.Message{}, err
	}
	r.rooms.PersistAsync(room)

	r.log.Debug("message edited", "room", roomID, "author", editorID, "id", msg.ID)
	return msg, nil
}

// History returns the retained log of a channel as viewerID sees it,
// chronological, trimmed to the limit most recent entries when limit
// is positive.
func (r *Router) History(viewerID, channelID string, limit int) ([]models.Message, error) {
	roomID, err := CanonicalRoomID(viewerID, channelID)
	if err != nil {
		return nil, err
	}

	history := r.rooms.Get(roomID).History()
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	viewerChannel := ChannelFor(viewerID, roomID)
	for i := range history {
		history[i].ChannelID = viewerChannel
	}
	return history, nil
}

func (r *Router) fanOut(eventType string, members []string, msg models.Message) {
	for _, member := range members {
		view := msg
		view.ChannelID = ChannelFor(member, msg.ChannelID)
		r.registry.Deliver(member, models.Event(eventType, view))
	}
}

// dmPeer returns the other member of a direct room, when roomID is one.
func dmPeer(roomID, selfID string) (string, bool) {
	a, b, ok := DMMembers(roomID)
	if !ok {
		return "", false
	}
	if selfID == a {
		return b, true
	}
	return a, true
}

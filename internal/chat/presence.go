package chat

import (
	"log/slog"
	"sync"
	"time"

	"parley/internal/metrics"
	"parley/internal/models"
)

// Presence turns connection and profile changes into the events peers
// see: online and offline transitions, status changes, nickname changes
// and typing indicators. Typing carries a TTL so a client that dies
// mid-keystroke stops "typing" on its own.
type Presence struct {
	registry  *Registry
	directory *Directory
	friends   *Friends
	audience  *Audience
	typingTTL time.Duration
	metrics   *metrics.Metrics
	log       *slog.Logger

	mu     sync.Mutex
	typing map[typingKey]*time.Timer
}

type typingKey struct {
	roomID string
	userID string
}

func NewPresence(registry *Registry, directory *Directory, friends *Friends, audience *Audience, typingTTL time.Duration, m *metrics.Metrics, log *slog.Logger) *Presence {
	return &Presence{
		registry:  registry,
		directory: directory,
		friends:   friends,
		audience:  audience,
		typingTTL: typingTTL,
		metrics:   m,
		log:       log,
		typing:    make(map[typingKey]*time.Timer),
	}
}

// HandleConnect marks userID online, announces the transition to the
// audience and sends the newcomer the current online and friends
// snapshots.
func (p *Presence) HandleConnect(userID string) {
	p.directory.Ensure(userID)
	user, err := p.directory.SetStatus(userID, models.StatusOnline)
	if err != nil {
		p.log.Error("failed to mark user online", "user", userID, "error", err)
		return
	}

	event := models.EventUserConnected
	if p.audience.FriendsOnly() {
		event = models.EventFriendOnline
	}
	p.fanToPeers(userID, models.Event(event, models.UserPayload{User: user}))
	p.metrics.PresenceEvent(event)

	p.sendSnapshots(userID)
	p.log.Info("user connected", "user", userID, "online", p.registry.Count())
}

// HandleRejoin serves a connection that replaced a live one. The user
// never read as offline, so nothing is announced; the new connection
// still needs the snapshots.
func (p *Presence) HandleRejoin(userID string) {
	p.directory.Ensure(userID)
	p.sendSnapshots(userID)
	p.log.Info("user rejoined", "user", userID)
}

func (p *Presence) sendSnapshots(userID string) {
	p.registry.Deliver(userID, models.Event(models.EventUsersList,
		models.UsersListPayload{Users: p.onlineUsers(userID)}))
	p.registry.Deliver(userID, models.Event(models.EventFriendsList,
		models.FriendsListPayload{Friends: p.friendEntries(userID)}))
}

// HandleDisconnect clears the user's typing state, stamps last-seen and
// announces the offline transition. The registry entry is already gone
// by the time this runs.
func (p *Presence) HandleDisconnect(userID string) {
	p.clearTyping(userID)

	now := time.Now().UTC()
	p.directory.Touch(userID, now)
	user, err := p.directory.SetStatus(userID, models.StatusOffline)
	if err != nil {
		p.log.Error("failed to mark user offline", "user", userID, "error", err)
		return
	}
	user.LastSeen = now

	event := models.EventUserDisconnected
	if p.audience.FriendsOnly() {
		event = models.EventFriendOffline
	}
	p.fanToPeers(userID, models.Event(event, models.UserPayload{User: user}))
	p.metrics.PresenceEvent(event)

	p.log.Info("user disconnected", "user", userID, "online", p.registry.Count())
}

// Profile returns userID's directory entry, creating a guest profile
// on first sight. The gateway acks a new connection with it.
func (p *Presence) Profile(userID string) models.User {
	return p.directory.Ensure(userID)
}

// RegisterProfile handles the register frame an established connection
// sends. Identity is fixed at upgrade time, so a mismatched id is
// rejected; the username, when present, becomes the user's nickname.
func (p *Presence) RegisterProfile(userID string, payload models.UserRegisterPayload) (models.User, error) {
	if sent := payload.SentID(); sent != "" && sent != userID {
		return models.User{}, ErrIdentityMismatch
	}
	if payload.Username == "" {
		user := p.directory.Ensure(userID)
		return user, nil
	}
	return p.UpdateNickname(userID, payload.Username)
}

// UpdateNickname renames the user and refreshes the peers' user lists.
func (p *Presence) UpdateNickname(userID, nickname string) (models.User, error) {
	user, err := p.directory.SetNickname(userID, nickname)
	if err != nil {
		return models.User{}, err
	}

	for _, peer := range p.audience.PresencePeers(userID) {
		p.registry.Deliver(peer, models.Event(models.EventUsersList,
			models.UsersListPayload{Users: p.onlineUsers(peer)}))
	}
	return user, nil
}

// UpdateStatus sets the user's status and fans the change out, echo to
// the user included so every client converges on the stored value.
func (p *Presence) UpdateStatus(userID string, status models.Status) (models.User, error) {
	user, err := p.directory.SetStatus(userID, status)
	if err != nil {
		return models.User{}, err
	}

	env := models.Event(models.EventStatusUpdate, models.UserPayload{User: user})
	p.fanToPeers(userID, env)
	p.registry.Deliver(userID, env)
	p.metrics.PresenceEvent(models.EventStatusUpdate)
	return user, nil
}

// StartTyping announces typing in a channel and arms the expiry timer.
// Repeated calls refresh the timer.
func (p *Presence) StartTyping(userID, channelID string) error {
	roomID, err := CanonicalRoomID(userID, channelID)
	if err != nil {
		return err
	}

	key := typingKey{roomID: roomID, userID: userID}
	p.mu.Lock()
	if prev, ok := p.typing[key]; ok {
		prev.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(p.typingTTL, func() {
		p.expireTyping(key, timer)
	})
	p.typing[key] = timer
	p.mu.Unlock()

	p.emitTyping(models.EventStartTyping, userID, roomID)
	return nil
}

// StopTyping clears the indicator before the TTL does.
func (p *Presence) StopTyping(userID, channelID string) error {
	roomID, err := CanonicalRoomID(userID, channelID)
	if err != nil {
		return err
	}

	key := typingKey{roomID: roomID, userID: userID}
	p.mu.Lock()
	timer, ok := p.typing[key]
	if ok {
		timer.Stop()
		delete(p.typing, key)
	}
	p.mu.Unlock()

	if ok {
		p.emitTyping(models.EventStopTyping, userID, roomID)
	}
	return nil
}

// TypingIn reports whether userID currently shows as typing in the
// canonical room.
func (p *Presence) TypingIn(userID, roomID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.typing[typingKey{roomID: roomID, userID: userID}]
	return ok
}

// expireTyping is the timer callback. A refresh swaps the stored timer,
// so a stale callback finds a different pointer and backs off.
func (p *Presence) expireTyping(key typingKey, timer *time.Timer) {
	p.mu.Lock()
	current, ok := p.typing[key]
	if !ok || current != timer {
		p.mu.Unlock()
		return
	}
	delete(p.typing, key)
	p.mu.Unlock()

	p.emitTyping(models.EventStopTyping, key.userID, key.roomID)
}

// clearTyping stops all of the user's indicators, emitting stop events
// so peers do not keep a ghost "is typing" row.
func (p *Presence) clearTyping(userID string) {
	p.mu.Lock()
	var rooms []string
	for key, timer := range p.typing {
		if key.userID != userID {
			continue
		}
		timer.Stop()
		delete(p.typing, key)
		rooms = append(rooms, key.roomID)
	}
	p.mu.Unlock()

	for _, roomID := range rooms {
		p.emitTyping(models.EventStopTyping, userID, roomID)
	}
}

func (p *Presence) emitTyping(event, userID, roomID string) {
	for _, member := range p.audience.RoomMembers(roomID, userID) {
		if member == userID {
			continue
		}
		p.registry.Deliver(member, models.Event(event, models.TypingEventPayload{
			ChannelID: ChannelFor(member, roomID),
			UserID:    userID,
		}))
	}
	p.metrics.PresenceEvent(event)
}

func (p *Presence) fanToPeers(userID string, env models.Envelope) {
	for _, peer := range p.audience.PresencePeers(userID) {
		p.registry.Deliver(peer, env)
	}
}

// onlineUsers builds the users snapshot from the viewer's perspective:
// everyone else online in global mode, online friends in friends mode.
// The viewer is never listed; clients know who they are from the
// registration ack.
func (p *Presence) onlineUsers(viewerID string) []models.User {
	var ids []string
	if p.audience.FriendsOnly() {
		for _, id := range p.friends.AcceptedIDs(viewerID) {
			if p.registry.IsOnline(id) {
				ids = append(ids, id)
			}
		}
	} else {
		ids = p.registry.Online()
	}

	users := make([]models.User, 0, len(ids))
	for _, id := range ids {
		if id == viewerID {
			continue
		}
		if user, ok := p.directory.Get(id); ok {
			users = append(users, user)
		}
	}
	return users
}

// friendEntries renders the user's relations as the friends list frame.
func (p *Presence) friendEntries(userID string) []models.FriendEntry {
	rels := p.friends.Of(userID)
	entries := make([]models.FriendEntry, 0, len(rels))
	for _, rel := range rels {
		// Blocked pairs never appear in the snapshot; the block only
		// surfaces as rejected requests.
		if rel.Status == models.FriendBlocked {
			continue
		}
		other := rel.Other(userID)
		user, ok := p.directory.Get(other)
		if !ok {
			user = models.User{ID: other, Username: other, Status: models.StatusOffline}
		}
		entries = append(entries, models.FriendEntry{
			User:      user,
			Status:    rel.Status,
			Requested: rel.RequestedBy == userID,
		})
	}
	return entries
}

// AddFriend validates and forwards a friend request, then tells each
// side what happened: the target sees a request or an acceptance, the
// sender sees an acceptance when the handshake completes. Both sides
// get fresh friends lists.
func (p *Presence) AddFriend(userID, friendID string) (models.FriendRelation, error) {
	if friendID == "" || !p.directory.Exists(friendID) {
		return models.FriendRelation{}, ErrUnknownUser
	}

	rel, outcome, err := p.friends.Request(userID, friendID)
	if err != nil {
		return models.FriendRelation{}, err
	}

	requester, _ := p.directory.Get(userID)
	accepted, _ := p.directory.Get(friendID)
	switch outcome {
	case FriendRequested:
		p.registry.Deliver(friendID, models.Event(models.EventFriendRequest,
			models.UserPayload{User: requester}))
	case FriendAccepted:
		p.registry.Deliver(friendID, models.Event(models.EventFriendAccepted,
			models.UserPayload{User: requester}))
		p.registry.Deliver(userID, models.Event(models.EventFriendAccepted,
			models.UserPayload{User: accepted}))
	}

	if outcome != FriendUnchanged {
		for _, id := range []string{userID, friendID} {
			p.registry.Deliver(id, models.Event(models.EventFriendsList,
				models.FriendsListPayload{Friends: p.friendEntries(id)}))
		}
	}
	return rel, nil
}

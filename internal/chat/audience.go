package chat

// Resolver is one audience rule: the user ids in scope for a room, as
// seen by the user asking. Resolvers name members without regard to
// reachability; delivery skips anyone without an open connection.
type Resolver interface {
	MembersOf(roomID, requesterID string) []string
}

// AllConnected is the global rule: every user with a live connection,
// the requester included.
type AllConnected struct {
	registry *Registry
}

func (s *AllConnected) MembersOf(roomID, requesterID string) []string {
	return s.registry.Online()
}

// FriendGraph scopes a room to the requester's accepted friends plus
// the requester. Offline friends stay in the set; they simply cannot
// be delivered to.
type FriendGraph struct {
	friends *Friends
}

func (s *FriendGraph) MembersOf(roomID, requesterID string) []string {
	return append(s.friends.AcceptedIDs(requesterID), requesterID)
}

// ExplicitMembership reads the member set recorded on the room itself.
// Direct rooms carry their pair this way.
type ExplicitMembership struct {
	rooms *Rooms
}

func (s *ExplicitMembership) MembersOf(roomID, requesterID string) []string {
	return s.rooms.Get(roomID).Members()
}

// Audience picks the resolver for a room. Direct rooms always resolve
// to their recorded pair; anything else follows the mode's rule, which
// is everyone connected in global mode and the friend graph in friends
// mode.
type Audience struct {
	group       Resolver
	direct      Resolver
	friendsOnly bool
}

func NewAudience(registry *Registry, friends *Friends, rooms *Rooms, friendsOnly bool) *Audience {
	a := &Audience{
		group:       &AllConnected{registry: registry},
		direct:      &ExplicitMembership{rooms: rooms},
		friendsOnly: friendsOnly,
	}
	if friendsOnly {
		a.group = &FriendGraph{friends: friends}
	}
	return a
}

// FriendsOnly reports whether events are scoped to the friend graph.
func (a *Audience) FriendsOnly() bool { return a.friendsOnly }

// RoomMembers returns everyone a message in roomID reaches, sender
// included.
func (a *Audience) RoomMembers(roomID, senderID string) []string {
	if IsDirectRoom(roomID) {
		return a.direct.MembersOf(roomID, senderID)
	}
	return a.group.MembersOf(roomID, senderID)
}

// PresencePeers returns the users who should hear userID's presence
// and profile events. userID itself is never included.
func (a *Audience) PresencePeers(userID string) []string {
	members := a.group.MembersOf(GlobalChannelID, userID)
	peers := members[:0]
	for _, id := range members {
		if id != userID {
			peers = append(peers, id)
		}
	}
	return peers
}

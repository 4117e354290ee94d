package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"parley/internal/models"
	"parley/internal/store"
)

// FriendOutcome tells the caller what a Request actually did, so the
// right events can be pushed to each side.
type FriendOutcome int

const (
	// FriendRequested created a new pending request.
	FriendRequested FriendOutcome = iota
	// FriendAccepted completed the handshake: the target had already
	// requested the sender.
	FriendAccepted
	// FriendUnchanged was a duplicate request; nothing moved.
	FriendUnchanged
)

// Friends is the friend graph. One relation exists per unordered pair,
// created pending and accepted when the other side requests back.
type Friends struct {
	store store.Store
	log   *slog.Logger

	mu   sync.RWMutex
	rels map[string]models.FriendRelation
}

func pairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "|" + b
}

func NewFriends(st store.Store, log *slog.Logger) (*Friends, error) {
	f := &Friends{
		store: st,
		log:   log,
		rels:  make(map[string]models.FriendRelation),
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	lists, err := st.Scan(ctx, store.FriendsKey(""))
	if err != nil {
		return nil, err
	}
	for key, raw := range lists {
		var rels []models.FriendRelation
		if err := json.Unmarshal(raw, &rels); err != nil {
			log.Warn("skipping corrupt friend list", "key", key, "error", err)
			continue
		}
		// Both members persist the pair; loading is idempotent.
		for _, rel := range rels {
			f.rels[pairKey(rel.UserA, rel.UserB)] = rel
		}
	}
	return f, nil
}

// Request moves the pair's relation forward: absent becomes pending,
// pending-from-the-other-side becomes accepted, anything else stands.
// A blocked pair stays blocked and the request fails.
func (f *Friends) Request(fromID, toID string) (models.FriendRelation, FriendOutcome, error) {
	if fromID == toID {
		return models.FriendRelation{}, FriendUnchanged, ErrSelfFriend
	}

	key := pairKey(fromID, toID)
	outcome := FriendUnchanged

	f.mu.Lock()
	rel, ok := f.rels[key]
	if ok && rel.Status == models.FriendBlocked {
		f.mu.Unlock()
		return rel, FriendUnchanged, ErrFriendBlocked
	}
	switch {
	case !ok:
		a, b := fromID, toID
		if b < a {
			a, b = b, a
		}
		rel = models.FriendRelation{
			UserA:       a,
			UserB:       b,
			Status:      models.FriendPending,
			RequestedBy: fromID,
			CreatedAt:   time.Now().UTC(),
		}
		f.rels[key] = rel
		outcome = FriendRequested
	case rel.Status == models.FriendPending && rel.RequestedBy == toID:
		rel.Status = models.FriendAccepted
		f.rels[key] = rel
		outcome = FriendAccepted
	}
	f.mu.Unlock()

	if outcome != FriendUnchanged {
		f.persistAsync(fromID)
		f.persistAsync(toID)
	}
	return rel, outcome, nil
}

// Block pins the pair's relation to blocked, overwriting whatever state
// it was in. RequestedBy records who blocked.
func (f *Friends) Block(fromID, toID string) (models.FriendRelation, error) {
	if fromID == toID {
		return models.FriendRelation{}, ErrSelfFriend
	}

	a, b := fromID, toID
	if b < a {
		a, b = b, a
	}
	rel := models.FriendRelation{
		UserA:       a,
		UserB:       b,
		Status:      models.FriendBlocked,
		RequestedBy: fromID,
		CreatedAt:   time.Now().UTC(),
	}

	f.mu.Lock()
	f.rels[pairKey(fromID, toID)] = rel
	f.mu.Unlock()

	f.persistAsync(fromID)
	f.persistAsync(toID)
	return rel, nil
}

// Relation returns the pair's relation if one exists.
func (f *Friends) Relation(a, b string) (models.FriendRelation, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	rel, ok := f.rels[pairKey(a, b)]
	return rel, ok
}

// Are reports whether a and b are accepted friends.
func (f *Friends) Are(a, b string) bool {
	rel, ok := f.Relation(a, b)
	return ok && rel.Status == models.FriendAccepted
}

// Of returns every relation involving userID, sorted by the other
// member's id.
func (f *Friends) Of(userID string) []models.FriendRelation {
	f.mu.RLock()
	var out []models.FriendRelation
	for _, rel := range f.rels {
		if rel.UserA == userID || rel.UserB == userID {
			out = append(out, rel)
		}
	}
	f.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Other(userID) < out[j].Other(userID)
	})
	return out
}

// AcceptedIDs returns the ids of userID's accepted friends, sorted.
func (f *Friends) AcceptedIDs(userID string) []string {
	var out []string
	for _, rel := range f.Of(userID) {
		if rel.Status == models.FriendAccepted {
			out = append(out, rel.Other(userID))
		}
	}
	return out
}

func (f *Friends) persistAsync(userID string) {
	rels := f.Of(userID)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		raw, err := json.Marshal(rels)
		if err != nil {
			f.log.Warn("failed to encode friend list", "user", userID, "error", err)
			return
		}
		if err := f.store.Put(ctx, store.FriendsKey(userID), raw); err != nil {
			f.log.Warn("failed to persist friend list", "user", userID, "error", err)
		}
	}()
}

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

	"github.com/google/uuid"

	"parley/internal/models"
	"parley/internal/store"
)

var (
	ErrUsernameTaken = errors.New("chat: username taken")
	ErrBadNickname   = errors.New("chat: invalid nickname")
)

// userRecord is the persisted form of a user: the public profile plus
// the password hash for account users. Guests have no hash.
type userRecord struct {
	models.User
	PasswordHash string `json:"password_hash,omitempty"`
}

// Directory owns every known user profile. Profiles are kept in memory
// and written behind to the store; at startup the store is scanned back
// in so ids, nicknames and friendships survive restarts.
type Directory struct {
	store store.Store
	log   *slog.Logger

	mu     sync.RWMutex
	users  map[string]userRecord
	byName map[string]string
}

func NewDirectory(st store.Store, log *slog.Logger) (*Directory, error) {
	d := &Directory{
		store:  st,
		log:    log,
		users:  make(map[string]userRecord),
		byName: make(map[string]string),
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	records, err := st.Scan(ctx, store.UserKey(""))
	if err != nil {
		return nil, err
	}
	for key, raw := range records {
		var rec userRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			log.Warn("skipping corrupt user record", "key", key, "error", err)
			continue
		}
		rec.Status = models.StatusOffline
		d.users[rec.ID] = rec
		d.byName[rec.Username] = rec.ID
	}
	return d, nil
}

// Create registers an account user with a unique username. The id is
// generated here; the caller supplies an already-hashed password.
func (d *Directory) Create(username, passwordHash string) (models.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return models.User{}, ErrBadNickname
	}

	d.mu.Lock()
	if _, taken := d.byName[username]; taken {
		d.mu.Unlock()
		return models.User{}, ErrUsernameTaken
	}
	rec := userRecord{
		User: models.User{
			ID:       uuid.NewString(),
			Username: username,
			Status:   models.StatusOffline,
		},
		PasswordHash: passwordHash,
	}
	d.users[rec.ID] = rec
	d.byName[username] = rec.ID
	d.mu.Unlock()

	d.persistAsync(rec)
	return rec.User, nil
}

// Ensure returns userID's profile, creating a guest profile named after
// the id on first sight.
func (d *Directory) Ensure(userID string) models.User {
	d.mu.Lock()
	if rec, ok := d.users[userID]; ok {
		d.mu.Unlock()
		return rec.User
	}
	rec := userRecord{User: models.User{
		ID:       userID,
		Username: userID,
		Status:   models.StatusOffline,
	}}
	d.users[userID] = rec
	if _, taken := d.byName[userID]; !taken {
		d.byName[userID] = userID
	}
	d.mu.Unlock()

	d.persistAsync(rec)
	return rec.User
}

func (d *Directory) Get(userID string) (models.User, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rec, ok := d.users[userID]
	return rec.User, ok
}

// Exists reports whether userID has a profile.
func (d *Directory) Exists(userID string) bool {
	_, ok := d.Get(userID)
	return ok
}

// Credentials returns the profile and password hash for an account
// username. Guests have an empty hash and never authenticate.
func (d *Directory) Credentials(username string) (models.User, string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.byName[username]
	if !ok {
		return models.User{}, "", false
	}
	rec := d.users[id]
	return rec.User, rec.PasswordHash, rec.PasswordHash != ""
}

// SetNickname renames a user. The name must be free; two users cannot
// share one nickname because the directory also resolves names to ids.
func (d *Directory) SetNickname(userID, nickname string) (models.User, error) {
	nickname = strings.TrimSpace(nickname)
	if nickname == "" || len(nickname) > 64 {
		return models.User{}, ErrBadNickname
	}

	d.mu.Lock()
	rec, ok := d.users[userID]
	if !ok {
		d.mu.Unlock()
		return models.User{}, ErrUnknownUser
	}
	if holder, taken := d.byName[nickname]; taken && holder != userID {
		d.mu.Unlock()
		return models.User{}, ErrUsernameTaken
	}
	if d.byName[rec.Username] == userID {
		delete(d.byName, rec.Username)
	}
	rec.Username = nickname
	d.users[userID] = rec
	d.byName[nickname] = userID
	d.mu.Unlock()

	d.persistAsync(rec)
	return rec.User, nil
}

func (d *Directory) SetStatus(userID string, status models.Status) (models.User, error) {
	if !status.Valid() {
		return models.User{}, ErrBadStatus
	}

	d.mu.Lock()
	rec, ok := d.users[userID]
	if !ok {
		d.mu.Unlock()
		return models.User{}, ErrUnknownUser
	}
	rec.Status = status
	d.users[userID] = rec
	d.mu.Unlock()

	d.persistAsync(rec)
	return rec.User, nil
}

// Touch records when the user was last seen. Called on disconnect.
func (d *Directory) Touch(userID string, at time.Time) {
	d.mu.Lock()
	rec, ok := d.users[userID]
	if !ok {
		d.mu.Unlock()
		return
	}
	rec.LastSeen = at
	d.users[userID] = rec
	d.mu.Unlock()

	d.persistAsync(rec)
}

// List returns every known profile sorted by username.
func (d *Directory) List() []models.User {
	d.mu.RLock()
	out := make([]models.User, 0, len(d.users))
	for _, rec := range d.users {
		out = append(out, rec.User)
	}
	d.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Username != out[j].Username {
			return out[i].Username < out[j].Username
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (d *Directory) persistAsync(rec userRecord) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		raw, err := json.Marshal(rec)
		if err != nil {
			d.log.Warn("failed to encode user record", "user", rec.ID, "error", err)
			return
		}
		if err := d.store.Put(ctx, store.UserKey(rec.ID), raw); err != nil {
			d.log.Warn("failed to persist user record", "user", rec.ID, "error", err)
		}
	}()
}

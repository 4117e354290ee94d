package chat

import (
	"log/slog"
	"sort"
	"sync"

	"parley/internal/metrics"
	"parley/internal/models"
)

// Registry maps user ids to their single live connection. A second login
// for the same user replaces the first; the superseded connection is
// closed here so the invariant holds in one place.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]Conn

	metrics *metrics.Metrics
	log     *slog.Logger
}

func NewRegistry(log *slog.Logger, m *metrics.Metrics) *Registry {
	return &Registry{
		conns:   make(map[string]Conn),
		metrics: m,
		log:     log,
	}
}

// Register attaches conn as userID's connection and returns the
// connection it replaced, already closed, or nil.
func (r *Registry) Register(userID string, conn Conn) Conn {
	r.mu.Lock()
	prev := r.conns[userID]
	r.conns[userID] = conn
	r.mu.Unlock()

	r.metrics.ClientConnected()
	if prev != nil {
		prev.Close()
		r.metrics.ClientDisconnected()
		r.log.Info("connection replaced", "user", userID)
	}
	return prev
}

// Release removes userID's entry only while conn is still the one
// registered. A read pump that lost a replace race must not unregister
// its successor.
func (r *Registry) Release(userID string, conn Conn) bool {
	r.mu.Lock()
	current, ok := r.conns[userID]
	if !ok || current != conn {
		r.mu.Unlock()
		return false
	}
	delete(r.conns, userID)
	r.mu.Unlock()

	r.metrics.ClientDisconnected()
	return true
}

// Remove unbinds userID no matter which connection holds the slot and
// closes it. Removing an absent id is a no-op.
func (r *Registry) Remove(userID string) {
	r.mu.Lock()
	conn, ok := r.conns[userID]
	if ok {
		delete(r.conns, userID)
	}
	r.mu.Unlock()

	if ok {
		conn.Close()
		r.metrics.ClientDisconnected()
	}
}

// Get returns userID's live connection.
func (r *Registry) Get(userID string) (Conn, bool) {
	r.mu.RLock()
	conn, ok := r.conns[userID]
	r.mu.RUnlock()
	return conn, ok
}

// IsOnline reports whether userID has a registered connection.
func (r *Registry) IsOnline(userID string) bool {
	_, ok := r.Get(userID)
	return ok
}

// Deliver enqueues env for userID. It reports false when the user is
// offline, the connection is not ready, or the enqueue failed; callers
// treat all three as a skipped recipient, never as a routing failure.
func (r *Registry) Deliver(userID string, env models.Envelope) bool {
	conn, ok := r.Get(userID)
	if !ok {
		return false
	}
	if !conn.IsOpen() {
		return false
	}
	if err := conn.Send(env); err != nil {
		r.metrics.DeliveryDropped()
		r.log.Warn("delivery dropped", "user", userID, "type", env.Type, "error", err)
		return false
	}
	return true
}

// Broadcast delivers env to every connected user except exceptID and
// returns how many deliveries were enqueued.
func (r *Registry) Broadcast(env models.Envelope, exceptID string) int {
	delivered := 0
	for _, userID := range r.Online() {
		if userID == exceptID {
			continue
		}
		if r.Deliver(userID, env) {
			delivered++
		}
	}
	return delivered
}

// Online returns the connected user ids in sorted order.
func (r *Registry) Online() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.conns))
	for userID := range r.conns {
		ids = append(ids, userID)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

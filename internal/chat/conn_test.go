package chat

import (
	"io"
	"log/slog"
	"sync"

	"parley/internal/models"
)

// mockConn records what the core would have sent to one client.
type mockConn struct {
	mu       sync.Mutex
	sent     []models.Envelope
	closed   bool
	failSend bool
}

func (c *mockConn) Send(env models.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	if c.failSend {
		return ErrSendQueueFull
	}
	c.sent = append(c.sent, env)
	return nil
}

func (c *mockConn) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *mockConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *mockConn) envelopes() []models.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.Envelope, len(c.sent))
	copy(out, c.sent)
	return out
}

func (c *mockConn) types() []string {
	envs := c.envelopes()
	out := make([]string, len(envs))
	for i, env := range envs {
		out[i] = env.Type
	}
	return out
}

// typed returns only the envelopes of the given type.
func (c *mockConn) typed(eventType string) []models.Envelope {
	var out []models.Envelope
	for _, env := range c.envelopes() {
		if env.Type == eventType {
			out = append(out, env)
		}
	}
	return out
}

func (c *mockConn) isClosed() bool {
	return !c.IsOpen()
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

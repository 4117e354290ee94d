package gateway

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"parley/internal/chat"
	"parley/internal/models"
)

const (
	// writeWait bounds a single frame write, pings included.
	writeWait = 10 * time.Second

	// pongWait is how long the read side tolerates silence before the
	// connection is considered dead. Pings go out well inside it.
	pongWait     = 45 * time.Second
	pingInterval = 15 * time.Second

	// maxFrameBytes caps inbound frames; anything larger kills the read.
	maxFrameBytes = 1 << 20

	// sendQueueDepth is per-connection. A client that cannot drain this
	// many frames gets drops, not a stalled fan-out.
	sendQueueDepth = 256
)

// client is one upgraded websocket bound to a user identity. It
// satisfies chat.Conn: Send enqueues for the write pump and never
// blocks a caller holding core locks.
type client struct {
	userID string
	conn   *websocket.Conn
	send   chan []byte
	log    *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

func newClient(userID string, conn *websocket.Conn, log *slog.Logger) *client {
	return &client{
		userID: userID,
		conn:   conn,
		send:   make(chan []byte, sendQueueDepth),
		log:    log,
		done:   make(chan struct{}),
	}
}

var _ chat.Conn = (*client)(nil)

// Send queues one envelope for delivery. It returns chat.ErrSendQueueFull
// when the client is too far behind instead of waiting for it.
func (c *client) Send(env models.Envelope) error {
	if !c.IsOpen() {
		return chat.ErrConnClosed
	}
	data, err := env.Encode()
	if err != nil {
		return err
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return chat.ErrConnClosed
	default:
		return chat.ErrSendQueueFull
	}
}

func (c *client) IsOpen() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// Close is idempotent and safe from any goroutine. Closing the
// transport unblocks the read pump; the done channel stops the writer.
func (c *client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
	return nil
}

// writePump owns every write on the transport: queued frames, pings,
// and the final close frame. One writer per connection keeps gorilla's
// single-writer contract.
func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.log.Debug("write failed", "user", c.userID, "error", err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// sendError pushes an ERROR frame to this client only. Best effort,
// like every other delivery.
func (c *client) sendError(code, message, targetUserID string) {
	c.Send(models.Event(models.EventError, models.ErrorPayload{
		Code:         code,
		Message:      message,
		TargetUserID: targetUserID,
	}))
}

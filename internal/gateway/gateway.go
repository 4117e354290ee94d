// Package gateway is the websocket boundary of the chat service. It
// upgrades HTTP requests, binds each socket to a verified user
// identity, and translates wire frames into core calls. No chat rules
// live here; a frame either dispatches cleanly or earns an ERROR frame
// on the same connection.
package gateway

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"parley/internal/auth"
	"parley/internal/chat"
	"parley/internal/metrics"
	"parley/internal/models"
)

type Gateway struct {
	auth     *auth.Service
	registry *chat.Registry
	presence *chat.Presence
	router   *chat.Router
	relay    *chat.Relay
	metrics  *metrics.Metrics
	log      *slog.Logger
	upgrader websocket.Upgrader
}

func New(authSvc *auth.Service, registry *chat.Registry, presence *chat.Presence, router *chat.Router, relay *chat.Relay, m *metrics.Metrics, log *slog.Logger) *Gateway {
	return &Gateway{
		auth:     authSvc,
		registry: registry,
		presence: presence,
		router:   router,
		relay:    relay,
		metrics:  m,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP authenticates, upgrades, and serves one connection until
// its transport dies. Identity comes from the token presented at
// upgrade time and never changes for the life of the socket.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, err := g.auth.Identify(identityToken(r))
	if err != nil {
		http.Error(w, "invalid or missing token", http.StatusUnauthorized)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written its own response.
		g.log.Warn("websocket upgrade failed", "user", userID, "error", err)
		return
	}

	c := newClient(userID, conn, g.log)
	prev := g.registry.Register(userID, c)
	go c.writePump()

	user := g.presence.Profile(userID)
	if name := r.URL.Query().Get("username"); name != "" && name != user.Username {
		if renamed, err := g.presence.UpdateNickname(userID, name); err == nil {
			user = renamed
		} else {
			g.log.Warn("connect-time rename rejected", "user", userID, "name", name, "error", err)
		}
	}
	c.Send(models.Event(models.EventUserRegistered, models.UserPayload{User: user}))

	// A replaced connection already announced this user; snapshots are
	// enough. Fresh connections get the full arrival treatment.
	if prev != nil {
		g.presence.HandleRejoin(userID)
	} else {
		g.presence.HandleConnect(userID)
	}
	g.log.Info("client connected", "user", userID, "remote", r.RemoteAddr)

	g.readLoop(c)
}

// readLoop consumes frames until the transport errors out, then runs
// the disconnect path once, and only if this socket is still the
// user's current binding.
func (g *Gateway) readLoop(c *client) {
	defer func() {
		c.Close()
		if g.registry.Release(c.userID, c) {
			g.presence.HandleDisconnect(c.userID)
			g.log.Info("client disconnected", "user", c.userID)
		}
	}()

	c.conn.SetReadLimit(maxFrameBytes)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				g.log.Debug("read failed", "user", c.userID, "error", err)
			}
			return
		}

		env, err := models.DecodeEnvelope(data)
		if err != nil {
			g.log.Warn("undecodable frame", "user", c.userID, "error", err)
			c.sendError("invalid_frame", "frame must be a {type, payload} object", "")
			continue
		}
		g.metrics.FrameReceived(env.Type)
		g.dispatch(c, env)
	}
}

// dispatch routes one decoded frame into the core. A panic inside a
// handler fails that frame alone; the connection and everyone else's
// keep running.
func (g *Gateway) dispatch(c *client, env models.Envelope) {
	defer func() {
		if rec := recover(); rec != nil {
			g.log.Error("frame handler panicked", "user", c.userID, "type", env.Type, "panic", rec)
			c.sendError("internal_error", "internal error handling "+env.Type, "")
		}
	}()

	switch env.Type {
	case models.TypeUserRegister:
		var p models.UserRegisterPayload
		if !g.decode(c, env, &p) {
			return
		}
		user, err := g.presence.RegisterProfile(c.userID, p)
		if err != nil {
			g.reportError(c, env.Type, err, "")
			return
		}
		c.Send(models.Event(models.EventUserRegistered, models.UserPayload{User: user}))

	case models.TypeNicknameUpdate:
		var p models.NicknameUpdatePayload
		if !g.decode(c, env, &p) {
			return
		}
		if _, err := g.presence.UpdateNickname(c.userID, p.Nickname); err != nil {
			g.reportError(c, env.Type, err, "")
		}

	case models.TypeStatusUpdate:
		var p models.StatusUpdatePayload
		if !g.decode(c, env, &p) {
			return
		}
		if _, err := g.presence.UpdateStatus(c.userID, p.Status); err != nil {
			g.reportError(c, env.Type, err, "")
		}

	case models.TypeAddFriend:
		var p models.AddFriendPayload
		if !g.decode(c, env, &p) {
			return
		}
		if _, err := g.presence.AddFriend(c.userID, p.FriendCode); err != nil {
			g.reportError(c, env.Type, err, "")
		}

	case models.TypeMessageCreate:
		var p models.MessageCreatePayload
		if !g.decode(c, env, &p) {
			return
		}
		if _, err := g.router.Submit(c.userID, p); err != nil {
			g.reportError(c, env.Type, err, "")
		}

	case models.TypeMessageEdit:
		var p models.MessageEditPayload
		if !g.decode(c, env, &p) {
			return
		}
		if _, err := g.router.Edit(c.userID, p); err != nil {
			g.reportError(c, env.Type, err, "")
		}

	case models.TypeCallOffer, models.TypeCallAnswer, models.TypeICECandidate, models.TypeCallEnd:
		var p models.CallPayload
		if !g.decode(c, env, &p) {
			return
		}
		if err := g.relay.Forward(env.Type, c.userID, p); err != nil {
			g.reportError(c, env.Type, err, p.TargetUserID)
		}

	case models.TypeStartTyping:
		var p models.TypingPayload
		if !g.decode(c, env, &p) {
			return
		}
		if err := g.presence.StartTyping(c.userID, p.ChannelID); err != nil {
			g.reportError(c, env.Type, err, "")
		}

	case models.TypeStopTyping:
		var p models.TypingPayload
		if !g.decode(c, env, &p) {
			return
		}
		if err := g.presence.StopTyping(c.userID, p.ChannelID); err != nil {
			g.reportError(c, env.Type, err, "")
		}

	default:
		g.log.Warn("unknown frame type", "user", c.userID, "type", env.Type)
		c.sendError("unknown_type", fmt.Sprintf("unrecognized frame type %q", env.Type), "")
	}
}

func (g *Gateway) decode(c *client, env models.Envelope, into any) bool {
	if err := env.DecodePayload(into); err != nil {
		g.log.Warn("bad payload", "user", c.userID, "type", env.Type, "error", err)
		c.sendError("bad_payload", "payload does not match "+env.Type, "")
		return false
	}
	return true
}

// reportError translates a core rejection into the ERROR frame the
// client sees. The offending frame never takes the connection down.
func (g *Gateway) reportError(c *client, frameType string, err error, targetUserID string) {
	g.log.Warn("frame rejected", "user", c.userID, "type", frameType, "error", err)
	c.sendError(errorCode(err), err.Error(), targetUserID)
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		return "empty_message"
	case errors.Is(err, chat.ErrBadChannel):
		return "invalid_channel"
	case errors.Is(err, chat.ErrTargetOffline):
		return "call_unreachable"
	case errors.Is(err, chat.ErrUnknownUser):
		return "unknown_user"
	case errors.Is(err, chat.ErrNotAuthor):
		return "not_author"
	case errors.Is(err, chat.ErrMessageNotFound):
		return "message_not_found"
	case errors.Is(err, chat.ErrUsernameTaken):
		return "username_taken"
	case errors.Is(err, chat.ErrBadNickname):
		return "invalid_nickname"
	case errors.Is(err, chat.ErrBadStatus):
		return "invalid_status"
	case errors.Is(err, chat.ErrIdentityMismatch):
		return "identity_mismatch"
	case errors.Is(err, chat.ErrSelfFriend):
		return "self_friend"
	case errors.Is(err, chat.ErrFriendBlocked):
		return "friend_blocked"
	default:
		return "request_failed"
	}
}

// identityToken pulls the caller's credential from the query string,
// falling back to a bearer Authorization header.
func identityToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

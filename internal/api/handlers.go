// Package api is the HTTP side of the service: account signup and
// login, token verification, user lookups and channel history. The
// realtime traffic lives on the websocket; everything here is plain
// request/response JSON.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"parley/internal/auth"
	"parley/internal/chat"
	"parley/internal/models"
)

type contextKey string

const userIDKey contextKey = "user_id"

// minPasswordLen matches what the account form enforces client-side.
const minPasswordLen = 8

type Handlers struct {
	auth      *auth.Service
	directory *chat.Directory
	router    *chat.Router
	log       *slog.Logger
}

func NewHandlers(authSvc *auth.Service, directory *chat.Directory, router *chat.Router, log *slog.Logger) *Handlers {
	return &Handlers{auth: authSvc, directory: directory, router: router, log: log}
}

// Routes assembles the REST surface. The caller mounts the websocket
// and metrics endpoints on the returned router so one listener serves
// everything.
func (h *Handlers) Routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(h.withCORS)

	r.HandleFunc("/healthz", h.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/auth/register", h.handleRegister).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/auth/login", h.handleLogin).Methods(http.MethodPost, http.MethodOptions)

	authed := api.NewRoute().Subrouter()
	authed.Use(h.withAuth)
	authed.HandleFunc("/auth/verify", h.handleVerify).Methods(http.MethodGet, http.MethodOptions)
	authed.HandleFunc("/users", h.handleUsers).Methods(http.MethodGet, http.MethodOptions)
	authed.HandleFunc("/channels/{channel}/messages", h.handleHistory).Methods(http.MethodGet, http.MethodOptions)

	return r
}

func (h *Handlers) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withAuth resolves the caller's identity from a bearer token and puts
// the user id on the request context.
func (h *Handlers) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := h.auth.Identify(bearerToken(r))
		if err != nil {
			h.writeError(w, http.StatusUnauthorized, "invalid or missing token")
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestUser(r *http.Request) string {
	id, _ := r.Context().Value(userIDKey).(string)
	return id
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return r.URL.Query().Get("token")
}

func (h *Handlers) handleHealth(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handlers) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if strings.TrimSpace(req.Username) == "" || len(req.Password) < minPasswordLen {
		h.writeError(w, http.StatusBadRequest, "username and a password of at least 8 characters are required")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		h.log.Error("password hash failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "could not create account")
		return
	}
	user, err := h.directory.Create(req.Username, hash)
	switch {
	case errors.Is(err, chat.ErrUsernameTaken):
		h.writeError(w, http.StatusConflict, "username already taken")
		return
	case errors.Is(err, chat.ErrBadNickname):
		h.writeError(w, http.StatusBadRequest, "invalid username")
		return
	case err != nil:
		h.log.Error("account creation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "could not create account")
		return
	}

	token, err := h.auth.Mint(user.ID)
	if err != nil {
		h.log.Error("token mint failed", "user", user.ID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "could not issue token")
		return
	}
	h.log.Info("account created", "user", user.ID, "username", user.Username)
	h.writeJSON(w, http.StatusCreated, models.LoginResponse{Token: token, User: user})
}

func (h *Handlers) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	// One message for both failure modes; the response must not reveal
	// whether the username exists.
	user, hash, ok := h.directory.Credentials(req.Username)
	if !ok || auth.CheckPassword(hash, req.Password) != nil {
		h.writeError(w, http.StatusUnauthorized, "invalid username or password")
		return
	}

	token, err := h.auth.Mint(user.ID)
	if err != nil {
		h.log.Error("token mint failed", "user", user.ID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "could not issue token")
		return
	}
	h.writeJSON(w, http.StatusOK, models.LoginResponse{Token: token, User: user})
}

// handleVerify confirms the presented token and returns the profile it
// resolves to. Clients call it on startup to decide between the app and
// the login screen.
func (h *Handlers) handleVerify(w http.ResponseWriter, r *http.Request) {
	user, ok := h.directory.Get(requestUser(r))
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "unknown user")
		return
	}
	h.writeJSON(w, http.StatusOK, models.UserPayload{User: user})
}

func (h *Handlers) handleUsers(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, models.UsersListPayload{Users: h.directory.List()})
}

// handleHistory returns a channel's retained messages as the caller
// sees them, oldest first. Direct channels use the caller's dm-<peer>
// alias, so the same URL a client renders is the one it fetches.
func (h *Handlers) handleHistory(w http.ResponseWriter, r *http.Request) {
	channel := mux.Vars(r)["channel"]

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	messages, err := h.router.History(requestUser(r), channel, limit)
	if err != nil {
		if errors.Is(err, chat.ErrBadChannel) {
			h.writeError(w, http.StatusBadRequest, "invalid channel")
			return
		}
		h.log.Error("history fetch failed", "channel", channel, "error", err)
		h.writeError(w, http.StatusInternalServerError, "could not load history")
		return
	}
	if messages == nil {
		messages = []models.Message{}
	}
	h.writeJSON(w, http.StatusOK, map[string][]models.Message{"messages": messages})
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Warn("response write failed", "error", err)
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

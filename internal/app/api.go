package app

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"parley/internal/chat"
)

const apiMaxBodyBytes = 16 << 10

// apiHandler serves the room/user/message REST surface in front of the store.
type apiHandler struct {
	log   *slog.Logger
	store chat.Store
}

func newAPIHandler(log *slog.Logger, store chat.Store) *apiHandler {
	return &apiHandler{log: log, store: store}
}

// Register mounts the REST routes on mux.
func (h *apiHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/rooms", h.createRoom)
	mux.HandleFunc("GET /api/rooms", h.listRooms)
	mux.HandleFunc("POST /api/users", h.createUser)
	mux.HandleFunc("GET /api/rooms/{room_id}/messages", h.listMessages)
}

func (h *apiHandler) createRoom(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(w, r, apiMaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid body")
		return
	}

	room, err := h.store.CreateRoom(r.Context(), req.Name, time.Now().UTC())
	if err != nil {
		h.log.Error("api.room.create_fail", "err", err)
		writeError(w, http.StatusBadRequest, "create_failed", "could not create room")
		return
	}
	writeJSON(w, http.StatusCreated, room)
}

func (h *apiHandler) listRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.store.ListRooms(r.Context())
	if err != nil {
		h.log.Error("api.room.list_fail", "err", err)
		writeError(w, http.StatusInternalServerError, "list_failed", "could not list rooms")
		return
	}
	if rooms == nil {
		rooms = []chat.Room{}
	}
	writeJSON(w, http.StatusOK, rooms)
}

func (h *apiHandler) createUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
	}
	if err := decodeJSON(w, r, apiMaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid body")
		return
	}

	user, err := h.store.CreateUser(r.Context(), req.Username, time.Now().UTC())
	if err != nil {
		h.log.Error("api.user.create_fail", "err", err)
		writeError(w, http.StatusBadRequest, "create_failed", "could not create user")
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (h *apiHandler) listMessages(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("room_id")

	ok, err := h.store.RoomExists(r.Context(), roomID)
	if err != nil {
		h.log.Error("api.messages.lookup_fail", "err", err)
		writeError(w, http.StatusInternalServerError, "lookup_failed", "store unavailable")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "room not found")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 200 {
		limit = 200
	}

	msgs, err := h.store.RecentMessages(r.Context(), roomID, limit)
	if err != nil {
		h.log.Error("api.messages.list_fail", "err", err)
		writeError(w, http.StatusInternalServerError, "list_failed", "could not list messages")
		return
	}
	if msgs == nil {
		msgs = []chat.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

// ---- response helpers ----

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error apiError `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: apiError{Code: code, Message: msg}})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	defer func() { _ = r.Body.Close() }()

	body := http.MaxBytesReader(w, r.Body, maxBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	// Ensure there is no extra data after the first JSON value.
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("extra data after JSON object")
	}
	return nil
}

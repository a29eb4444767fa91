package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/dukepan/watch-party-sync-back/internal/db"
	"github.com/dukepan/watch-party-sync-back/internal/utils"
)

// HealthzHandler reports liveness of the server and its collaborators.
func (r *Router) HealthzHandler(w http.ResponseWriter, req *http.Request) {
	status := map[string]string{"status": "ok"}
	code := http.StatusOK

	if err := r.db.Health(req.Context()); err != nil {
		status["database"] = err.Error()
		code = http.StatusServiceUnavailable
	}
	if err := r.cache.GetClient().Ping(req.Context()).Err(); err != nil {
		status["redis"] = err.Error()
		code = http.StatusServiceUnavailable
	}

	utils.RespondJSON(w, code, status)
}

// roomStateResponse is the REST view of a room, for late joiners and debugging.
type roomStateResponse struct {
	Live       bool        `json:"live"`
	Room       interface{} `json:"room"`
	ServerTime time.Time   `json:"server_time"`
}

// RoomStateHandler returns the room snapshot: the live in-memory state when
// the room is active on this node, otherwise the last persisted state.
func (r *Router) RoomStateHandler(w http.ResponseWriter, req *http.Request) {
	roomID, err := uuid.Parse(req.PathValue("id"))
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid room id")
		return
	}

	if snapshot := r.roomMgr.Snapshot(roomID); snapshot != nil {
		utils.RespondJSON(w, http.StatusOK, roomStateResponse{
			Live:       true,
			Room:       snapshot,
			ServerTime: time.Now(),
		})
		return
	}

	persisted, err := r.db.LoadRoomState(req.Context(), roomID)
	if errors.Is(err, db.ErrNotFound) {
		utils.RespondError(w, http.StatusNotFound, "room not found")
		return
	}
	if err != nil {
		r.logger.Error(req.Context(), "failed to load room state for %s: %v", roomID, err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to load room state")
		return
	}

	utils.RespondJSON(w, http.StatusOK, roomStateResponse{
		Live:       false,
		Room:       persisted,
		ServerTime: time.Now(),
	})
}

// RoomEventsHandler returns the most recent audit events for a room.
func (r *Router) RoomEventsHandler(w http.ResponseWriter, req *http.Request) {
	roomID, err := uuid.Parse(req.PathValue("id"))
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid room id")
		return
	}

	limit := 50
	if s := req.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	events, err := r.db.GetRoomEvents(req.Context(), roomID, limit)
	if err != nil {
		r.logger.Error(req.Context(), "failed to load events for room %s: %v", roomID, err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to load room events")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

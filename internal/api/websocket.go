package api

import (
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/gorilla/websocket"

	"github.com/dukepan/watch-party-sync-back/internal/rooms"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// In production, validate origin more strictly
		return true
	},
}

// WebSocketHandler authenticates, upgrades and starts the client pumps. Room
// membership is checked later, when the client sends join-room.
func (r *Router) WebSocketHandler(w http.ResponseWriter, req *http.Request) {
	_, span := otel.Tracer("websocket-server").Start(req.Context(), "WebSocketConnection")
	defer span.End()

	token := req.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "Missing token", http.StatusUnauthorized)
		span.SetStatus(codes.Error, "Missing token")
		return
	}

	claims, err := r.jwtMgr.ValidateToken(token)
	if err != nil {
		http.Error(w, "Invalid token", http.StatusUnauthorized)
		span.SetStatus(codes.Error, fmt.Sprintf("Invalid token: %v", err))
		return
	}
	span.SetAttributes(attribute.String("user.id", claims.UserID.String()))

	// older tokens carry no display name; resolve it from the user record
	displayName := claims.DisplayName
	if displayName == "" {
		displayName, err = r.db.GetUserDisplayName(req.Context(), claims.UserID)
		if err != nil {
			displayName = claims.UserID.String()
		}
	}

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		span.SetStatus(codes.Error, fmt.Sprintf("Failed to upgrade WebSocket connection: %v", err))
		return
	}
	span.SetStatus(codes.Ok, "WebSocket connection established")

	client := rooms.NewClient(r.roomMgr, r.db, r.cache, conn, claims.UserID, displayName, r.logger)
	client.Start()
}

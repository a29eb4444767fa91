package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dukepan/watch-party-sync-back/internal/auth"
	"github.com/dukepan/watch-party-sync-back/internal/cache"
	"github.com/dukepan/watch-party-sync-back/internal/config"
	"github.com/dukepan/watch-party-sync-back/internal/db"
	"github.com/dukepan/watch-party-sync-back/internal/middleware"
	"github.com/dukepan/watch-party-sync-back/internal/rooms"
	"github.com/dukepan/watch-party-sync-back/internal/utils"
)

type Router struct {
	mux     *http.ServeMux
	handler http.Handler
	db      *db.Database
	cache   *cache.Cache
	roomMgr *rooms.Manager
	jwtMgr  *auth.JWTManager
	cfg     *config.Config
	logger  *utils.Logger
}

// NewRouter creates the HTTP router with configured handlers and middleware.
func NewRouter(database *db.Database, redisCache *cache.Cache, roomMgr *rooms.Manager, jwtMgr *auth.JWTManager, cfg *config.Config, logger *utils.Logger) *Router {
	r := &Router{
		mux:     http.NewServeMux(),
		db:      database,
		cache:   redisCache,
		roomMgr: roomMgr,
		jwtMgr:  jwtMgr,
		cfg:     cfg,
		logger:  logger,
	}

	r.mux.HandleFunc("/healthz", r.HealthzHandler)
	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.HandleFunc("GET /rooms/{id}/state", r.RoomStateHandler)
	r.mux.HandleFunc("GET /rooms/{id}/events", r.RoomEventsHandler)
	r.mux.Handle("/ws", http.HandlerFunc(r.WebSocketHandler))

	r.handler = middleware.TracingMiddleware(middleware.RequestIDMiddleware(r.mux))
	return r
}

// ServeHTTP dispatches through the middleware chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.handler.ServeHTTP(w, req)
}

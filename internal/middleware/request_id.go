package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/dukepan/watch-party-sync-back/internal/contextkey"
)

// RequestIDMiddleware tags every request with a UUID, reusing a valid
// X-Request-ID sent by the caller so IDs stay stable across proxies. The ID
// goes into the context for logging and is echoed back in the response.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		requestID, err := uuid.Parse(req.Header.Get("X-Request-ID"))
		if err != nil {
			requestID = uuid.New()
		}
		ctx := context.WithValue(req.Context(), contextkey.ContextKeyRequestID, requestID)
		w.Header().Set("X-Request-ID", requestID.String())
		next.ServeHTTP(w, req.WithContext(ctx))
	})
}

package contextkey

type contextKey string

const (
	// ContextKeyRequestID carries the per-request UUID set by the request ID middleware.
	ContextKeyRequestID contextKey = "request_id"
	// ContextKeyUserID carries the authenticated user's UUID.
	ContextKeyUserID contextKey = "user_id"
)

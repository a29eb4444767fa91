package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/dukepan/watch-party-sync-back/internal/models"
)

var redisLatency metric.Float64Histogram

// Cache is the hot-path Redis layer: room state snapshots with TTL and the
// pub/sub channels used for cross-node command fan-out.
type Cache struct {
	client *redis.Client
}

// New creates a new Redis cache connection.
func New(dsn string) (*Cache, error) {
	var err error

	meter := otel.Meter("redis-client")
	redisLatency, err = meter.Float64Histogram("redis.command.latency", metric.WithUnit("ms"))
	if err != nil {
		return nil, fmt.Errorf("failed to create redis.command.latency instrument: %w", err)
	}

	opt, err := redis.ParseURL(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, span := otel.Tracer("redis-client").Start(context.Background(), "redis.ping")
	defer span.End()
	if err := client.Ping(ctx).Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to ping Redis")
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	span.SetStatus(codes.Ok, "Redis connected successfully")

	return &Cache{client: client}, nil
}

// GetClient returns the underlying Redis client (instrumented operations should use Cache methods)
func (c *Cache) GetClient() *redis.Client {
	return c.client
}

// Close closes the Redis client
func (c *Cache) Close() error {
	return c.client.Close()
}

// Publish instruments a Publish operation
func (c *Cache) Publish(ctx context.Context, channel string, message interface{}) error {
	start := time.Now()
	ctx, span := otel.Tracer("redis-client").Start(ctx, "redis.publish", trace.WithAttributes(attribute.String("redis.channel", channel)))
	defer func() {
		redisLatency.Record(ctx, float64(time.Since(start).Milliseconds()), metric.WithAttributes(attribute.String("redis.command", "publish")))
		span.End()
	}()
	err := c.client.Publish(ctx, channel, message).Err()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Redis publish failed")
	}
	return err
}

// Subscribe opens a pub/sub subscription. The returned PubSub is long-lived
// and must be closed by the caller.
func (c *Cache) Subscribe(ctx context.Context, channels ...string) *redis.PubSub {
	_, span := otel.Tracer("redis-client").Start(ctx, "redis.subscribe", trace.WithAttributes(attribute.StringSlice("redis.channels", channels)))
	defer span.End()
	return c.client.Subscribe(ctx, channels...)
}

// SetRoomSnapshot caches the latest authoritative sync state for a room so
// that other nodes and late readers can serve it without touching Postgres.
func (c *Cache) SetRoomSnapshot(ctx context.Context, roomID uuid.UUID, state *models.SyncState, ttl time.Duration) error {
	start := time.Now()
	ctx, span := otel.Tracer("redis-client").Start(ctx, "redis.set_room_snapshot", trace.WithAttributes(attribute.String("room.id", roomID.String())))
	defer func() {
		redisLatency.Record(ctx, float64(time.Since(start).Milliseconds()), metric.WithAttributes(attribute.String("redis.command", "set_room_snapshot")))
		span.End()
	}()

	data, err := json.Marshal(state)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to marshal room snapshot")
		return fmt.Errorf("failed to marshal room snapshot: %w", err)
	}
	key := fmt.Sprintf("room:%s:sync", roomID.String())
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to set room snapshot")
		return err
	}
	return nil
}

// GetRoomSnapshot returns the cached sync state for a room, or nil if absent.
func (c *Cache) GetRoomSnapshot(ctx context.Context, roomID uuid.UUID) (*models.SyncState, error) {
	start := time.Now()
	ctx, span := otel.Tracer("redis-client").Start(ctx, "redis.get_room_snapshot", trace.WithAttributes(attribute.String("room.id", roomID.String())))
	defer func() {
		redisLatency.Record(ctx, float64(time.Since(start).Milliseconds()), metric.WithAttributes(attribute.String("redis.command", "get_room_snapshot")))
		span.End()
	}()

	key := fmt.Sprintf("room:%s:sync", roomID.String())
	data, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		span.SetStatus(codes.Ok, "Room snapshot not cached")
		return nil, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to get room snapshot")
		return nil, fmt.Errorf("failed to get room snapshot: %w", err)
	}

	var state models.SyncState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to unmarshal room snapshot")
		return nil, fmt.Errorf("failed to unmarshal room snapshot: %w", err)
	}
	return &state, nil
}

// PresenceState represents a user's presence information.
type PresenceState struct {
	Status   string    `json:"status"` // online, offline
	LastSeen time.Time `json:"last_seen"`
	RoomID   uuid.UUID `json:"room_id,omitempty"`
}

// SetUserPresence records a user's presence.
func (c *Cache) SetUserPresence(ctx context.Context, userID uuid.UUID, state PresenceState) error {
	start := time.Now()
	ctx, span := otel.Tracer("redis-client").Start(ctx, "redis.set_user_presence", trace.WithAttributes(attribute.String("user.id", userID.String())))
	defer func() {
		redisLatency.Record(ctx, float64(time.Since(start).Milliseconds()), metric.WithAttributes(attribute.String("redis.command", "set_user_presence")))
		span.End()
	}()

	key := fmt.Sprintf("presence:%s", userID.String())
	data, err := json.Marshal(state)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to marshal presence state")
		return fmt.Errorf("failed to marshal presence state: %w", err)
	}
	err = c.client.Set(ctx, key, data, 0).Err()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to set user presence")
	}
	return err
}

// GetUserPresence returns a user's presence, or nil if unknown.
func (c *Cache) GetUserPresence(ctx context.Context, userID uuid.UUID) (*PresenceState, error) {
	start := time.Now()
	ctx, span := otel.Tracer("redis-client").Start(ctx, "redis.get_user_presence", trace.WithAttributes(attribute.String("user.id", userID.String())))
	defer func() {
		redisLatency.Record(ctx, float64(time.Since(start).Milliseconds()), metric.WithAttributes(attribute.String("redis.command", "get_user_presence")))
		span.End()
	}()

	key := fmt.Sprintf("presence:%s", userID.String())
	data, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to get user presence")
		return nil, fmt.Errorf("failed to get user presence: %w", err)
	}

	var state PresenceState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to unmarshal presence state")
		return nil, fmt.Errorf("failed to unmarshal presence state: %w", err)
	}
	return &state, nil
}

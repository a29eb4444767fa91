package config

import (
	"os"
	"strconv"
	"time"
)

// Config carries every tunable of the sync server. All values come from the
// environment; cmd/main binds flags on top via viper.
type Config struct {
	Port          string `env:"PORT"`
	LogLevel      string `env:"LOG_LEVEL"`
	DatabaseURL   string `env:"DATABASE_URL,secret"`
	RedisURL      string `env:"REDIS_URL,secret"`
	JWTPrivateKey string `env:"JWT_PRIVATE_KEY,secret"`
	JWTPublicKey  string `env:"JWT_PUBLIC_KEY,secret"`

	// Heartbeat / connection health
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL"`
	PongTimeout       time.Duration `env:"PONG_TIMEOUT"`
	LatencyWindow     int           `env:"LATENCY_WINDOW"`

	// Event batching
	MaxBatchSize     int           `env:"MAX_BATCH_SIZE"`
	BatchInterval    time.Duration `env:"BATCH_INTERVAL"`
	PositionDebounce time.Duration `env:"POSITION_DEBOUNCE"`

	// Room lifecycle
	RoomGraceTTL time.Duration `env:"ROOM_GRACE_TTL"`
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisURL:      getEnv("REDIS_URL", ""),
		JWTPrivateKey: getEnv("JWT_PRIVATE_KEY", ""),
		JWTPublicKey:  getEnv("JWT_PUBLIC_KEY", ""),

		HeartbeatInterval: getDuration("HEARTBEAT_INTERVAL", 5*time.Second),
		PongTimeout:       getDuration("PONG_TIMEOUT", 90*time.Second),
		LatencyWindow:     getInt("LATENCY_WINDOW", 10),

		MaxBatchSize:     getInt("MAX_BATCH_SIZE", 20),
		BatchInterval:    getDuration("BATCH_INTERVAL", 100*time.Millisecond),
		PositionDebounce: getDuration("POSITION_DEBOUNCE", 500*time.Millisecond),

		RoomGraceTTL: getDuration("ROOM_GRACE_TTL", 10*time.Minute),
	}
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

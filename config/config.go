package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/mossy-p/studyroom-signaling/internal/models"
)

// Store backends understood by STORE_BACKEND.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
	StoreMongo  = "mongo"
)

type Config struct {
	Port           string
	Environment    string
	AllowedOrigins []string
	JWTSecret      string
	// AuthRequired rejects websocket joins that do not carry a verified token.
	AuthRequired bool
	StoreBackend string
	Redis        RedisConfig
	Mongo        MongoConfig
	Rooms        RoomConfig
	Transport    TransportConfig
}

type RedisConfig struct {
	// URL takes precedence over Host/Port when set
	URL       string
	Host      string
	Port      string
	Password  string
	DB        int
	KeyPrefix string
	RoomTTL   time.Duration
}

type MongoConfig struct {
	URI      string
	Database string
}

// RoomConfig tunes the room aggregate and its persisted collaboration state.
type RoomConfig struct {
	NormalizeCodes    bool
	GracePeriod       time.Duration
	ChatBackfillLimit int
	PersistStrokes    bool
	// StoreBudget is the number of store operations one room may have in flight.
	StoreBudget  int64
	StoreTimeout time.Duration
}

// TransportConfig tunes the websocket connections.
type TransportConfig struct {
	HeartbeatInterval time.Duration
	HeartbeatMisses   int
	SendBuffer        int
	MaxMessageSize    int64
}

func Load() *Config {
	// .env is optional, real environment wins
	_ = godotenv.Load()

	// Parse allowed origins (comma-separated)
	originsStr := getEnv("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")
	var origins []string
	for _, origin := range strings.Split(originsStr, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}

	return &Config{
		Port:           getEnv("PORT", "8080"),
		Environment:    getEnv("ENVIRONMENT", "development"),
		AllowedOrigins: origins,
		JWTSecret:      getEnv("JWT_SECRET", "change-me-in-production"),
		AuthRequired:   getEnvBool("AUTH_REQUIRED", false),
		StoreBackend:   strings.ToLower(getEnv("STORE_BACKEND", StoreMemory)),
		Redis: RedisConfig{
			URL:       getEnv("REDIS_URL", ""),
			Host:      getEnv("REDIS_HOST", "localhost"),
			Port:      getEnv("REDIS_PORT", "6379"),
			Password:  getEnv("REDIS_PASSWORD", ""),
			DB:        getEnvInt("REDIS_DB", 0),
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "studyroom:"),
			RoomTTL:   getEnvDuration("REDIS_ROOM_TTL", 24*time.Hour),
		},
		Mongo: MongoConfig{
			URI:      getEnv("MONGO_URI", "mongodb://localhost:27017"),
			Database: getEnv("MONGO_DATABASE", "studyroom"),
		},
		Rooms: RoomConfig{
			NormalizeCodes:    getEnvBool("NORMALIZE_ROOM_CODES", true),
			GracePeriod:       getEnvDuration("ROOM_GRACE_PERIOD", 30*time.Second),
			ChatBackfillLimit: getEnvInt("CHAT_BACKFILL_LIMIT", 100),
			PersistStrokes:    getEnvBool("PERSIST_STROKES", true),
			StoreBudget:       int64(getEnvInt("ROOM_STORE_BUDGET", 8)),
			StoreTimeout:      getEnvDuration("STORE_TIMEOUT", 5*time.Second),
		},
		Transport: TransportConfig{
			HeartbeatInterval: getEnvDuration("HEARTBEAT_INTERVAL", 25*time.Second),
			HeartbeatMisses:   getEnvInt("HEARTBEAT_MISSES", 2),
			SendBuffer:        getEnvInt("SEND_BUFFER", 256),
			// a read limit below the largest valid frame would drop members for valid edits
			MaxMessageSize: max(int64(getEnvInt("MAX_MESSAGE_SIZE", 0)), models.MaxFrameSize),
		},
	}
}

// IsProduction reports whether the server runs with ENVIRONMENT=production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// PongWait is how long a connection may stay silent before it is considered gone.
func (t TransportConfig) PongWait() time.Duration {
	misses := t.HeartbeatMisses
	if misses < 1 {
		misses = 1
	}
	return t.HeartbeatInterval * time.Duration(misses)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return b
}

// getEnvDuration accepts Go durations ("30s") or a bare number of seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

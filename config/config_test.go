package config_test

import (
	"testing"
	"time"

	"github.com/mossy-p/studyroom-signaling/config"
	"github.com/mossy-p/studyroom-signaling/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := config.Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, config.StoreMemory, cfg.StoreBackend)
	assert.True(t, cfg.Rooms.NormalizeCodes)
	assert.Equal(t, 30*time.Second, cfg.Rooms.GracePeriod)
	assert.Equal(t, 25*time.Second, cfg.Transport.HeartbeatInterval)
	assert.Equal(t, 50*time.Second, cfg.Transport.PongWait())
	assert.Equal(t, models.MaxFrameSize, cfg.Transport.MaxMessageSize)
	assert.False(t, cfg.IsProduction())
}

func TestMaxMessageSizeNeverBelowLargestFrame(t *testing.T) {
	t.Setenv("MAX_MESSAGE_SIZE", "65536")
	assert.Equal(t, models.MaxFrameSize, config.Load().Transport.MaxMessageSize)

	t.Setenv("MAX_MESSAGE_SIZE", "8388608")
	assert.Equal(t, int64(8<<20), config.Load().Transport.MaxMessageSize)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("STORE_BACKEND", "Redis")
	t.Setenv("ROOM_GRACE_PERIOD", "45")
	t.Setenv("HEARTBEAT_INTERVAL", "10s")
	t.Setenv("HEARTBEAT_MISSES", "3")
	t.Setenv("PERSIST_STROKES", "false")
	t.Setenv("ROOM_STORE_BUDGET", "not-a-number")

	cfg := config.Load()

	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, config.StoreRedis, cfg.StoreBackend)
	assert.Equal(t, 45*time.Second, cfg.Rooms.GracePeriod)
	assert.Equal(t, 30*time.Second, cfg.Transport.PongWait())
	assert.False(t, cfg.Rooms.PersistStrokes)
	assert.Equal(t, int64(8), cfg.Rooms.StoreBudget, "invalid values fall back to the default")
}

func TestLoadClientPriority(t *testing.T) {
	t.Setenv("SERVER_URL", "http://env.example:9000")
	t.Setenv("MAX_CONNECT_ATTEMPTS", "5")

	cfg := config.LoadClient(config.ClientOptions{})
	assert.Equal(t, "http://env.example:9000", cfg.ServerURL)
	assert.Equal(t, 5, cfg.MaxConnectAttempts)

	cfg = config.LoadClient(config.ClientOptions{ServerURL: "http://flag.example"})
	assert.Equal(t, "http://flag.example", cfg.ServerURL)
}

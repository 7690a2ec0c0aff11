package config

import (
	"time"
)

// ClientConfig configures the roomctl client and its connection manager.
type ClientConfig struct {
	ServerURL          string
	Token              string
	ReconnectBase      time.Duration
	ReconnectMax       time.Duration
	MaxConnectAttempts int
	PollInterval       time.Duration
	HeartbeatInterval  time.Duration
	HeartbeatMisses    int
	STUNServer         string
}

// ClientOptions carries CLI flag overrides. Zero values fall through to the environment.
type ClientOptions struct {
	ServerURL  string
	Token      string
	STUNServer string
}

// LoadClient resolves client settings: CLI flag > environment > default.
func LoadClient(opts ClientOptions) *ClientConfig {
	cfg := &ClientConfig{
		ServerURL:          getEnv("SERVER_URL", "http://localhost:8080"),
		Token:              getEnv("ROOM_TOKEN", ""),
		ReconnectBase:      getEnvDuration("RECONNECT_BASE", 500*time.Millisecond),
		ReconnectMax:       getEnvDuration("RECONNECT_MAX", 15*time.Second),
		MaxConnectAttempts: getEnvInt("MAX_CONNECT_ATTEMPTS", 3),
		PollInterval:       getEnvDuration("POLL_INTERVAL", 5*time.Second),
		HeartbeatInterval:  getEnvDuration("HEARTBEAT_INTERVAL", 25*time.Second),
		HeartbeatMisses:    getEnvInt("HEARTBEAT_MISSES", 2),
		STUNServer:         getEnv("STUN_SERVER", "stun:stun.l.google.com:19302"),
	}

	if opts.ServerURL != "" {
		cfg.ServerURL = opts.ServerURL
	}
	if opts.Token != "" {
		cfg.Token = opts.Token
	}
	if opts.STUNServer != "" {
		cfg.STUNServer = opts.STUNServer
	}
	return cfg
}

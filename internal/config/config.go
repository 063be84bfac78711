package config

import (
	"os"
	"strconv"
	"time"
)

// ServerConfig holds settings for the chat server runtime.
type ServerConfig struct {
	ListenAddr       string
	Database         DatabaseConfig
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	MaxFrameBytes    int
}

// ClientConfig holds settings for the terminal client.
type ClientConfig struct {
	ServerAddr    string
	Database      DatabaseConfig
	CommandPrefix rune
}

// DatabaseConfig captures storage configuration.
type DatabaseConfig struct {
	Path string
}

// LoadServerConfig builds the server configuration from environment variables with sensible defaults.
func LoadServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:       envOrDefault("JIM_LISTEN_ADDR", ":7777"),
		Database:         DatabaseConfig{Path: envOrDefault("JIM_DB_PATH", "jim_server.db")},
		HandshakeTimeout: envDuration("JIM_HANDSHAKE_TIMEOUT", 30*time.Second),
		WriteTimeout:     envDuration("JIM_WRITE_TIMEOUT", 15*time.Second),
		MaxFrameBytes:    envInt("JIM_MAX_FRAME_BYTES", 1<<20),
	}
}

// LoadClientConfig builds the client configuration from environment variables.
func LoadClientConfig() ClientConfig {
	prefix := envOrDefault("JIM_COMMAND_PREFIX", "/")
	runes := []rune(prefix)
	commandPrefix := '/'
	if len(runes) > 0 {
		commandPrefix = runes[0]
	}
	return ClientConfig{
		ServerAddr:    envOrDefault("JIM_SERVER_ADDR", "localhost:7777"),
		Database:      DatabaseConfig{Path: envOrDefault("JIM_CLIENT_DB_PATH", "jim_client.db")},
		CommandPrefix: commandPrefix,
	}
}

func envOrDefault(key, value string) string {
	if env, ok := os.LookupEnv(key); ok {
		return env
	}
	return value
}

func envDuration(key string, def time.Duration) time.Duration {
	if env, ok := os.LookupEnv(key); ok {
		if parsed, err := time.ParseDuration(env); err == nil {
			return parsed
		}
	}
	return def
}

func envInt(key string, def int) int {
	if env, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(env); err == nil {
			return parsed
		}
	}
	return def
}

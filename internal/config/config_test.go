package config

import (
	"testing"
	"time"
)

func TestLoadServerConfigDefaults(t *testing.T) {
	cfg := LoadServerConfig()

	if cfg.ListenAddr != ":7777" {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, ":7777")
	}
	if cfg.Database.Path != "jim_server.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "jim_server.db")
	}
	if cfg.HandshakeTimeout != 30*time.Second {
		t.Errorf("HandshakeTimeout = %v, want %v", cfg.HandshakeTimeout, 30*time.Second)
	}
	if cfg.MaxFrameBytes != 1<<20 {
		t.Errorf("MaxFrameBytes = %d, want %d", cfg.MaxFrameBytes, 1<<20)
	}
}

func TestLoadServerConfigFromEnv(t *testing.T) {
	t.Setenv("JIM_LISTEN_ADDR", "127.0.0.1:9000")
	t.Setenv("JIM_HANDSHAKE_TIMEOUT", "10s")
	t.Setenv("JIM_MAX_FRAME_BYTES", "4096")

	cfg := LoadServerConfig()
	if cfg.ListenAddr != "127.0.0.1:9000" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.HandshakeTimeout != 10*time.Second {
		t.Errorf("HandshakeTimeout = %v", cfg.HandshakeTimeout)
	}
	if cfg.MaxFrameBytes != 4096 {
		t.Errorf("MaxFrameBytes = %d", cfg.MaxFrameBytes)
	}
}

func TestLoadServerConfigIgnoresBadValues(t *testing.T) {
	t.Setenv("JIM_HANDSHAKE_TIMEOUT", "soon")
	t.Setenv("JIM_MAX_FRAME_BYTES", "lots")

	cfg := LoadServerConfig()
	if cfg.HandshakeTimeout != 30*time.Second {
		t.Errorf("HandshakeTimeout = %v, want default", cfg.HandshakeTimeout)
	}
	if cfg.MaxFrameBytes != 1<<20 {
		t.Errorf("MaxFrameBytes = %d, want default", cfg.MaxFrameBytes)
	}
}

func TestLoadClientConfig(t *testing.T) {
	t.Setenv("JIM_SERVER_ADDR", "chat.example.net:7777")
	t.Setenv("JIM_COMMAND_PREFIX", "!")

	cfg := LoadClientConfig()
	if cfg.ServerAddr != "chat.example.net:7777" {
		t.Errorf("ServerAddr = %q", cfg.ServerAddr)
	}
	if cfg.CommandPrefix != '!' {
		t.Errorf("CommandPrefix = %q", cfg.CommandPrefix)
	}
}

package main

import (
	"path/filepath"
	"testing"
)

func TestParseMode(t *testing.T) {
	cases := []struct {
		args     []string
		mode     string
		leftover int
	}{
		{nil, modeClient, 0},
		{[]string{"server", "-addr", ":9000"}, modeServer, 2},
		{[]string{"LOCAL"}, modeLocal, 0},
		{[]string{"room-id"}, modeClient, 1},
	}
	for _, tc := range cases {
		mode, rest := parseMode(tc.args)
		if mode != tc.mode || len(rest) != tc.leftover {
			t.Fatalf("parseMode(%v) = %s %v", tc.args, mode, rest)
		}
	}
}

func TestBuildWebsocketURL(t *testing.T) {
	cases := map[string]string{
		"127.0.0.1:4321": "ws://127.0.0.1:4321/join",
		"[::]:8080":      "ws://127.0.0.1:8080/join",
		"localhost":      "ws://localhost/join",
	}
	for addr, want := range cases {
		if got := buildWebsocketURL(addr, "join"); got != want {
			t.Fatalf("buildWebsocketURL(%s) = %s, want %s", addr, got, want)
		}
	}
}

func TestServerConfigFromEnv(t *testing.T) {
	t.Setenv("FLASHCHAT_VIEW_WINDOW", "2s")
	t.Setenv("FLASHCHAT_SWEEP_INTERVAL", "")
	t.Setenv("FLASHCHAT_TOKEN_TTL", "")
	cfg, err := serverConfigFromEnv(":8080", "ws", "/tmp/x.db", "warn")
	if err != nil {
		t.Fatalf("serverConfigFromEnv: %v", err)
	}
	if cfg.Path != "/ws" || cfg.DBPath != "/tmp/x.db" || cfg.ViewWindow.Seconds() != 2 || cfg.Logger == nil {
		t.Fatalf("unexpected config %+v", cfg)
	}

	t.Setenv("FLASHCHAT_TOKEN_TTL", "forever")
	if _, err := serverConfigFromEnv(":8080", "", "/tmp/x.db", "info"); err == nil {
		t.Fatalf("expected error for a bad token ttl")
	}
}

func TestParseOptions(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("FLASHCHAT_DATA_DIR", dir)
	t.Setenv("FLASHCHAT_DB_PATH", "")
	t.Setenv("FLASHCHAT_SERVER", "")
	t.Setenv("FLASHCHAT_VIEW_WINDOW", "")
	t.Setenv("FLASHCHAT_TOKEN_TTL", "")

	opts, err := parseOptions([]string{"local", "-quiet", "-email", "asha@example.com", "abc123"})
	if err != nil {
		t.Fatalf("parseOptions: %v", err)
	}
	if opts.mode != modeLocal || !opts.quiet {
		t.Fatalf("unexpected mode %s quiet %v", opts.mode, opts.quiet)
	}
	if opts.server.Addr != "127.0.0.1:0" || opts.server.DBPath != filepath.Join(dir, "flashchat.db") {
		t.Fatalf("unexpected server config %+v", opts.server)
	}
	if opts.client.RoomID != "abc123" || opts.client.Email != "asha@example.com" || opts.client.ServerURL != "ws://localhost:8080/join" {
		t.Fatalf("unexpected client config %+v", opts.client)
	}

	if _, err := parseOptions([]string{"server", "-log-level", "loud"}); err == nil {
		t.Fatalf("expected error for an unknown log level")
	}
}

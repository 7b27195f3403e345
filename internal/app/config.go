package app

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

const (
	DefaultSweepInterval = time.Minute
	DefaultLogLevel      = "info"
)

// ServerConfig defines how the HTTP/WebSocket backend should run.
type ServerConfig struct {
	Addr   string
	Path   string
	DBPath string
	// ViewWindow is how long a first viewer may read a snap. Zero keeps the
	// engine default.
	ViewWindow    time.Duration
	SweepInterval time.Duration
	TokenTTL      time.Duration
	Logger        *slog.Logger
}

// ClientConfig defines the parameters the TUI client needs.
type ClientConfig struct {
	ServerURL   string
	RoomID      string
	Email       string
	SessionPath string
}

// DefaultDBPath returns a per-user data path for the bundled SQLite file.
func DefaultDBPath() string {
	if env := os.Getenv("FLASHCHAT_DB_PATH"); env != "" {
		return env
	}
	return filepath.Join(dataDir(), "flashchat.db")
}

// DefaultSessionPath is where the client keeps its bearer token between runs.
func DefaultSessionPath() string {
	if env := os.Getenv("FLASHCHAT_SESSION_PATH"); env != "" {
		return env
	}
	return filepath.Join(dataDir(), "session.json")
}

func dataDir() string {
	if env := os.Getenv("FLASHCHAT_DATA_DIR"); env != "" {
		return env
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "flashchat")
	}
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "FlashChat")
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, "Library", "Application Support", "FlashChat")
		}
		return filepath.Join(home, ".local", "share", "flashchat")
	}
	return filepath.Join(".", ".flashchat")
}

// NormalizeJoinPath guarantees the websocket join path starts with '/' and
// falls back to /join when empty.
func NormalizeJoinPath(path string) string {
	if path == "" {
		return "/join"
	}
	if path[0] != '/' {
		return "/" + path
	}
	return path
}

// DurationFromEnv parses key with time.ParseDuration, returning fallback when
// the variable is unset.
func DurationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: negative duration %s", key, value)
	}
	return d, nil
}

// NewLogger builds a text slog logger on stderr at the named level.
func NewLogger(level string) (*slog.Logger, error) {
	level = strings.TrimSpace(level)
	if level == "" {
		level = DefaultLogLevel
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), nil
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"flashchat/internal/app"
)

const (
	modeServer = "server"
	modeClient = "client"
	modeLocal  = "local"
)

// options is everything the command line and environment decide.
type options struct {
	mode   string
	server app.ServerConfig
	client app.ClientConfig
	quiet  bool
}

func main() {
	opts, err := parseOptions(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "flashchat: %v\n", err)
		os.Exit(2)
	}

	logf := func(format string, args ...interface{}) {
		if !opts.quiet {
			log.Printf(format, args...)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch opts.mode {
	case modeServer:
		err = runServerMode(ctx, opts.server, logf)
	case modeLocal:
		err = runLocalMode(ctx, opts.server, opts.client, logf)
	default:
		err = runClientMode(opts.client)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "flashchat: %v\n", err)
		os.Exit(1)
	}
}

// parseOptions reads an optional leading mode, then flags, then an optional
// room id to open on start.
func parseOptions(argv []string) (options, error) {
	mode, args := parseMode(argv)
	fs := flag.NewFlagSet("flashchat", flag.ContinueOnError)
	addr := fs.String("addr", envOrDefault("FLASHCHAT_ADDR", defaultAddrForMode(mode)), "server listen address")
	path := fs.String("path", envOrDefault("FLASHCHAT_PATH", "/join"), "websocket join path")
	db := fs.String("db", envOrDefault("FLASHCHAT_DB_PATH", ""), "sqlite database path (defaults to a per-user path)")
	logLevel := fs.String("log-level", envOrDefault("FLASHCHAT_LOG_LEVEL", app.DefaultLogLevel), "server log level (debug, info, warn, error)")
	serverURL := fs.String("server-url", envOrDefault("FLASHCHAT_SERVER", "ws://localhost:8080/join"), "server websocket URL (client mode)")
	email := fs.String("email", envOrDefault("FLASHCHAT_EMAIL", ""), "default email for login prompts")
	sessionPath := fs.String("session", app.DefaultSessionPath(), "where the client keeps its sign-in token")
	quiet := fs.Bool("quiet", false, "suppress informational logs")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	serverCfg, err := serverConfigFromEnv(*addr, *path, *db, *logLevel)
	if err != nil {
		return options{}, err
	}
	opts := options{
		mode:   mode,
		server: serverCfg,
		client: app.ClientConfig{
			ServerURL:   *serverURL,
			Email:       *email,
			SessionPath: *sessionPath,
		},
		quiet: *quiet,
	}
	if rest := fs.Args(); len(rest) > 0 {
		opts.client.RoomID = rest[0]
	}
	return opts, nil
}

func serverConfigFromEnv(addr, path, db, logLevel string) (app.ServerConfig, error) {
	cfg := app.ServerConfig{
		Addr:   addr,
		Path:   app.NormalizeJoinPath(path),
		DBPath: db,
	}
	if cfg.DBPath == "" {
		cfg.DBPath = app.DefaultDBPath()
	}
	var err error
	if cfg.ViewWindow, err = app.DurationFromEnv("FLASHCHAT_VIEW_WINDOW", 0); err != nil {
		return cfg, err
	}
	if cfg.SweepInterval, err = app.DurationFromEnv("FLASHCHAT_SWEEP_INTERVAL", app.DefaultSweepInterval); err != nil {
		return cfg, err
	}
	if cfg.TokenTTL, err = app.DurationFromEnv("FLASHCHAT_TOKEN_TTL", 0); err != nil {
		return cfg, err
	}
	if cfg.Logger, err = app.NewLogger(logLevel); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func runServerMode(ctx context.Context, cfg app.ServerConfig, logf func(string, ...interface{})) error {
	handle, err := app.RunServer(ctx, cfg)
	if err != nil {
		return err
	}
	logf("FlashChat server listening on %s (ws path %s, db %s)", handle.Addr(), cfg.Path, cfg.DBPath)
	return handle.Wait()
}

func runClientMode(cfg app.ClientConfig) error {
	if cfg.ServerURL == "" {
		return errors.New("client mode requires --server-url or FLASHCHAT_SERVER")
	}
	return app.RunClient(cfg)
}

// runLocalMode starts a private server on a loopback port and attaches the
// client to it. The server log is silenced so it does not scribble over the TUI.
func runLocalMode(ctx context.Context, serverCfg app.ServerConfig, clientCfg app.ClientConfig, logf func(string, ...interface{})) error {
	serverCfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	handle, err := app.RunServer(ctx, serverCfg)
	if err != nil {
		return err
	}
	defer stopServer(handle)

	logf("Starting local FlashChat server on %s (db %s)", handle.Addr(), serverCfg.DBPath)
	if err := waitForServer(handle.Addr(), 5*time.Second); err != nil {
		return err
	}

	clientCfg.ServerURL = buildWebsocketURL(handle.Addr(), serverCfg.Path)
	logf("Launching client against %s", clientCfg.ServerURL)

	if err := app.RunClient(clientCfg); err != nil {
		return err
	}
	stopServer(handle)
	return handle.Wait()
}

func waitForServer(addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		conn, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("server did not become ready: %w", err)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func buildWebsocketURL(addr, path string) string {
	path = app.NormalizeJoinPath(path)
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Sprintf("ws://%s%s", addr, path)
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("ws://%s%s", net.JoinHostPort(host, port), path)
}

func parseMode(args []string) (string, []string) {
	if len(args) == 0 {
		return modeClient, args
	}
	switch strings.ToLower(args[0]) {
	case modeServer, modeClient, modeLocal:
		return strings.ToLower(args[0]), args[1:]
	}
	return modeClient, args
}

func defaultAddrForMode(mode string) string {
	if mode == modeLocal {
		return "127.0.0.1:0"
	}
	return ":8080"
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func stopServer(handle *app.ServerHandle) {
	if handle == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = handle.Stop(shutdownCtx)
}

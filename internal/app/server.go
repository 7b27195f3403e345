package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"

	intrnl "flashchat/internal"
	"flashchat/internal/auth"
	"flashchat/internal/profile"
	"flashchat/internal/rooms"
	"flashchat/internal/snaps"
	"flashchat/internal/storage"
)

const shutdownTimeout = 5 * time.Second

// ServerHandle represents a running HTTP/WebSocket server instance.
type ServerHandle struct {
	addr   string
	server *http.Server
	flash  *intrnl.Server
	engine *snaps.Engine
	store  *storage.SQLiteStore
	logger *slog.Logger
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Addr returns the actual listen address (after the OS allocated a port).
func (h *ServerHandle) Addr() string {
	return h.addr
}

// Stop closes open streams, stops the sweeper and shuts the HTTP server down
// within the ctx deadline.
func (h *ServerHandle) Stop(ctx context.Context) error {
	if h == nil || h.server == nil {
		return nil
	}
	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
	}
	h.cancel()
	h.flash.Shutdown()
	return h.server.Shutdown(ctx)
}

// Wait blocks until the server and its background jobs exit.
func (h *ServerHandle) Wait() error {
	if h == nil {
		return nil
	}
	<-h.done
	return h.err
}

// RunServer opens the SQLite store, runs migrations, wires the snap engine
// and starts serving in the background. Call Stop/Wait to manage its
// lifecycle; cancelling ctx also stops it.
func RunServer(ctx context.Context, cfg ServerConfig) (*ServerHandle, error) {
	if cfg.DBPath == "" {
		return nil, errors.New("database path is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	cfg.Path = NormalizeJoinPath(cfg.Path)
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	store, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	clk := clock.New()
	registry := rooms.NewRegistry(store, clk)
	engine := snaps.NewEngine(store, registry, snaps.Options{
		Clock:      clk,
		ViewWindow: cfg.ViewWindow,
		Logger:     logger,
	})
	directory := auth.NewDirectory(store, auth.Options{Clock: clk, TokenTTL: cfg.TokenTTL})
	flash := intrnl.NewServer(intrnl.ServerDeps{
		Engine:    engine,
		Registry:  registry,
		Gate:      profile.NewGate(store, clk),
		Directory: directory,
		Logger:    logger,
		Clock:     clk,
	})

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           flash.Handler(cfg.Path),
		ReadHeaderTimeout: 10 * time.Second,
	}

	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("listen: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	handle := &ServerHandle{
		addr:   listener.Addr().String(),
		server: httpServer,
		flash:  flash,
		engine: engine,
		store:  store,
		logger: logger.With("component", "app"),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go handle.run(runCtx, listener, directory, cfg.SweepInterval)

	return handle, nil
}

func (h *ServerHandle) run(ctx context.Context, listener net.Listener, directory *auth.Directory, interval time.Duration) {
	defer close(h.done)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		err := h.server.Serve(listener)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	group.Go(func() error {
		<-groupCtx.Done()
		h.flash.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := h.server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Warn("server shutdown", "err", err)
		}
		return nil
	})
	group.Go(func() error {
		h.sweepLoop(groupCtx, directory, interval)
		return nil
	})

	h.err = group.Wait()
	h.engine.Close()
	if err := h.store.Close(); err != nil {
		h.logger.Warn("store close", "err", err)
	}
}

// sweepLoop runs sweep once at start and then every interval until ctx ends.
func (h *ServerHandle) sweepLoop(ctx context.Context, directory *auth.Directory, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		h.sweep(ctx, directory)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// sweep removes snaps whose deletion timers were lost across a restart, along
// with expired tokens and idle rate limit keys.
func (h *ServerHandle) sweep(ctx context.Context, directory *auth.Directory) {
	removed, err := h.engine.Sweep(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		h.logger.Warn("sweep snaps", "err", err)
	}
	h.flash.Metrics().AddSwept(removed)

	if purged, err := directory.PurgeExpired(ctx); err != nil && !errors.Is(err, context.Canceled) {
		h.logger.Warn("purge tokens", "err", err)
	} else if purged > 0 {
		h.logger.Info("purged expired tokens", "count", purged)
	}
	h.flash.PruneLimiters()
}

package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"

	"flashchat/internal/app"
)

func main() {
	addr := flag.String("addr", getEnv("FLASHCHAT_ADDR", ":8080"), "server listen address")
	path := flag.String("path", getEnv("FLASHCHAT_PATH", "/join"), "websocket join path")
	db := flag.String("db", getEnv("FLASHCHAT_DB_PATH", app.DefaultDBPath()), "sqlite database path")
	logLevel := flag.String("log-level", getEnv("FLASHCHAT_LOG_LEVEL", app.DefaultLogLevel), "log level (debug, info, warn, error)")
	flag.Parse()

	logger, err := app.NewLogger(*logLevel)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	cfg := app.ServerConfig{
		Addr:   *addr,
		Path:   app.NormalizeJoinPath(*path),
		DBPath: *db,
		Logger: logger,
	}
	if cfg.ViewWindow, err = app.DurationFromEnv("FLASHCHAT_VIEW_WINDOW", 0); err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.SweepInterval, err = app.DurationFromEnv("FLASHCHAT_SWEEP_INTERVAL", app.DefaultSweepInterval); err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.TokenTTL, err = app.DurationFromEnv("FLASHCHAT_TOKEN_TTL", 0); err != nil {
		log.Fatalf("config: %v", err)
	}

	os.Exit(serve(context.Background(), cfg, shutdownTimeout, func(addr string) {
		log.Printf("FlashChat server listening on %s%s (db %s)", addr, cfg.Path, cfg.DBPath)
	}))
}

const shutdownTimeout = 10 * time.Second

// serve runs the server until a signal arrives or trigger is cancelled, then
// stops it within timeout and returns the process exit code. trigger must not
// carry a deadline: its end starts the shutdown. ready is called with the
// bound address once the server accepts connections.
func serve(trigger context.Context, cfg app.ServerConfig, timeout time.Duration, ready func(addr string)) int {
	handle, err := app.RunServer(context.Background(), cfg)
	if err != nil {
		log.Printf("server error: %v", err)
		return 1
	}
	if ready != nil {
		ready(handle.Addr())
	}

	go func() {
		if err := handle.Wait(); err != nil {
			log.Fatalf("server error: %v", err)
		}
	}()

	shutdownChan := gfshutdown.GracefulShutdown(trigger, timeout, map[string]gfshutdown.Operation{
		"flashchat-server": func(ctx context.Context) error {
			if err := handle.Stop(ctx); err != nil {
				return err
			}
			return handle.Wait()
		},
	})

	exitCode := <-shutdownChan
	if exitCode != 0 {
		log.Printf("Shutdown completed with exit code: %d", exitCode)
		return exitCode
	}
	log.Println("Shutdown completed")
	return 0
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

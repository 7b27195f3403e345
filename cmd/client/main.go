package main

import (
	"flag"
	"fmt"
	"os"

	"flashchat/internal/app"
)

func main() {
	defaultServer := envOrDefault("FLASHCHAT_SERVER", "ws://localhost:8080/join")
	defaultEmail := envOrDefault("FLASHCHAT_EMAIL", "")

	serverJoinURL := flag.String("server", defaultServer, "WebSocket join URL (e.g., ws://localhost:8080/join)")
	email := flag.String("email", defaultEmail, "default email for login prompts")
	sessionPath := flag.String("session", app.DefaultSessionPath(), "where the sign-in token is kept between runs")
	flag.Parse()

	args := flag.Args()
	var roomID string
	if len(args) >= 1 {
		roomID = args[0]
	}

	cfg := app.ClientConfig{
		ServerURL:   *serverJoinURL,
		RoomID:      roomID,
		Email:       *email,
		SessionPath: *sessionPath,
	}

	if err := app.RunClient(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

package internal

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/benbjohnson/clock"

	"flashchat/internal/auth"
	"flashchat/internal/profile"
	"flashchat/internal/rooms"
	"flashchat/internal/session"
	"flashchat/internal/snaps"
)

const (
	authRateLimit  = 10
	authRateWindow = time.Minute
	sendRateLimit  = 5
	sendRateWindow = 3 * time.Second
)

var errUnauthorized = errors.New("unauthorized")

// ServerDeps are the components a Server exposes over HTTP.
type ServerDeps struct {
	Engine    *snaps.Engine
	Registry  *rooms.Registry
	Gate      *profile.Gate
	Directory *auth.Directory
	Logger    *slog.Logger
	Clock     clock.Clock
}

// Server serves the JSON API and the websocket room stream.
type Server struct {
	engine    *snaps.Engine
	registry  *rooms.Registry
	gate      *profile.Gate
	directory *auth.Directory
	logger    *slog.Logger

	metrics     *Metrics
	presence    *PresenceTracker
	authLimiter *RateLimiter
	sendLimiter *RateLimiter
	streams     *Hub
}

func NewServer(deps ServerDeps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	presence := NewPresenceTracker()
	return &Server{
		engine:      deps.Engine,
		registry:    deps.Registry,
		gate:        deps.Gate,
		directory:   deps.Directory,
		logger:      logger.With("component", "server"),
		metrics:     NewMetrics(presence),
		presence:    presence,
		authLimiter: NewRateLimiter(authRateLimit, authRateWindow, deps.Clock),
		sendLimiter: NewRateLimiter(sendRateLimit, sendRateWindow, deps.Clock),
		streams:     NewHub(),
	}
}

// Handler routes every endpoint. joinPath is where the websocket stream lives.
func (s *Server) Handler(joinPath string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(joinPath, s.ServeWS)
	mux.HandleFunc("/auth/guest", s.HandleGuest)
	mux.HandleFunc("/auth/signup", s.HandleSignup)
	mux.HandleFunc("/auth/login", s.HandleLogin)
	mux.HandleFunc("/auth/logout", s.HandleLogout)
	mux.HandleFunc("/profile", s.HandleProfile)
	mux.HandleFunc("/profile/premium", s.HandlePremium)
	mux.HandleFunc("/users", s.HandleSearchUsers)
	mux.HandleFunc("/rooms", s.HandleRooms)
	mux.HandleFunc("/rooms/{room}/join", s.HandleJoinRoom)
	mux.HandleFunc("/rooms/{room}/messages", s.HandleMessages)
	mux.HandleFunc("/rooms/{room}/messages/{snap}", s.HandleDeleteSnap)
	mux.HandleFunc("/rooms/{room}/messages/{snap}/act", s.HandleAct)
	mux.Handle("/metrics", s.MetricsHandler())
	return mux
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics
}

// Metrics exposes the counters so background jobs can record into them.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// PruneLimiters forgets rate limit keys with no hits inside their window.
func (s *Server) PruneLimiters() {
	s.authLimiter.Prune()
	s.sendLimiter.Prune()
}

// Shutdown closes every open stream and its session.
func (s *Server) Shutdown() {
	s.streams.CloseAll()
}

// startSession signs identityID into a new session for a stream connection.
func (s *Server) startSession(ctx context.Context, identityID string, notify func(session.Event)) (*session.Session, error) {
	return session.Start(ctx, session.Deps{
		Engine:   s.engine,
		Registry: s.registry,
		Gate:     s.gate,
		Logger:   s.logger,
	}, identityID, notify)
}

type authContext struct {
	Token    string
	Identity auth.Identity
}

func (s *Server) authenticateRequest(r *http.Request) (authContext, error) {
	token := bearerToken(r)
	if token == "" {
		return authContext{}, errUnauthorized
	}
	identity, err := s.directory.Resolve(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrUnauthorized) {
			return authContext{}, errUnauthorized
		}
		return authContext{}, err
	}
	return authContext{Token: token, Identity: identity}, nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

// clientIP keys rate limits on the connection's remote address. Forwarding
// headers are client controlled and ignored.
func (s *Server) clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

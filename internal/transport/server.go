package transport

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"whiteboard-backend/internal/handlers"
	"whiteboard-backend/internal/middleware"
	"whiteboard-backend/internal/user"
)

type Config struct {
	// Domains are the allowed Origin values. Empty allows same-origin only.
	Domains     []string
	Limits      *middleware.RateLimit
	IPLimiter   *middleware.IPRateLimit
	Identities  *user.IdentityManager
	Gateway     *handlers.Gateway
	Router      *handlers.MessageRouter
	SendBuffer  int
	AuthTimeout time.Duration
	Logger      *slog.Logger
}

// Server upgrades /ws requests and runs one session per connection.
type Server struct {
	upgrader      websocket.Upgrader
	domains       []string
	limits        *middleware.RateLimit
	ipLimiter     *middleware.IPRateLimit
	identities    *user.IdentityManager
	authenticator *Authenticator
	gateway       *handlers.Gateway
	router        *handlers.MessageRouter
	sendBuffer    int
	authTimeout   time.Duration
	logger        *slog.Logger

	mu       sync.Mutex
	sessions map[string]*user.Session
	closing  bool
	conns    sync.WaitGroup
}

func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	limits := cfg.Limits
	if limits == nil {
		limits = middleware.DefaultRateLimit()
	}
	ipLimiter := cfg.IPLimiter
	if ipLimiter == nil {
		ipLimiter = middleware.NewIPRateLimit()
	}
	authTimeout := cfg.AuthTimeout
	if authTimeout <= 0 {
		authTimeout = 5 * time.Second
	}

	s := &Server{
		domains:       cfg.Domains,
		limits:        limits,
		ipLimiter:     ipLimiter,
		identities:    cfg.Identities,
		authenticator: NewAuthenticator(cfg.Identities, logger),
		gateway:       cfg.Gateway,
		router:        cfg.Router,
		sendBuffer:    cfg.SendBuffer,
		authTimeout:   authTimeout,
		logger:        logger,
		sessions:      make(map[string]*user.Session),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// checkOrigin: CORS against the configured domains
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// not a browser
		return true
	}

	if len(s.domains) == 0 {
		u, err := url.Parse(origin)
		return err == nil && strings.EqualFold(u.Host, r.Host)
	}

	for _, allowed := range s.domains {
		if origin == allowed {
			return true
		}
	}
	return false
}

// GetClientIP: RemoteAddr only, forwarding headers can be spoofed
func GetClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ServeHTTP upgrades to WebSocket, authenticates, optionally joins the
// board named by ?room= and runs the connection until it ends.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientIP := GetClientIP(r)
	if !s.ipLimiter.Allow(clientIP) {
		s.logger.Warn("rate limit exceeded for IP", "ip", clientIP)
		http.Error(w, "Too many connections", http.StatusTooManyRequests)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", "ip", clientIP, "error", err)
		return
	}
	defer conn.Close()

	identity, err := s.authenticator.Authenticate(conn, s.authTimeout)
	if err != nil {
		s.logger.Warn("authentication failed", "ip", clientIP, "error", err)
		return
	}

	session := user.NewSession(uuid.NewString(), identity, s.sendBuffer)
	if !s.track(session) {
		return
	}
	defer s.untrack(session)

	c := &connection{
		ws:      conn,
		session: session,
		limits:  s.limits,
		router:  s.router,
		logger:  s.logger,
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writePump()
	}()

	s.logger.Info("session connected", "session", session.ID(), "user", identity.UserID, "ip", clientIP)

	if boardID := r.URL.Query().Get("room"); boardID != "" {
		// failures are logged by the gateway; the session stays connected
		_ = s.gateway.OnJoin(session, boardID)
	}

	c.readPump()

	s.gateway.OnDisconnect(session)
	s.identities.Touch(identity.UserID)
	<-writerDone

	s.logger.Info("session disconnected", "session", session.ID(), "user", identity.UserID)
}

func (s *Server) track(session *user.Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closing {
		return false
	}
	s.sessions[session.ID()] = session
	s.conns.Add(1)
	return true
}

func (s *Server) untrack(session *user.Session) {
	s.mu.Lock()
	delete(s.sessions, session.ID())
	s.mu.Unlock()
	s.conns.Done()
}

// Sessions: live authenticated connections
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Shutdown closes every session and waits for their connections to end
// or ctx to expire. New connections are refused afterwards.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	sessions := make([]*user.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		sessions = append(sessions, session)
	}
	s.mu.Unlock()

	for _, session := range sessions {
		session.Close()
	}

	done := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

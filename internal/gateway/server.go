package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/autoreply/internal/bus"
	"github.com/nextlevelbuilder/autoreply/internal/config"
	httpapi "github.com/nextlevelbuilder/autoreply/internal/http"
	"github.com/nextlevelbuilder/autoreply/internal/reply"
)

// Server is the admin HTTP server: account settings, pipeline diagnosis,
// health and a websocket feed of reply outcomes.
type Server struct {
	cfg     config.AdminConfig
	version string

	accountsHandler *httpapi.AccountsHandler
	repliesHandler  *httpapi.RepliesHandler
	stats           func() map[string]int64

	upgrader websocket.Upgrader
	clients  map[string]*Client
	mu       sync.RWMutex

	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer creates an admin server.
func NewServer(cfg config.AdminConfig, version string) *Server {
	s := &Server{
		cfg:     cfg,
		version: version,
		clients: make(map[string]*Client),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) SetAccountsHandler(h *httpapi.AccountsHandler) { s.accountsHandler = h }

func (s *Server) SetRepliesHandler(h *httpapi.RepliesHandler) { s.repliesHandler = h }

// SetStats installs the counter source reported by /health.
func (s *Server) SetStats(fn func() map[string]int64) { s.stats = fn }

// checkOrigin validates the websocket origin against the allowlist.
// Empty Origin (non-browser clients) is always allowed.
func (s *Server) checkOrigin(r *http.Request) bool {
	allowed := s.cfg.AllowedOrigins
	if len(allowed) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, a := range allowed {
		if origin == a || a == "*" {
			return true
		}
	}
	slog.Warn("security.cors_rejected", "origin", origin)
	return false
}

// BuildMux creates and caches the HTTP mux with all routes registered.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/v1/events", httpapi.RequireToken(s.cfg.Token, s.handleWebSocket))
	if s.accountsHandler != nil {
		s.accountsHandler.RegisterRoutes(mux)
	}
	if s.repliesHandler != nil {
		s.repliesHandler.RegisterRoutes(mux)
	}
	s.mux = mux
	return mux
}

// Start listens until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("admin server: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve handles connections on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.httpServer = &http.Server{
		Handler:           s.BuildMux(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("admin: listening", "addr", ln.Addr().String())

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.closeClients()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != http.ErrServerClosed {
		return fmt.Errorf("admin server: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"status":  "ok",
		"version": s.version,
		"clients": s.ClientCount(),
	}
	if s.stats != nil {
		body["outcomes"] = s.stats()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(body)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("admin: websocket upgrade failed", "error", err)
		return
	}
	c := newClient(uuid.NewString(), conn)
	s.registerClient(c)
	defer s.unregisterClient(c)
	c.run()
}

// OutcomeEvent is pushed to /v1/events subscribers after every pipeline run.
type OutcomeEvent struct {
	Type      string              `json:"type"`
	Channel   string              `json:"channel"`
	AccountID string              `json:"account_id"`
	SenderID  string              `json:"sender_id"`
	ChatID    string              `json:"chat_id"`
	Message   string              `json:"message"`
	Outcome   httpapi.OutcomeView `json:"outcome"`
	At        time.Time           `json:"at"`
}

// PublishOutcome broadcasts one outcome. Its signature matches dispatch.Router.OnOutcome.
func (s *Server) PublishOutcome(msg bus.InboundMessage, out reply.Outcome) {
	s.Broadcast(OutcomeEvent{
		Type:      "reply.outcome",
		Channel:   msg.Channel,
		AccountID: msg.AccountID,
		SenderID:  msg.SenderID,
		ChatID:    msg.ChatID,
		Message:   msg.Content,
		Outcome:   httpapi.NewOutcomeView(out),
		At:        time.Now().UTC(),
	})
}

// Broadcast sends ev to every connected client. Slow clients drop events.
func (s *Server) Broadcast(ev interface{}) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Warn("admin: marshal event", "error", err)
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clients {
		c.enqueue(data)
	}
}

// ClientCount reports connected websocket clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Server) registerClient(c *Client) {
	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()
	slog.Info("admin: client connected", "id", c.id)
}

func (s *Server) unregisterClient(c *Client) {
	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()
	c.Close()
	slog.Info("admin: client disconnected", "id", c.id)
}

func (s *Server) closeClients() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clients {
		c.Close()
	}
}

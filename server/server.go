// Package server exposes an agent to remote observers: a websocket
// endpoint joined to a bridge.Router, plus JSON endpoints for retained
// profiles and node snapshots.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/hazyhaar/treewatch/bridge"
	"github.com/hazyhaar/treewatch/wire"
)

// Source is the agent side served over HTTP.
type Source interface {
	Snapshot(id wire.ID) wire.InspectedElement
	Profile(token string) (wire.Profile, bool)
	NodeCount() int
}

// Config configures a Server.
type Config struct {
	Addr string
	// Path is the websocket endpoint.
	Path   string
	Router *bridge.Router
	Source Source
	// Codec is used unless the observer asks for another with ?codec=.
	Codec  wire.Codec
	Logger *slog.Logger
	// CheckOrigin is passed to the websocket upgrader. Nil accepts any
	// origin.
	CheckOrigin  func(*http.Request) bool
	PingInterval time.Duration
}

func (c *Config) defaults() {
	if c.Addr == "" {
		c.Addr = ":7780"
	}
	if c.Path == "" {
		c.Path = "/ws"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Router == nil {
		c.Router = bridge.NewRouter(c.Logger)
	}
	if c.Codec == nil {
		c.Codec = wire.JSON
	}
	if c.CheckOrigin == nil {
		c.CheckOrigin = func(*http.Request) bool { return true }
	}
}

// Server serves observers.
type Server struct {
	cfg      Config
	mux      *chi.Mux
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*bridge.WebSocket]struct{}
	wg    sync.WaitGroup
}

// New builds the routes. Call ListenAndServe or mount Handler.
func New(cfg Config) *Server {
	cfg.defaults()
	s := &Server{
		cfg:      cfg,
		upgrader: websocket.Upgrader{CheckOrigin: cfg.CheckOrigin},
		conns:    make(map[*bridge.WebSocket]struct{}),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders)
	r.Use(requestLogger(cfg.Logger))

	r.Get("/healthz", s.handleHealth)
	r.Get(cfg.Path, s.handleWS)
	r.Get("/profiles/{token}", s.handleProfile)
	r.Get("/nodes/{id}", s.handleNode)
	s.mux = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.mux }

// Router returns the router observers are joined to.
func (s *Server) Router() *bridge.Router { return s.cfg.Router }

// ListenAndServe serves until ctx is done, then shuts down and closes
// every observer connection.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.cfg.Logger.Info("server: listening", "addr", s.cfg.Addr, "path", s.cfg.Path)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: listen: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.Close()
	if err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// Close disconnects every observer.
func (s *Server) Close() {
	s.mu.Lock()
	conns := make([]*bridge.WebSocket, 0, len(s.conns))
	for ws := range s.conns {
		conns = append(conns, ws)
	}
	s.mu.Unlock()
	for _, ws := range conns {
		ws.Close()
	}
	s.wg.Wait()
}

// Observers returns the number of attached observers.
func (s *Server) Observers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"nodes":     s.cfg.Source.NodeCount(),
		"observers": s.Observers(),
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	codec := s.cfg.Codec
	if name := r.URL.Query().Get("codec"); name != "" {
		c, err := wire.CodecByName(name)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		codec = c
	}

	log := loggerFrom(r.Context(), s.cfg.Logger)
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied.
		log.Warn("server: upgrade failed", "error", err)
		return
	}
	ws := bridge.NewWebSocket(conn, bridge.WebSocketConfig{
		Codec:        codec,
		Logger:       s.cfg.Logger,
		PingInterval: s.cfg.PingInterval,
		OnOpen: func(ws *bridge.WebSocket) {
			s.mu.Lock()
			s.conns[ws] = struct{}{}
			s.mu.Unlock()
			s.cfg.Router.Add(ws)
		},
	})
	log.Info("server: observer attached", "remote", r.RemoteAddr, "codec", codec.Name())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		<-ws.Done()
		s.cfg.Router.Remove(ws)
		ws.Close()
		s.mu.Lock()
		delete(s.conns, ws)
		s.mu.Unlock()
		log.Info("server: observer detached", "remote", r.RemoteAddr)
	}()
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	p, ok := s.cfg.Source.Profile(token)
	if !ok {
		writeJSON(w, http.StatusNotFound, p)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleNode(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid node id", http.StatusBadRequest)
		return
	}
	el := s.cfg.Source.Snapshot(wire.ID(n))
	if el.Type == wire.InspectNotFound {
		writeJSON(w, http.StatusNotFound, el)
		return
	}
	writeJSON(w, http.StatusOK, el)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

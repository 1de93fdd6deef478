package dashboard

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/janus-scope/backend/internal/health"
	"github.com/janus-scope/backend/internal/plugin"
	"github.com/janus-scope/backend/internal/store"
)

const sessionCookie = "janus_scope_session"

// RoomLister lists the videoroom rooms visible to the control handle.
type RoomLister interface {
	List(ctx context.Context) ([]plugin.RoomInfo, error)
}

// Server exposes the dashboard's HTTP surface: stored event queries,
// the live WebSocket stream, login, health and metrics.
type Server struct {
	store          *store.Store
	broadcaster    *Broadcaster
	reporter       *health.Reporter
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	authToken      string
	password       string
	rooms          RoomLister

	sessMu   sync.Mutex
	sessions map[string]time.Time
}

func NewServer(st *store.Store, broadcaster *Broadcaster, reporter *health.Reporter, allowedOrigins []string, authToken, password string) *Server {
	s := &Server{
		store:          st,
		broadcaster:    broadcaster,
		reporter:       reporter,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		authToken:      authToken,
		password:       password,
		sessions:       make(map[string]time.Time),
	}

	for _, origin := range allowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}

	return s
}

// SetRoomLister enables /api/rooms. Call before SetupRoutes; when no
// lister is set the endpoint answers 503.
func (s *Server) SetRoomLister(l RoomLister) {
	s.rooms = l
}

func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/events", s.handleEvents)
	mux.HandleFunc("/api/events/clear", s.handleClear)
	mux.HandleFunc("/api/rooms", s.handleRooms)
	mux.HandleFunc("/api/login", s.handleLogin)
	mux.HandleFunc("/api/logout", s.handleLogout)
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}

	log.Printf("dashboard client connected: %s", r.RemoteAddr)
	c := s.broadcaster.AddClient(conn)

	go func() {
		defer func() {
			s.broadcaster.RemoveClient(c)
			log.Printf("dashboard client disconnected: %s", r.RemoteAddr)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	events, err := s.store.Recent(limit)
	if err != nil {
		http.Error(w, fmt.Sprintf("query failed: %v", err), http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []store.StoredEvent{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(events)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := s.store.Clear(); err != nil {
		http.Error(w, fmt.Sprintf("clear failed: %v", err), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRooms(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.rooms == nil {
		http.Error(w, "room listing not available", http.StatusServiceUnavailable)
		return
	}

	rooms, err := s.rooms.List(r.Context())
	if err != nil {
		http.Error(w, fmt.Sprintf("room listing failed: %v", err), http.StatusBadGateway)
		return
	}
	if rooms == nil {
		rooms = []plugin.RoomInfo{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rooms)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.password == "" {
		http.Error(w, "login disabled", http.StatusNotFound)
		return
	}

	var body struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if subtle.ConstantTimeCompare([]byte(body.Password), []byte(s.password)) != 1 {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	id := uuid.NewString()
	s.sessMu.Lock()
	s.sessions[id] = time.Now()
	s.sessMu.Unlock()

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if cookie, err := r.Cookie(sessionCookie); err == nil {
		s.sessMu.Lock()
		delete(s.sessions, cookie.Value)
		s.sessMu.Unlock()
	}

	http.SetCookie(w, &http.Cookie{
		Name:   sessionCookie,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.reporter == nil {
		http.Error(w, "health not available", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.reporter.Snapshot())
}

func (s *Server) authorize(r *http.Request) bool {
	if s.authToken == "" && s.password == "" {
		return true
	}

	if s.authToken != "" {
		if r.URL.Query().Get("token") == s.authToken {
			return true
		}
		if r.Header.Get("X-Janus-Scope-Token") == s.authToken {
			return true
		}
		auth := r.Header.Get("Authorization")
		if strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.authToken {
			return true
		}
	}

	if s.password != "" {
		if cookie, err := r.Cookie(sessionCookie); err == nil {
			s.sessMu.Lock()
			_, ok := s.sessions[cookie.Value]
			s.sessMu.Unlock()
			return ok
		}
	}

	return false
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := parsed.Host
	if host == "" {
		return false
	}

	if host == r.Host {
		return true
	}

	if strings.HasPrefix(host, "localhost:") || host == "localhost" {
		return true
	}
	if strings.HasPrefix(host, "127.0.0.1:") || host == "127.0.0.1" {
		return true
	}
	if strings.HasPrefix(host, "[::1]:") || host == "::1" {
		return true
	}

	return false
}

func ListenAndServe(host string, port int, mux *http.ServeMux) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	log.Printf("dashboard listening on %s", addr)
	return http.ListenAndServe(addr, mux)
}

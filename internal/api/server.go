// Package api exposes the local command surface: a loopback-only HTTP
// server the desktop UI and the CLI drive sends through, plus a
// websocket stream of pipeline progress events.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"coursecast/internal/broadcast"
	"coursecast/internal/canvas"
	"coursecast/internal/claims"
	"coursecast/internal/eventbus"
	"coursecast/internal/token"
	logx "coursecast/pkg/logx"
)

const defaultAddr = "127.0.0.1:4810"

// Gateway is the slice of the platform client the API needs.
type Gateway interface {
	Domain() string
	Ping(ctx context.Context) error
	Self(ctx context.Context) (canvas.Profile, error)
	ListCourses(ctx context.Context, termFilter string) ([]canvas.Course, error)
	ListSections(ctx context.Context, courseID int64) ([]canvas.Section, error)
	ResolveRecipient(ctx context.Context, courseID int64, nameQuery string) (canvas.Resolution, error)
}

// Broadcaster runs the send pipeline for one course.
type Broadcaster interface {
	SendToCourse(ctx context.Context, course broadcast.CourseRef, msg broadcast.Message) (broadcast.Summary, error)
}

type Config struct {
	Addr  string
	Token string // optional bearer token

	// DefaultTerm is applied when a course listing gives no term filter.
	DefaultTerm string
}

type Server struct {
	cfg    Config
	gw     Gateway
	bc     Broadcaster
	store  claims.Store
	tokens *token.Observer
	bus    eventbus.Bus
	log    logx.Logger

	mu  sync.Mutex
	ln  net.Listener
	srv *http.Server
}

func New(cfg Config, gw Gateway, bc Broadcaster, store claims.Store, tokens *token.Observer, bus eventbus.Bus, log logx.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = defaultAddr
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{cfg: cfg, gw: gw, bc: bc, store: store, tokens: tokens, bus: bus, log: log}
}

// Start binds and serves in the background. Non-loopback addresses are
// refused outright: this server is a local control socket, not a
// network service.
func (s *Server) Start() error {
	if !isLoopbackAddr(s.cfg.Addr) {
		return fmt.Errorf("api: refusing non-loopback addr %q", s.cfg.Addr)
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("api: listen %s: %w", s.cfg.Addr, err)
	}

	srv := &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	s.mu.Lock()
	s.ln = ln
	s.srv = srv
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("api server stopped", logx.Err(err))
		}
	}()

	s.log.Info("api listening", logx.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/self", s.handleSelf)
	mux.HandleFunc("GET /api/courses", s.handleCourses)
	mux.HandleFunc("GET /api/sections", s.handleSections)
	mux.HandleFunc("GET /api/resolve", s.handleResolve)
	mux.HandleFunc("GET /api/sends", s.handleSends)
	mux.HandleFunc("POST /api/send", s.handleSend)
	mux.HandleFunc("GET /api/token", s.handleTokenGet)
	mux.HandleFunc("DELETE /api/token", s.handleTokenClear)
	mux.HandleFunc("POST /api/token/header", s.handleTokenHeader)
	mux.HandleFunc("POST /api/token/cookie", s.handleTokenCookie)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	return s.auth(mux)
}

func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !validateToken(r, s.cfg.Token) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func validateToken(r *http.Request, tok string) bool {
	if tok == "" {
		return true
	}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ") == tok
	}
	// Websocket clients can't always set headers.
	if q := r.URL.Query().Get("token"); q != "" {
		return q == tok
	}
	return false
}

func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorBody{Error: err.Error()})
}

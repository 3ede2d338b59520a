// Package api implements Penny's HTTP edge: chat, accounts,
// preferences, portfolio analysis, and operational endpoints.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nugget/penny/internal/auth"
	"github.com/nugget/penny/internal/buildinfo"
	"github.com/nugget/penny/internal/chat"
	"github.com/nugget/penny/internal/metrics"
	"github.com/nugget/penny/internal/portfolio"
	"github.com/nugget/penny/internal/preferences"
	"github.com/nugget/penny/internal/users"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// ChatRunner runs one assistant turn.
type ChatRunner interface {
	Turn(ctx context.Context, req chat.Request) (chat.Reply, error)
}

// Accounts is the account surface used by the /auth routes.
type Accounts interface {
	Register(ctx context.Context, name, email, password string) (auth.Session, error)
	Login(ctx context.Context, email, password string) (auth.Session, error)
	RequestPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, newPassword string) error
}

// UserLookup reads a user by id.
type UserLookup interface {
	GetByID(ctx context.Context, id int64) (users.User, error)
}

// Profiles reads and writes personalization profiles.
type Profiles interface {
	Get(ctx context.Context, userID int64) (preferences.Profile, error)
	Save(ctx context.Context, p preferences.Profile) error
}

// Holdings reads and replaces a user's stored portfolio.
type Holdings interface {
	List(ctx context.Context, userID int64) ([]portfolio.Holding, error)
	Replace(ctx context.Context, userID int64, holdings []portfolio.Holding) error
}

// Config wires a Server.
type Config struct {
	Address string
	Port    int

	Chat        ChatRunner
	Accounts    Accounts
	Guard       *auth.Guard
	Cookies     auth.Cookies
	SessionTTL  time.Duration
	Users       UserLookup
	Preferences Profiles
	Holdings    Holdings

	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer // nil disables /metrics

	AllowedOrigins []string
	RateLimit      RateLimit
	StaticDir      string // served at / when set

	Logger *slog.Logger
}

// Server is the HTTP API server.
type Server struct {
	cfg     Config
	logger  *slog.Logger
	limiter *clientLimiter
	server  *http.Server
}

// NewServer creates a new API server.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		logger:  logger.With("component", "api"),
		limiter: newClientLimiter(cfg.RateLimit),
	}
}

// Handler returns the fully wrapped route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("POST /chat", s.cfg.Guard.Optional(http.HandlerFunc(s.handleChat)))

	mux.HandleFunc("POST /auth/register", s.handleRegister)
	mux.HandleFunc("POST /auth/login", s.handleLogin)
	mux.HandleFunc("POST /auth/logout", s.handleLogout)
	mux.HandleFunc("POST /auth/request-password-reset", s.handleRequestReset)
	mux.HandleFunc("POST /auth/reset-password", s.handleResetPassword)

	mux.Handle("GET /api/user", s.cfg.Guard.Require(http.HandlerFunc(s.handleUser)))
	mux.Handle("GET /api/user/preferences", s.cfg.Guard.Require(http.HandlerFunc(s.handleGetPreferences)))
	mux.Handle("POST /api/saveUserPreferences", s.cfg.Guard.Require(http.HandlerFunc(s.handleSavePreferences)))
	mux.Handle("GET /api/portfolio", s.cfg.Guard.Require(http.HandlerFunc(s.handleGetPortfolio)))
	mux.Handle("PUT /api/portfolio", s.cfg.Guard.Require(http.HandlerFunc(s.handlePutPortfolio)))
	mux.HandleFunc("POST /api/analyzePortfolio", s.handleAnalyzePortfolio)

	mux.HandleFunc("GET /api/data", s.handleData)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /v1/version", s.handleVersion)
	if s.cfg.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{}))
	}
	if s.cfg.StaticDir != "" {
		mux.Handle("GET /", http.FileServer(http.Dir(s.cfg.StaticDir)))
	} else {
		mux.HandleFunc("GET /{$}", s.handleRoot)
	}

	var h http.Handler = mux
	h = s.withRecover(h)
	h = s.withMetrics(h)
	h = s.withRateLimit(h)
	h = s.withCORS(h)
	h = withSecurityHeaders(h)
	h = s.withLogging(h)
	h = withRequestID(h)
	return h
}

// Start serves HTTP until the server is shut down.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Address, s.cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      120 * time.Second, // chat turns poll for up to ~30s per wait
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	addr := s.cfg.Address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.cfg.Port)
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"name":    "Penny",
		"version": buildinfo.Version,
		"status":  "ok",
	})
}

func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"message": "API is working!"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, buildinfo.RuntimeInfo())
}

// writeJSON encodes v with status. Encode errors usually mean the
// client went away and are only logged at debug.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("failed to write JSON response", "error", err)
	}
}

// result writes the {success, message} envelope used by the account
// and preference routes.
func (s *Server) result(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]any{"success": status < 400, "message": msg})
}

// decode reads a JSON body into v.
func decode(r *http.Request, w http.ResponseWriter, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}

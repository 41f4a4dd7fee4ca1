// Package server exposes the named query/mutation RPC surface, battle
// subscriptions, the auth webhook and the health check over HTTP.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cards-of-power/internal/apperr"
	"github.com/park285/cards-of-power/internal/auth"
	"github.com/park285/cards-of-power/internal/battle"
	"github.com/park285/cards-of-power/internal/catalog"
	"github.com/park285/cards-of-power/internal/domain"
	"github.com/park285/cards-of-power/internal/obslog"
	"github.com/park285/cards-of-power/internal/users"
)

// HistorySource lists archived battles for a user.
type HistorySource interface {
	History(ctx context.Context, userID string, limit int) ([]battle.Summary, error)
}

// EconomySource reads the daily economy snapshots of a user.
type EconomySource interface {
	History(ctx context.Context, userID string, since time.Time) ([]domain.EconomySnapshot, error)
}

// HealthCheck is one dependency probed by /healthz.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type Options struct {
	RateLimitRPS   float64
	RateLimitBurst int
	AllowedOrigins []string
	// AdminUserIDs may call grantCard.
	AdminUserIDs []string
}

type Server struct {
	battles *battle.Manager
	users   *users.Service
	cards   *catalog.Catalog
	history HistorySource
	economy EconomySource
	tokens  *auth.TokenService
	webhook http.Handler
	health  []HealthCheck
	limiter *userLimiter
	origins []string
	admins  map[string]bool
	now     func() time.Time

	queries   map[string]handlerFunc
	mutations map[string]handlerFunc

	known sync.Map // user ids already ensured in the user store
	mux   *http.ServeMux
}

func New(battles *battle.Manager, us *users.Service, cards *catalog.Catalog, tokens *auth.TokenService, opts Options) *Server {
	s := &Server{
		battles: battles,
		users:   us,
		cards:   cards,
		tokens:  tokens,
		limiter: newUserLimiter(opts.RateLimitRPS, opts.RateLimitBurst),
		origins: opts.AllowedOrigins,
		admins:  make(map[string]bool, len(opts.AdminUserIDs)),
		now:     time.Now,
		mux:     http.NewServeMux(),
	}
	for _, id := range opts.AdminUserIDs {
		s.admins[id] = true
	}
	s.registerHandlers()
	s.mux.HandleFunc("POST /api/query/{name}", s.handleRPC(s.queries, false))
	s.mux.HandleFunc("POST /api/mutation/{name}", s.handleRPC(s.mutations, true))
	s.mux.HandleFunc("GET /api/subscribe/battle/{id}", s.handleSubscribe)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	return s
}

// AttachWebhook mounts the signed auth-provider webhook.
func (s *Server) AttachWebhook(h http.Handler) {
	if s != nil && h != nil {
		s.webhook = h
		s.mux.Handle("POST /webhooks/auth", h)
	}
}

func (s *Server) AttachHistory(h HistorySource) {
	if s != nil {
		s.history = h
	}
}

// AttachEconomy enables the economyHistory query.
func (s *Server) AttachEconomy(e EconomySource) {
	if s != nil {
		s.economy = e
	}
}

func (s *Server) AttachHealthCheck(name string, fn func(ctx context.Context) error) {
	if s != nil && fn != nil {
		s.health = append(s.health, HealthCheck{Name: name, Check: fn})
	}
}

func (s *Server) Handler() http.Handler { return s.withAccessLog(s.mux) }

// NewHTTPServer wraps the handler with the timeouts used in production.
func (s *Server) NewHTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Hijack is needed by the websocket upgrade.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (s *Server) withAccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		obslog.L().Debug("http_request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	out := map[string]string{}
	status := http.StatusOK
	for _, hc := range s.health {
		if err := hc.Check(ctx); err != nil {
			out[hc.Name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		out[hc.Name] = "ok"
	}
	writeJSON(w, status, out)
}

// statusFor maps an error kind to an HTTP status. The body never carries the kind.
func statusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.Invalid:
		return http.StatusBadRequest
	case apperr.Unauthenticated:
		return http.StatusUnauthorized
	case apperr.Forbidden:
		return http.StatusForbidden
	case apperr.NotFound:
		return http.StatusNotFound
	case apperr.Conflict:
		return http.StatusConflict
	case apperr.NotImplemented:
		return http.StatusUnprocessableEntity
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type valueEnvelope struct {
	Value any `json:"value"`
}

type errorEnvelope struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeJSON(w, status, errorEnvelope{Error: msg})
}

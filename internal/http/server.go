// Package http exposes the dashboard, the write gateway and the account
// flows as a JSON API with a server-sent event stream of live views.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"finpulse/internal/auth"
	"finpulse/internal/dashboard"
	"finpulse/internal/gateway"
	"finpulse/internal/log"
	"finpulse/internal/middleware/ratelimit"
	"finpulse/internal/middleware/security"
	"finpulse/internal/middleware/trace"
)

// Accounts is what the server needs from the local authenticator.
type Accounts interface {
	auth.Authenticator
	SignUp(ctx context.Context, email, password, displayName string) (auth.Identity, error)
	ConfirmReset(ctx context.Context, token, password string) error
	Lookup(ctx context.Context, id string) (auth.Identity, error)
}

// Deps are the collaborators a Server is built from. Accounts, Tokens,
// Gateway and Registry are required.
type Deps struct {
	Accounts       Accounts
	Tokens         *auth.Tokens
	Gateway        *gateway.Gateway
	Registry       *dashboard.Registry
	Logger         *log.Logger
	RateLimit      ratelimit.Config
	TrustedProxies []string
	// Ready reports whether the backing store is reachable. Nil means always.
	Ready func(context.Context) error
}

type Server struct {
	http.Server
	accounts Accounts
	tokens   *auth.Tokens
	gateway  *gateway.Gateway
	registry *dashboard.Registry
	limiter  *ratelimit.Limiter
	detector *security.Detector
	tracer   *trace.Middleware
	logger   *log.Logger
	ready    func(context.Context) error

	heartbeat    time.Duration
	stopping     chan struct{}
	shutdownOnce sync.Once
}

// NewServer wires routes and middleware, returning a ready-to-run server.
func NewServer(addr string, deps Deps) (*Server, error) {
	if deps.Accounts == nil || deps.Tokens == nil || deps.Gateway == nil || deps.Registry == nil {
		return nil, errors.New("http server: accounts, tokens, gateway and registry are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.Discard()
	}
	logger = logger.WithComponent(log.ComponentHTTP)

	detector, err := security.NewDetector(logger, deps.TrustedProxies...)
	if err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}

	s := &Server{
		Server: http.Server{
			Addr:              addr,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		accounts:  deps.Accounts,
		tokens:    deps.Tokens,
		gateway:   deps.Gateway,
		registry:  deps.Registry,
		limiter:   ratelimit.NewLimiter(deps.RateLimit),
		detector:  detector,
		tracer:    trace.NewMiddleware(logger, detector.ExtractClientIP),
		logger:    logger,
		ready:     deps.Ready,
		heartbeat: 25 * time.Second,
		stopping:  make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	mux.HandleFunc("POST /api/auth/signup", s.handleSignUp)
	mux.HandleFunc("POST /api/auth/signin", s.handleSignIn)
	mux.HandleFunc("POST /api/auth/google", s.handleProviderSignIn)
	mux.HandleFunc("POST /api/auth/reset", s.handleSendReset)
	mux.HandleFunc("POST /api/auth/reset/confirm", s.handleConfirmReset)
	mux.HandleFunc("POST /api/auth/signout", s.authed(s.handleSignOut))
	mux.HandleFunc("GET /api/me", s.authed(s.handleMe))

	mux.HandleFunc("GET /api/categories", handleCategories)
	mux.HandleFunc("GET /api/quick-actions", handleQuickActions)

	mux.HandleFunc("GET /api/transactions", s.authed(s.handleListTransactions))
	mux.HandleFunc("POST /api/transactions", s.authed(s.handleSubmitTransaction))
	mux.HandleFunc("PATCH /api/transactions/{id}", s.authed(s.handleEditTransaction))
	mux.HandleFunc("DELETE /api/transactions/{id}", s.authed(s.handleDeleteTransaction))
	mux.HandleFunc("POST /api/quick/{label}", s.authed(s.handleQuickLog))

	mux.HandleFunc("GET /api/dashboard", s.authed(s.handleDashboard))
	mux.HandleFunc("GET /api/goal", s.authed(s.handleGoal))
	mux.HandleFunc("PUT /api/goal", s.authed(s.handleSaveGoal))
	mux.HandleFunc("PUT /api/limits", s.authed(s.handleSetLimits))
	mux.HandleFunc("PATCH /api/preferences", s.authed(s.handlePreferences))
	mux.HandleFunc("POST /api/preferences/theme/toggle", s.authed(s.handleToggleTheme))
	mux.HandleFunc("GET /api/stream", s.authedStream(s.handleStream))

	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())
	limited := s.limiter.Middleware(s.detector.ExtractClientIP, s.onRateLimit)

	var h http.Handler = mux
	h = limitWrites(limited, h)
	h = s.detector.Middleware(h)
	h = headers.Middleware(h)
	h = s.tracer.Middleware(h)
	s.Handler = h
	return s, nil
}

// limitWrites applies the rate limiter to state-changing requests only.
func limitWrites(limit func(http.Handler) http.Handler, next http.Handler) http.Handler {
	limited := limit(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
		default:
			limited.ServeHTTP(w, r)
		}
	})
}

func (s *Server) onRateLimit(w http.ResponseWriter, r *http.Request) {
	log.FromContext(r.Context()).WarnContext(r.Context(), "Rate limit exceeded",
		log.FieldClientIP, s.detector.ExtractClientIP(r),
		log.FieldMethod, r.Method,
		log.FieldPath, r.URL.Path)
	writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate limit exceeded, try again later"})
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			log.FromContext(ctx).WarnContext(ctx, "Readiness check failed", log.FieldError, err)
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// Shutdown ends open event streams, stops accepting requests and stops the
// limiter's cleanup goroutine. Controllers belong to the registry and are
// closed by its owner.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		close(s.stopping)
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

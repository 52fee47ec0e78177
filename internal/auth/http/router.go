package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/clearbook/clearbook/internal/auth/revocation"
	"github.com/clearbook/clearbook/internal/auth/service"
	"github.com/clearbook/clearbook/internal/auth/store"
	"github.com/clearbook/clearbook/pkg/httpx"
	"github.com/clearbook/clearbook/pkg/slogx"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	buildVersion string
	startTime    time.Time
	logger       *slog.Logger

	store       store.Store
	revocations revocation.Store

	TokenService *service.TokenService

	// SecureCookies marks token cookies Secure. Off only for local
	// development over plain HTTP.
	SecureCookies bool
}

func NewRouter(
	buildVersion string,
	st store.Store,
	revocations revocation.Store,
	logger *slog.Logger,
) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		buildVersion: buildVersion,
		startTime:    time.Now(),
		store:        st,
		revocations:  revocations,
		logger:       logger,
	}

	// Set default middleware chain
	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerAuth()
	r.registerSystem()
}

// ServeHTTP implements http.Handler for Router and applies the global
// middleware chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) registerAuth() {
	loginHandler := &LoginHandler{TokenService: r.TokenService, Secure: r.SecureCookies}
	refreshHandler := &RefreshHandler{TokenService: r.TokenService, Secure: r.SecureCookies}
	logoutHandler := &LogoutHandler{TokenService: r.TokenService, Secure: r.SecureCookies}
	validateHandler := &ValidateHandler{TokenService: r.TokenService}

	// POST /auth/login - strict rate limit by IP (authentication attempts)
	r.Mux.Handle("POST /auth/login",
		httpx.Chain(loginHandler,
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)

	// POST /auth/refresh - moderate rate limit; clients refresh at most every
	// few minutes, anything faster is a bug or abuse
	r.Mux.Handle("POST /auth/refresh",
		httpx.Chain(refreshHandler,
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)

	// POST /auth/logout - moderate rate limit
	r.Mux.Handle("POST /auth/logout",
		httpx.Chain(logoutHandler,
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)

	// GET /auth/validate - lenient, called on page loads
	r.Mux.Handle("GET /auth/validate",
		httpx.Chain(validateHandler,
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)
}

func (r *Router) registerSystem() {
	// Health check endpoints - lenient rate limits (monitoring systems may
	// poll frequently)
	r.Mux.Handle("GET /livez",
		httpx.Chain(LivezHandler(r.startTime, r.buildVersion),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)
	r.Mux.Handle("GET /readyz",
		httpx.Chain(ReadyzHandler(r.startTime, r.buildVersion, r.store, r.revocations),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)
}

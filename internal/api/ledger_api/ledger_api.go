package ledger_api

import (
	"context"
	"net/http"
	"time"

	"github.com/BearBump/shipledger/internal/auth"
	"github.com/BearBump/shipledger/internal/services/ledger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

const (
	sessionCookieName = "admin_token"
	maxBodyBytes      = 1 << 20
	isoLayout         = "2006-01-02T15:04:05.000Z"
)

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type LedgerAPI struct {
	svc  *ledger.Service
	gate *auth.Gate

	rl          RateLimiter
	lookupLimit int64

	cookieSecure bool
	log          *zap.Logger
}

func New(svc *ledger.Service, gate *auth.Gate) *LedgerAPI {
	return &LedgerAPI{svc: svc, gate: gate, log: zap.NewNop()}
}

// WithLookupRateLimit caps public lookups per client IP per minute. A nil
// limiter or perMinute <= 0 disables it.
func (a *LedgerAPI) WithLookupRateLimit(rl RateLimiter, perMinute int) *LedgerAPI {
	a.rl = rl
	a.lookupLimit = int64(perMinute)
	return a
}

func (a *LedgerAPI) WithSecureCookie(secure bool) *LedgerAPI {
	a.cookieSecure = secure
	return a
}

func (a *LedgerAPI) WithLogger(l *zap.Logger) *LedgerAPI {
	if l != nil {
		a.log = l
	}
	return a
}

func (a *LedgerAPI) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(a.requestLog)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.With(a.lookupRateLimit).Get("/api/track/{trackingId}", a.lookup)

	r.Post("/api/admin/login", a.login)
	r.Post("/api/admin/logout", a.logout)
	r.Group(func(r chi.Router) {
		r.Use(a.requireAdmin)
		r.Post("/api/admin/create", a.create)
		r.Post("/api/admin/update", a.update)
	})

	return r
}

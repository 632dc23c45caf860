package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/singleflight"

	"github.com/querydesk/querydesk/internal/audit"
	"github.com/querydesk/querydesk/internal/auth"
	"github.com/querydesk/querydesk/internal/config"
	"github.com/querydesk/querydesk/internal/conversation"
	"github.com/querydesk/querydesk/internal/metrics"
	"github.com/querydesk/querydesk/internal/observability"
	"github.com/querydesk/querydesk/internal/pipeline"
)

type ReadinessCheck func(ctx context.Context) error

// QueryProcessor runs one chat turn. *pipeline.Service implements it.
type QueryProcessor interface {
	Process(ctx context.Context, req pipeline.Request) pipeline.Outcome
}

type AuditReader interface {
	Stats(ctx context.Context) (audit.Stats, error)
	Recent(ctx context.Context, limit int) ([]audit.Entry, error)
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	Pipeline          QueryProcessor
	Conversations     *conversation.Store
	Audit             AuditReader
	Sink              *metrics.Sink
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", observability.Mask(err.Error(), cfg.LLM.APIKey), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	mux.HandleFunc("GET /v1/datasets", handleListDatasets)

	protected := http.NewServeMux()
	protected.Handle("POST /v1/query", auth.RequireRole(auth.RoleChatUser, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleQuery(cfg, deps, w, r)
	})))
	protected.Handle("POST /v1/chat/message", auth.RequireRole(auth.RoleChatUser, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleChatMessage(cfg, deps, w, r)
	})))
	protected.Handle("GET /v1/chat/conversations", auth.RequireRole(auth.RoleChatUser, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleListConversations(deps, w, r)
	})))
	protected.Handle("GET /v1/chat/conversations/{id}", auth.RequireRole(auth.RoleChatUser, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleGetConversation(deps, w, r)
	})))
	protected.Handle("GET /v1/admin/stats", auth.RequireRole(auth.RoleAdmin, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleAdminStats(deps, w, r)
	})))
	protected.Handle("GET /v1/admin/audit", auth.RequireRole(auth.RoleAdmin, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleAdminAudit(deps, w, r)
	})))

	var protectedHandler http.Handler = protected
	if cfg.Auth.Required {
		if deps.AuthMiddleware == nil {
			if deps.Logger != nil {
				deps.Logger.Error("auth required but auth middleware missing")
			}
			protectedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", false, nil)
			})
		} else {
			protectedHandler = deps.AuthMiddleware(protectedHandler)
		}
	}
	mux.Handle("POST /v1/query", protectedHandler)
	mux.Handle("POST /v1/chat/message", protectedHandler)
	mux.Handle("GET /v1/chat/conversations", protectedHandler)
	mux.Handle("GET /v1/chat/conversations/{id}", protectedHandler)
	mux.Handle("GET /v1/admin/stats", protectedHandler)
	mux.Handle("GET /v1/admin/audit", protectedHandler)

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
		observability.RecoverMiddleware(deps.Logger),
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

// NamedCheck prefixes failures of check with name.
func NamedCheck(name string, check func(ctx context.Context) error) ReadinessCheck {
	if check == nil {
		return nil
	}
	return func(ctx context.Context) error {
		if err := check(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		return nil
	}
}

// CheckCompletion fails when ping reports the completion endpoint unreachable.
func CheckCompletion(ping func(ctx context.Context) bool) ReadinessCheck {
	if ping == nil {
		return nil
	}
	return func(ctx context.Context) error {
		if !ping(ctx) {
			return errors.New("completion endpoint is unreachable")
		}
		return nil
	}
}

// CachedCheck reuses the last result of check for ttl. Concurrent callers on
// a cache miss share one run. Results of a cancelled caller are not cached.
func CachedCheck(check ReadinessCheck, ttl time.Duration) ReadinessCheck {
	return newCachedCheck(check, ttl, time.Now)
}

func newCachedCheck(check ReadinessCheck, ttl time.Duration, now func() time.Time) ReadinessCheck {
	if check == nil || ttl <= 0 {
		return check
	}
	var (
		mu        sync.Mutex
		checkedAt time.Time
		lastErr   error
		cached    bool
		group     singleflight.Group
	)
	fresh := func() (bool, error) {
		mu.Lock()
		defer mu.Unlock()
		if cached && now().Sub(checkedAt) < ttl {
			return true, lastErr
		}
		return false, nil
	}
	return func(ctx context.Context) error {
		if ok, err := fresh(); ok {
			return err
		}
		_, err, _ := group.Do("check", func() (any, error) {
			if ok, err := fresh(); ok {
				return nil, err
			}
			err := check(ctx)
			if ctx.Err() == nil {
				mu.Lock()
				checkedAt, lastErr, cached = now(), err, true
				mu.Unlock()
			}
			return nil, err
		})
		return err
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}

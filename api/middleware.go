package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/warp/tour-ledger/generic"
	"github.com/warp/tour-ledger/metrics"
)

const (
	HeaderTenantID  = "X-Tenant-ID"
	HeaderActorID   = "X-Actor-ID"
	HeaderActorRole = "X-Actor-Role"
)

type ctxKey int

const tenantKey ctxKey = iota

func tenantFrom(ctx context.Context) generic.TenantID {
	t, _ := ctx.Value(tenantKey).(generic.TenantID)
	return t
}

// RequireTenant rejects requests without X-Tenant-ID. Tenant resolution
// itself is done upstream; the header is trusted.
func RequireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant := strings.TrimSpace(r.Header.Get(HeaderTenantID))
		if tenant == "" {
			writeError(w, http.StatusBadRequest, "Missing tenant", nil)
			return
		}
		ctx := context.WithValue(r.Context(), tenantKey, generic.TenantID(tenant))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestLogger logs one line per request and feeds the HTTP metrics when
// m is not nil. It must run after middleware.RequestID.
func RequestLogger(logger *zap.Logger, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			elapsed := time.Since(start)

			var route string
			if rc := chi.RouteContext(r.Context()); rc != nil {
				route = rc.RoutePattern()
			}
			if m != nil {
				m.ObserveHTTP(r.Method, route, status, elapsed)
			}

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("route", route),
				zap.Int("status", status),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("latency", elapsed),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("remote", r.RemoteAddr),
			}
			switch {
			case status >= 500:
				logger.Error("request", fields...)
			case status >= 400:
				logger.Warn("request", fields...)
			default:
				logger.Info("request", fields...)
			}
		})
	}
}

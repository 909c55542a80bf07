package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/receiptmatch/reconciler/internal/domain"
	"github.com/receiptmatch/reconciler/internal/logger"
	"github.com/receiptmatch/reconciler/internal/metrics"
)

// UserHeader carries the caller's user id, set by the authenticating
// gateway in front of this service.
const UserHeader = "X-User-ID"

// UserLookup resolves a caller id to a user record.
type UserLookup interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
}

var errUnidentified = errors.New("missing or unknown caller identity")

type callerKey struct{}

func callerFrom(ctx context.Context) domain.Caller {
	c, _ := ctx.Value(callerKey{}).(domain.Caller)
	return c
}

// identify resolves the caller from UserHeader and rejects requests from
// unknown users.
func identify(users UserLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(UserHeader)
			if id == "" {
				writeError(w, r, errUnidentified)
				return
			}
			u, err := users.GetByID(r.Context(), id)
			if errors.Is(err, domain.ErrNotFound) {
				writeError(w, r, errUnidentified)
				return
			}
			if err != nil {
				writeError(w, r, err)
				return
			}

			ctx := context.WithValue(r.Context(), callerKey{}, domain.Caller{UserID: u.ID, Role: u.Role})
			log := logger.WithFields(logger.FromContext(ctx), map[string]interface{}{
				"user_id": u.ID,
				"role":    u.Role,
			})
			next.ServeHTTP(w, r.WithContext(logger.WithContext(ctx, log)))
		})
	}
}

// requestLogger attaches a request-scoped logger to the context and logs
// one line per request.
func requestLogger(base zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			log := base.With().
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Logger()

			next.ServeHTTP(ww, r.WithContext(logger.WithContext(r.Context(), log)))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			evt := log.Info()
			if status >= http.StatusInternalServerError {
				evt = log.Error()
			}
			evt.Int("status", status).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("request")
		})
	}
}

// instrument records request counts and latency per route pattern.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).
			Observe(time.Since(start).Seconds())
	})
}

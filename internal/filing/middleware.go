package filing

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

type ctxKey int

const (
	corrIDKey ctxKey = iota
)

// ContextWithCorrelationID returns ctx carrying id.
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrIDKey, id)
}

// CorrelationID returns the request correlation id, or "".
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(corrIDKey).(string)
	return id
}

// Correlation propagates X-Correlation-Id, minting one when the caller did
// not send it, and logs each request once it completes.
func Correlation(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			corrID := r.Header.Get("X-Correlation-Id")
			if corrID == "" {
				corrID = uuid.NewString()
			}
			w.Header().Set("X-Correlation-Id", corrID)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r.WithContext(ContextWithCorrelationID(r.Context(), corrID)))

			CorrelationLogger(logger, corrID, r.Header.Get("X-EFIN")).Info("request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}

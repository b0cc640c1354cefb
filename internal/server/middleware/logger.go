package middleware

import (
	"log/slog"
	"net/http"
	"time"
)

// NewRequestLogger logs each request when it arrives and again when its
// handler returns. For /ws the second line marks the end of the peer's
// connection and carries the peer id it was assigned.
func NewRequestLogger(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqMeta, ok := ReqMetadataFrom(r.Context())
			if !ok {
				reqMeta = &RequestMetadata{}
			}
			reqLogger := logger.With(
				slog.String("requestID", reqMeta.RequestID),
				slog.String("ip", reqMeta.IP),
			)
			reqLogger.Info("HTTP request started",
				slog.String("method", r.Method),
				slog.String("uri", r.RequestURI),
			)

			start := time.Now()
			next.ServeHTTP(w, r)

			attrs := []any{slog.Duration("elapsed", time.Since(start))}
			if reqMeta.PeerID != "" {
				attrs = append(attrs, slog.String("peerID", reqMeta.PeerID))
			}
			reqLogger.Info("HTTP request finished", attrs...)
		})
	}
}

package middleware

import (
	"context"
	"net"
	"net/http"

	"github.com/google/uuid"
)

type contextKey string

const reqMetaKey = contextKey("r-metadata")

// RequestMetadata travels with a request through the chain. PeerID stays
// empty until the upgrade handler has registered the peer's session.
type RequestMetadata struct {
	RequestID string
	IP        string
	PeerID    string
}

func ReqMetadataFrom(ctx context.Context) (*RequestMetadata, bool) {
	reqMeta, ok := ctx.Value(reqMetaKey).(*RequestMetadata)
	return reqMeta, ok
}

// RequestMetadataMiddleware must come first: the logger and the connection
// limiter both read what it injects.
func RequestMetadataMiddleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}
			reqMeta := &RequestMetadata{RequestID: uuid.NewString(), IP: ip}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), reqMetaKey, reqMeta)))
		})
	}
}

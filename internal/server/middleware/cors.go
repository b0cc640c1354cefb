package middleware

import (
	"net/http"

	"github.com/rs/cors"
)

// NewCORS allows cross-origin reads of the relay's endpoints from the given
// origins. "*" allows any origin.
func NewCORS(allowedOrigins []string) Middleware {
	c := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler
}

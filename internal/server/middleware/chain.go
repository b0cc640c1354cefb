package middleware

import (
	"net/http"
	"slices"
)

type Middleware func(http.Handler) http.Handler

// Chain wraps h so that middlewares[0] sees the request first.
func Chain(h http.Handler, middlewares ...Middleware) http.Handler {
	if h == nil {
		h = http.NotFoundHandler()
	}
	for _, mw := range slices.Backward(middlewares) {
		h = mw(h)
	}
	return h
}

// Package handler serves the assessment dispatch JSON API.
package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	// AllowedOrigins lists the browser origins allowed by CORS.
	AllowedOrigins []string
	// RequestTimeout bounds each request; 0 disables the timeout.
	RequestTimeout time.Duration
}

// NewRouter builds the API router with logging, recovery, CORS and
// localization middleware in front of h.
func NewRouter(h *Handler, opts RouterOptions) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	if opts.RequestTimeout > 0 {
		r.Use(middleware.Timeout(opts.RequestTimeout))
	}
	if len(opts.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept-Language", "Content-Type", StudentHeader},
			ExposedHeaders: []string{"Content-Language"},
			MaxAge:         300,
		}))
	}
	r.Use(h.tr.Middleware)
	h.Routes(r)
	return r
}

package app

import (
	"log/slog"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/unrolled/secure"

	"github.com/terralot/terralot/internal/observability"
)

// MiddlewareConfig aggregates dependencies shared by the middleware stack.
type MiddlewareConfig struct {
	Logger  *slog.Logger
	Config  *Config
	Metrics *observability.Metrics
}

// MiddlewareStack installs the Terralot middleware chain.
func MiddlewareStack(cfg MiddlewareConfig) []func(http.Handler) http.Handler {
	secureMiddleware := secure.New(secure.Options{
		FrameDeny:          true,
		ContentTypeNosniff: true,
		BrowserXssFilter:   true,
		ReferrerPolicy:     "strict-origin-when-cross-origin",
		SSLRedirect:        cfg.Config != nil && cfg.Config.IsProduction(),
		SSLProxyHeaders:    map[string]string{"X-Forwarded-Proto": "https"},
	})

	stack := []func(http.Handler) http.Handler{
		chimw.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		secureMiddleware.Handler,
	}
	if cfg.Config != nil {
		stack = append(stack, chimw.Timeout(cfg.Config.AppRequestTimeout))
	}
	if cfg.Metrics != nil {
		stack = append(stack, cfg.Metrics.Middleware)
	}
	return stack
}

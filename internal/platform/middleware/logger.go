package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/protocolo/protocolo/internal/platform/auth"
)

// Logger emits one structured line per request. The authenticated username
// is included when a session is present.
func Logger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			rid, _ := c.Get("request_id").(string)

			err := next(c)

			evt := logger.Info()
			if err != nil {
				evt = logger.Error().Err(err)
			}

			evt = evt.
				Str("request_id", rid).
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Int("status", c.Response().Status).
				Dur("latency", time.Since(start)).
				Str("remote_ip", c.RealIP())

			// Session middleware swaps the request context in; re-read it.
			if ident, ok := auth.FromContext(c.Request().Context()); ok {
				evt = evt.Str("user", ident.Username)
			}

			evt.Msg("request")
			return err
		}
	}
}

package auth

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// LoginPath is where unauthenticated callers are redirected.
const LoginPath = "/login"

// RequireSession authenticates the request from the session cookie and puts
// the identity into the request context. A missing or invalid session
// redirects to the login page rather than returning an authorization error;
// role checks happen later, in the operations themselves.
func RequireSession(sessions *Sessions) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cookie, err := c.Cookie(CookieName)
			if err != nil || cookie.Value == "" {
				return c.Redirect(http.StatusFound, LoginPath)
			}
			ident, err := sessions.Parse(cookie.Value)
			if err != nil {
				return c.Redirect(http.StatusFound, LoginPath)
			}
			req := c.Request()
			c.SetRequest(req.WithContext(WithIdentity(req.Context(), ident)))
			return next(c)
		}
	}
}

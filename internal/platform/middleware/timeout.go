package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

// RequestTimeout puts a deadline on the request context. Handlers pass that
// context down to the database, so an overrunning request unwinds with
// context.DeadlineExceeded, which is reported as 504 unless a response has
// already been written. Paths under /ws/ are long-lived and are skipped.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if timeout <= 0 || strings.HasPrefix(c.Request().URL.Path, "/ws/") {
				return next(c)
			}

			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)
			if errors.Is(ctx.Err(), context.DeadlineExceeded) && !c.Response().Committed {
				if err == nil || errors.Is(err, context.DeadlineExceeded) {
					return c.JSON(http.StatusGatewayTimeout, map[string]string{
						"message": "request exceeded the allowed time",
					})
				}
			}
			return err
		}
	}
}

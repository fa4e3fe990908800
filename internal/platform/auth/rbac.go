package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	RoleAdmin     = "admin"
	RoleTherapist = "therapist"
	RoleClient    = "client"
)

// RequireRole returns middleware that checks if the user has at least one of the specified roles.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if HasAnyRole(RolesFromContext(c.Request().Context()), roles...) {
				return next(c)
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}

// RequireSelf only lets a caller through when the path parameter param names
// the caller's own subject. Admins pass regardless.
func RequireSelf(param string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			if HasAnyRole(RolesFromContext(ctx), RoleAdmin) {
				return next(c)
			}
			if uid := UserIDFromContext(ctx); uid != "" && strings.EqualFold(uid, c.Param(param)) {
				return next(c)
			}
			return echo.NewHTTPError(http.StatusForbidden, "cannot act on another therapist's schedule")
		}
	}
}

// HasAnyRole reports whether granted holds one of required. Admin holds every role.
func HasAnyRole(granted []string, required ...string) bool {
	for _, has := range granted {
		if has == RoleAdmin {
			return true
		}
		for _, r := range required {
			if has == r {
				return true
			}
		}
	}
	return false
}

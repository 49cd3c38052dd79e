package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/x-xyz/bidding/base/ctx"
	"github.com/x-xyz/bidding/base/delivery"
	"github.com/x-xyz/bidding/domain"
)

type AuthMiddleware struct {
	auth domain.AuthUsecase
}

func New(auth domain.AuthUsecase) *AuthMiddleware {
	return &AuthMiddleware{
		auth: auth,
	}
}

// Auth requires a bearer token and puts "userId" and "role" into echo
func (m *AuthMiddleware) Auth() echo.MiddlewareFunc {
	return middleware.KeyAuth(m.validateAuthToken)
}

// RequireRole must run after Auth
func (m *AuthMiddleware) RequireRole(role domain.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if r, _ := c.Get("role").(domain.Role); r != role {
				return delivery.MakeJsonResp(c, http.StatusForbidden, domain.ErrNotOwner)
			}
			return next(c)
		}
	}
}

func (m *AuthMiddleware) validateAuthToken(key string, c echo.Context) (bool, error) {
	ctx := c.Get("ctx").(ctx.Ctx)
	claims, err := m.auth.ParseToken(ctx, key)
	if err != nil {
		ctx.WithField("err", err).Warn("auth.ParseToken failed")
		return false, err
	}
	c.Set("userId", claims.UserId)
	c.Set("role", claims.Role)
	return true, nil
}

// UserId returns the caller set by Auth
func UserId(c echo.Context) string {
	uid, _ := c.Get("userId").(string)
	return uid
}

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/suite"

	"github.com/x-xyz/bidding/base/ctx"
	"github.com/x-xyz/bidding/domain"
	"github.com/x-xyz/bidding/stores/auth/usecase"
)

type authSuite struct {
	suite.Suite

	e    *echo.Echo
	auth domain.AuthUsecase
}

func TestAuthSuite(t *testing.T) {
	suite.Run(t, new(authSuite))
}

func (s *authSuite) SetupTest() {
	s.auth = usecase.New("secret", nil)
	m := New(s.auth)

	s.e = echo.New()
	s.e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set("ctx", ctx.Background())
			return next(c)
		}
	})
	s.e.GET("/me", func(c echo.Context) error {
		return c.String(http.StatusOK, UserId(c))
	}, m.Auth())
	s.e.POST("/payments", func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	}, m.Auth(), m.RequireRole(domain.RoleService))
}

func (s *authSuite) token(uid string, role domain.Role) string {
	tkn, err := s.auth.SignToken(ctx.Background(), uid, role, time.Hour)
	s.Require().NoError(err)
	return tkn
}

func (s *authSuite) do(method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func (s *authSuite) TestAuth() {
	rec := s.do(http.MethodGet, "/me", s.token("homeowner-1", domain.RoleUser))
	s.Equal(http.StatusOK, rec.Code)
	s.Equal("homeowner-1", rec.Body.String())

	s.Equal(http.StatusBadRequest, s.do(http.MethodGet, "/me", "").Code)
	s.Equal(http.StatusUnauthorized, s.do(http.MethodGet, "/me", "garbage").Code)
}

func (s *authSuite) TestRequireRole() {
	s.Equal(http.StatusForbidden, s.do(http.MethodPost, "/payments", s.token("homeowner-1", domain.RoleUser)).Code)
	s.Equal(http.StatusNoContent, s.do(http.MethodPost, "/payments", s.token("payments", domain.RoleService)).Code)
}

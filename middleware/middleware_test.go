package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/suite"

	"github.com/x-xyz/bidding/base/ctx"
	"github.com/x-xyz/bidding/base/delivery"
	"github.com/x-xyz/bidding/base/metrics"
	"github.com/x-xyz/bidding/domain"
	"github.com/x-xyz/bidding/domain/keys"
	"github.com/x-xyz/bidding/service/cache"
	"github.com/x-xyz/bidding/service/cache/provider/primitive"
)

type middlewareSuite struct {
	suite.Suite

	e     *echo.Echo
	store cache.Service
	calls int32
}

func TestMiddlewareSuite(t *testing.T) {
	suite.Run(t, new(middlewareSuite))
}

func (s *middlewareSuite) SetupTest() {
	s.calls = 0
	s.store = cache.New(cache.ServiceConfig{
		Ttl:   time.Minute,
		Pfx:   "test",
		Cache: primitive.NewPrimitive("idempotency", 1),
	})

	m := InitMiddleware(metrics.New("test", metrics.WithLogClient()))
	s.e = echo.New()
	s.e.Use(m.AddContext())
	s.e.Use(m.ResponseLogger())
	s.e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set("userId", c.Request().Header.Get("X-Test-User"))
			return next(c)
		}
	})
	s.e.Use(Idempotency(s.store))

	s.e.POST("/bids", func(c echo.Context) error {
		n := atomic.AddInt32(&s.calls, 1)
		return delivery.MakeJsonResp(c, http.StatusCreated, map[string]int32{"n": n})
	})
	s.e.POST("/boom", func(c echo.Context) error {
		atomic.AddInt32(&s.calls, 1)
		return delivery.MakeJsonResp(c, http.StatusInternalServerError, "boom")
	})
	s.e.POST("/closed", func(c echo.Context) error {
		atomic.AddInt32(&s.calls, 1)
		return delivery.MakeJsonResp(c, 0, domain.ErrBidCardClosed)
	})
}

func (s *middlewareSuite) do(path, user, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader("{}"))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set("X-Test-User", user)
	if key != "" {
		req.Header.Set(HeaderIdempotencyKey, key)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func (s *middlewareSuite) TestReplay() {
	first := s.do("/bids", "u1", "k1")
	s.Equal(http.StatusCreated, first.Code)
	s.Empty(first.Header().Get(HeaderIdempotentReplayed))

	second := s.do("/bids", "u1", "k1")
	s.Equal(http.StatusCreated, second.Code)
	s.Equal("true", second.Header().Get(HeaderIdempotentReplayed))
	s.JSONEq(first.Body.String(), second.Body.String())
	s.Equal(int32(1), atomic.LoadInt32(&s.calls))
}

func (s *middlewareSuite) TestKeysAreScopedToCaller() {
	s.do("/bids", "u1", "k1")
	other := s.do("/bids", "u2", "k1")
	s.Equal(http.StatusCreated, other.Code)
	s.Empty(other.Header().Get(HeaderIdempotentReplayed))
	s.Equal(int32(2), atomic.LoadInt32(&s.calls))
}

func (s *middlewareSuite) TestWithoutKey() {
	s.do("/bids", "u1", "")
	s.do("/bids", "u1", "")
	s.Equal(int32(2), atomic.LoadInt32(&s.calls))
}

func (s *middlewareSuite) TestServerErrorsAreNotStored() {
	s.Equal(http.StatusInternalServerError, s.do("/boom", "u1", "k").Code)
	s.Equal(http.StatusInternalServerError, s.do("/boom", "u1", "k").Code)
	s.Equal(int32(2), atomic.LoadInt32(&s.calls))
}

func (s *middlewareSuite) TestDomainErrorsAreReplayed() {
	s.Equal(http.StatusUnprocessableEntity, s.do("/closed", "u1", "k").Code)
	rec := s.do("/closed", "u1", "k")
	s.Equal(http.StatusUnprocessableEntity, rec.Code)
	s.Equal("true", rec.Header().Get(HeaderIdempotentReplayed))
	s.Equal(int32(1), atomic.LoadInt32(&s.calls))
}

func (s *middlewareSuite) TestInFlightIsConflict() {
	key := keys.IdempotencyKey("u1", http.MethodPost, "/bids", "k")
	ok, err := s.store.SetNX(ctx.Background(), key, Response{InFlight: true})
	s.Require().NoError(err)
	s.Require().True(ok)

	rec := s.do("/bids", "u1", "k")
	s.Equal(http.StatusConflict, rec.Code)
	s.Equal(int32(0), atomic.LoadInt32(&s.calls))
}

func (s *middlewareSuite) TestKeyTooLong() {
	rec := s.do("/bids", "u1", strings.Repeat("k", maxKeyLength+1))
	s.Equal(http.StatusBadRequest, rec.Code)
}

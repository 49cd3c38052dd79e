package http

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/x-xyz/bidding/base/ctx"
	hcdomain "github.com/x-xyz/bidding/domain/healthcheck"
)

type healthCheckHandler struct {
	healthCheck hcdomain.HealthCheckUsecase
}

// New will initialize the healthcheck/
func New(e *echo.Echo, us hcdomain.HealthCheckUsecase) {
	handler := &healthCheckHandler{
		healthCheck: us,
	}
	g := e.Group("/health")
	g.GET("", handler.check)
}

// check godoc
//
//	@Summary		Service health
//	@Description	Pings the storage backends and reports the deadline queue. Returns 503 when a backend is down.
//	@Tags			health
//	@Produce		json
//	@Success		200	{object}	healthcheck.Report
//	@Failure		503	{object}	healthcheck.Report
//	@Router			/health [get]
func (h *healthCheckHandler) check(c echo.Context) error {
	context := c.Get("ctx").(ctx.Ctx)
	report, err := h.healthCheck.Check(context)
	if err != nil {
		context.WithField("err", err).Warn("health check failed")
		return c.JSON(http.StatusServiceUnavailable, report)
	}
	return c.JSON(http.StatusOK, report)
}

package healthcheck

import (
	"time"

	"github.com/x-xyz/bidding/base/ctx"
)

const (
	StatusOk       = "ok"
	StatusDown     = "down"
	StatusDisabled = "disabled"
)

// Report is the state of every backing service plus the deadline queue
type Report struct {
	Healthy          bool       `json:"healthy"`
	Mongo            string     `json:"mongo"`
	Redis            string     `json:"redis"`
	PendingDeadlines int        `json:"pendingDeadlines"`
	NextDeadline     *time.Time `json:"nextDeadline,omitempty"`
	CheckedAt        time.Time  `json:"checkedAt"`
}

// HealthCheckUsecase represents the healthCheck's usecases
type HealthCheckUsecase interface {
	Check(context ctx.Ctx) (*Report, error)
}

// HealthCheckRepo is repository layer of healthCheck. A nil error with
// enabled false means the backend is not configured.
type HealthCheckRepo interface {
	PingDB(context ctx.Ctx) (enabled bool, err error)
	PingCache(context ctx.Ctx) (enabled bool, err error)
}

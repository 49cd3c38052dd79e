package usecase

import (
	"github.com/benbjohnson/clock"
	"golang.org/x/xerrors"

	"github.com/x-xyz/bidding/base/ctx"
	"github.com/x-xyz/bidding/domain"
	hcdomain "github.com/x-xyz/bidding/domain/healthcheck"
)

// DeadlineQueue is the part of the scheduler the check reports on
type DeadlineQueue interface {
	Pending() []domain.Deadline
}

type impl struct {
	repo  hcdomain.HealthCheckRepo
	queue DeadlineQueue
	clock clock.Clock
}

// New creates new healthCheckUsecase object representation of HealthCheckUsecase interface
func New(repo hcdomain.HealthCheckRepo, queue DeadlineQueue, clk clock.Clock) hcdomain.HealthCheckUsecase {
	if clk == nil {
		clk = clock.New()
	}
	return &impl{
		repo:  repo,
		queue: queue,
		clock: clk,
	}
}

func status(enabled bool, err error) string {
	switch {
	case !enabled:
		return hcdomain.StatusDisabled
	case err != nil:
		return hcdomain.StatusDown
	}
	return hcdomain.StatusOk
}

// Check always returns a report. The error names the first failing backend.
func (im *impl) Check(c ctx.Ctx) (*hcdomain.Report, error) {
	r := &hcdomain.Report{CheckedAt: im.clock.Now()}

	dbOn, dbErr := im.repo.PingDB(c)
	cacheOn, cacheErr := im.repo.PingCache(c)
	r.Mongo = status(dbOn, dbErr)
	r.Redis = status(cacheOn, cacheErr)

	if im.queue != nil {
		pending := im.queue.Pending()
		r.PendingDeadlines = len(pending)
		if len(pending) > 0 {
			at := pending[0].At
			r.NextDeadline = &at
		}
	}

	switch {
	case dbErr != nil:
		return r, xerrors.Errorf("mongo: %v: %w", dbErr, domain.ErrExternal)
	case cacheErr != nil:
		return r, xerrors.Errorf("redis: %v: %w", cacheErr, domain.ErrExternal)
	}
	r.Healthy = true
	return r, nil
}

package usecase

import (
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/x-xyz/bidding/base/ctx"
	"github.com/x-xyz/bidding/domain"
	hcdomain "github.com/x-xyz/bidding/domain/healthcheck"
)

type fakeRepo struct {
	dbOn, cacheOn   bool
	dbErr, cacheErr error
}

func (f *fakeRepo) PingDB(ctx.Ctx) (bool, error)    { return f.dbOn, f.dbErr }
func (f *fakeRepo) PingCache(ctx.Ctx) (bool, error) { return f.cacheOn, f.cacheErr }

type fakeQueue []domain.Deadline

func (q fakeQueue) Pending() []domain.Deadline { return q }

func TestCheck(t *testing.T) {
	req := require.New(t)
	clk := clock.NewMock()
	next := clk.Now().Add(time.Hour)

	im := New(&fakeRepo{dbOn: true}, fakeQueue{{Kind: domain.DeadlineBidCard, AggregateId: "c", At: next}}, clk)
	r, err := im.Check(ctx.Background())
	req.NoError(err)
	req.True(r.Healthy)
	req.Equal(hcdomain.StatusOk, r.Mongo)
	req.Equal(hcdomain.StatusDisabled, r.Redis)
	req.Equal(1, r.PendingDeadlines)
	req.Equal(next, *r.NextDeadline)

	im = New(&fakeRepo{dbOn: true, cacheOn: true, cacheErr: errors.New("refused")}, nil, clk)
	r, err = im.Check(ctx.Background())
	req.True(errors.Is(err, domain.ErrExternal))
	req.False(r.Healthy)
	req.Equal(hcdomain.StatusDown, r.Redis)
	req.Nil(r.NextDeadline)
}

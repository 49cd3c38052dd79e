package compound

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/x-xyz/bidding/base/ctx"
	"github.com/x-xyz/bidding/service/cache/provider"
	"github.com/x-xyz/bidding/service/cache/provider/primitive"
)

var (
	mockCtx = ctx.Background()
)

type testsuite struct {
	suite.Suite
	lyr0 provider.Provider
	lyr1 provider.Provider
	im   *impl
}

func (ts *testsuite) SetupTest() {
	ts.lyr0 = primitive.NewPrimitive("layer 0", 1)
	ts.lyr1 = primitive.NewPrimitive("layer 1", 1)
	ts.im = NewCompound([]provider.Provider{ts.lyr0, ts.lyr1}).(*impl)
}

func Test(t *testing.T) {
	suite.Run(t, new(testsuite))
}

func (ts *testsuite) TestSet() {
	k := "key"
	v := []byte("value")

	ts.NoError(ts.im.Set(mockCtx, k, v, time.Minute))
	r0, _, e := ts.lyr0.Get(mockCtx, k)
	ts.NoError(e)
	ts.Equal(v, r0)
	r1, _, e := ts.lyr1.Get(mockCtx, k)
	ts.NoError(e)
	ts.Equal(v, r1)
}

func (ts *testsuite) TestGetFillsFrontLayers() {
	ts.NoError(ts.lyr1.Set(mockCtx, "deep", []byte("v"), time.Minute))

	val, _, err := ts.im.Get(mockCtx, "deep")
	ts.NoError(err)
	ts.Equal([]byte("v"), val)

	r0, _, err := ts.lyr0.Get(mockCtx, "deep")
	ts.NoError(err)
	ts.Equal([]byte("v"), r0)

	_, _, err = ts.im.Get(mockCtx, "nowhere")
	ts.Equal(provider.ErrNotFound, err)
}

func (ts *testsuite) TestSetNXIsDecidedByLastLayer() {
	// a stale local entry does not win the race
	ts.NoError(ts.lyr0.Set(mockCtx, "k", []byte("local"), time.Minute))
	ok, err := ts.im.SetNX(mockCtx, "k", []byte("mine"), time.Minute)
	ts.NoError(err)
	ts.True(ok)
	r0, _, _ := ts.lyr0.Get(mockCtx, "k")
	ts.Equal([]byte("mine"), r0)

	ok, err = ts.im.SetNX(mockCtx, "k", []byte("theirs"), time.Minute)
	ts.NoError(err)
	ts.False(ok)
}

func (ts *testsuite) TestDel() {
	ts.NoError(ts.im.Set(mockCtx, "k", []byte("v"), time.Minute))
	ts.NoError(ts.im.Del(mockCtx, "k"))
	_, _, err := ts.lyr0.Get(mockCtx, "k")
	ts.Equal(provider.ErrNotFound, err)
	_, _, err = ts.lyr1.Get(mockCtx, "k")
	ts.Equal(provider.ErrNotFound, err)
}

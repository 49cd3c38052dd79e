package backoff

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type backoffSuite struct {
	suite.Suite
}

func TestBackoffSuite(t *testing.T) {
	suite.Run(t, new(backoffSuite))
}

func (s *backoffSuite) TestExponentialNext() {
	b := NewExponential(time.Second, 10*time.Second)
	s.Equal(time.Second, b.Next())
	s.Equal(2*time.Second, b.Next())
	s.Equal(4*time.Second, b.Next())
	s.Equal(8*time.Second, b.Next())
	s.Equal(10*time.Second, b.Next())
	s.Equal(5, b.Count())

	b.Reset()
	s.Equal(time.Second, b.Next())
}

func (s *backoffSuite) TestLinearNext() {
	b := NewLinear(time.Second, 0)
	s.Equal(time.Second, b.Next())
	s.Equal(2*time.Second, b.Next())
	s.Equal(3*time.Second, b.Next())
}

func (s *backoffSuite) TestRetry() {
	calls := 0
	err := Retry(context.Background(), NewLinear(time.Millisecond, 0), 3, func() error {
		calls++
		if calls < 3 {
			return errors.New("busy")
		}
		return nil
	})
	s.NoError(err)
	s.Equal(3, calls)
}

func (s *backoffSuite) TestRetryExhausted() {
	calls := 0
	errBusy := errors.New("busy")
	err := Retry(context.Background(), NewLinear(time.Millisecond, 0), 2, func() error {
		calls++
		return errBusy
	})
	s.Equal(errBusy, err)
	s.Equal(2, calls)
}

func (s *backoffSuite) TestRetryCancelled() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	errBusy := errors.New("busy")
	err := Retry(ctx, NewLinear(time.Hour, 0), 5, func() error {
		calls++
		return errBusy
	})
	s.Equal(errBusy, err)
	s.Equal(1, calls)
}

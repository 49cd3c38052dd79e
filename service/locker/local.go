package locker

import (
	"sync"

	"golang.org/x/xerrors"

	"github.com/x-xyz/bidding/base/ctx"
	"github.com/x-xyz/bidding/domain"
)

type slot struct {
	ch   chan struct{}
	refs int
}

type localImpl struct {
	mu    sync.Mutex
	slots map[string]*slot
}

// NewLocal serializes writers inside one process
func NewLocal() domain.Locker {
	return &localImpl{slots: map[string]*slot{}}
}

func (im *localImpl) acquire(key string) *slot {
	im.mu.Lock()
	defer im.mu.Unlock()
	s, ok := im.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		im.slots[key] = s
	}
	s.refs++
	return s
}

func (im *localImpl) release(key string, s *slot) {
	im.mu.Lock()
	defer im.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(im.slots, key)
	}
}

func (im *localImpl) Lock(c ctx.Ctx, key string) (func(), error) {
	s := im.acquire(key)
	select {
	case s.ch <- struct{}{}:
	case <-c.Done():
		im.release(key, s)
		return nil, xerrors.Errorf("%s: %w", key, domain.ErrLockNotAcquired)
	}

	once := sync.Once{}
	return func() {
		once.Do(func() {
			<-s.ch
			im.release(key, s)
		})
	}, nil
}

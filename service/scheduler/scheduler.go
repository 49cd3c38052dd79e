package scheduler

import (
	"container/heap"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/x-xyz/bidding/base/backoff"
	"github.com/x-xyz/bidding/base/ctx"
	"github.com/x-xyz/bidding/base/goroutine"
	"github.com/x-xyz/bidding/base/log"
	"github.com/x-xyz/bidding/base/metrics"
	"github.com/x-xyz/bidding/domain"
)

type SchedulerCfg struct {
	Clock clock.Clock
	// Interval is the polling period of Run
	Interval time.Duration
	// RetryStart and RetryLimit bound the redelivery delay of a failing handler
	RetryStart time.Duration
	RetryLimit time.Duration
	Metrics    metrics.Service
}

// Service delivers deadlines to the handler registered for their kind
type Service interface {
	domain.Scheduler
	Handle(kind domain.DeadlineKind, h domain.DeadlineHandler)
	// RunDue fires every deadline at or before now and returns how many ran
	RunDue(c ctx.Ctx) int
	// Pending returns queued deadlines in fire order
	Pending() []domain.Deadline
	Run(c ctx.Ctx)
	Start(c ctx.Ctx) chan *goroutine.PanicEvent
}

type impl struct {
	clock      clock.Clock
	interval   time.Duration
	retryStart time.Duration
	retryLimit time.Duration
	met        metrics.Service

	mu       sync.Mutex
	queue    queue
	entries  map[string]*entry
	seq      uint64
	handlers map[domain.DeadlineKind]domain.DeadlineHandler
	// serializes RunDue callers
	runMu sync.Mutex
}

func New(cfg *SchedulerCfg) Service {
	im := &impl{
		clock:      cfg.Clock,
		interval:   cfg.Interval,
		retryStart: cfg.RetryStart,
		retryLimit: cfg.RetryLimit,
		met:        cfg.Metrics,
		entries:    map[string]*entry{},
		handlers:   map[domain.DeadlineKind]domain.DeadlineHandler{},
	}
	if im.clock == nil {
		im.clock = clock.New()
	}
	if im.interval <= 0 {
		im.interval = time.Second
	}
	if im.retryStart <= 0 {
		im.retryStart = time.Second
	}
	if im.retryLimit <= 0 {
		im.retryLimit = time.Minute
	}
	if im.met == nil {
		im.met = metrics.New("scheduler")
	}
	return im
}

func (im *impl) Handle(kind domain.DeadlineKind, h domain.DeadlineHandler) {
	im.mu.Lock()
	defer im.mu.Unlock()
	im.handlers[kind] = h
}

func (im *impl) Schedule(c ctx.Ctx, d domain.Deadline) {
	im.mu.Lock()
	defer im.mu.Unlock()
	im.upsert(d, d.At, nil)
	c.WithFields(log.Fields{"key": d.Key(), "at": d.At}).Debug("deadline scheduled")
}

func (im *impl) upsert(d domain.Deadline, at time.Time, retry *backoff.Backoff) {
	im.seq++
	if e, ok := im.entries[d.Key()]; ok {
		e.deadline = d
		e.at = at
		e.seq = im.seq
		e.retry = retry
		heap.Fix(&im.queue, e.index)
		return
	}
	e := &entry{deadline: d, at: at, seq: im.seq, retry: retry}
	heap.Push(&im.queue, e)
	im.entries[d.Key()] = e
}

func (im *impl) Cancel(c ctx.Ctx, d domain.Deadline) {
	im.mu.Lock()
	defer im.mu.Unlock()
	e, ok := im.entries[d.Key()]
	if !ok {
		return
	}
	heap.Remove(&im.queue, e.index)
	delete(im.entries, d.Key())
}

func (im *impl) Pending() []domain.Deadline {
	im.mu.Lock()
	defer im.mu.Unlock()
	cp := make(queue, len(im.queue))
	for i, e := range im.queue {
		clone := *e
		cp[i] = &clone
	}
	res := make([]domain.Deadline, 0, len(cp))
	for cp.Len() > 0 {
		res = append(res, heap.Pop(&cp).(*entry).deadline)
	}
	return res
}

// popDue removes the earliest entry if it is due
func (im *impl) popDue(now time.Time) *entry {
	im.mu.Lock()
	defer im.mu.Unlock()
	if im.queue.Len() == 0 || im.queue[0].at.After(now) {
		return nil
	}
	e := heap.Pop(&im.queue).(*entry)
	delete(im.entries, e.deadline.Key())
	return e
}

func (im *impl) RunDue(c ctx.Ctx) int {
	im.runMu.Lock()
	defer im.runMu.Unlock()

	now := im.clock.Now()
	fired := 0
	for {
		e := im.popDue(now)
		if e == nil {
			return fired
		}
		fired++
		im.fire(c, e)
	}
}

func (im *impl) fire(c ctx.Ctx, e *entry) {
	d := e.deadline
	im.mu.Lock()
	h, ok := im.handlers[d.Kind]
	im.mu.Unlock()
	if !ok {
		c.WithField("kind", d.Kind).Warn("no handler for deadline kind")
		return
	}

	im.met.BumpSum("fired", 1, "kind", string(d.Kind))
	logger := c.WithFields(log.Fields{"key": d.Key(), "at": d.At})
	err := im.safeCall(c, h, d)
	if err == nil {
		logger.Debug("deadline fired")
		return
	}

	im.mu.Lock()
	defer im.mu.Unlock()
	// a newer Schedule for the same key wins over the retry
	if _, ok := im.entries[d.Key()]; ok {
		return
	}
	retry := e.retry
	if retry == nil {
		retry = backoff.NewExponential(im.retryStart, im.retryLimit)
	}
	next := im.clock.Now().Add(retry.Next())
	im.upsert(d, next, retry)
	im.met.BumpSum("retry", 1, "kind", string(d.Kind))
	logger.WithFields(log.Fields{"err": err, "retryAt": next, "attempt": retry.Count()}).Warn("deadline handler failed, will retry")
}

func (im *impl) safeCall(c ctx.Ctx, h domain.DeadlineHandler, d domain.Deadline) (err error) {
	defer func() {
		if p := recover(); p != nil {
			c.WithFields(log.Fields{"err": p, "key": d.Key()}).Error("deadline handler panic")
			err = domain.ErrInternalServerError
		}
	}()
	return h(c, d)
}

func (im *impl) Run(c ctx.Ctx) {
	ticker := im.clock.Ticker(im.interval)
	defer ticker.Stop()
	c.WithField("interval", im.interval).Info("scheduler started")
	for {
		select {
		case <-c.Done():
			c.Info("scheduler stopped")
			return
		case <-ticker.C:
			im.RunDue(c)
		}
	}
}

func (im *impl) Start(c ctx.Ctx) chan *goroutine.PanicEvent {
	return goroutine.RecoverableGo(func() { im.Run(c) }, goroutine.WithName("scheduler"))
}

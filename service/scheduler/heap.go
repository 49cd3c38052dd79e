package scheduler

import (
	"time"

	"github.com/x-xyz/bidding/base/backoff"
	"github.com/x-xyz/bidding/domain"
)

type entry struct {
	deadline domain.Deadline
	at       time.Time
	seq      uint64
	index    int
	// retry is created on the first failed delivery
	retry *backoff.Backoff
}

// queue is a min-heap of entries ordered by fire time then insertion order
type queue []*entry

func (q queue) Len() int { return len(q) }

func (q queue) Less(i, j int) bool {
	if q[i].at.Equal(q[j].at) {
		return q[i].seq < q[j].seq
	}
	return q[i].at.Before(q[j].at)
}

func (q queue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *queue) Push(x interface{}) {
	e := x.(*entry)
	e.index = len(*q)
	*q = append(*q, e)
}

func (q *queue) Pop() interface{} {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*q = old[:n-1]
	return e
}

package domain

import (
	"time"

	"github.com/x-xyz/bidding/base/ctx"
)

type DeadlineKind string

const (
	DeadlineAcceptanceExpiry DeadlineKind = "acceptance_expiry"
	DeadlineBidCard          DeadlineKind = "bid_deadline"
	DeadlineCommitment       DeadlineKind = "commitment_expiry"
	DeadlineGroupBid         DeadlineKind = "group_deadline"
	DeadlineGroupHandOff     DeadlineKind = "group_handoff"
)

// Deadline is one timer owned by an aggregate. AggregateId is the bid card
// or group bid, TargetId the acceptance or commitment when the timer belongs
// to a child entity.
type Deadline struct {
	Kind        DeadlineKind `json:"kind"`
	AggregateId string       `json:"aggregateId"`
	TargetId    string       `json:"targetId,omitempty"`
	At          time.Time    `json:"at"`
}

// Key identifies the timer regardless of its fire time
func (d Deadline) Key() string {
	return string(d.Kind) + ":" + d.AggregateId + ":" + d.TargetId
}

// DeadlineHandler runs the transition owed at a deadline. A returned error
// makes the scheduler deliver the deadline again later.
type DeadlineHandler func(c ctx.Ctx, d Deadline) error

// Scheduler delivers deadlines at least once, in time order per aggregate
type Scheduler interface {
	// Schedule adds the deadline or moves an existing one with the same key
	Schedule(c ctx.Ctx, d Deadline)
	Cancel(c ctx.Ctx, d Deadline)
}

// Locker serializes writers of one aggregate
type Locker interface {
	// Lock blocks until key is held or c is done
	Lock(c ctx.Ctx, key string) (unlock func(), err error)
}

package bidcard

import (
	"time"

	"github.com/x-xyz/bidding/domain"
)

type CommitmentStatus string

const (
	CommitmentStatusCommitted CommitmentStatus = "committed"
	CommitmentStatusCompleted CommitmentStatus = "completed"
	CommitmentStatusExpired   CommitmentStatus = "expired"
	CommitmentStatusCancelled CommitmentStatus = "cancelled"
)

// Commitment is a pledge to bid before Deadline, it reserves a bid slot while committed
type Commitment struct {
	Id           string           `json:"id" bson:"id"`
	BidCardId    string           `json:"bidCardId" bson:"bidCardId"`
	ContractorId string           `json:"contractorId" bson:"contractorId"`
	Deadline     time.Time        `json:"deadline" bson:"deadline"`
	Status       CommitmentStatus `json:"status" bson:"status"`
	BidId        string           `json:"bidId,omitempty" bson:"bidId,omitempty"`
	CreatedAt    time.Time        `json:"createdAt" bson:"createdAt"`
	ResolvedAt   *time.Time       `json:"resolvedAt" bson:"resolvedAt"`
}

func (cm *Commitment) Timer() domain.Deadline {
	return domain.Deadline{
		Kind:        domain.DeadlineCommitment,
		AggregateId: cm.BidCardId,
		TargetId:    cm.Id,
		At:          cm.Deadline,
	}
}

type CommitReq struct {
	ContractorId string    `json:"-"`
	Deadline     time.Time `json:"deadline" validate:"required"`
}

type Revision struct {
	Number    int       `json:"number" bson:"number"`
	Summary   string    `json:"summary" bson:"summary"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
}

// BidRevision records a bid acknowledging a revision
type BidRevision struct {
	BidId          string    `json:"bidId" bson:"bidId"`
	RevisionNumber int       `json:"revisionNumber" bson:"revisionNumber"`
	AcknowledgedAt time.Time `json:"acknowledgedAt" bson:"acknowledgedAt"`
}

package bidcard

import (
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/xerrors"

	"github.com/x-xyz/bidding/domain"
)

type Status string

const (
	StatusDraft       Status = "draft"
	StatusOpen        Status = "open"
	StatusReview      Status = "review"
	StatusNegotiation Status = "negotiation"
	StatusAwarded     Status = "awarded"
	StatusInProgress  Status = "in_progress"
	StatusCompleted   Status = "completed"
	StatusCancelled   Status = "cancelled"
	StatusExpired     Status = "expired"
)

// forward transitions, cancelled and expired are reachable from every
// non-terminal status
var transitions = map[Status][]Status{
	StatusDraft:       {StatusOpen},
	StatusOpen:        {StatusReview},
	StatusReview:      {StatusNegotiation, StatusAwarded},
	StatusNegotiation: {StatusReview, StatusAwarded},
	StatusAwarded:     {StatusInProgress},
	StatusInProgress:  {StatusCompleted},
}

func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusExpired
}

func (s Status) CanTransitTo(to Status) bool {
	if s.IsTerminal() {
		return false
	}
	if to == StatusCancelled || to == StatusExpired {
		return true
	}
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// AcceptsBids reports whether bids may be submitted in this status
func (s Status) AcceptsBids() bool {
	return s == StatusOpen || s == StatusReview || s == StatusNegotiation
}

// BidCard is the aggregate root. Bids, acceptances and the records hanging
// off them are embedded so one write covers one transition.
type BidCard struct {
	Id          string `json:"id" bson:"id"`
	OwnerId     string `json:"ownerId" bson:"ownerId"`
	Title       string `json:"title" bson:"title"`
	Description string `json:"description" bson:"description"`
	Location    string `json:"location" bson:"location"`
	Status      Status `json:"status" bson:"status"`

	MinBidsTarget      int       `json:"minBidsTarget" bson:"minBidsTarget"`
	MaxBidsAllowed     int       `json:"maxBidsAllowed" bson:"maxBidsAllowed"`
	CurrentBids        int       `json:"currentBids" bson:"currentBids"`
	CurrentCommitments int       `json:"currentCommitments" bson:"currentCommitments"`
	BidDeadline        time.Time `json:"bidDeadline" bson:"bidDeadline"`

	BudgetMin      decimal.Decimal `json:"budgetMin" bson:"budgetMin"`
	BudgetMax      decimal.Decimal `json:"budgetMax" bson:"budgetMax"`
	BudgetRequired bool            `json:"budgetRequired" bson:"budgetRequired"`

	AcceptanceTimeLimitHours int             `json:"acceptanceTimeLimitHours" bson:"acceptanceTimeLimitHours"`
	ConnectionFee            decimal.Decimal `json:"connectionFee" bson:"connectionFee"`
	GroupEligible            bool            `json:"groupEligible" bson:"groupEligible"`

	CurrentAcceptedBidId string     `json:"currentAcceptedBidId" bson:"currentAcceptedBidId"`
	AcceptanceExpiresAt  *time.Time `json:"acceptanceExpiresAt" bson:"acceptanceExpiresAt"`
	PreviousAcceptedBids []string   `json:"previousAcceptedBids" bson:"previousAcceptedBids"`
	FallbackActivatedAt  *time.Time `json:"fallbackActivatedAt" bson:"fallbackActivatedAt"`
	// homeowner defined order, bids not listed rank after listed ones
	Ranking []string `json:"ranking" bson:"ranking"`

	CurrentRevisionNumber int  `json:"currentRevisionNumber" bson:"currentRevisionNumber"`
	HasActiveRevision     bool `json:"hasActiveRevision" bson:"hasActiveRevision"`

	Bids            []*Bid               `json:"bids" bson:"bids"`
	Acceptances     []*Acceptance        `json:"acceptances" bson:"acceptances"`
	Payments        []*ConnectionPayment `json:"payments" bson:"payments"`
	ContactReleases []*ContactRelease    `json:"-" bson:"contactReleases"`
	Commitments     []*Commitment        `json:"commitments" bson:"commitments"`
	Revisions       []*Revision          `json:"revisions" bson:"revisions"`
	BidRevisions    []*BidRevision       `json:"bidRevisions" bson:"bidRevisions"`
	Conflicts       []*PaymentConflict   `json:"conflicts" bson:"conflicts"`

	Version   int64     `json:"version" bson:"version"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt"`
}

// Transit moves the card to status to, failing on a transition the state machine forbids
func (card *BidCard) Transit(to Status, now time.Time) error {
	if !card.Status.CanTransitTo(to) {
		return xerrors.Errorf("%s -> %s: %w", card.Status, to, domain.ErrInvalidTransition)
	}
	card.Status = to
	card.UpdatedAt = now
	return nil
}

func (card *BidCard) FindBid(bidId string) *Bid {
	for _, b := range card.Bids {
		if b.Id == bidId {
			return b
		}
	}
	return nil
}

// ActiveBidOf returns the non-terminal bid of the contractor
func (card *BidCard) ActiveBidOf(contractorId string) *Bid {
	for _, b := range card.Bids {
		if b.ContractorId == contractorId && !b.Status.IsTerminal() {
			return b
		}
	}
	return nil
}

func (card *BidCard) FindAcceptance(acceptanceId string) *Acceptance {
	for _, a := range card.Acceptances {
		if a.Id == acceptanceId {
			return a
		}
	}
	return nil
}

// PendingAcceptance returns the single non-terminal acceptance
func (card *BidCard) PendingAcceptance() *Acceptance {
	for _, a := range card.Acceptances {
		if a.Status == AcceptanceStatusPendingPayment {
			return a
		}
	}
	return nil
}

// LatestAcceptance returns the most recently created acceptance
func (card *BidCard) LatestAcceptance() *Acceptance {
	if len(card.Acceptances) == 0 {
		return nil
	}
	return card.Acceptances[len(card.Acceptances)-1]
}

func (card *BidCard) ReleaseOf(acceptanceId string) *ContactRelease {
	for _, r := range card.ContactReleases {
		if r.AcceptanceId == acceptanceId {
			return r
		}
	}
	return nil
}

func (card *BidCard) FindCommitment(commitmentId string) *Commitment {
	for _, cm := range card.Commitments {
		if cm.Id == commitmentId {
			return cm
		}
	}
	return nil
}

// LiveCommitmentOf returns the contractor's commitment still counting
func (card *BidCard) LiveCommitmentOf(contractorId string) *Commitment {
	for _, cm := range card.Commitments {
		if cm.ContractorId == contractorId && cm.Status == CommitmentStatusCommitted {
			return cm
		}
	}
	return nil
}

// WasAccepted reports whether the bid already went through an acceptance
func (card *BidCard) WasAccepted(bidId string) bool {
	for _, id := range card.PreviousAcceptedBids {
		if id == bidId {
			return true
		}
	}
	return false
}

// InBudget checks amount against the declared bounds when they are mandatory
func (card *BidCard) InBudget(amount decimal.Decimal) bool {
	if !card.BudgetRequired {
		return true
	}
	if amount.LessThan(card.BudgetMin) {
		return false
	}
	if card.BudgetMax.IsPositive() && amount.GreaterThan(card.BudgetMax) {
		return false
	}
	return true
}

// RefreshRevisionFlag recomputes HasActiveRevision from the live bids
func (card *BidCard) RefreshRevisionFlag() {
	card.HasActiveRevision = false
	for _, b := range card.Bids {
		if !b.Status.IsTerminal() && b.AcknowledgedRevision < card.CurrentRevisionNumber {
			card.HasActiveRevision = true
			return
		}
	}
}

// Participants is the owner plus every contractor with a live bid
func (card *BidCard) Participants() []string {
	res := []string{card.OwnerId}
	for _, b := range card.Bids {
		if !b.Status.IsTerminal() {
			res = append(res, b.ContractorId)
		}
	}
	return res
}

// Deadlines lists the timers the card currently owes
func (card *BidCard) Deadlines() []domain.Deadline {
	res := []domain.Deadline{}
	if card.Status == StatusOpen {
		res = append(res, domain.Deadline{Kind: domain.DeadlineBidCard, AggregateId: card.Id, At: card.BidDeadline})
	}
	if acc := card.PendingAcceptance(); acc != nil {
		res = append(res, acc.Timer())
	}
	for _, cm := range card.Commitments {
		if cm.Status == CommitmentStatusCommitted {
			res = append(res, cm.Timer())
		}
	}
	return res
}

package group

import (
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/xerrors"

	"github.com/x-xyz/bidding/domain"
)

// BidGroup bundles group eligible bid cards so one contractor can offer on all of them
type BidGroup struct {
	Id         string    `json:"id" bson:"id"`
	Name       string    `json:"name" bson:"name"`
	CreatedBy  string    `json:"createdBy" bson:"createdBy"`
	BidCardIds []string  `json:"bidCardIds" bson:"bidCardIds"`
	CreatedAt  time.Time `json:"createdAt" bson:"createdAt"`
}

type Status string

const (
	StatusSubmitted         Status = "submitted"
	StatusPartiallyAccepted Status = "partially_accepted"
	StatusThresholdMet      Status = "threshold_met"
	StatusExpired           Status = "expired"
	StatusWithdrawn         Status = "withdrawn"
)

// IsOpen reports whether the group bid still collects acceptances before its threshold
func (s Status) IsOpen() bool {
	return s == StatusSubmitted || s == StatusPartiallyAccepted
}

type ThresholdKind string

const (
	ThresholdKindCount      ThresholdKind = "count"
	ThresholdKindPercentage ThresholdKind = "percentage"
)

// ThresholdPolicy is either a member count or a percentage of members, never both
type ThresholdPolicy struct {
	Kind       ThresholdKind   `json:"kind" bson:"kind"`
	Count      int             `json:"count,omitempty" bson:"count,omitempty"`
	Percentage decimal.Decimal `json:"percentage,omitempty" bson:"percentage,omitempty"`
}

var hundred = decimal.NewFromInt(100)

func (p ThresholdPolicy) Validate(totalMembers int) error {
	switch p.Kind {
	case ThresholdKindCount:
		if !p.Percentage.IsZero() {
			return xerrors.Errorf("count policy carries a percentage: %w", domain.ErrInvalidThreshold)
		}
		if p.Count < 1 || p.Count > totalMembers {
			return xerrors.Errorf("count %d of %d members: %w", p.Count, totalMembers, domain.ErrInvalidThreshold)
		}
	case ThresholdKindPercentage:
		if p.Count != 0 {
			return xerrors.Errorf("percentage policy carries a count: %w", domain.ErrInvalidThreshold)
		}
		if !p.Percentage.IsPositive() || p.Percentage.GreaterThan(hundred) {
			return xerrors.Errorf("percentage %s: %w", p.Percentage, domain.ErrInvalidThreshold)
		}
	default:
		return xerrors.Errorf("kind %q: %w", p.Kind, domain.ErrInvalidThreshold)
	}
	return nil
}

// IsMet evaluates the policy against accepted of total members
func (p ThresholdPolicy) IsMet(accepted, total int) bool {
	if total == 0 {
		return false
	}
	switch p.Kind {
	case ThresholdKindCount:
		return accepted >= p.Count
	case ThresholdKindPercentage:
		// accepted*100 >= percentage*total avoids rounding the ratio
		return decimal.NewFromInt(int64(accepted)).Mul(hundred).GreaterThanOrEqual(p.Percentage.Mul(decimal.NewFromInt(int64(total))))
	}
	return false
}

type Member struct {
	BidCardId string `json:"bidCardId" bson:"bidCardId"`
	OwnerId   string `json:"ownerId" bson:"ownerId"`
}

// Acceptance is one member owner accepting the group offer for their card
type Acceptance struct {
	Id         string    `json:"id" bson:"id"`
	BidCardId  string    `json:"bidCardId" bson:"bidCardId"`
	OwnerId    string    `json:"ownerId" bson:"ownerId"`
	AcceptedAt time.Time `json:"acceptedAt" bson:"acceptedAt"`
	// set once the member card entered the arbiter
	BidAcceptanceId string `json:"bidAcceptanceId,omitempty" bson:"bidAcceptanceId,omitempty"`
	HandOffError    string `json:"handOffError,omitempty" bson:"handOffError,omitempty"`
	HandOffAttempts int    `json:"handOffAttempts,omitempty" bson:"handOffAttempts,omitempty"`
	// set while a failed hand-off is waiting for another attempt
	HandOffRetryAt *time.Time `json:"handOffRetryAt,omitempty" bson:"handOffRetryAt,omitempty"`
}

// NeedsHandOff reports whether the member card still has to enter the
// arbiter, either because the hand-off never ran or because it will be retried
func (a *Acceptance) NeedsHandOff() bool {
	return a.BidAcceptanceId == "" && (a.HandOffError == "" || a.HandOffRetryAt != nil)
}

type Extension struct {
	Id               string    `json:"id" bson:"id"`
	PreviousDeadline time.Time `json:"previousDeadline" bson:"previousDeadline"`
	NewDeadline      time.Time `json:"newDeadline" bson:"newDeadline"`
	Reason           string    `json:"reason" bson:"reason"`
	RequestedBy      string    `json:"requestedBy" bson:"requestedBy"`
	CreatedAt        time.Time `json:"createdAt" bson:"createdAt"`
}

type GroupBid struct {
	Id                 string          `json:"id" bson:"id"`
	GroupId            string          `json:"groupId" bson:"groupId"`
	ContractorId       string          `json:"contractorId" bson:"contractorId"`
	Price              decimal.Decimal `json:"price" bson:"price"`
	Threshold          ThresholdPolicy `json:"threshold" bson:"threshold"`
	AcceptanceDeadline time.Time       `json:"acceptanceDeadline" bson:"acceptanceDeadline"`
	Status             Status          `json:"status" bson:"status"`
	Members            []Member        `json:"members" bson:"members"`
	Acceptances        []*Acceptance   `json:"acceptances" bson:"acceptances"`
	Extensions         []*Extension    `json:"extensions" bson:"extensions"`
	ThresholdMetAt     *time.Time      `json:"thresholdMetAt" bson:"thresholdMetAt"`
	Version            int64           `json:"version" bson:"version"`
	CreatedAt          time.Time       `json:"createdAt" bson:"createdAt"`
	UpdatedAt          time.Time       `json:"updatedAt" bson:"updatedAt"`
}

func (gb *GroupBid) FindMember(bidCardId string) *Member {
	for i := range gb.Members {
		if gb.Members[i].BidCardId == bidCardId {
			return &gb.Members[i]
		}
	}
	return nil
}

func (gb *GroupBid) FindAcceptance(bidCardId string) *Acceptance {
	for _, a := range gb.Acceptances {
		if a.BidCardId == bidCardId {
			return a
		}
	}
	return nil
}

func (gb *GroupBid) FindAcceptanceById(id string) *Acceptance {
	for _, a := range gb.Acceptances {
		if a.Id == id {
			return a
		}
	}
	return nil
}

// ThresholdMet evaluates the policy against the current acceptances
func (gb *GroupBid) ThresholdMet() bool {
	return gb.Threshold.IsMet(len(gb.Acceptances), len(gb.Members))
}

func (gb *GroupBid) Timer() domain.Deadline {
	return domain.Deadline{
		Kind:        domain.DeadlineGroupBid,
		AggregateId: gb.Id,
		At:          gb.AcceptanceDeadline,
	}
}

// HandOffTimer is the retry timer of one acceptance whose hand-off failed
func (gb *GroupBid) HandOffTimer(a *Acceptance) domain.Deadline {
	d := domain.Deadline{
		Kind:        domain.DeadlineGroupHandOff,
		AggregateId: gb.Id,
		TargetId:    a.Id,
	}
	if a.HandOffRetryAt != nil {
		d.At = *a.HandOffRetryAt
	}
	return d
}

// MemberOwners returns the owner of every member card
func (gb *GroupBid) MemberOwners() []string {
	res := make([]string, 0, len(gb.Members))
	for _, m := range gb.Members {
		res = append(res, m.OwnerId)
	}
	return res
}

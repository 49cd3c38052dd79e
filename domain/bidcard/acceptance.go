package bidcard

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/x-xyz/bidding/domain"
)

type AcceptanceStatus string

const (
	AcceptanceStatusPendingPayment AcceptanceStatus = "pending_payment"
	AcceptanceStatusPaid           AcceptanceStatus = "paid"
	AcceptanceStatusExpired        AcceptanceStatus = "expired"
	AcceptanceStatusCancelled      AcceptanceStatus = "cancelled"
)

// Acceptance is the payment gated hold on one bid
type Acceptance struct {
	Id                  string           `json:"id" bson:"id"`
	BidCardId           string           `json:"bidCardId" bson:"bidCardId"`
	BidId               string           `json:"bidId" bson:"bidId"`
	ContractorId        string           `json:"contractorId" bson:"contractorId"`
	Status              AcceptanceStatus `json:"status" bson:"status"`
	ConnectionFeeAmount decimal.Decimal  `json:"connectionFeeAmount" bson:"connectionFeeAmount"`
	AcceptedAt          time.Time        `json:"acceptedAt" bson:"acceptedAt"`
	ExpiresAt           time.Time        `json:"expiresAt" bson:"expiresAt"`
	// next candidate at the time of acceptance, informational
	FallbackBidId    string     `json:"fallbackBidId" bson:"fallbackBidId"`
	Attempt          int        `json:"attempt" bson:"attempt"`
	GroupBidId       string     `json:"groupBidId,omitempty" bson:"groupBidId,omitempty"`
	ResolvedAt       *time.Time `json:"resolvedAt" bson:"resolvedAt"`
	ResolutionReason string     `json:"resolutionReason" bson:"resolutionReason"`
}

func (a *Acceptance) Timer() domain.Deadline {
	return domain.Deadline{
		Kind:        domain.DeadlineAcceptanceExpiry,
		AggregateId: a.BidCardId,
		TargetId:    a.Id,
		At:          a.ExpiresAt,
	}
}

type PaymentStatus string

const (
	PaymentStatusSucceeded PaymentStatus = "succeeded"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusConflict  PaymentStatus = "conflict"
)

type ConnectionPayment struct {
	Id           string          `json:"id" bson:"id"`
	AcceptanceId string          `json:"acceptanceId" bson:"acceptanceId"`
	Amount       decimal.Decimal `json:"amount" bson:"amount"`
	Status       PaymentStatus   `json:"status" bson:"status"`
	ProviderRef  string          `json:"providerRef" bson:"providerRef"`
	Reason       string          `json:"reason" bson:"reason"`
	ReceivedAt   time.Time       `json:"receivedAt" bson:"receivedAt"`
}

// ContactRelease is written once per paid acceptance, only the view
// markers change afterwards
type ContactRelease struct {
	Id                 string             `json:"id" bson:"id"`
	AcceptanceId       string             `json:"acceptanceId" bson:"acceptanceId"`
	BidCardId          string             `json:"bidCardId" bson:"bidCardId"`
	BidId              string             `json:"bidId" bson:"bidId"`
	HomeownerId        string             `json:"homeownerId" bson:"homeownerId"`
	ContractorId       string             `json:"contractorId" bson:"contractorId"`
	HomeownerContact   domain.ContactInfo `json:"homeownerContact" bson:"homeownerContact"`
	ContractorContact  domain.ContactInfo `json:"contractorContact" bson:"contractorContact"`
	ReleasedAt         time.Time          `json:"releasedAt" bson:"releasedAt"`
	ViewedByContractor bool               `json:"viewedByContractor" bson:"viewedByContractor"`
	ViewedAt           *time.Time         `json:"viewedAt" bson:"viewedAt"`
}

// PaymentConflict records a payment outcome that arrived after its
// acceptance resolved differently. The payment collaborator refunds it.
type PaymentConflict struct {
	Id               string           `json:"id" bson:"id"`
	AcceptanceId     string           `json:"acceptanceId" bson:"acceptanceId"`
	BidCardId        string           `json:"bidCardId" bson:"bidCardId"`
	Amount           decimal.Decimal  `json:"amount" bson:"amount"`
	ProviderRef      string           `json:"providerRef" bson:"providerRef"`
	AcceptanceStatus AcceptanceStatus `json:"acceptanceStatus" bson:"acceptanceStatus"`
	RefundRequired   bool             `json:"refundRequired" bson:"refundRequired"`
	DetectedAt       time.Time        `json:"detectedAt" bson:"detectedAt"`
}

// PaymentOutcome is what the payment collaborator reports for an acceptance
type PaymentOutcome struct {
	AcceptanceId string          `json:"acceptanceId" validate:"required"`
	Amount       decimal.Decimal `json:"amount"`
	ProviderRef  string          `json:"providerRef"`
	Reason       string          `json:"reason"`
}

// GroupOffer hands one member card of a group bid to the arbiter
type GroupOffer struct {
	BidCardId    string
	GroupBidId   string
	ContractorId string
	Price        decimal.Decimal
}

// AcceptanceView is the read model of a card's acceptance state
type AcceptanceView struct {
	BidCardId            string           `json:"bidCardId"`
	BidCardStatus        Status           `json:"bidCardStatus"`
	Status               AcceptanceStatus `json:"status"`
	CurrentAcceptedBidId string           `json:"currentAcceptedBidId"`
	AcceptanceExpiresAt  *time.Time       `json:"acceptanceExpiresAt"`
	PreviousAcceptedBids []string         `json:"previousAcceptedBids"`
	FallbackActivatedAt  *time.Time       `json:"fallbackActivatedAt"`
	Acceptance           *Acceptance      `json:"acceptance"`
}

// AcceptanceStatusNone is reported when the card never had an acceptance
const AcceptanceStatusNone AcceptanceStatus = "none"

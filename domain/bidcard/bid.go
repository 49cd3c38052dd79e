package bidcard

import (
	"time"

	"github.com/shopspring/decimal"
)

type BidStatus string

const (
	BidStatusSubmitted   BidStatus = "submitted"
	BidStatusViewed      BidStatus = "viewed"
	BidStatusShortlisted BidStatus = "shortlisted"
	BidStatusAccepted    BidStatus = "accepted"
	BidStatusDeclined    BidStatus = "declined"
	BidStatusExpired     BidStatus = "expired"
	BidStatusWithdrawn   BidStatus = "withdrawn"
)

func (s BidStatus) IsTerminal() bool {
	return s == BidStatusDeclined || s == BidStatusExpired || s == BidStatusWithdrawn
}

type Bid struct {
	Id           string          `json:"id" bson:"id"`
	BidCardId    string          `json:"bidCardId" bson:"bidCardId"`
	ContractorId string          `json:"contractorId" bson:"contractorId"`
	Amount       decimal.Decimal `json:"amount" bson:"amount"`
	Message      string          `json:"message" bson:"message"`
	Status       BidStatus       `json:"status" bson:"status"`
	UpdateCount  int             `json:"updateCount" bson:"updateCount"`
	// revision number of the card this bid last acknowledged
	AcknowledgedRevision int        `json:"acknowledgedRevision" bson:"acknowledgedRevision"`
	GroupBidId           string     `json:"groupBidId,omitempty" bson:"groupBidId,omitempty"`
	SubmittedAt          time.Time  `json:"submittedAt" bson:"submittedAt"`
	UpdatedAt            time.Time  `json:"updatedAt" bson:"updatedAt"`
	ViewedAt             *time.Time `json:"viewedAt" bson:"viewedAt"`
}

type SubmitBidReq struct {
	ContractorId string          `json:"-"`
	Amount       decimal.Decimal `json:"amount" validate:"gt=0"`
	Message      string          `json:"message"`
}

// BidPatchable holds the fields a contractor may change before acceptance
type BidPatchable struct {
	Amount  *decimal.Decimal `json:"amount"`
	Message *string          `json:"message"`
}

package bidcard

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/x-xyz/bidding/base/ctx"
	"github.com/x-xyz/bidding/domain"
)

type CreateBidCardReq struct {
	OwnerId                  string          `json:"-"`
	Title                    string          `json:"title" validate:"required"`
	Description              string          `json:"description"`
	Location                 string          `json:"location"`
	MinBidsTarget            int             `json:"minBidsTarget" validate:"gte=0"`
	MaxBidsAllowed           int             `json:"maxBidsAllowed" validate:"gte=0"`
	BidDeadline              time.Time       `json:"bidDeadline" validate:"required"`
	BudgetMin                decimal.Decimal `json:"budgetMin"`
	BudgetMax                decimal.Decimal `json:"budgetMax"`
	BudgetRequired           bool            `json:"budgetRequired"`
	AcceptanceTimeLimitHours int             `json:"acceptanceTimeLimitHours" validate:"gte=0"`
	ConnectionFee            decimal.Decimal `json:"connectionFee"`
	GroupEligible            bool            `json:"groupEligible"`
	// skip draft and open right away
	Publish bool `json:"publish"`
}

type ReviseReq struct {
	Summary string `json:"summary" validate:"required"`
}

type FindAllOptions struct {
	OwnerId      *string
	StatusIn     []Status
	BidId        *string
	AcceptanceId *string
	ContractorId *string
	GroupBidId   *string
	Offset       *int
	Limit        *int
}

type FindAllOptionsFunc func(*FindAllOptions) error

func GetFindAllOptions(opts ...FindAllOptionsFunc) (FindAllOptions, error) {
	res := FindAllOptions{}

	for _, opt := range opts {
		if err := opt(&res); err != nil {
			return res, err
		}
	}

	return res, nil
}

func WithOwnerId(ownerId string) FindAllOptionsFunc {
	return func(options *FindAllOptions) error {
		options.OwnerId = &ownerId
		return nil
	}
}

func WithStatusIn(statuses ...Status) FindAllOptionsFunc {
	return func(options *FindAllOptions) error {
		options.StatusIn = statuses
		return nil
	}
}

func WithBidId(bidId string) FindAllOptionsFunc {
	return func(options *FindAllOptions) error {
		options.BidId = &bidId
		return nil
	}
}

func WithAcceptanceId(acceptanceId string) FindAllOptionsFunc {
	return func(options *FindAllOptions) error {
		options.AcceptanceId = &acceptanceId
		return nil
	}
}

// WithContractorId matches cards holding a bid of the contractor
func WithContractorId(contractorId string) FindAllOptionsFunc {
	return func(options *FindAllOptions) error {
		options.ContractorId = &contractorId
		return nil
	}
}

func WithGroupBidId(groupBidId string) FindAllOptionsFunc {
	return func(options *FindAllOptions) error {
		options.GroupBidId = &groupBidId
		return nil
	}
}

func WithPagination(offset int, limit int) FindAllOptionsFunc {
	return func(options *FindAllOptions) error {
		options.Offset = &offset
		options.Limit = &limit
		return nil
	}
}

type Repo interface {
	FindOne(c ctx.Ctx, id string) (*BidCard, error)
	FindAll(c ctx.Ctx, opts ...FindAllOptionsFunc) ([]*BidCard, error)
	Create(c ctx.Ctx, card *BidCard) error
	// Save writes card when the stored version still equals card.Version
	// and bumps it, ErrStaleVersion otherwise
	Save(c ctx.Ctx, card *BidCard) error
}

type UseCase interface {
	CreateBidCard(c ctx.Ctx, req CreateBidCardReq) (*BidCard, error)
	PublishBidCard(c ctx.Ctx, actorId, cardId string) (*BidCard, error)
	ReviseBidCard(c ctx.Ctx, actorId, cardId string, req ReviseReq) (*BidCard, error)
	RankBids(c ctx.Ctx, actorId, cardId string, bidIds []string) (*BidCard, error)
	StartNegotiation(c ctx.Ctx, actorId, cardId string) (*BidCard, error)
	StartWork(c ctx.Ctx, actorId, cardId string) (*BidCard, error)
	CompleteBidCard(c ctx.Ctx, actorId, cardId string) (*BidCard, error)
	CancelBidCard(c ctx.Ctx, actorId, cardId string) (*BidCard, error)
	GetBidCard(c ctx.Ctx, cardId string) (*BidCard, error)
	FindAll(c ctx.Ctx, opts ...FindAllOptionsFunc) ([]*BidCard, error)

	SubmitBid(c ctx.Ctx, cardId string, req SubmitBidReq) (*Bid, error)
	UpdateBid(c ctx.Ctx, actorId, bidId string, patch BidPatchable) (*Bid, error)
	WithdrawBid(c ctx.Ctx, actorId, bidId string) (*Bid, error)
	MarkBidViewed(c ctx.Ctx, actorId, bidId string) (*Bid, error)
	ShortlistBid(c ctx.Ctx, actorId, bidId string) (*Bid, error)
	DeclineBid(c ctx.Ctx, actorId, bidId string) (*Bid, error)
	AcknowledgeRevision(c ctx.Ctx, actorId, bidId string) (*Bid, error)
	ListBids(c ctx.Ctx, cardId string) ([]*Bid, error)

	AcceptBid(c ctx.Ctx, actorId, bidId string) (*Acceptance, error)
	CancelAcceptance(c ctx.Ctx, actorId, acceptanceId string) (*Acceptance, error)
	PaymentSucceeded(c ctx.Ctx, outcome PaymentOutcome) (*Acceptance, error)
	PaymentFailed(c ctx.Ctx, outcome PaymentOutcome) (*Acceptance, error)
	AcceptGroupOffer(c ctx.Ctx, offer GroupOffer) (*Acceptance, error)
	GetAcceptanceStatus(c ctx.Ctx, cardId string) (*AcceptanceView, error)
	ListConflicts(c ctx.Ctx, cardId string) ([]*PaymentConflict, error)

	Release(c ctx.Ctx, acceptanceId string) (*ContactRelease, error)
	ViewContactRelease(c ctx.Ctx, actorId, acceptanceId string) (*ContactRelease, error)

	CommitToBid(c ctx.Ctx, cardId string, req CommitReq) (*Commitment, error)
	CancelCommitment(c ctx.Ctx, actorId, cardId, commitmentId string) (*Commitment, error)

	HandleDeadline(c ctx.Ctx, d domain.Deadline) error
	// Recover reschedules the deadlines of every live card and retries
	// pending contact releases
	Recover(c ctx.Ctx) error
}

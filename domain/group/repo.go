package group

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/x-xyz/bidding/base/ctx"
	"github.com/x-xyz/bidding/domain"
)

type CreateBidGroupReq struct {
	CreatedBy  string   `json:"-"`
	Name       string   `json:"name"`
	BidCardIds []string `json:"bidCardIds" validate:"required,min=2,dive,required"`
}

type CreateGroupBidReq struct {
	ContractorId       string          `json:"-"`
	GroupId            string          `json:"-"`
	Price              decimal.Decimal `json:"price" validate:"gt=0"`
	Threshold          ThresholdPolicy `json:"threshold"`
	AcceptanceDeadline time.Time       `json:"acceptanceDeadline" validate:"required"`
}

type ExtendReq struct {
	NewDeadline time.Time `json:"newDeadline" validate:"required"`
	Reason      string    `json:"reason"`
}

type FindAllOptions struct {
	GroupId      *string
	StatusIn     []Status
	ContractorId *string
	BidCardId    *string
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

func WithGroupId(groupId string) FindAllOptionsFunc {
	return func(options *FindAllOptions) error {
		options.GroupId = &groupId
		return nil
	}
}

func WithStatusIn(statuses ...Status) FindAllOptionsFunc {
	return func(options *FindAllOptions) error {
		options.StatusIn = statuses
		return nil
	}
}

func WithContractorId(contractorId string) FindAllOptionsFunc {
	return func(options *FindAllOptions) error {
		options.ContractorId = &contractorId
		return nil
	}
}

// WithMemberCard matches group bids offered on the card
func WithMemberCard(bidCardId string) FindAllOptionsFunc {
	return func(options *FindAllOptions) error {
		options.BidCardId = &bidCardId
		return nil
	}
}

type BidGroupRepo interface {
	FindOne(c ctx.Ctx, id string) (*BidGroup, error)
	Create(c ctx.Ctx, g *BidGroup) error
}

type GroupBidRepo interface {
	FindOne(c ctx.Ctx, id string) (*GroupBid, error)
	FindAll(c ctx.Ctx, opts ...FindAllOptionsFunc) ([]*GroupBid, error)
	Create(c ctx.Ctx, gb *GroupBid) error
	// Save has the same version semantics as the bid card repo
	Save(c ctx.Ctx, gb *GroupBid) error
}

type UseCase interface {
	CreateBidGroup(c ctx.Ctx, req CreateBidGroupReq) (*BidGroup, error)
	GetBidGroup(c ctx.Ctx, id string) (*BidGroup, error)
	CreateGroupBid(c ctx.Ctx, req CreateGroupBidReq) (*GroupBid, error)
	GetGroupBid(c ctx.Ctx, id string) (*GroupBid, error)
	FindAll(c ctx.Ctx, opts ...FindAllOptionsFunc) ([]*GroupBid, error)
	// JoinGroupBid records the card owner's acceptance of the group offer
	JoinGroupBid(c ctx.Ctx, actorId, groupBidId, bidCardId string) (*GroupBid, error)
	ExtendGroupBidDeadline(c ctx.Ctx, actorId, groupBidId string, req ExtendReq) (*GroupBid, error)
	WithdrawGroupBid(c ctx.Ctx, actorId, groupBidId string) (*GroupBid, error)

	HandleDeadline(c ctx.Ctx, d domain.Deadline) error
	Recover(c ctx.Ctx) error
}

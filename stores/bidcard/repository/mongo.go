package repository

import (
	"go.mongodb.org/mongo-driver/bson"
	"golang.org/x/xerrors"

	"github.com/x-xyz/bidding/base/ctx"
	"github.com/x-xyz/bidding/base/log"
	"github.com/x-xyz/bidding/domain"
	"github.com/x-xyz/bidding/domain/bidcard"
	"github.com/x-xyz/bidding/service/query"
)

func makeFindQuery(opts bidcard.FindAllOptions) bson.M {
	qry := bson.M{}

	if opts.OwnerId != nil {
		qry["ownerId"] = *opts.OwnerId
	}

	if len(opts.StatusIn) > 1 {
		qry["status"] = bson.M{"$in": opts.StatusIn}
	} else if len(opts.StatusIn) > 0 {
		qry["status"] = opts.StatusIn[0]
	}

	if opts.BidId != nil {
		qry["bids.id"] = *opts.BidId
	}

	if opts.AcceptanceId != nil {
		qry["acceptances.id"] = *opts.AcceptanceId
	}

	// both conditions must hold on the same bid
	bidQry := bson.M{}
	if opts.ContractorId != nil {
		bidQry["contractorId"] = *opts.ContractorId
	}
	if opts.GroupBidId != nil {
		bidQry["groupBidId"] = *opts.GroupBidId
	}
	if len(bidQry) > 0 {
		qry["bids"] = bson.M{"$elemMatch": bidQry}
	}

	return qry
}

type mongoRepo struct {
	q query.Mongo
}

// NewMongo returns a repo storing one document per bid card in domain.TableBidCards
func NewMongo(c ctx.Ctx, q query.Mongo) (bidcard.Repo, error) {
	if err := q.EnsureIndexes(c, domain.TableBidCards,
		query.Index{Keys: []string{"id"}, Unique: true},
		query.Index{Keys: []string{"bids.id"}},
		query.Index{Keys: []string{"acceptances.id"}},
		query.Index{Keys: []string{"ownerId", "-createdAt"}},
		query.Index{Keys: []string{"status"}},
	); err != nil {
		c.WithField("err", err).Error("failed to q.EnsureIndexes")
		return nil, err
	}
	return &mongoRepo{q: q}, nil
}

func (r *mongoRepo) FindOne(c ctx.Ctx, id string) (*bidcard.BidCard, error) {
	res := &bidcard.BidCard{}
	if err := r.q.FindOne(c, domain.TableBidCards, bson.M{"id": id}, res); err == query.ErrNotFound {
		return nil, xerrors.Errorf("bidcard %s: %w", id, domain.ErrNotFound)
	} else if err != nil {
		c.WithFields(log.Fields{"err": err, "id": id}).Error("failed to q.FindOne")
		return nil, err
	}
	return res, nil
}

func (r *mongoRepo) FindAll(c ctx.Ctx, optFns ...bidcard.FindAllOptionsFunc) ([]*bidcard.BidCard, error) {
	opts, err := bidcard.GetFindAllOptions(optFns...)
	if err != nil {
		c.WithField("err", err).Error("failed to bidcard.GetFindAllOptions")
		return nil, err
	}

	offset, limit := 0, 0
	if opts.Offset != nil {
		offset = *opts.Offset
	}
	if opts.Limit != nil {
		limit = *opts.Limit
	}

	qry := makeFindQuery(opts)
	res := []*bidcard.BidCard{}
	if err := r.q.Search(c, domain.TableBidCards, offset, limit, "-createdAt", qry, &res); err != nil {
		c.WithFields(log.Fields{"err": err, "query": qry}).Error("failed to q.Search")
		return nil, err
	}
	return res, nil
}

func (r *mongoRepo) Create(c ctx.Ctx, card *bidcard.BidCard) error {
	if err := r.q.Insert(c, domain.TableBidCards, card); err == query.ErrDuplicateKey {
		return xerrors.Errorf("bidcard %s: %w", card.Id, domain.ErrDuplicateKey)
	} else if err != nil {
		c.WithFields(log.Fields{"err": err, "id": card.Id}).Error("failed to q.Insert")
		return err
	}
	return nil
}

func (r *mongoRepo) Save(c ctx.Ctx, card *bidcard.BidCard) error {
	selector := bson.M{"id": card.Id, "version": card.Version}
	card.Version++
	if err := r.q.Replace(c, domain.TableBidCards, selector, card); err == query.ErrNotFound {
		card.Version--
		return xerrors.Errorf("bidcard %s version %d: %w", card.Id, card.Version, domain.ErrStaleVersion)
	} else if err != nil {
		card.Version--
		c.WithFields(log.Fields{"err": err, "id": card.Id}).Error("failed to q.Replace")
		return err
	}
	return nil
}

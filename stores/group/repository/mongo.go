package repository

import (
	"go.mongodb.org/mongo-driver/bson"
	"golang.org/x/xerrors"

	"github.com/x-xyz/bidding/base/ctx"
	"github.com/x-xyz/bidding/base/log"
	"github.com/x-xyz/bidding/domain"
	"github.com/x-xyz/bidding/domain/group"
	"github.com/x-xyz/bidding/service/query"
)

type bidGroupMongo struct {
	q query.Mongo
}

func NewBidGroupMongo(c ctx.Ctx, q query.Mongo) (group.BidGroupRepo, error) {
	if err := q.EnsureIndexes(c, domain.TableBidGroups, query.Index{Keys: []string{"id"}, Unique: true}); err != nil {
		c.WithField("err", err).Error("failed to q.EnsureIndexes")
		return nil, err
	}
	return &bidGroupMongo{q: q}, nil
}

func (r *bidGroupMongo) FindOne(c ctx.Ctx, id string) (*group.BidGroup, error) {
	res := &group.BidGroup{}
	if err := r.q.FindOne(c, domain.TableBidGroups, bson.M{"id": id}, res); err == query.ErrNotFound {
		return nil, xerrors.Errorf("bid group %s: %w", id, domain.ErrNotFound)
	} else if err != nil {
		c.WithFields(log.Fields{"err": err, "id": id}).Error("failed to q.FindOne")
		return nil, err
	}
	return res, nil
}

func (r *bidGroupMongo) Create(c ctx.Ctx, g *group.BidGroup) error {
	if err := r.q.Insert(c, domain.TableBidGroups, g); err == query.ErrDuplicateKey {
		return xerrors.Errorf("bid group %s: %w", g.Id, domain.ErrDuplicateKey)
	} else if err != nil {
		c.WithFields(log.Fields{"err": err, "id": g.Id}).Error("failed to q.Insert")
		return err
	}
	return nil
}

func makeFindQuery(opts group.FindAllOptions) bson.M {
	qry := bson.M{}

	if opts.GroupId != nil {
		qry["groupId"] = *opts.GroupId
	}

	if len(opts.StatusIn) > 1 {
		qry["status"] = bson.M{"$in": opts.StatusIn}
	} else if len(opts.StatusIn) > 0 {
		qry["status"] = opts.StatusIn[0]
	}

	if opts.ContractorId != nil {
		qry["contractorId"] = *opts.ContractorId
	}

	if opts.BidCardId != nil {
		qry["members.bidCardId"] = *opts.BidCardId
	}

	return qry
}

type groupBidMongo struct {
	q query.Mongo
}

func NewGroupBidMongo(c ctx.Ctx, q query.Mongo) (group.GroupBidRepo, error) {
	if err := q.EnsureIndexes(c, domain.TableGroupBids,
		query.Index{Keys: []string{"id"}, Unique: true},
		query.Index{Keys: []string{"groupId"}},
		query.Index{Keys: []string{"members.bidCardId"}},
		query.Index{Keys: []string{"status", "acceptanceDeadline"}},
	); err != nil {
		c.WithField("err", err).Error("failed to q.EnsureIndexes")
		return nil, err
	}
	return &groupBidMongo{q: q}, nil
}

func (r *groupBidMongo) FindOne(c ctx.Ctx, id string) (*group.GroupBid, error) {
	res := &group.GroupBid{}
	if err := r.q.FindOne(c, domain.TableGroupBids, bson.M{"id": id}, res); err == query.ErrNotFound {
		return nil, xerrors.Errorf("group bid %s: %w", id, domain.ErrNotFound)
	} else if err != nil {
		c.WithFields(log.Fields{"err": err, "id": id}).Error("failed to q.FindOne")
		return nil, err
	}
	return res, nil
}

func (r *groupBidMongo) FindAll(c ctx.Ctx, optFns ...group.FindAllOptionsFunc) ([]*group.GroupBid, error) {
	opts, err := group.GetFindAllOptions(optFns...)
	if err != nil {
		c.WithField("err", err).Error("failed to group.GetFindAllOptions")
		return nil, err
	}
	qry := makeFindQuery(opts)
	res := []*group.GroupBid{}
	if err := r.q.Search(c, domain.TableGroupBids, 0, 0, "-createdAt", qry, &res); err != nil {
		c.WithFields(log.Fields{"err": err, "query": qry}).Error("failed to q.Search")
		return nil, err
	}
	return res, nil
}

func (r *groupBidMongo) Create(c ctx.Ctx, gb *group.GroupBid) error {
	if err := r.q.Insert(c, domain.TableGroupBids, gb); err == query.ErrDuplicateKey {
		return xerrors.Errorf("group bid %s: %w", gb.Id, domain.ErrDuplicateKey)
	} else if err != nil {
		c.WithFields(log.Fields{"err": err, "id": gb.Id}).Error("failed to q.Insert")
		return err
	}
	return nil
}

func (r *groupBidMongo) Save(c ctx.Ctx, gb *group.GroupBid) error {
	selector := bson.M{"id": gb.Id, "version": gb.Version}
	gb.Version++
	if err := r.q.Replace(c, domain.TableGroupBids, selector, gb); err == query.ErrNotFound {
		gb.Version--
		return xerrors.Errorf("group bid %s version %d: %w", gb.Id, gb.Version, domain.ErrStaleVersion)
	} else if err != nil {
		gb.Version--
		c.WithFields(log.Fields{"err": err, "id": gb.Id}).Error("failed to q.Replace")
		return err
	}
	return nil
}

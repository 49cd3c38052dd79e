package repository

import (
	"sort"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"golang.org/x/xerrors"

	"github.com/x-xyz/bidding/base/ctx"
	"github.com/x-xyz/bidding/base/database/mongoclient"
	"github.com/x-xyz/bidding/domain"
	"github.com/x-xyz/bidding/domain/group"
)

var registry = mongoclient.Registry()

func clone(src, dst interface{}) error {
	raw, err := bson.MarshalWithRegistry(registry, src)
	if err != nil {
		return err
	}
	return bson.UnmarshalWithRegistry(registry, raw, dst)
}

type bidGroupMemory struct {
	mu     sync.RWMutex
	groups map[string]*group.BidGroup
}

func NewBidGroupMemory() group.BidGroupRepo {
	return &bidGroupMemory{groups: map[string]*group.BidGroup{}}
}

func (r *bidGroupMemory) FindOne(c ctx.Ctx, id string) (*group.BidGroup, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.groups[id]
	if !ok {
		return nil, xerrors.Errorf("bid group %s: %w", id, domain.ErrNotFound)
	}
	res := &group.BidGroup{}
	if err := clone(g, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (r *bidGroupMemory) Create(c ctx.Ctx, g *group.BidGroup) error {
	cp := &group.BidGroup{}
	if err := clone(g, cp); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.groups[g.Id]; ok {
		return xerrors.Errorf("bid group %s: %w", g.Id, domain.ErrDuplicateKey)
	}
	r.groups[g.Id] = cp
	return nil
}

type groupBidMemory struct {
	mu   sync.RWMutex
	bids map[string]*group.GroupBid
}

func NewGroupBidMemory() group.GroupBidRepo {
	return &groupBidMemory{bids: map[string]*group.GroupBid{}}
}

func (r *groupBidMemory) FindOne(c ctx.Ctx, id string) (*group.GroupBid, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	gb, ok := r.bids[id]
	if !ok {
		return nil, xerrors.Errorf("group bid %s: %w", id, domain.ErrNotFound)
	}
	res := &group.GroupBid{}
	if err := clone(gb, res); err != nil {
		return nil, err
	}
	return res, nil
}

func match(gb *group.GroupBid, opts group.FindAllOptions) bool {
	if opts.GroupId != nil && gb.GroupId != *opts.GroupId {
		return false
	}
	if opts.ContractorId != nil && gb.ContractorId != *opts.ContractorId {
		return false
	}
	if opts.BidCardId != nil && gb.FindMember(*opts.BidCardId) == nil {
		return false
	}
	if len(opts.StatusIn) == 0 {
		return true
	}
	for _, s := range opts.StatusIn {
		if gb.Status == s {
			return true
		}
	}
	return false
}

func (r *groupBidMemory) FindAll(c ctx.Ctx, optFns ...group.FindAllOptionsFunc) ([]*group.GroupBid, error) {
	opts, err := group.GetFindAllOptions(optFns...)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := []*group.GroupBid{}
	for _, gb := range r.bids {
		if !match(gb, opts) {
			continue
		}
		cp := &group.GroupBid{}
		if err := clone(gb, cp); err != nil {
			return nil, err
		}
		res = append(res, cp)
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].Id < res[j].Id
		}
		return res[i].CreatedAt.After(res[j].CreatedAt)
	})
	return res, nil
}

func (r *groupBidMemory) Create(c ctx.Ctx, gb *group.GroupBid) error {
	cp := &group.GroupBid{}
	if err := clone(gb, cp); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bids[gb.Id]; ok {
		return xerrors.Errorf("group bid %s: %w", gb.Id, domain.ErrDuplicateKey)
	}
	r.bids[gb.Id] = cp
	return nil
}

func (r *groupBidMemory) Save(c ctx.Ctx, gb *group.GroupBid) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.bids[gb.Id]
	if !ok {
		return xerrors.Errorf("group bid %s: %w", gb.Id, domain.ErrNotFound)
	}
	if stored.Version != gb.Version {
		return xerrors.Errorf("group bid %s version %d: %w", gb.Id, gb.Version, domain.ErrStaleVersion)
	}
	gb.Version++
	cp := &group.GroupBid{}
	if err := clone(gb, cp); err != nil {
		gb.Version--
		return err
	}
	r.bids[gb.Id] = cp
	return nil
}

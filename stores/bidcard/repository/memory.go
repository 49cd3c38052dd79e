package repository

import (
	"sort"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"golang.org/x/xerrors"

	"github.com/x-xyz/bidding/base/ctx"
	"github.com/x-xyz/bidding/base/database/mongoclient"
	"github.com/x-xyz/bidding/domain"
	"github.com/x-xyz/bidding/domain/bidcard"
)

var registry = mongoclient.Registry()

// clone copies card through bson so callers never share nested slices
func clone(card *bidcard.BidCard) (*bidcard.BidCard, error) {
	raw, err := bson.MarshalWithRegistry(registry, card)
	if err != nil {
		return nil, err
	}
	res := &bidcard.BidCard{}
	if err := bson.UnmarshalWithRegistry(registry, raw, res); err != nil {
		return nil, err
	}
	return res, nil
}

type memoryRepo struct {
	mu    sync.RWMutex
	cards map[string]*bidcard.BidCard
}

// NewMemory returns a process local repo with the same version semantics as the mongo one
func NewMemory() bidcard.Repo {
	return &memoryRepo{cards: map[string]*bidcard.BidCard{}}
}

func (r *memoryRepo) FindOne(c ctx.Ctx, id string) (*bidcard.BidCard, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	card, ok := r.cards[id]
	if !ok {
		return nil, xerrors.Errorf("bidcard %s: %w", id, domain.ErrNotFound)
	}
	return clone(card)
}

func match(card *bidcard.BidCard, opts bidcard.FindAllOptions) bool {
	if opts.OwnerId != nil && card.OwnerId != *opts.OwnerId {
		return false
	}
	if len(opts.StatusIn) > 0 {
		found := false
		for _, s := range opts.StatusIn {
			if card.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if opts.BidId != nil && card.FindBid(*opts.BidId) == nil {
		return false
	}
	if opts.AcceptanceId != nil && card.FindAcceptance(*opts.AcceptanceId) == nil {
		return false
	}
	if opts.ContractorId != nil || opts.GroupBidId != nil {
		found := false
		for _, b := range card.Bids {
			if opts.ContractorId != nil && b.ContractorId != *opts.ContractorId {
				continue
			}
			if opts.GroupBidId != nil && b.GroupBidId != *opts.GroupBidId {
				continue
			}
			found = true
			break
		}
		if !found {
			return false
		}
	}
	return true
}

func (r *memoryRepo) FindAll(c ctx.Ctx, optFns ...bidcard.FindAllOptionsFunc) ([]*bidcard.BidCard, error) {
	opts, err := bidcard.GetFindAllOptions(optFns...)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	res := []*bidcard.BidCard{}
	for _, card := range r.cards {
		if !match(card, opts) {
			continue
		}
		cp, err := clone(card)
		if err != nil {
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

	if opts.Offset != nil {
		if *opts.Offset >= len(res) {
			return []*bidcard.BidCard{}, nil
		}
		res = res[*opts.Offset:]
	}
	if opts.Limit != nil && *opts.Limit > 0 && *opts.Limit < len(res) {
		res = res[:*opts.Limit]
	}
	return res, nil
}

func (r *memoryRepo) Create(c ctx.Ctx, card *bidcard.BidCard) error {
	cp, err := clone(card)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.cards[card.Id]; ok {
		return xerrors.Errorf("bidcard %s: %w", card.Id, domain.ErrDuplicateKey)
	}
	r.cards[card.Id] = cp
	return nil
}

func (r *memoryRepo) Save(c ctx.Ctx, card *bidcard.BidCard) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.cards[card.Id]
	if !ok {
		return xerrors.Errorf("bidcard %s: %w", card.Id, domain.ErrNotFound)
	}
	if stored.Version != card.Version {
		return xerrors.Errorf("bidcard %s version %d: %w", card.Id, card.Version, domain.ErrStaleVersion)
	}
	card.Version++
	cp, err := clone(card)
	if err != nil {
		card.Version--
		return err
	}
	r.cards[card.Id] = cp
	return nil
}

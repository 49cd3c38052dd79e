package usecase

import (
	"errors"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/xerrors"

	"github.com/x-xyz/bidding/base/ctx"
	"github.com/x-xyz/bidding/base/log"
	"github.com/x-xyz/bidding/base/metrics"
	"github.com/x-xyz/bidding/domain"
	"github.com/x-xyz/bidding/domain/bidcard"
	"github.com/x-xyz/bidding/domain/group"
	"github.com/x-xyz/bidding/domain/keys"
)

const (
	lockKind             = "groupbid"
	defaultMaxExtensions = 2

	handOffRetryStart = time.Minute
	handOffRetryLimit = time.Hour
)

var errSkip = errors.New("nothing to write")

type GroupUseCaseCfg struct {
	BidGroupRepo group.BidGroupRepo
	GroupBidRepo group.GroupBidRepo
	// BidCards receives the member cards once the threshold is met
	BidCards  bidcard.UseCase
	Locker    domain.Locker
	Scheduler domain.Scheduler
	Notifier  domain.Notifier
	Clock     clock.Clock
	Metrics   metrics.Service

	MaxExtensions int
}

type impl struct {
	groupRepo group.BidGroupRepo
	bidRepo   group.GroupBidRepo
	bidcards  bidcard.UseCase
	locker    domain.Locker
	scheduler domain.Scheduler
	notifier  domain.Notifier
	clock     clock.Clock
	met       metrics.Service

	maxExtensions int
}

func New(cfg *GroupUseCaseCfg) group.UseCase {
	im := &impl{
		groupRepo:     cfg.BidGroupRepo,
		bidRepo:       cfg.GroupBidRepo,
		bidcards:      cfg.BidCards,
		locker:        cfg.Locker,
		scheduler:     cfg.Scheduler,
		notifier:      cfg.Notifier,
		clock:         cfg.Clock,
		met:           cfg.Metrics,
		maxExtensions: cfg.MaxExtensions,
	}
	if im.clock == nil {
		im.clock = clock.New()
	}
	if im.met == nil {
		im.met = metrics.New("group")
	}
	if im.maxExtensions <= 0 {
		im.maxExtensions = defaultMaxExtensions
	}
	return im
}

type txn struct {
	c           ctx.Ctx
	gb          *group.GroupBid
	now         time.Time
	events      []domain.Event
	schedule    []domain.Deadline
	unschedule  []domain.Deadline
	handOff     []string
	deferredErr error
}

func (t *txn) emit(typ domain.EventType, payload map[string]interface{}, recipients ...string) {
	t.events = append(t.events, domain.Event{
		Id:          domain.NewId(),
		Type:        typ,
		AggregateId: t.gb.Id,
		Recipients:  recipients,
		Payload:     payload,
		OccurredAt:  t.now,
	})
}

// recipients is the contractor plus every member owner
func (t *txn) recipients() []string {
	return append([]string{t.gb.ContractorId}, t.gb.MemberOwners()...)
}

func (im *impl) now() time.Time {
	return domain.Truncate(im.clock.Now())
}

func (im *impl) runTxn(c ctx.Ctx, groupBidId string, fn func(t *txn) error) (*txn, error) {
	unlock, err := im.locker.Lock(c, keys.LockKey(lockKind, groupBidId))
	if err != nil {
		c.WithFields(log.Fields{"err": err, "groupBidId": groupBidId}).Warn("failed to locker.Lock")
		return nil, err
	}
	defer unlock()

	gb, err := im.bidRepo.FindOne(c, groupBidId)
	if err != nil {
		return nil, err
	}

	t := &txn{c: c, gb: gb, now: im.now()}
	if err := fn(t); err == errSkip {
		t.events, t.schedule, t.unschedule, t.handOff = nil, nil, nil, nil
		return t, nil
	} else if err != nil {
		return nil, err
	}

	gb.UpdatedAt = t.now
	if err := im.bidRepo.Save(c, gb); err != nil {
		c.WithFields(log.Fields{"err": err, "groupBidId": groupBidId}).Error("failed to bidRepo.Save")
		return nil, err
	}
	for _, d := range t.unschedule {
		im.scheduler.Cancel(c, d)
	}
	for _, d := range t.schedule {
		im.scheduler.Schedule(c, d)
	}
	return t, nil
}

// withGroupBid runs fn as one transaction, then notifies and hands the
// member cards named by fn to the arbiter. Hand-offs run after the group
// lock is released so no two aggregates are ever locked together.
func (im *impl) withGroupBid(c ctx.Ctx, groupBidId string, fn func(t *txn) error) (*group.GroupBid, error) {
	t, err := im.runTxn(c, groupBidId, fn)
	if err != nil {
		return nil, err
	}
	for _, evt := range t.events {
		im.notifier.Notify(c, evt)
	}
	if len(t.handOff) == 0 {
		return t.gb, t.deferredErr
	}
	gb, err := im.handOff(c, t.gb, t.handOff)
	if err != nil {
		return t.gb, err
	}
	return gb, t.deferredErr
}

func (im *impl) CreateBidGroup(c ctx.Ctx, req group.CreateBidGroupReq) (*group.BidGroup, error) {
	seen := map[string]bool{}
	for _, id := range req.BidCardIds {
		if seen[id] {
			return nil, xerrors.Errorf("bidcard %s listed twice: %w", id, domain.ErrBadParamInput)
		}
		seen[id] = true
	}
	if len(seen) < 2 {
		return nil, xerrors.Errorf("a group needs at least two cards: %w", domain.ErrBadParamInput)
	}

	for _, id := range req.BidCardIds {
		card, err := im.bidcards.GetBidCard(c, id)
		if err != nil {
			return nil, err
		}
		if !card.GroupEligible {
			return nil, xerrors.Errorf("bidcard %s: %w", id, domain.ErrCardNotGroupEligible)
		}
		if !card.Status.AcceptsBids() {
			return nil, xerrors.Errorf("bidcard %s is %s: %w", id, card.Status, domain.ErrBidCardClosed)
		}
	}

	g := &group.BidGroup{
		Id:         domain.NewId(),
		Name:       req.Name,
		CreatedBy:  req.CreatedBy,
		BidCardIds: append([]string{}, req.BidCardIds...),
		CreatedAt:  im.now(),
	}
	if err := im.groupRepo.Create(c, g); err != nil {
		c.WithFields(log.Fields{"err": err, "groupId": g.Id}).Error("failed to groupRepo.Create")
		return nil, err
	}
	c.WithFields(log.Fields{"groupId": g.Id, "cards": len(g.BidCardIds)}).Info("bid group created")
	return g, nil
}

func (im *impl) GetBidGroup(c ctx.Ctx, id string) (*group.BidGroup, error) {
	return im.groupRepo.FindOne(c, id)
}

func (im *impl) CreateGroupBid(c ctx.Ctx, req group.CreateGroupBidReq) (*group.GroupBid, error) {
	now := im.now()
	if req.ContractorId == "" {
		return nil, xerrors.Errorf("contractor is required: %w", domain.ErrBadParamInput)
	}
	if !req.Price.IsPositive() {
		return nil, xerrors.Errorf("price %s: %w", req.Price, domain.ErrInvalidAmount)
	}
	if !req.AcceptanceDeadline.After(now) {
		return nil, xerrors.Errorf("acceptanceDeadline %s: %w", req.AcceptanceDeadline, domain.ErrInvalidDeadline)
	}

	g, err := im.groupRepo.FindOne(c, req.GroupId)
	if err != nil {
		return nil, err
	}
	if err := req.Threshold.Validate(len(g.BidCardIds)); err != nil {
		return nil, err
	}

	members := make([]group.Member, 0, len(g.BidCardIds))
	for _, id := range g.BidCardIds {
		card, err := im.bidcards.GetBidCard(c, id)
		if err != nil {
			return nil, err
		}
		members = append(members, group.Member{BidCardId: card.Id, OwnerId: card.OwnerId})
	}

	gb := &group.GroupBid{
		Id:                 domain.NewId(),
		GroupId:            g.Id,
		ContractorId:       req.ContractorId,
		Price:              req.Price,
		Threshold:          req.Threshold,
		AcceptanceDeadline: domain.Truncate(req.AcceptanceDeadline),
		Status:             group.StatusSubmitted,
		Members:            members,
		Acceptances:        []*group.Acceptance{},
		Extensions:         []*group.Extension{},
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := im.bidRepo.Create(c, gb); err != nil {
		c.WithFields(log.Fields{"err": err, "groupBidId": gb.Id}).Error("failed to bidRepo.Create")
		return nil, err
	}
	im.scheduler.Schedule(c, gb.Timer())
	im.notifier.Notify(c, domain.Event{
		Id:          domain.NewId(),
		Type:        domain.EventGroupBidCreated,
		AggregateId: gb.Id,
		Recipients:  gb.MemberOwners(),
		Payload: map[string]interface{}{
			"price":              gb.Price.String(),
			"acceptanceDeadline": gb.AcceptanceDeadline,
		},
		OccurredAt: now,
	})
	c.WithFields(log.Fields{"groupBidId": gb.Id, "groupId": g.Id}).Info("group bid created")
	return gb, nil
}

func (im *impl) GetGroupBid(c ctx.Ctx, id string) (*group.GroupBid, error) {
	return im.bidRepo.FindOne(c, id)
}

func (im *impl) FindAll(c ctx.Ctx, opts ...group.FindAllOptionsFunc) ([]*group.GroupBid, error) {
	return im.bidRepo.FindAll(c, opts...)
}

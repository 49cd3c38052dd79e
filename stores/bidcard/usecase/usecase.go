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
	"github.com/x-xyz/bidding/domain/keys"
)

const (
	lockKind                   = "bidcard"
	defaultAcceptanceTimeLimit = 24
)

// errSkip ends a transaction without writing, the caller sees no error
var errSkip = errors.New("nothing to write")

type BidCardUseCaseCfg struct {
	Repo      bidcard.Repo
	Locker    domain.Locker
	Scheduler domain.Scheduler
	Notifier  domain.Notifier
	Identity  domain.IdentityProvider
	Clock     clock.Clock
	Metrics   metrics.Service

	// TieBreak orders equally ranked fallback candidates
	TieBreak bidcard.TieBreak
	// DefaultAcceptanceTimeLimit in hours, used when a card leaves it unset
	DefaultAcceptanceTimeLimit int
}

type impl struct {
	repo      bidcard.Repo
	locker    domain.Locker
	scheduler domain.Scheduler
	notifier  domain.Notifier
	identity  domain.IdentityProvider
	clock     clock.Clock
	met       metrics.Service

	tieBreak         bidcard.TieBreak
	defaultTimeLimit int
}

func New(cfg *BidCardUseCaseCfg) bidcard.UseCase {
	im := &impl{
		repo:             cfg.Repo,
		locker:           cfg.Locker,
		scheduler:        cfg.Scheduler,
		notifier:         cfg.Notifier,
		identity:         cfg.Identity,
		clock:            cfg.Clock,
		met:              cfg.Metrics,
		tieBreak:         cfg.TieBreak,
		defaultTimeLimit: cfg.DefaultAcceptanceTimeLimit,
	}
	if im.clock == nil {
		im.clock = clock.New()
	}
	if im.met == nil {
		im.met = metrics.New("bidcard")
	}
	if im.tieBreak == "" {
		im.tieBreak = bidcard.TieBreakEarliestSubmitted
	}
	if im.defaultTimeLimit <= 0 {
		im.defaultTimeLimit = defaultAcceptanceTimeLimit
	}
	return im
}

type timerOp struct {
	deadline domain.Deadline
	cancel   bool
}

// txn collects the side effects of one transition. Timers are applied
// under the card lock once the write succeeds, events and afterCommit
// funcs run after the lock is released.
type txn struct {
	c           ctx.Ctx
	card        *bidcard.BidCard
	now         time.Time
	events      []domain.Event
	timers      []timerOp
	afterCommit []func(c ctx.Ctx)
	// returned to the caller although the write is kept
	deferredErr error
}

func (t *txn) schedule(d domain.Deadline) {
	t.timers = append(t.timers, timerOp{deadline: d})
}

func (t *txn) unschedule(d domain.Deadline) {
	t.timers = append(t.timers, timerOp{deadline: d, cancel: true})
}

func (t *txn) after(f func(c ctx.Ctx)) {
	t.afterCommit = append(t.afterCommit, f)
}

func (t *txn) emit(typ domain.EventType, payload map[string]interface{}, recipients ...string) {
	t.events = append(t.events, domain.Event{
		Id:          domain.NewId(),
		Type:        typ,
		AggregateId: t.card.Id,
		Recipients:  recipients,
		Payload:     payload,
		OccurredAt:  t.now,
	})
}

// transit moves the card and emits the status change
func (t *txn) transit(to bidcard.Status) error {
	from := t.card.Status
	if err := t.card.Transit(to, t.now); err != nil {
		return err
	}
	t.c.WithFields(log.Fields{"bidCardId": t.card.Id, "from": from, "to": to}).Info("bidcard transited")
	t.emit(domain.EventBidCardStatusChanged, map[string]interface{}{
		"from": from,
		"to":   to,
	}, t.card.Participants()...)
	return nil
}

func (im *impl) now() time.Time {
	return domain.Truncate(im.clock.Now())
}

// runTxn loads the card under its lock, applies fn and writes the card back
func (im *impl) runTxn(c ctx.Ctx, cardId string, fn func(t *txn) error) (*txn, error) {
	unlock, err := im.locker.Lock(c, keys.LockKey(lockKind, cardId))
	if err != nil {
		c.WithFields(log.Fields{"err": err, "bidCardId": cardId}).Warn("failed to locker.Lock")
		return nil, err
	}
	defer unlock()

	card, err := im.repo.FindOne(c, cardId)
	if err != nil {
		return nil, err
	}

	t := &txn{c: c, card: card, now: im.now()}
	if err := fn(t); err == errSkip {
		t.events, t.timers, t.afterCommit = nil, nil, nil
		return t, nil
	} else if err != nil {
		return nil, err
	}

	card.UpdatedAt = t.now
	if err := im.repo.Save(c, card); err != nil {
		c.WithFields(log.Fields{"err": err, "bidCardId": cardId}).Error("failed to repo.Save")
		return nil, err
	}

	for _, op := range t.timers {
		if op.cancel {
			im.scheduler.Cancel(c, op.deadline)
		} else {
			im.scheduler.Schedule(c, op.deadline)
		}
	}
	return t, nil
}

// withCard runs fn as one transaction and publishes its side effects
func (im *impl) withCard(c ctx.Ctx, cardId string, fn func(t *txn) error) (*bidcard.BidCard, error) {
	t, err := im.runTxn(c, cardId, fn)
	if err != nil {
		return nil, err
	}
	im.flush(c, t)
	return t.card, t.deferredErr
}

func (im *impl) flush(c ctx.Ctx, t *txn) {
	for _, evt := range t.events {
		im.notifier.Notify(c, evt)
	}
	for _, f := range t.afterCommit {
		f(c)
	}
}

func (im *impl) cardOfBid(c ctx.Ctx, bidId string) (string, error) {
	cards, err := im.repo.FindAll(c, bidcard.WithBidId(bidId))
	if err != nil {
		c.WithFields(log.Fields{"err": err, "bidId": bidId}).Error("failed to repo.FindAll")
		return "", err
	}
	if len(cards) == 0 {
		return "", xerrors.Errorf("bid %s: %w", bidId, domain.ErrNotFound)
	}
	return cards[0].Id, nil
}

func (im *impl) cardOfAcceptance(c ctx.Ctx, acceptanceId string) (string, error) {
	cards, err := im.repo.FindAll(c, bidcard.WithAcceptanceId(acceptanceId))
	if err != nil {
		c.WithFields(log.Fields{"err": err, "acceptanceId": acceptanceId}).Error("failed to repo.FindAll")
		return "", err
	}
	if len(cards) == 0 {
		return "", xerrors.Errorf("acceptance %s: %w", acceptanceId, domain.ErrNotFound)
	}
	return cards[0].Id, nil
}

func mustOwn(card *bidcard.BidCard, actorId string) error {
	if card.OwnerId != actorId {
		return xerrors.Errorf("bidcard %s: %w", card.Id, domain.ErrNotOwner)
	}
	return nil
}

func findBid(card *bidcard.BidCard, bidId string) (*bidcard.Bid, error) {
	bid := card.FindBid(bidId)
	if bid == nil {
		return nil, xerrors.Errorf("bid %s: %w", bidId, domain.ErrNotFound)
	}
	return bid, nil
}

func findAcceptance(card *bidcard.BidCard, acceptanceId string) (*bidcard.Acceptance, error) {
	acc := card.FindAcceptance(acceptanceId)
	if acc == nil {
		return nil, xerrors.Errorf("acceptance %s: %w", acceptanceId, domain.ErrNotFound)
	}
	return acc, nil
}

package usecase

import (
	"errors"
	"time"

	"golang.org/x/xerrors"

	"github.com/x-xyz/bidding/base/ctx"
	"github.com/x-xyz/bidding/base/log"
	"github.com/x-xyz/bidding/domain"
	"github.com/x-xyz/bidding/domain/bidcard"
	"github.com/x-xyz/bidding/domain/group"
)

func (im *impl) JoinGroupBid(c ctx.Ctx, actorId, groupBidId, bidCardId string) (*group.GroupBid, error) {
	return im.withGroupBid(c, groupBidId, func(t *txn) error {
		gb := t.gb
		m := gb.FindMember(bidCardId)
		if m == nil {
			return xerrors.Errorf("bidcard %s in group bid %s: %w", bidCardId, gb.Id, domain.ErrNotFound)
		}
		if m.OwnerId != actorId {
			return xerrors.Errorf("bidcard %s: %w", bidCardId, domain.ErrNotOwner)
		}
		if !t.now.Before(gb.AcceptanceDeadline) {
			if gb.Status.IsOpen() {
				// the timer is late, close the group bid on its behalf
				im.closeAtDeadline(t)
				t.deferredErr = xerrors.Errorf("acceptanceDeadline %s: %w", gb.AcceptanceDeadline, domain.ErrDeadlinePassed)
				return nil
			}
			if gb.Status == group.StatusThresholdMet {
				return xerrors.Errorf("acceptanceDeadline %s: %w", gb.AcceptanceDeadline, domain.ErrDeadlinePassed)
			}
		}
		if gb.Status == group.StatusExpired || gb.Status == group.StatusWithdrawn {
			return xerrors.Errorf("group bid %s is %s: %w", gb.Id, gb.Status, domain.ErrGroupBidClosed)
		}
		if gb.FindAcceptance(bidCardId) != nil {
			return xerrors.Errorf("bidcard %s: %w", bidCardId, domain.ErrAlreadyJoined)
		}
		// a closed card could never be bound, so it must not count toward the threshold
		card, err := im.bidcards.GetBidCard(t.c, bidCardId)
		if err != nil {
			return err
		}
		if !card.Status.AcceptsBids() {
			return xerrors.Errorf("bidcard %s is %s: %w", bidCardId, card.Status, domain.ErrBidCardClosed)
		}

		gb.Acceptances = append(gb.Acceptances, &group.Acceptance{
			Id:         domain.NewId(),
			BidCardId:  bidCardId,
			OwnerId:    actorId,
			AcceptedAt: t.now,
		})
		t.emit(domain.EventGroupBidAccepted, map[string]interface{}{
			"bidCardId": bidCardId,
			"accepted":  len(gb.Acceptances),
			"members":   len(gb.Members),
		}, gb.ContractorId)

		if gb.Status == group.StatusThresholdMet {
			t.handOff = append(t.handOff, bidCardId)
			return nil
		}
		im.evaluate(t)
		return nil
	})
}

// evaluate moves an open group bid forward after its acceptances changed
func (im *impl) evaluate(t *txn) {
	gb := t.gb
	if !gb.ThresholdMet() {
		if len(gb.Acceptances) > 0 {
			gb.Status = group.StatusPartiallyAccepted
		}
		return
	}

	gb.Status = group.StatusThresholdMet
	gb.ThresholdMetAt = &t.now
	t.unschedule = append(t.unschedule, gb.Timer())
	for _, a := range gb.Acceptances {
		t.handOff = append(t.handOff, a.BidCardId)
	}
	t.emit(domain.EventGroupThresholdMet, map[string]interface{}{
		"accepted": len(gb.Acceptances),
		"members":  len(gb.Members),
	}, t.recipients()...)
	im.met.BumpSum("group.threshold_met", 1)
	t.c.WithFields(log.Fields{"groupBidId": gb.Id, "accepted": len(gb.Acceptances)}).Info("group threshold met")
}

// closeAtDeadline settles an open group bid whose deadline passed
func (im *impl) closeAtDeadline(t *txn) {
	gb := t.gb
	if gb.ThresholdMet() {
		im.evaluate(t)
		return
	}
	gb.Status = group.StatusExpired
	t.unschedule = append(t.unschedule, gb.Timer())
	t.emit(domain.EventGroupBidExpired, map[string]interface{}{
		"accepted": len(gb.Acceptances),
		"members":  len(gb.Members),
	}, t.recipients()...)
	t.c.WithFields(log.Fields{"groupBidId": gb.Id, "accepted": len(gb.Acceptances)}).Info("group bid expired")
}

// handOffDelay is the wait before retry n of a hand-off that hit a conflict
func handOffDelay(attempt int) time.Duration {
	d := handOffRetryStart
	for i := 1; i < attempt && d < handOffRetryLimit; i++ {
		d *= 2
	}
	if d > handOffRetryLimit {
		d = handOffRetryLimit
	}
	return d
}

// handOff enters each accepting member card into the arbiter at the group
// price and records the outcome on the group bid. Conflicts such as a busy
// card or another pending acceptance are retried on a timer, any other
// failure is final.
func (im *impl) handOff(c ctx.Ctx, gb *group.GroupBid, bidCardIds []string) (*group.GroupBid, error) {
	results := map[string]string{}
	failures := map[string]error{}
	for _, id := range bidCardIds {
		acc, err := im.bidcards.AcceptGroupOffer(c, bidcard.GroupOffer{
			BidCardId:    id,
			GroupBidId:   gb.Id,
			ContractorId: gb.ContractorId,
			Price:        gb.Price,
		})
		if err != nil {
			c.WithFields(log.Fields{"err": err, "groupBidId": gb.Id, "bidCardId": id}).Warn("failed to bidcards.AcceptGroupOffer")
			failures[id] = err
			continue
		}
		results[id] = acc.Id
	}

	return im.withGroupBid(c, gb.Id, func(t *txn) error {
		for _, a := range t.gb.Acceptances {
			if accId, ok := results[a.BidCardId]; ok {
				if a.HandOffRetryAt != nil {
					t.unschedule = append(t.unschedule, t.gb.HandOffTimer(a))
				}
				a.BidAcceptanceId = accId
				a.HandOffError = ""
				a.HandOffRetryAt = nil
				continue
			}
			err, ok := failures[a.BidCardId]
			if !ok || a.BidAcceptanceId != "" {
				continue
			}
			a.HandOffAttempts++
			a.HandOffError = err.Error()
			if errors.Is(err, domain.ErrConflict) {
				retryAt := t.now.Add(handOffDelay(a.HandOffAttempts))
				a.HandOffRetryAt = &retryAt
				t.schedule = append(t.schedule, t.gb.HandOffTimer(a))
				t.c.WithFields(log.Fields{"bidCardId": a.BidCardId, "attempt": a.HandOffAttempts, "retryAt": retryAt}).Info("group hand-off will be retried")
				continue
			}
			a.HandOffRetryAt = nil
			t.emit(domain.EventGroupHandOffFailed, map[string]interface{}{
				"bidCardId": a.BidCardId,
				"reason":    a.HandOffError,
				"attempts":  a.HandOffAttempts,
			}, t.gb.ContractorId, a.OwnerId)
			im.met.BumpSum("group.handoff_failed", 1)
		}
		return nil
	})
}

func (im *impl) ExtendGroupBidDeadline(c ctx.Ctx, actorId, groupBidId string, req group.ExtendReq) (*group.GroupBid, error) {
	return im.withGroupBid(c, groupBidId, func(t *txn) error {
		gb := t.gb
		if gb.ContractorId != actorId {
			return xerrors.Errorf("group bid %s: %w", gb.Id, domain.ErrNotOwner)
		}
		if !gb.Status.IsOpen() {
			return xerrors.Errorf("group bid %s is %s: %w", gb.Id, gb.Status, domain.ErrGroupBidClosed)
		}
		if !t.now.Before(gb.AcceptanceDeadline) {
			return xerrors.Errorf("acceptanceDeadline %s: %w", gb.AcceptanceDeadline, domain.ErrDeadlinePassed)
		}
		newDeadline := domain.Truncate(req.NewDeadline)
		if !newDeadline.After(gb.AcceptanceDeadline) {
			return xerrors.Errorf("new deadline %s not after %s: %w", newDeadline, gb.AcceptanceDeadline, domain.ErrInvalidDeadline)
		}
		if len(gb.Extensions) >= im.maxExtensions {
			return xerrors.Errorf("%d extensions: %w", len(gb.Extensions), domain.ErrExtensionLimitReached)
		}

		gb.Extensions = append(gb.Extensions, &group.Extension{
			Id:               domain.NewId(),
			PreviousDeadline: gb.AcceptanceDeadline,
			NewDeadline:      newDeadline,
			Reason:           req.Reason,
			RequestedBy:      actorId,
			CreatedAt:        t.now,
		})
		gb.AcceptanceDeadline = newDeadline
		t.schedule = append(t.schedule, gb.Timer())
		t.emit(domain.EventGroupBidExtended, map[string]interface{}{
			"acceptanceDeadline": newDeadline,
			"extensions":         len(gb.Extensions),
			"reason":             req.Reason,
		}, t.recipients()...)
		return nil
	})
}

func (im *impl) WithdrawGroupBid(c ctx.Ctx, actorId, groupBidId string) (*group.GroupBid, error) {
	return im.withGroupBid(c, groupBidId, func(t *txn) error {
		gb := t.gb
		if gb.ContractorId != actorId {
			return xerrors.Errorf("group bid %s: %w", gb.Id, domain.ErrNotOwner)
		}
		if !gb.Status.IsOpen() {
			return xerrors.Errorf("group bid %s is %s: %w", gb.Id, gb.Status, domain.ErrGroupBidClosed)
		}
		gb.Status = group.StatusWithdrawn
		t.unschedule = append(t.unschedule, gb.Timer())
		t.emit(domain.EventGroupBidWithdrawn, nil, t.recipients()...)
		return nil
	})
}

// HandleDeadline closes an open group bid at its acceptance deadline and
// retries member hand-offs that failed on a conflict
func (im *impl) HandleDeadline(c ctx.Ctx, d domain.Deadline) error {
	switch d.Kind {
	case domain.DeadlineGroupBid:
	case domain.DeadlineGroupHandOff:
		return im.retryHandOff(c, d)
	default:
		return nil
	}
	c = ctx.WithValue(c, "groupBidId", d.AggregateId)
	_, err := im.withGroupBid(c, d.AggregateId, func(t *txn) error {
		if !t.gb.Status.IsOpen() || t.now.Before(t.gb.AcceptanceDeadline) {
			return errSkip
		}
		im.closeAtDeadline(t)
		return nil
	})
	if errors.Is(err, domain.ErrNotFound) {
		c.Warn("deadline for missing group bid")
		return nil
	}
	return err
}

func (im *impl) retryHandOff(c ctx.Ctx, d domain.Deadline) error {
	c = ctx.WithValue(c, "groupBidId", d.AggregateId)
	gb, err := im.bidRepo.FindOne(c, d.AggregateId)
	if errors.Is(err, domain.ErrNotFound) {
		c.Warn("hand-off retry for missing group bid")
		return nil
	} else if err != nil {
		return err
	}
	a := gb.FindAcceptanceById(d.TargetId)
	if gb.Status != group.StatusThresholdMet || a == nil || !a.NeedsHandOff() {
		return nil
	}
	_, err = im.handOff(c, gb, []string{a.BidCardId})
	return err
}

// Recover reschedules open group bids and retries hand-offs that never ran
// or were waiting for another attempt
func (im *impl) Recover(c ctx.Ctx) error {
	open, err := im.bidRepo.FindAll(c, group.WithStatusIn(group.StatusSubmitted, group.StatusPartiallyAccepted))
	if err != nil {
		c.WithField("err", err).Error("failed to bidRepo.FindAll")
		return err
	}
	for _, gb := range open {
		im.scheduler.Schedule(c, gb.Timer())
	}

	met, err := im.bidRepo.FindAll(c, group.WithStatusIn(group.StatusThresholdMet))
	if err != nil {
		c.WithField("err", err).Error("failed to bidRepo.FindAll")
		return err
	}
	retried := 0
	for _, gb := range met {
		pending := []string{}
		for _, a := range gb.Acceptances {
			if a.BidAcceptanceId == "" && a.HandOffError == "" {
				pending = append(pending, a.BidCardId)
			}
		}
		if len(pending) == 0 {
			continue
		}
		if _, err := im.handOff(c, gb, pending); err != nil {
			c.WithFields(log.Fields{"err": err, "groupBidId": gb.Id}).Error("failed to handOff")
			continue
		}
		retried += len(pending)
	}
	c.WithFields(log.Fields{"open": len(open), "retried": retried}).Info("group deadlines recovered")
	return nil
}

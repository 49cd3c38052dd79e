package usecase

import (
	"errors"

	"github.com/x-xyz/bidding/base/ctx"
	"github.com/x-xyz/bidding/base/log"
	"github.com/x-xyz/bidding/domain"
	"github.com/x-xyz/bidding/domain/bidcard"
)

// HandleDeadline runs the transition owed at d. Deadlines that no longer
// apply are ignored, so redelivery is safe.
func (im *impl) HandleDeadline(c ctx.Ctx, d domain.Deadline) error {
	c = ctx.WithValues(c, map[string]interface{}{"deadline": d.Kind, "bidCardId": d.AggregateId})

	var fn func(t *txn) error
	switch d.Kind {
	case domain.DeadlineAcceptanceExpiry:
		fn = func(t *txn) error {
			acc := t.card.FindAcceptance(d.TargetId)
			if acc == nil || acc.Status != bidcard.AcceptanceStatusPendingPayment || t.now.Before(acc.ExpiresAt) {
				return errSkip
			}
			return im.lapse(t, acc, bidcard.AcceptanceStatusExpired, "timeout")
		}
	case domain.DeadlineBidCard:
		fn = im.closeSolicitation
	case domain.DeadlineCommitment:
		fn = func(t *txn) error {
			return im.expireCommitment(t, d.TargetId)
		}
	default:
		c.WithField("kind", d.Kind).Warn("unknown deadline kind")
		return nil
	}

	if _, err := im.withCard(c, d.AggregateId, fn); errors.Is(err, domain.ErrNotFound) {
		c.Warn("deadline for missing bidcard")
		return nil
	} else if err != nil {
		c.WithField("err", err).Error("failed to handle deadline")
		return err
	}
	return nil
}

// closeSolicitation ends the open phase at the bid deadline. A card nobody
// bid or committed on expires, any other goes to review.
func (im *impl) closeSolicitation(t *txn) error {
	card := t.card
	if card.Status != bidcard.StatusOpen || t.now.Before(card.BidDeadline) {
		return errSkip
	}
	if card.CurrentBids == 0 && card.CurrentCommitments == 0 {
		return t.transit(bidcard.StatusExpired)
	}
	return t.transit(bidcard.StatusReview)
}

func (im *impl) Recover(c ctx.Ctx) error {
	cards, err := im.repo.FindAll(c, bidcard.WithStatusIn(
		bidcard.StatusOpen,
		bidcard.StatusReview,
		bidcard.StatusNegotiation,
		bidcard.StatusAwarded,
		bidcard.StatusInProgress,
	))
	if err != nil {
		c.WithField("err", err).Error("failed to repo.FindAll")
		return err
	}

	scheduled, released := 0, 0
	for _, card := range cards {
		for _, d := range card.Deadlines() {
			im.scheduler.Schedule(c, d)
			scheduled++
		}
		for _, acc := range card.Acceptances {
			if acc.Status != bidcard.AcceptanceStatusPaid || card.ReleaseOf(acc.Id) != nil {
				continue
			}
			if _, err := im.Release(c, acc.Id); err != nil {
				c.WithFields(log.Fields{"err": err, "acceptanceId": acc.Id}).Error("failed to Release")
				continue
			}
			released++
		}
	}
	c.WithFields(log.Fields{"cards": len(cards), "scheduled": scheduled, "released": released}).Info("bidcard deadlines recovered")
	return nil
}

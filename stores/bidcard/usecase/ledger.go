package usecase

import (
	"github.com/shopspring/decimal"
	"golang.org/x/xerrors"

	"github.com/x-xyz/bidding/base/ctx"
	"github.com/x-xyz/bidding/base/log"
	"github.com/x-xyz/bidding/domain"
	"github.com/x-xyz/bidding/domain/bidcard"
)

func (im *impl) SubmitBid(c ctx.Ctx, cardId string, req bidcard.SubmitBidReq) (*bidcard.Bid, error) {
	if req.ContractorId == "" {
		return nil, xerrors.Errorf("contractor is required: %w", domain.ErrBadParamInput)
	}
	if !req.Amount.IsPositive() {
		return nil, xerrors.Errorf("amount %s: %w", req.Amount, domain.ErrInvalidAmount)
	}

	var bid *bidcard.Bid
	_, err := im.withCard(c, cardId, func(t *txn) error {
		card := t.card
		if card.Status.IsTerminal() || !card.Status.AcceptsBids() {
			return xerrors.Errorf("bidcard %s is %s: %w", card.Id, card.Status, domain.ErrBidCardClosed)
		}
		if !t.now.Before(card.BidDeadline) {
			return xerrors.Errorf("bidDeadline %s: %w", card.BidDeadline, domain.ErrDeadlinePassed)
		}
		if card.ActiveBidOf(req.ContractorId) != nil {
			return xerrors.Errorf("contractor %s: %w", req.ContractorId, domain.ErrDuplicateActiveBid)
		}
		if card.MaxBidsAllowed > 0 {
			// a live commitment already holds a slot for its own contractor
			reserved := card.CurrentCommitments
			if card.LiveCommitmentOf(req.ContractorId) != nil {
				reserved--
			}
			if card.CurrentBids+reserved >= card.MaxBidsAllowed {
				return xerrors.Errorf("%d bids, %d commitments of %d: %w", card.CurrentBids, card.CurrentCommitments, card.MaxBidsAllowed, domain.ErrCapacityExceeded)
			}
		}
		if !card.InBudget(req.Amount) {
			return xerrors.Errorf("amount %s outside [%s, %s]: %w", req.Amount, card.BudgetMin, card.BudgetMax, domain.ErrInvalidAmount)
		}

		bid = im.appendBid(t, req.ContractorId, req.Amount, req.Message)
		return im.afterNewBid(t, bid)
	})
	if err != nil {
		return nil, err
	}
	c.WithFields(log.Fields{"bidCardId": cardId, "bidId": bid.Id}).Info("bid submitted")
	return bid, nil
}

// afterNewBid keeps the counters and status in line with a bid just added
func (im *impl) afterNewBid(t *txn, bid *bidcard.Bid) error {
	card := t.card
	card.CurrentBids++
	if cm := card.LiveCommitmentOf(bid.ContractorId); cm != nil {
		cm.Status = bidcard.CommitmentStatusCompleted
		cm.BidId = bid.Id
		cm.ResolvedAt = &t.now
		card.CurrentCommitments--
		t.unschedule(cm.Timer())
	}
	t.emit(domain.EventBidSubmitted, map[string]interface{}{
		"bidId":  bid.Id,
		"amount": bid.Amount.String(),
	}, card.OwnerId)

	if card.Status == bidcard.StatusOpen && card.MinBidsTarget > 0 && card.CurrentBids >= card.MinBidsTarget {
		if err := t.transit(bidcard.StatusReview); err != nil {
			return err
		}
		t.unschedule(domain.Deadline{Kind: domain.DeadlineBidCard, AggregateId: card.Id})
	}
	return nil
}

func (im *impl) appendBid(t *txn, contractorId string, amount decimal.Decimal, message string) *bidcard.Bid {
	bid := &bidcard.Bid{
		Id:                   domain.NewId(),
		BidCardId:            t.card.Id,
		ContractorId:         contractorId,
		Amount:               amount,
		Message:              message,
		Status:               bidcard.BidStatusSubmitted,
		AcknowledgedRevision: t.card.CurrentRevisionNumber,
		SubmittedAt:          t.now,
		UpdatedAt:            t.now,
	}
	t.card.Bids = append(t.card.Bids, bid)
	return bid
}

func (im *impl) UpdateBid(c ctx.Ctx, actorId, bidId string, patch bidcard.BidPatchable) (*bidcard.Bid, error) {
	return im.withBid(c, bidId, func(t *txn, bid *bidcard.Bid) error {
		if bid.ContractorId != actorId {
			return xerrors.Errorf("bid %s: %w", bid.Id, domain.ErrNotOwner)
		}
		if err := mutable(bid); err != nil {
			return err
		}
		if !t.card.Status.AcceptsBids() {
			return xerrors.Errorf("bidcard %s is %s: %w", t.card.Id, t.card.Status, domain.ErrBidCardClosed)
		}
		if patch.Amount != nil {
			if !patch.Amount.IsPositive() || !t.card.InBudget(*patch.Amount) {
				return xerrors.Errorf("amount %s: %w", patch.Amount, domain.ErrInvalidAmount)
			}
			bid.Amount = *patch.Amount
		}
		if patch.Message != nil {
			bid.Message = *patch.Message
		}
		bid.UpdateCount++
		bid.UpdatedAt = t.now
		t.emit(domain.EventBidUpdated, map[string]interface{}{
			"bidId":       bid.Id,
			"amount":      bid.Amount.String(),
			"updateCount": bid.UpdateCount,
		}, t.card.OwnerId)
		return nil
	})
}

func (im *impl) WithdrawBid(c ctx.Ctx, actorId, bidId string) (*bidcard.Bid, error) {
	return im.withBid(c, bidId, func(t *txn, bid *bidcard.Bid) error {
		if bid.ContractorId != actorId {
			return xerrors.Errorf("bid %s: %w", bid.Id, domain.ErrNotOwner)
		}
		if err := mutable(bid); err != nil {
			return err
		}
		bid.Status = bidcard.BidStatusWithdrawn
		bid.UpdatedAt = t.now
		t.card.CurrentBids--
		t.card.RefreshRevisionFlag()
		t.emit(domain.EventBidWithdrawn, map[string]interface{}{"bidId": bid.Id}, t.card.OwnerId)
		return nil
	})
}

func (im *impl) MarkBidViewed(c ctx.Ctx, actorId, bidId string) (*bidcard.Bid, error) {
	return im.withBid(c, bidId, func(t *txn, bid *bidcard.Bid) error {
		if err := mustOwn(t.card, actorId); err != nil {
			return err
		}
		if bid.Status != bidcard.BidStatusSubmitted {
			return errSkip
		}
		bid.Status = bidcard.BidStatusViewed
		bid.ViewedAt = &t.now
		bid.UpdatedAt = t.now
		return nil
	})
}

func (im *impl) ShortlistBid(c ctx.Ctx, actorId, bidId string) (*bidcard.Bid, error) {
	return im.withBid(c, bidId, func(t *txn, bid *bidcard.Bid) error {
		if err := mustOwn(t.card, actorId); err != nil {
			return err
		}
		switch bid.Status {
		case bidcard.BidStatusShortlisted:
			return errSkip
		case bidcard.BidStatusSubmitted, bidcard.BidStatusViewed:
		default:
			return xerrors.Errorf("shortlist %s bid: %w", bid.Status, domain.ErrInvalidTransition)
		}
		bid.Status = bidcard.BidStatusShortlisted
		bid.UpdatedAt = t.now
		return nil
	})
}

func (im *impl) DeclineBid(c ctx.Ctx, actorId, bidId string) (*bidcard.Bid, error) {
	return im.withBid(c, bidId, func(t *txn, bid *bidcard.Bid) error {
		if err := mustOwn(t.card, actorId); err != nil {
			return err
		}
		if err := mutable(bid); err != nil {
			return err
		}
		bid.Status = bidcard.BidStatusDeclined
		bid.UpdatedAt = t.now
		t.card.RefreshRevisionFlag()
		t.emit(domain.EventBidDeclined, map[string]interface{}{"bidId": bid.Id}, bid.ContractorId)
		return nil
	})
}

func (im *impl) AcknowledgeRevision(c ctx.Ctx, actorId, bidId string) (*bidcard.Bid, error) {
	return im.withBid(c, bidId, func(t *txn, bid *bidcard.Bid) error {
		if bid.ContractorId != actorId {
			return xerrors.Errorf("bid %s: %w", bid.Id, domain.ErrNotOwner)
		}
		if bid.Status.IsTerminal() {
			return xerrors.Errorf("acknowledge %s bid: %w", bid.Status, domain.ErrInvalidTransition)
		}
		if bid.AcknowledgedRevision >= t.card.CurrentRevisionNumber {
			return errSkip
		}
		bid.AcknowledgedRevision = t.card.CurrentRevisionNumber
		bid.UpdatedAt = t.now
		t.card.BidRevisions = append(t.card.BidRevisions, &bidcard.BidRevision{
			BidId:          bid.Id,
			RevisionNumber: bid.AcknowledgedRevision,
			AcknowledgedAt: t.now,
		})
		t.card.RefreshRevisionFlag()
		return nil
	})
}

func (im *impl) ListBids(c ctx.Ctx, cardId string) ([]*bidcard.Bid, error) {
	card, err := im.repo.FindOne(c, cardId)
	if err != nil {
		return nil, err
	}
	return card.Bids, nil
}

// withBid runs fn on the bid inside the transaction of its card
func (im *impl) withBid(c ctx.Ctx, bidId string, fn func(t *txn, bid *bidcard.Bid) error) (*bidcard.Bid, error) {
	cardId, err := im.cardOfBid(c, bidId)
	if err != nil {
		return nil, err
	}
	card, err := im.withCard(c, cardId, func(t *txn) error {
		bid, err := findBid(t.card, bidId)
		if err != nil {
			return err
		}
		return fn(t, bid)
	})
	if err != nil {
		return nil, err
	}
	return card.FindBid(bidId), nil
}

// mutable rejects changes to accepted and closed bids
func mutable(bid *bidcard.Bid) error {
	if bid.Status == bidcard.BidStatusAccepted {
		return xerrors.Errorf("bid %s: %w", bid.Id, domain.ErrAcceptedBidImmutable)
	}
	if bid.Status.IsTerminal() {
		return xerrors.Errorf("bid %s is %s: %w", bid.Id, bid.Status, domain.ErrInvalidTransition)
	}
	return nil
}

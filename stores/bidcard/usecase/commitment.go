package usecase

import (
	"golang.org/x/xerrors"

	"github.com/x-xyz/bidding/base/ctx"
	"github.com/x-xyz/bidding/base/log"
	"github.com/x-xyz/bidding/domain"
	"github.com/x-xyz/bidding/domain/bidcard"
)

func (im *impl) CommitToBid(c ctx.Ctx, cardId string, req bidcard.CommitReq) (*bidcard.Commitment, error) {
	if req.ContractorId == "" {
		return nil, xerrors.Errorf("contractor is required: %w", domain.ErrBadParamInput)
	}

	var cm *bidcard.Commitment
	if _, err := im.withCard(c, cardId, func(t *txn) error {
		card := t.card
		if card.Status != bidcard.StatusOpen && card.Status != bidcard.StatusReview {
			return xerrors.Errorf("bidcard %s is %s: %w", card.Id, card.Status, domain.ErrBidCardClosed)
		}
		if !t.now.Before(card.BidDeadline) {
			return xerrors.Errorf("bidDeadline %s: %w", card.BidDeadline, domain.ErrDeadlinePassed)
		}
		deadline := domain.Truncate(req.Deadline)
		if !deadline.After(t.now) || deadline.After(card.BidDeadline) {
			return xerrors.Errorf("deadline %s not in (%s, %s]: %w", deadline, t.now, card.BidDeadline, domain.ErrInvalidDeadline)
		}
		if card.LiveCommitmentOf(req.ContractorId) != nil {
			return xerrors.Errorf("contractor %s: %w", req.ContractorId, domain.ErrDuplicateCommitment)
		}
		if card.ActiveBidOf(req.ContractorId) != nil {
			return xerrors.Errorf("contractor %s: %w", req.ContractorId, domain.ErrDuplicateActiveBid)
		}
		if card.MaxBidsAllowed > 0 && card.CurrentBids+card.CurrentCommitments >= card.MaxBidsAllowed {
			return xerrors.Errorf("%d bids, %d commitments of %d: %w", card.CurrentBids, card.CurrentCommitments, card.MaxBidsAllowed, domain.ErrCommitmentCapacityExceeded)
		}

		cm = &bidcard.Commitment{
			Id:           domain.NewId(),
			BidCardId:    card.Id,
			ContractorId: req.ContractorId,
			Deadline:     deadline,
			Status:       bidcard.CommitmentStatusCommitted,
			CreatedAt:    t.now,
		}
		card.Commitments = append(card.Commitments, cm)
		card.CurrentCommitments++
		t.schedule(cm.Timer())
		t.emit(domain.EventCommitmentCreated, map[string]interface{}{
			"commitmentId": cm.Id,
			"deadline":     cm.Deadline,
		}, card.OwnerId)
		return nil
	}); err != nil {
		return nil, err
	}
	c.WithFields(log.Fields{"bidCardId": cardId, "commitmentId": cm.Id}).Info("commitment created")
	return cm, nil
}

func (im *impl) CancelCommitment(c ctx.Ctx, actorId, cardId, commitmentId string) (*bidcard.Commitment, error) {
	card, err := im.withCard(c, cardId, func(t *txn) error {
		cm := t.card.FindCommitment(commitmentId)
		if cm == nil {
			return xerrors.Errorf("commitment %s: %w", commitmentId, domain.ErrNotFound)
		}
		if cm.ContractorId != actorId {
			return xerrors.Errorf("commitment %s: %w", commitmentId, domain.ErrNotOwner)
		}
		if cm.Status != bidcard.CommitmentStatusCommitted {
			return errSkip
		}
		cm.Status = bidcard.CommitmentStatusCancelled
		cm.ResolvedAt = &t.now
		t.card.CurrentCommitments--
		t.unschedule(cm.Timer())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return card.FindCommitment(commitmentId), nil
}

// expireCommitment releases a commitment whose deadline passed without a bid
func (im *impl) expireCommitment(t *txn, commitmentId string) error {
	card := t.card
	cm := card.FindCommitment(commitmentId)
	if cm == nil || cm.Status != bidcard.CommitmentStatusCommitted || t.now.Before(cm.Deadline) {
		return errSkip
	}
	cm.Status = bidcard.CommitmentStatusExpired
	cm.ResolvedAt = &t.now
	card.CurrentCommitments--
	t.emit(domain.EventCommitmentExpired, map[string]interface{}{
		"commitmentId": cm.Id,
	}, card.OwnerId, cm.ContractorId)
	t.c.WithFields(log.Fields{"bidCardId": card.Id, "commitmentId": cm.Id}).Info("commitment expired")

	// the card waited in review for this commitment only
	if card.Status == bidcard.StatusReview && card.CurrentBids == 0 && card.CurrentCommitments == 0 && !t.now.Before(card.BidDeadline) {
		return t.transit(bidcard.StatusExpired)
	}
	return nil
}

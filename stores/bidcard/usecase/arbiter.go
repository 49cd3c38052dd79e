package usecase

import (
	"time"

	"golang.org/x/xerrors"

	"github.com/x-xyz/bidding/base/ctx"
	"github.com/x-xyz/bidding/base/log"
	"github.com/x-xyz/bidding/domain"
	"github.com/x-xyz/bidding/domain/bidcard"
)

func (im *impl) AcceptBid(c ctx.Ctx, actorId, bidId string) (*bidcard.Acceptance, error) {
	cardId, err := im.cardOfBid(c, bidId)
	if err != nil {
		return nil, err
	}
	var acc *bidcard.Acceptance
	if _, err := im.withCard(c, cardId, func(t *txn) error {
		if err := mustOwn(t.card, actorId); err != nil {
			return err
		}
		bid, err := findBid(t.card, bidId)
		if err != nil {
			return err
		}
		acc, err = im.accept(t, bid, "")
		return err
	}); err != nil {
		return nil, err
	}
	return acc, nil
}

// accept puts a hold on bid and starts its payment window
func (im *impl) accept(t *txn, bid *bidcard.Bid, groupBidId string) (*bidcard.Acceptance, error) {
	card := t.card
	if card.Status != bidcard.StatusReview && card.Status != bidcard.StatusNegotiation {
		return nil, xerrors.Errorf("accept on %s card: %w", card.Status, domain.ErrInvalidTransition)
	}
	if pending := card.PendingAcceptance(); pending != nil {
		return nil, xerrors.Errorf("acceptance %s: %w", pending.Id, domain.ErrAcceptanceInProgress)
	}
	if !card.IsEligible(bid) {
		if !bid.Status.IsTerminal() && !card.WasAccepted(bid.Id) && bid.AcknowledgedRevision < card.CurrentRevisionNumber {
			return nil, xerrors.Errorf("bid %s at revision %d of %d: %w", bid.Id, bid.AcknowledgedRevision, card.CurrentRevisionNumber, domain.ErrRevisionNotAcknowledged)
		}
		return nil, xerrors.Errorf("bid %s is %s: %w", bid.Id, bid.Status, domain.ErrBidNotEligible)
	}

	acc := &bidcard.Acceptance{
		Id:                  domain.NewId(),
		BidCardId:           card.Id,
		BidId:               bid.Id,
		ContractorId:        bid.ContractorId,
		Status:              bidcard.AcceptanceStatusPendingPayment,
		ConnectionFeeAmount: card.ConnectionFee,
		AcceptedAt:          t.now,
		ExpiresAt:           t.now.Add(time.Duration(card.AcceptanceTimeLimitHours) * time.Hour),
		Attempt:             len(card.PreviousAcceptedBids) + 1,
		GroupBidId:          groupBidId,
	}
	if next := card.NextCandidate(im.tieBreak, bid.Id); next != nil {
		acc.FallbackBidId = next.Id
	}
	card.Acceptances = append(card.Acceptances, acc)

	bid.Status = bidcard.BidStatusAccepted
	bid.UpdatedAt = t.now
	card.CurrentAcceptedBidId = bid.Id
	expiresAt := acc.ExpiresAt
	card.AcceptanceExpiresAt = &expiresAt

	t.schedule(acc.Timer())
	t.emit(domain.EventAcceptanceCreated, map[string]interface{}{
		"acceptanceId":  acc.Id,
		"bidId":         bid.Id,
		"expiresAt":     acc.ExpiresAt,
		"connectionFee": acc.ConnectionFeeAmount.String(),
		"attempt":       acc.Attempt,
	}, card.OwnerId, bid.ContractorId)
	im.met.BumpSum("acceptance.created", 1)
	t.c.WithFields(log.Fields{"bidCardId": card.Id, "bidId": bid.Id, "acceptanceId": acc.Id, "attempt": acc.Attempt}).Info("bid accepted")
	return acc, nil
}

// resolve ends a pending acceptance without paying it
func (im *impl) resolve(t *txn, acc *bidcard.Acceptance, status bidcard.AcceptanceStatus, reason string) {
	card := t.card
	acc.Status = status
	acc.ResolvedAt = &t.now
	acc.ResolutionReason = reason

	if bid := card.FindBid(acc.BidId); bid != nil && bid.Status == bidcard.BidStatusAccepted {
		bid.Status = bidcard.BidStatusExpired
		bid.UpdatedAt = t.now
	}
	if !card.WasAccepted(acc.BidId) {
		card.PreviousAcceptedBids = append(card.PreviousAcceptedBids, acc.BidId)
	}
	card.CurrentAcceptedBidId = ""
	card.AcceptanceExpiresAt = nil

	t.unschedule(acc.Timer())
	t.emit(domain.EventAcceptanceLapsed, map[string]interface{}{
		"acceptanceId": acc.Id,
		"bidId":        acc.BidId,
		"status":       status,
		"reason":       reason,
	}, card.OwnerId, acc.ContractorId)
	im.met.BumpSum("acceptance.lapsed", 1, "status", string(status))
	t.c.WithFields(log.Fields{"bidCardId": card.Id, "acceptanceId": acc.Id, "status": status, "reason": reason}).Info("acceptance lapsed")
}

// lapse resolves acc and hands the card to the next eligible bid in the
// same transaction, or back to review when none is left
func (im *impl) lapse(t *txn, acc *bidcard.Acceptance, status bidcard.AcceptanceStatus, reason string) error {
	if acc.Status != bidcard.AcceptanceStatusPendingPayment {
		return nil
	}
	im.resolve(t, acc, status, reason)

	card := t.card
	next := card.NextCandidate(im.tieBreak, "")
	if next == nil {
		if card.Status == bidcard.StatusNegotiation {
			if err := t.transit(bidcard.StatusReview); err != nil {
				return err
			}
		}
		t.emit(domain.EventNoAcceptanceRemaining, map[string]interface{}{
			"lastAcceptanceId": acc.Id,
		}, card.OwnerId)
		return nil
	}

	card.FallbackActivatedAt = &t.now
	nextAcc, err := im.accept(t, next, "")
	if err != nil {
		return err
	}
	t.emit(domain.EventFallbackActivated, map[string]interface{}{
		"fromBidId":    acc.BidId,
		"toBidId":      next.Id,
		"acceptanceId": nextAcc.Id,
	}, card.OwnerId, next.ContractorId)
	return nil
}

func (im *impl) CancelAcceptance(c ctx.Ctx, actorId, acceptanceId string) (*bidcard.Acceptance, error) {
	return im.withAcceptance(c, acceptanceId, func(t *txn, acc *bidcard.Acceptance) error {
		if err := mustOwn(t.card, actorId); err != nil {
			return err
		}
		switch acc.Status {
		case bidcard.AcceptanceStatusCancelled:
			return errSkip
		case bidcard.AcceptanceStatusPendingPayment:
		default:
			return xerrors.Errorf("cancel %s acceptance: %w", acc.Status, domain.ErrInvalidTransition)
		}
		return im.lapse(t, acc, bidcard.AcceptanceStatusCancelled, "cancelled_by_owner")
	})
}

// PaymentSucceeded settles the acceptance. A payment for an acceptance
// that already lapsed is recorded as a conflict, the acceptance is
// returned together with ErrPaymentConflict.
func (im *impl) PaymentSucceeded(c ctx.Ctx, outcome bidcard.PaymentOutcome) (*bidcard.Acceptance, error) {
	return im.withAcceptance(c, outcome.AcceptanceId, func(t *txn, acc *bidcard.Acceptance) error {
		if acc.Status == bidcard.AcceptanceStatusPaid {
			return errSkip
		}
		if acc.Status == bidcard.AcceptanceStatusPendingPayment && !t.now.Before(acc.ExpiresAt) {
			// the timer has not fired yet, the window is closed all the same
			if err := im.lapse(t, acc, bidcard.AcceptanceStatusExpired, "timeout"); err != nil {
				return err
			}
		}
		if acc.Status != bidcard.AcceptanceStatusPendingPayment {
			return im.recordConflict(t, acc, outcome)
		}
		if outcome.Amount.LessThan(acc.ConnectionFeeAmount) {
			return xerrors.Errorf("paid %s of %s: %w", outcome.Amount, acc.ConnectionFeeAmount, domain.ErrInsufficientAmount)
		}
		return im.settle(t, acc, outcome)
	})
}

func (im *impl) settle(t *txn, acc *bidcard.Acceptance, outcome bidcard.PaymentOutcome) error {
	card := t.card
	acc.Status = bidcard.AcceptanceStatusPaid
	acc.ResolvedAt = &t.now
	acc.ResolutionReason = "payment_succeeded"
	card.Payments = append(card.Payments, &bidcard.ConnectionPayment{
		Id:           domain.NewId(),
		AcceptanceId: acc.Id,
		Amount:       outcome.Amount,
		Status:       bidcard.PaymentStatusSucceeded,
		ProviderRef:  outcome.ProviderRef,
		ReceivedAt:   t.now,
	})
	card.AcceptanceExpiresAt = nil
	t.unschedule(acc.Timer())

	if err := t.transit(bidcard.StatusAwarded); err != nil {
		return err
	}
	for _, b := range card.Bids {
		if b.Id == acc.BidId || b.Status.IsTerminal() {
			continue
		}
		b.Status = bidcard.BidStatusDeclined
		b.UpdatedAt = t.now
		t.emit(domain.EventBidDeclined, map[string]interface{}{"bidId": b.Id}, b.ContractorId)
	}
	im.cancelCommitments(t)
	card.RefreshRevisionFlag()

	t.emit(domain.EventAcceptancePaid, map[string]interface{}{
		"acceptanceId": acc.Id,
		"bidId":        acc.BidId,
	}, card.OwnerId, acc.ContractorId)
	im.met.BumpSum("acceptance.paid", 1)
	t.c.WithFields(log.Fields{"bidCardId": card.Id, "acceptanceId": acc.Id}).Info("acceptance paid")

	acceptanceId := acc.Id
	t.after(func(c ctx.Ctx) {
		if _, err := im.Release(c, acceptanceId); err != nil {
			c.WithFields(log.Fields{"err": err, "acceptanceId": acceptanceId}).Error("failed to Release, recovery will retry")
		}
	})
	return nil
}

func (im *impl) recordConflict(t *txn, acc *bidcard.Acceptance, outcome bidcard.PaymentOutcome) error {
	card := t.card
	t.deferredErr = xerrors.Errorf("acceptance %s is %s: %w", acc.Id, acc.Status, domain.ErrPaymentConflict)
	// a redelivery carries the same provider reference, or the same amount
	// when the provider sent none
	for _, cf := range card.Conflicts {
		if cf.AcceptanceId != acc.Id || cf.ProviderRef != outcome.ProviderRef {
			continue
		}
		if outcome.ProviderRef != "" || cf.Amount.Equal(outcome.Amount) {
			return errSkip
		}
	}

	card.Conflicts = append(card.Conflicts, &bidcard.PaymentConflict{
		Id:               domain.NewId(),
		AcceptanceId:     acc.Id,
		BidCardId:        card.Id,
		Amount:           outcome.Amount,
		ProviderRef:      outcome.ProviderRef,
		AcceptanceStatus: acc.Status,
		RefundRequired:   true,
		DetectedAt:       t.now,
	})
	card.Payments = append(card.Payments, &bidcard.ConnectionPayment{
		Id:           domain.NewId(),
		AcceptanceId: acc.Id,
		Amount:       outcome.Amount,
		Status:       bidcard.PaymentStatusConflict,
		ProviderRef:  outcome.ProviderRef,
		Reason:       "acceptance " + string(acc.Status),
		ReceivedAt:   t.now,
	})
	t.emit(domain.EventPaymentConflict, map[string]interface{}{
		"acceptanceId":     acc.Id,
		"acceptanceStatus": acc.Status,
		"amount":           outcome.Amount.String(),
		"providerRef":      outcome.ProviderRef,
		"refundRequired":   true,
	}, card.OwnerId, acc.ContractorId)
	im.met.BumpSum("payment.conflict", 1)
	t.c.WithFields(log.Fields{"bidCardId": card.Id, "acceptanceId": acc.Id, "status": acc.Status}).Warn("payment for lapsed acceptance")
	return nil
}

func (im *impl) PaymentFailed(c ctx.Ctx, outcome bidcard.PaymentOutcome) (*bidcard.Acceptance, error) {
	return im.withAcceptance(c, outcome.AcceptanceId, func(t *txn, acc *bidcard.Acceptance) error {
		if acc.Status != bidcard.AcceptanceStatusPendingPayment {
			return errSkip
		}
		t.card.Payments = append(t.card.Payments, &bidcard.ConnectionPayment{
			Id:           domain.NewId(),
			AcceptanceId: acc.Id,
			Amount:       outcome.Amount,
			Status:       bidcard.PaymentStatusFailed,
			ProviderRef:  outcome.ProviderRef,
			Reason:       outcome.Reason,
			ReceivedAt:   t.now,
		})
		return im.lapse(t, acc, bidcard.AcceptanceStatusExpired, "payment_failed")
	})
}

// AcceptGroupOffer binds the contractor's bid on a member card to the
// group price and accepts it. The offer was agreed by the card owner
// through the group, so bid capacity and the bid deadline do not apply.
func (im *impl) AcceptGroupOffer(c ctx.Ctx, offer bidcard.GroupOffer) (*bidcard.Acceptance, error) {
	if !offer.Price.IsPositive() {
		return nil, xerrors.Errorf("price %s: %w", offer.Price, domain.ErrInvalidAmount)
	}
	var acc *bidcard.Acceptance
	if _, err := im.withCard(c, offer.BidCardId, func(t *txn) error {
		card := t.card
		if !card.Status.AcceptsBids() {
			return xerrors.Errorf("bidcard %s is %s: %w", card.Id, card.Status, domain.ErrBidCardClosed)
		}
		if pending := card.PendingAcceptance(); pending != nil {
			return xerrors.Errorf("acceptance %s: %w", pending.Id, domain.ErrAcceptanceInProgress)
		}

		bid := card.ActiveBidOf(offer.ContractorId)
		if bid != nil {
			bid.Amount = offer.Price
			bid.GroupBidId = offer.GroupBidId
			bid.AcknowledgedRevision = card.CurrentRevisionNumber
			bid.UpdateCount++
			bid.UpdatedAt = t.now
		} else {
			bid = im.appendBid(t, offer.ContractorId, offer.Price, "")
			bid.GroupBidId = offer.GroupBidId
			if err := im.afterNewBid(t, bid); err != nil {
				return err
			}
		}
		if card.Status == bidcard.StatusOpen {
			if err := t.transit(bidcard.StatusReview); err != nil {
				return err
			}
			t.unschedule(domain.Deadline{Kind: domain.DeadlineBidCard, AggregateId: card.Id})
		}
		card.RefreshRevisionFlag()

		var err error
		acc, err = im.accept(t, bid, offer.GroupBidId)
		return err
	}); err != nil {
		return nil, err
	}
	return acc, nil
}

func (im *impl) GetAcceptanceStatus(c ctx.Ctx, cardId string) (*bidcard.AcceptanceView, error) {
	card, err := im.repo.FindOne(c, cardId)
	if err != nil {
		return nil, err
	}
	view := &bidcard.AcceptanceView{
		BidCardId:            card.Id,
		BidCardStatus:        card.Status,
		Status:               bidcard.AcceptanceStatusNone,
		CurrentAcceptedBidId: card.CurrentAcceptedBidId,
		AcceptanceExpiresAt:  card.AcceptanceExpiresAt,
		PreviousAcceptedBids: card.PreviousAcceptedBids,
		FallbackActivatedAt:  card.FallbackActivatedAt,
	}
	if acc := card.LatestAcceptance(); acc != nil {
		view.Status = acc.Status
		view.Acceptance = acc
	}
	return view, nil
}

func (im *impl) ListConflicts(c ctx.Ctx, cardId string) ([]*bidcard.PaymentConflict, error) {
	card, err := im.repo.FindOne(c, cardId)
	if err != nil {
		return nil, err
	}
	return card.Conflicts, nil
}

// withAcceptance runs fn on the acceptance inside the transaction of its
// card. The acceptance is returned even when fn leaves a deferred error.
func (im *impl) withAcceptance(c ctx.Ctx, acceptanceId string, fn func(t *txn, acc *bidcard.Acceptance) error) (*bidcard.Acceptance, error) {
	cardId, err := im.cardOfAcceptance(c, acceptanceId)
	if err != nil {
		return nil, err
	}
	card, err := im.withCard(c, cardId, func(t *txn) error {
		acc, err := findAcceptance(t.card, acceptanceId)
		if err != nil {
			return err
		}
		return fn(t, acc)
	})
	if card == nil {
		return nil, err
	}
	return card.FindAcceptance(acceptanceId), err
}

package usecase

import (
	"golang.org/x/xerrors"

	"github.com/x-xyz/bidding/base/ctx"
	"github.com/x-xyz/bidding/base/log"
	"github.com/x-xyz/bidding/domain"
	"github.com/x-xyz/bidding/domain/bidcard"
)

func (im *impl) CreateBidCard(c ctx.Ctx, req bidcard.CreateBidCardReq) (*bidcard.BidCard, error) {
	now := im.now()
	if req.OwnerId == "" || req.Title == "" {
		return nil, xerrors.Errorf("owner and title are required: %w", domain.ErrBadParamInput)
	}
	if req.MinBidsTarget < 0 || req.MaxBidsAllowed < 0 {
		return nil, xerrors.Errorf("negative bid limits: %w", domain.ErrBadParamInput)
	}
	if req.MaxBidsAllowed > 0 && req.MinBidsTarget > req.MaxBidsAllowed {
		return nil, xerrors.Errorf("minBidsTarget %d above maxBidsAllowed %d: %w", req.MinBidsTarget, req.MaxBidsAllowed, domain.ErrBadParamInput)
	}
	if !req.BidDeadline.After(now) {
		return nil, xerrors.Errorf("bidDeadline %s: %w", req.BidDeadline, domain.ErrInvalidDeadline)
	}
	if req.BudgetMin.IsNegative() || req.BudgetMax.IsNegative() || req.ConnectionFee.IsNegative() {
		return nil, xerrors.Errorf("negative budget or fee: %w", domain.ErrInvalidAmount)
	}
	if req.BudgetMax.IsPositive() && req.BudgetMin.GreaterThan(req.BudgetMax) {
		return nil, xerrors.Errorf("budgetMin above budgetMax: %w", domain.ErrInvalidAmount)
	}
	if req.AcceptanceTimeLimitHours < 0 {
		return nil, xerrors.Errorf("%d hours: %w", req.AcceptanceTimeLimitHours, domain.ErrInvalidTimeLimit)
	}

	timeLimit := req.AcceptanceTimeLimitHours
	if timeLimit == 0 {
		timeLimit = im.defaultTimeLimit
	}

	card := &bidcard.BidCard{
		Id:                       domain.NewId(),
		OwnerId:                  req.OwnerId,
		Title:                    req.Title,
		Description:              req.Description,
		Location:                 req.Location,
		Status:                   bidcard.StatusDraft,
		MinBidsTarget:            req.MinBidsTarget,
		MaxBidsAllowed:           req.MaxBidsAllowed,
		BidDeadline:              domain.Truncate(req.BidDeadline),
		BudgetMin:                req.BudgetMin,
		BudgetMax:                req.BudgetMax,
		BudgetRequired:           req.BudgetRequired,
		AcceptanceTimeLimitHours: timeLimit,
		ConnectionFee:            req.ConnectionFee,
		GroupEligible:            req.GroupEligible,
		PreviousAcceptedBids:     []string{},
		Ranking:                  []string{},
		Bids:                     []*bidcard.Bid{},
		Acceptances:              []*bidcard.Acceptance{},
		Payments:                 []*bidcard.ConnectionPayment{},
		ContactReleases:          []*bidcard.ContactRelease{},
		Commitments:              []*bidcard.Commitment{},
		Revisions:                []*bidcard.Revision{},
		BidRevisions:             []*bidcard.BidRevision{},
		Conflicts:                []*bidcard.PaymentConflict{},
		CreatedAt:                now,
		UpdatedAt:                now,
	}
	if req.Publish {
		card.Status = bidcard.StatusOpen
	}

	if err := im.repo.Create(c, card); err != nil {
		c.WithFields(log.Fields{"err": err, "bidCardId": card.Id}).Error("failed to repo.Create")
		return nil, err
	}
	if card.Status == bidcard.StatusOpen {
		im.scheduler.Schedule(c, domain.Deadline{Kind: domain.DeadlineBidCard, AggregateId: card.Id, At: card.BidDeadline})
	}
	c.WithFields(log.Fields{"bidCardId": card.Id, "status": card.Status}).Info("bidcard created")
	return card, nil
}

func (im *impl) PublishBidCard(c ctx.Ctx, actorId, cardId string) (*bidcard.BidCard, error) {
	return im.withCard(c, cardId, func(t *txn) error {
		if err := mustOwn(t.card, actorId); err != nil {
			return err
		}
		if !t.now.Before(t.card.BidDeadline) {
			return xerrors.Errorf("bidDeadline %s: %w", t.card.BidDeadline, domain.ErrDeadlinePassed)
		}
		if err := t.transit(bidcard.StatusOpen); err != nil {
			return err
		}
		t.schedule(domain.Deadline{Kind: domain.DeadlineBidCard, AggregateId: t.card.Id, At: t.card.BidDeadline})
		return nil
	})
}

func (im *impl) ReviseBidCard(c ctx.Ctx, actorId, cardId string, req bidcard.ReviseReq) (*bidcard.BidCard, error) {
	return im.withCard(c, cardId, func(t *txn) error {
		card := t.card
		if err := mustOwn(card, actorId); err != nil {
			return err
		}
		if !card.Status.AcceptsBids() {
			return xerrors.Errorf("revise %s card: %w", card.Status, domain.ErrInvalidTransition)
		}
		card.CurrentRevisionNumber++
		card.Revisions = append(card.Revisions, &bidcard.Revision{
			Number:    card.CurrentRevisionNumber,
			Summary:   req.Summary,
			CreatedAt: t.now,
		})
		card.RefreshRevisionFlag()
		t.emit(domain.EventBidCardRevised, map[string]interface{}{
			"revision": card.CurrentRevisionNumber,
			"summary":  req.Summary,
		}, card.Participants()...)
		return nil
	})
}

func (im *impl) RankBids(c ctx.Ctx, actorId, cardId string, bidIds []string) (*bidcard.BidCard, error) {
	return im.withCard(c, cardId, func(t *txn) error {
		if err := mustOwn(t.card, actorId); err != nil {
			return err
		}
		seen := map[string]bool{}
		for _, id := range bidIds {
			if seen[id] || t.card.FindBid(id) == nil {
				return xerrors.Errorf("bid %s: %w", id, domain.ErrInvalidRanking)
			}
			seen[id] = true
		}
		t.card.Ranking = append([]string{}, bidIds...)
		return nil
	})
}

func (im *impl) StartNegotiation(c ctx.Ctx, actorId, cardId string) (*bidcard.BidCard, error) {
	return im.ownerTransit(c, actorId, cardId, bidcard.StatusNegotiation)
}

func (im *impl) StartWork(c ctx.Ctx, actorId, cardId string) (*bidcard.BidCard, error) {
	return im.ownerTransit(c, actorId, cardId, bidcard.StatusInProgress)
}

func (im *impl) CompleteBidCard(c ctx.Ctx, actorId, cardId string) (*bidcard.BidCard, error) {
	return im.ownerTransit(c, actorId, cardId, bidcard.StatusCompleted)
}

func (im *impl) ownerTransit(c ctx.Ctx, actorId, cardId string, to bidcard.Status) (*bidcard.BidCard, error) {
	return im.withCard(c, cardId, func(t *txn) error {
		if err := mustOwn(t.card, actorId); err != nil {
			return err
		}
		return t.transit(to)
	})
}

// CancelBidCard closes the card for good. A pending acceptance is cancelled
// without fallback and every live bid and commitment is released.
func (im *impl) CancelBidCard(c ctx.Ctx, actorId, cardId string) (*bidcard.BidCard, error) {
	return im.withCard(c, cardId, func(t *txn) error {
		card := t.card
		if err := mustOwn(card, actorId); err != nil {
			return err
		}
		if err := t.transit(bidcard.StatusCancelled); err != nil {
			return err
		}
		if acc := card.PendingAcceptance(); acc != nil {
			im.resolve(t, acc, bidcard.AcceptanceStatusCancelled, "bidcard_cancelled")
		}
		for _, b := range card.Bids {
			if !b.Status.IsTerminal() && b.Status != bidcard.BidStatusAccepted {
				b.Status = bidcard.BidStatusDeclined
				b.UpdatedAt = t.now
			}
		}
		im.cancelCommitments(t)
		t.unschedule(domain.Deadline{Kind: domain.DeadlineBidCard, AggregateId: card.Id})
		return nil
	})
}

func (im *impl) cancelCommitments(t *txn) {
	for _, cm := range t.card.Commitments {
		if cm.Status != bidcard.CommitmentStatusCommitted {
			continue
		}
		cm.Status = bidcard.CommitmentStatusCancelled
		cm.ResolvedAt = &t.now
		t.card.CurrentCommitments--
		t.unschedule(cm.Timer())
	}
}

func (im *impl) GetBidCard(c ctx.Ctx, cardId string) (*bidcard.BidCard, error) {
	return im.repo.FindOne(c, cardId)
}

func (im *impl) FindAll(c ctx.Ctx, opts ...bidcard.FindAllOptionsFunc) ([]*bidcard.BidCard, error) {
	return im.repo.FindAll(c, opts...)
}

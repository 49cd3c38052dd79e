package usecase

import (
	"golang.org/x/xerrors"

	"github.com/x-xyz/bidding/base/ctx"
	"github.com/x-xyz/bidding/base/log"
	"github.com/x-xyz/bidding/domain"
	"github.com/x-xyz/bidding/domain/bidcard"
)

// Release creates the contact release of a paid acceptance once, later
// calls return the stored one
func (im *impl) Release(c ctx.Ctx, acceptanceId string) (*bidcard.ContactRelease, error) {
	cardId, err := im.cardOfAcceptance(c, acceptanceId)
	if err != nil {
		return nil, err
	}
	card, err := im.repo.FindOne(c, cardId)
	if err != nil {
		return nil, err
	}
	if r := card.ReleaseOf(acceptanceId); r != nil {
		return r, nil
	}
	acc, err := findAcceptance(card, acceptanceId)
	if err != nil {
		return nil, err
	}
	if acc.Status != bidcard.AcceptanceStatusPaid {
		return nil, xerrors.Errorf("acceptance %s is %s: %w", acc.Id, acc.Status, domain.ErrAcceptanceNotPaid)
	}

	// identity lookups stay outside the card lock
	homeowner, err := im.identity.GetContact(c, card.OwnerId)
	if err != nil {
		c.WithFields(log.Fields{"err": err, "userId": card.OwnerId}).Error("failed to identity.GetContact")
		return nil, xerrors.Errorf("homeowner %s: %v: %w", card.OwnerId, err, domain.ErrIdentityFetch)
	}
	contractor, err := im.identity.GetContact(c, acc.ContractorId)
	if err != nil {
		c.WithFields(log.Fields{"err": err, "userId": acc.ContractorId}).Error("failed to identity.GetContact")
		return nil, xerrors.Errorf("contractor %s: %v: %w", acc.ContractorId, err, domain.ErrIdentityFetch)
	}

	var res *bidcard.ContactRelease
	if _, err := im.withCard(c, cardId, func(t *txn) error {
		if r := t.card.ReleaseOf(acceptanceId); r != nil {
			res = r
			return errSkip
		}
		res = &bidcard.ContactRelease{
			Id:                domain.NewId(),
			AcceptanceId:      acc.Id,
			BidCardId:         t.card.Id,
			BidId:             acc.BidId,
			HomeownerId:       t.card.OwnerId,
			ContractorId:      acc.ContractorId,
			HomeownerContact:  homeowner,
			ContractorContact: contractor,
			ReleasedAt:        t.now,
		}
		t.card.ContactReleases = append(t.card.ContactReleases, res)
		t.emit(domain.EventContactReleased, map[string]interface{}{
			"acceptanceId": acc.Id,
			"releaseId":    res.Id,
		}, t.card.OwnerId, acc.ContractorId)
		t.c.WithFields(log.Fields{"bidCardId": t.card.Id, "acceptanceId": acc.Id, "releaseId": res.Id}).Info("contacts released")
		return nil
	}); err != nil {
		return nil, err
	}
	return res, nil
}

// ViewContactRelease returns the release to one of its two parties. The
// contractor's first read is recorded.
func (im *impl) ViewContactRelease(c ctx.Ctx, actorId, acceptanceId string) (*bidcard.ContactRelease, error) {
	cardId, err := im.cardOfAcceptance(c, acceptanceId)
	if err != nil {
		return nil, err
	}
	card, err := im.repo.FindOne(c, cardId)
	if err != nil {
		return nil, err
	}
	acc, err := findAcceptance(card, acceptanceId)
	if err != nil {
		return nil, err
	}
	if actorId != card.OwnerId && actorId != acc.ContractorId {
		return nil, xerrors.Errorf("acceptance %s: %w", acceptanceId, domain.ErrNotOwner)
	}

	release, err := im.Release(c, acceptanceId)
	if err != nil {
		return nil, err
	}
	if actorId != acc.ContractorId || release.ViewedByContractor {
		return release, nil
	}

	if _, err := im.withCard(c, cardId, func(t *txn) error {
		r := t.card.ReleaseOf(acceptanceId)
		release = r
		if r.ViewedByContractor {
			return errSkip
		}
		r.ViewedByContractor = true
		r.ViewedAt = &t.now
		return nil
	}); err != nil {
		return nil, err
	}
	return release, nil
}

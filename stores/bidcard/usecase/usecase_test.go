package usecase

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	"github.com/x-xyz/bidding/base/ctx"
	"github.com/x-xyz/bidding/base/metrics"
	"github.com/x-xyz/bidding/domain"
	"github.com/x-xyz/bidding/domain/bidcard"
	"github.com/x-xyz/bidding/domain/mocks"
	"github.com/x-xyz/bidding/service/locker"
	"github.com/x-xyz/bidding/service/scheduler"
	"github.com/x-xyz/bidding/stores/bidcard/repository"
)

const owner = "homeowner-1"

type bidcardSuite struct {
	suite.Suite

	c         ctx.Ctx
	clock     *clock.Mock
	repo      bidcard.Repo
	scheduler scheduler.Service
	notifier  *mocks.Notifier
	identity  *mocks.IdentityProvider
	im        bidcard.UseCase
}

func TestBidCardSuite(t *testing.T) {
	suite.Run(t, new(bidcardSuite))
}

func (s *bidcardSuite) SetupTest() {
	s.c = ctx.Background()
	s.clock = clock.NewMock()
	s.clock.Set(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	met := metrics.New("test", metrics.WithLogClient())

	s.repo = repository.NewMemory()
	s.scheduler = scheduler.New(&scheduler.SchedulerCfg{Clock: s.clock, Metrics: met})
	s.notifier = &mocks.Notifier{}
	s.notifier.On("Notify", mock.Anything, mock.Anything).Return()
	s.identity = &mocks.IdentityProvider{}
	s.identity.On("GetContact", mock.Anything, owner).Return(domain.ContactInfo{"email": "owner@example.com"}, nil)
	s.identity.On("GetContact", mock.Anything, mock.Anything).Return(domain.ContactInfo{"email": "contractor@example.com"}, nil)

	s.im = New(&BidCardUseCaseCfg{
		Repo:      s.repo,
		Locker:    locker.NewLocal(),
		Scheduler: s.scheduler,
		Notifier:  s.notifier,
		Identity:  s.identity,
		Clock:     s.clock,
		Metrics:   met,
	})
	s.scheduler.Handle(domain.DeadlineAcceptanceExpiry, s.im.HandleDeadline)
	s.scheduler.Handle(domain.DeadlineBidCard, s.im.HandleDeadline)
	s.scheduler.Handle(domain.DeadlineCommitment, s.im.HandleDeadline)
}

func amount(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func (s *bidcardSuite) newCard(minBids, maxBids int) *bidcard.BidCard {
	card, err := s.im.CreateBidCard(s.c, bidcard.CreateBidCardReq{
		OwnerId:                  owner,
		Title:                    "roof repair",
		MinBidsTarget:            minBids,
		MaxBidsAllowed:           maxBids,
		BidDeadline:              s.clock.Now().Add(48 * time.Hour),
		AcceptanceTimeLimitHours: 24,
		ConnectionFee:            amount("25"),
		GroupEligible:            true,
		Publish:                  true,
	})
	s.Require().NoError(err)
	return card
}

func (s *bidcardSuite) submit(cardId, contractor, amt string) *bidcard.Bid {
	bid, err := s.im.SubmitBid(s.c, cardId, bidcard.SubmitBidReq{ContractorId: contractor, Amount: amount(amt)})
	s.Require().NoError(err)
	return bid
}

func (s *bidcardSuite) card(id string) *bidcard.BidCard {
	card, err := s.repo.FindOne(s.c, id)
	s.Require().NoError(err)
	return card
}

func (s *bidcardSuite) events(typ domain.EventType) []domain.Event {
	res := []domain.Event{}
	for _, call := range s.notifier.Calls {
		if evt := call.Arguments.Get(1).(domain.Event); evt.Type == typ {
			res = append(res, evt)
		}
	}
	return res
}

// assertInvariants checks what must hold after every transition
func (s *bidcardSuite) assertInvariants(cardId string) {
	card := s.card(cardId)
	accepted, pending := 0, 0
	for _, b := range card.Bids {
		if b.Status == bidcard.BidStatusAccepted {
			accepted++
		}
	}
	for _, a := range card.Acceptances {
		if a.Status == bidcard.AcceptanceStatusPendingPayment {
			pending++
		}
	}
	s.LessOrEqual(accepted, 1)
	s.LessOrEqual(pending, 1)

	seen := map[string]bool{}
	for _, id := range card.PreviousAcceptedBids {
		s.False(seen[id], "duplicate %s in previousAcceptedBids", id)
		seen[id] = true
		s.NotEqual(card.CurrentAcceptedBidId, id)
	}
}

func (s *bidcardSuite) TestCapacityFallbackAndPayment() {
	card := s.newCard(2, 2)
	a := s.submit(card.Id, "contractor-a", "1000")
	s.clock.Add(time.Minute)
	b := s.submit(card.Id, "contractor-b", "1100")

	_, err := s.im.SubmitBid(s.c, card.Id, bidcard.SubmitBidReq{ContractorId: "contractor-c", Amount: amount("900")})
	s.True(errors.Is(err, domain.ErrCapacityExceeded))
	s.Equal(bidcard.StatusReview, s.card(card.Id).Status)

	accA, err := s.im.AcceptBid(s.c, owner, a.Id)
	s.Require().NoError(err)
	s.Equal(b.Id, accA.FallbackBidId)
	s.Equal(1, accA.Attempt)
	s.assertInvariants(card.Id)

	s.clock.Add(24 * time.Hour)
	s.Equal(1, s.scheduler.RunDue(s.c))
	s.assertInvariants(card.Id)

	view, err := s.im.GetAcceptanceStatus(s.c, card.Id)
	s.Require().NoError(err)
	s.Equal(bidcard.AcceptanceStatusPendingPayment, view.Status)
	s.Equal(b.Id, view.CurrentAcceptedBidId)
	s.Equal([]string{a.Id}, view.PreviousAcceptedBids)
	s.NotNil(view.FallbackActivatedAt)
	s.Len(s.events(domain.EventFallbackActivated), 1)

	accB, err := s.im.PaymentSucceeded(s.c, bidcard.PaymentOutcome{AcceptanceId: view.Acceptance.Id, Amount: amount("25"), ProviderRef: "pi_1"})
	s.Require().NoError(err)
	s.Equal(bidcard.AcceptanceStatusPaid, accB.Status)

	got := s.card(card.Id)
	s.Equal(bidcard.StatusAwarded, got.Status)
	s.Equal(b.Id, got.CurrentAcceptedBidId)
	s.Equal([]string{a.Id}, got.PreviousAcceptedBids)
	s.Equal(bidcard.BidStatusExpired, got.FindBid(a.Id).Status)
	s.Equal(bidcard.BidStatusAccepted, got.FindBid(b.Id).Status)
	s.Require().Len(got.ContactReleases, 1)
	s.Equal("owner@example.com", got.ContactReleases[0].HomeownerContact["email"])
	s.False(got.ContactReleases[0].ViewedByContractor)
	s.assertInvariants(card.Id)

	// the expiry of a paid acceptance is a no-op
	s.NoError(s.im.HandleDeadline(s.c, accB.Timer()))
	s.Equal(bidcard.StatusAwarded, s.card(card.Id).Status)
}

func (s *bidcardSuite) TestFallbackChainFollowsRanking() {
	card := s.newCard(3, 0)
	b1 := s.submit(card.Id, "k1", "1000")
	s.clock.Add(time.Minute)
	b2 := s.submit(card.Id, "k2", "900")
	s.clock.Add(time.Minute)
	b3 := s.submit(card.Id, "k3", "800")

	_, err := s.im.RankBids(s.c, owner, card.Id, []string{b1.Id, b2.Id, b3.Id})
	s.Require().NoError(err)

	acc1, err := s.im.AcceptBid(s.c, owner, b1.Id)
	s.Require().NoError(err)

	acc1, err = s.im.PaymentFailed(s.c, bidcard.PaymentOutcome{AcceptanceId: acc1.Id, Reason: "card declined"})
	s.Require().NoError(err)
	s.Equal(bidcard.AcceptanceStatusExpired, acc1.Status)

	view, err := s.im.GetAcceptanceStatus(s.c, card.Id)
	s.Require().NoError(err)
	s.Equal(b2.Id, view.CurrentAcceptedBidId)

	_, err = s.im.CancelAcceptance(s.c, owner, view.Acceptance.Id)
	s.Require().NoError(err)

	view, err = s.im.GetAcceptanceStatus(s.c, card.Id)
	s.Require().NoError(err)
	s.Equal(b3.Id, view.CurrentAcceptedBidId)
	s.Equal(3, view.Acceptance.Attempt)
	s.Equal([]string{b1.Id, b2.Id}, view.PreviousAcceptedBids)
	s.assertInvariants(card.Id)

	s.clock.Add(24 * time.Hour)
	s.scheduler.RunDue(s.c)

	got := s.card(card.Id)
	s.Equal(bidcard.StatusReview, got.Status)
	s.Empty(got.CurrentAcceptedBidId)
	s.Nil(got.AcceptanceExpiresAt)
	s.Equal([]string{b1.Id, b2.Id, b3.Id}, got.PreviousAcceptedBids)
	s.Len(s.events(domain.EventNoAcceptanceRemaining), 1)

	// previously accepted bids never come back
	_, err = s.im.AcceptBid(s.c, owner, b1.Id)
	s.True(errors.Is(err, domain.ErrBidNotEligible))
}

func (s *bidcardSuite) TestTieBreakLowestAmount() {
	s.im.(*impl).tieBreak = bidcard.TieBreakLowestAmount
	card := s.newCard(3, 0)
	b1 := s.submit(card.Id, "k1", "1000")
	s.clock.Add(time.Minute)
	b2 := s.submit(card.Id, "k2", "1200")
	s.clock.Add(time.Minute)
	b3 := s.submit(card.Id, "k3", "800")

	acc, err := s.im.AcceptBid(s.c, owner, b2.Id)
	s.Require().NoError(err)
	s.Equal(b3.Id, acc.FallbackBidId)

	_, err = s.im.PaymentFailed(s.c, bidcard.PaymentOutcome{AcceptanceId: acc.Id})
	s.Require().NoError(err)
	s.Equal(b3.Id, s.card(card.Id).CurrentAcceptedBidId)
	s.NotEqual(b1.Id, s.card(card.Id).CurrentAcceptedBidId)
}

func (s *bidcardSuite) TestReleaseIsIdempotent() {
	card := s.newCard(1, 0)
	bid := s.submit(card.Id, "k1", "1000")
	acc, err := s.im.AcceptBid(s.c, owner, bid.Id)
	s.Require().NoError(err)

	_, err = s.im.Release(s.c, acc.Id)
	s.True(errors.Is(err, domain.ErrAcceptanceNotPaid))

	_, err = s.im.PaymentSucceeded(s.c, bidcard.PaymentOutcome{AcceptanceId: acc.Id, Amount: amount("25")})
	s.Require().NoError(err)

	r1, err := s.im.Release(s.c, acc.Id)
	s.Require().NoError(err)
	r2, err := s.im.Release(s.c, acc.Id)
	s.Require().NoError(err)
	s.Equal(r1.Id, r2.Id)
	s.Len(s.events(domain.EventContactReleased), 1)

	// duplicate success callbacks change nothing
	again, err := s.im.PaymentSucceeded(s.c, bidcard.PaymentOutcome{AcceptanceId: acc.Id, Amount: amount("25")})
	s.Require().NoError(err)
	s.Equal(bidcard.AcceptanceStatusPaid, again.Status)
	s.Len(s.card(card.Id).Payments, 1)

	_, err = s.im.ViewContactRelease(s.c, "stranger", acc.Id)
	s.True(errors.Is(err, domain.ErrNotOwner))

	viewed, err := s.im.ViewContactRelease(s.c, owner, acc.Id)
	s.Require().NoError(err)
	s.False(viewed.ViewedByContractor)

	s.clock.Add(time.Hour)
	viewed, err = s.im.ViewContactRelease(s.c, "k1", acc.Id)
	s.Require().NoError(err)
	s.True(viewed.ViewedByContractor)
	firstView := *viewed.ViewedAt

	s.clock.Add(time.Hour)
	viewed, err = s.im.ViewContactRelease(s.c, "k1", acc.Id)
	s.Require().NoError(err)
	s.True(firstView.Equal(*viewed.ViewedAt))
	s.Equal(r1.Id, viewed.Id)
}

func (s *bidcardSuite) TestIdentityFailureIsExternal() {
	s.identity = &mocks.IdentityProvider{}
	s.identity.On("GetContact", mock.Anything, mock.Anything).Return(nil, errors.New("timeout"))
	s.im.(*impl).identity = s.identity

	card := s.newCard(1, 0)
	bid := s.submit(card.Id, "k1", "1000")
	acc, err := s.im.AcceptBid(s.c, owner, bid.Id)
	s.Require().NoError(err)

	// the payment itself still settles
	_, err = s.im.PaymentSucceeded(s.c, bidcard.PaymentOutcome{AcceptanceId: acc.Id, Amount: amount("25")})
	s.Require().NoError(err)
	s.Empty(s.card(card.Id).ContactReleases)

	_, err = s.im.Release(s.c, acc.Id)
	s.True(errors.Is(err, domain.ErrIdentityFetch))
	s.True(errors.Is(err, domain.ErrExternal))
}

func (s *bidcardSuite) TestPaymentAfterExpiryIsConflict() {
	card := s.newCard(1, 0)
	bid := s.submit(card.Id, "k1", "1000")
	acc, err := s.im.AcceptBid(s.c, owner, bid.Id)
	s.Require().NoError(err)

	// one tick past the window, the timer has not fired yet
	s.clock.Add(24*time.Hour + time.Millisecond)
	got, err := s.im.PaymentSucceeded(s.c, bidcard.PaymentOutcome{AcceptanceId: acc.Id, Amount: amount("25"), ProviderRef: "pi_late"})
	s.True(errors.Is(err, domain.ErrPaymentConflict))
	s.Require().NotNil(got)
	s.Equal(bidcard.AcceptanceStatusExpired, got.Status)

	stored := s.card(card.Id)
	s.Empty(stored.ContactReleases)
	s.Equal(bidcard.StatusReview, stored.Status)
	s.Require().Len(stored.Conflicts, 1)
	s.True(stored.Conflicts[0].RefundRequired)
	s.Equal("pi_late", stored.Conflicts[0].ProviderRef)
	s.Len(s.events(domain.EventPaymentConflict), 1)

	_, err = s.im.Release(s.c, acc.Id)
	s.True(errors.Is(err, domain.ErrAcceptanceNotPaid))

	// the same provider event again is reported but not recorded twice
	_, err = s.im.PaymentSucceeded(s.c, bidcard.PaymentOutcome{AcceptanceId: acc.Id, Amount: amount("25"), ProviderRef: "pi_late"})
	s.True(errors.Is(err, domain.ErrPaymentConflict))

	conflicts, err := s.im.ListConflicts(s.c, card.Id)
	s.Require().NoError(err)
	s.Len(conflicts, 1)

	// the late timer finds nothing to do
	s.scheduler.RunDue(s.c)
	s.Equal(bidcard.StatusReview, s.card(card.Id).Status)
}

func (s *bidcardSuite) TestLatePaymentWithoutRefIsRecordedOnce() {
	card := s.newCard(1, 0)
	bid := s.submit(card.Id, "k1", "1000")
	acc, err := s.im.AcceptBid(s.c, owner, bid.Id)
	s.Require().NoError(err)
	s.clock.Add(24*time.Hour + time.Millisecond)

	for i := 0; i < 2; i++ {
		_, err = s.im.PaymentSucceeded(s.c, bidcard.PaymentOutcome{AcceptanceId: acc.Id, Amount: amount("25")})
		s.True(errors.Is(err, domain.ErrPaymentConflict))
	}
	conflicts, err := s.im.ListConflicts(s.c, card.Id)
	s.Require().NoError(err)
	s.Require().Len(conflicts, 1)
	s.True(conflicts[0].RefundRequired)
	s.Len(s.events(domain.EventPaymentConflict), 1)

	// a different amount is a different payment
	_, err = s.im.PaymentSucceeded(s.c, bidcard.PaymentOutcome{AcceptanceId: acc.Id, Amount: amount("30")})
	s.True(errors.Is(err, domain.ErrPaymentConflict))
	conflicts, err = s.im.ListConflicts(s.c, card.Id)
	s.Require().NoError(err)
	s.Len(conflicts, 2)
}

func (s *bidcardSuite) TestPaymentBelowFee() {
	card := s.newCard(1, 0)
	bid := s.submit(card.Id, "k1", "1000")
	acc, err := s.im.AcceptBid(s.c, owner, bid.Id)
	s.Require().NoError(err)

	_, err = s.im.PaymentSucceeded(s.c, bidcard.PaymentOutcome{AcceptanceId: acc.Id, Amount: amount("10")})
	s.True(errors.Is(err, domain.ErrInsufficientAmount))
	s.Equal(bidcard.AcceptanceStatusPendingPayment, s.card(card.Id).FindAcceptance(acc.Id).Status)
}

func (s *bidcardSuite) TestConcurrentAcceptFirstWriterWins() {
	card := s.newCard(2, 0)
	b1 := s.submit(card.Id, "k1", "1000")
	b2 := s.submit(card.Id, "k2", "1100")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []string{b1.Id, b2.Id} {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, errs[i] = s.im.AcceptBid(s.c, owner, id)
		}(i, id)
	}
	wg.Wait()

	failed := 0
	for _, err := range errs {
		if err != nil {
			s.True(errors.Is(err, domain.ErrAcceptanceInProgress))
			failed++
		}
	}
	s.Equal(1, failed)
	s.Len(s.card(card.Id).Acceptances, 1)
	s.assertInvariants(card.Id)
}

func (s *bidcardSuite) TestSubmitRules() {
	card := s.newCard(0, 0)

	_, err := s.im.SubmitBid(s.c, card.Id, bidcard.SubmitBidReq{ContractorId: "k1", Amount: amount("0")})
	s.True(errors.Is(err, domain.ErrInvalidAmount))

	bid := s.submit(card.Id, "k1", "500")
	_, err = s.im.SubmitBid(s.c, card.Id, bidcard.SubmitBidReq{ContractorId: "k1", Amount: amount("600")})
	s.True(errors.Is(err, domain.ErrDuplicateActiveBid))

	// withdraw frees the contractor and the counter
	_, err = s.im.WithdrawBid(s.c, "k2", bid.Id)
	s.True(errors.Is(err, domain.ErrNotOwner))
	withdrawn, err := s.im.WithdrawBid(s.c, "k1", bid.Id)
	s.Require().NoError(err)
	s.Equal(bidcard.BidStatusWithdrawn, withdrawn.Status)
	s.Equal(0, s.card(card.Id).CurrentBids)
	s.submit(card.Id, "k1", "550")
	s.Equal(1, s.card(card.Id).CurrentBids)

	s.clock.Add(48 * time.Hour)
	_, err = s.im.SubmitBid(s.c, card.Id, bidcard.SubmitBidReq{ContractorId: "k2", Amount: amount("600")})
	s.True(errors.Is(err, domain.ErrDeadlinePassed))
}

func (s *bidcardSuite) TestBudgetBounds() {
	card, err := s.im.CreateBidCard(s.c, bidcard.CreateBidCardReq{
		OwnerId:        owner,
		Title:          "fence",
		BidDeadline:    s.clock.Now().Add(time.Hour),
		BudgetMin:      amount("100"),
		BudgetMax:      amount("200"),
		BudgetRequired: true,
		Publish:        true,
	})
	s.Require().NoError(err)
	s.Equal(defaultAcceptanceTimeLimit, card.AcceptanceTimeLimitHours)

	_, err = s.im.SubmitBid(s.c, card.Id, bidcard.SubmitBidReq{ContractorId: "k1", Amount: amount("250")})
	s.True(errors.Is(err, domain.ErrInvalidAmount))
	_, err = s.im.SubmitBid(s.c, card.Id, bidcard.SubmitBidReq{ContractorId: "k1", Amount: amount("99.99")})
	s.True(errors.Is(err, domain.ErrInvalidAmount))
	s.submit(card.Id, "k1", "200")
}

func (s *bidcardSuite) TestAcceptedBidIsImmutable() {
	card := s.newCard(1, 0)
	bid := s.submit(card.Id, "k1", "1000")

	msg := "updated scope"
	updated, err := s.im.UpdateBid(s.c, "k1", bid.Id, bidcard.BidPatchable{Amount: &[]decimal.Decimal{amount("950")}[0], Message: &msg})
	s.Require().NoError(err)
	s.Equal(1, updated.UpdateCount)
	s.True(updated.Amount.Equal(amount("950")))

	_, err = s.im.AcceptBid(s.c, owner, bid.Id)
	s.Require().NoError(err)

	_, err = s.im.UpdateBid(s.c, "k1", bid.Id, bidcard.BidPatchable{Message: &msg})
	s.True(errors.Is(err, domain.ErrAcceptedBidImmutable))
	_, err = s.im.WithdrawBid(s.c, "k1", bid.Id)
	s.True(errors.Is(err, domain.ErrAcceptedBidImmutable))
	_, err = s.im.DeclineBid(s.c, owner, bid.Id)
	s.True(errors.Is(err, domain.ErrAcceptedBidImmutable))
}

func (s *bidcardSuite) TestAcceptRequiresReview() {
	card := s.newCard(0, 0)
	bid := s.submit(card.Id, "k1", "1000")

	_, err := s.im.AcceptBid(s.c, owner, bid.Id)
	s.True(errors.Is(err, domain.ErrInvalidTransition))

	_, err = s.im.AcceptBid(s.c, "k1", bid.Id)
	s.True(errors.Is(err, domain.ErrNotOwner))
}

func (s *bidcardSuite) TestRevisionMustBeAcknowledged() {
	card := s.newCard(2, 0)
	b1 := s.submit(card.Id, "k1", "1000")
	s.clock.Add(time.Minute)
	b2 := s.submit(card.Id, "k2", "1100")

	revised, err := s.im.ReviseBidCard(s.c, owner, card.Id, bidcard.ReviseReq{Summary: "add gutters"})
	s.Require().NoError(err)
	s.Equal(1, revised.CurrentRevisionNumber)
	s.True(revised.HasActiveRevision)

	_, err = s.im.AcceptBid(s.c, owner, b1.Id)
	s.True(errors.Is(err, domain.ErrRevisionNotAcknowledged))

	_, err = s.im.AcknowledgeRevision(s.c, "k1", b1.Id)
	s.Require().NoError(err)
	s.True(s.card(card.Id).HasActiveRevision)

	acc, err := s.im.AcceptBid(s.c, owner, b1.Id)
	s.Require().NoError(err)
	// b2 has not acknowledged and is skipped as fallback
	s.Empty(acc.FallbackBidId)

	_, err = s.im.PaymentFailed(s.c, bidcard.PaymentOutcome{AcceptanceId: acc.Id})
	s.Require().NoError(err)
	got := s.card(card.Id)
	s.Empty(got.CurrentAcceptedBidId)
	s.Equal(bidcard.BidStatusSubmitted, got.FindBid(b2.Id).Status)

	_, err = s.im.AcknowledgeRevision(s.c, "k2", b2.Id)
	s.Require().NoError(err)
	got = s.card(card.Id)
	s.False(got.HasActiveRevision)
	s.Len(got.BidRevisions, 2)
}

func (s *bidcardSuite) TestBidDeadline() {
	empty := s.newCard(0, 0)
	withBid := s.newCard(3, 0)
	s.submit(withBid.Id, "k1", "1000")

	s.clock.Add(48 * time.Hour)
	s.Equal(2, s.scheduler.RunDue(s.c))

	s.Equal(bidcard.StatusExpired, s.card(empty.Id).Status)
	s.Equal(bidcard.StatusReview, s.card(withBid.Id).Status)
}

func (s *bidcardSuite) TestCommitments() {
	card := s.newCard(0, 2)

	_, err := s.im.CommitToBid(s.c, card.Id, bidcard.CommitReq{ContractorId: "k1", Deadline: s.clock.Now().Add(72 * time.Hour)})
	s.True(errors.Is(err, domain.ErrInvalidDeadline))

	cm1, err := s.im.CommitToBid(s.c, card.Id, bidcard.CommitReq{ContractorId: "k1", Deadline: s.clock.Now().Add(2 * time.Hour)})
	s.Require().NoError(err)
	_, err = s.im.CommitToBid(s.c, card.Id, bidcard.CommitReq{ContractorId: "k1", Deadline: s.clock.Now().Add(2 * time.Hour)})
	s.True(errors.Is(err, domain.ErrDuplicateCommitment))

	cm2, err := s.im.CommitToBid(s.c, card.Id, bidcard.CommitReq{ContractorId: "k2", Deadline: s.clock.Now().Add(time.Hour)})
	s.Require().NoError(err)
	s.Equal(2, s.card(card.Id).CurrentCommitments)

	_, err = s.im.CommitToBid(s.c, card.Id, bidcard.CommitReq{ContractorId: "k3", Deadline: s.clock.Now().Add(time.Hour)})
	s.True(errors.Is(err, domain.ErrCommitmentCapacityExceeded))
	// commitments hold the remaining slots
	_, err = s.im.SubmitBid(s.c, card.Id, bidcard.SubmitBidReq{ContractorId: "k3", Amount: amount("100")})
	s.True(errors.Is(err, domain.ErrCapacityExceeded))

	// a bid by a committed contractor fulfils its commitment
	bid := s.submit(card.Id, "k1", "100")
	got := s.card(card.Id)
	s.Equal(bidcard.CommitmentStatusCompleted, got.FindCommitment(cm1.Id).Status)
	s.Equal(bid.Id, got.FindCommitment(cm1.Id).BidId)
	s.Equal(1, got.CurrentCommitments)
	s.Equal(1, got.CurrentBids)

	s.clock.Add(time.Hour)
	s.scheduler.RunDue(s.c)
	got = s.card(card.Id)
	s.Equal(bidcard.CommitmentStatusExpired, got.FindCommitment(cm2.Id).Status)
	s.Equal(0, got.CurrentCommitments)
	s.Len(s.events(domain.EventCommitmentExpired), 1)

	cm3, err := s.im.CommitToBid(s.c, card.Id, bidcard.CommitReq{ContractorId: "k3", Deadline: s.clock.Now().Add(time.Hour)})
	s.Require().NoError(err)
	_, err = s.im.CancelCommitment(s.c, "k1", card.Id, cm3.Id)
	s.True(errors.Is(err, domain.ErrNotOwner))
	cancelled, err := s.im.CancelCommitment(s.c, "k3", card.Id, cm3.Id)
	s.Require().NoError(err)
	s.Equal(bidcard.CommitmentStatusCancelled, cancelled.Status)
	s.Equal(0, s.card(card.Id).CurrentCommitments)

	// the cancelled commitment's timer is gone
	s.clock.Add(time.Hour)
	s.Equal(0, s.scheduler.RunDue(s.c))
}

func (s *bidcardSuite) TestCommitmentKeepsCardAliveUntilItExpires() {
	card := s.newCard(0, 0)
	_, err := s.im.CommitToBid(s.c, card.Id, bidcard.CommitReq{ContractorId: "k1", Deadline: s.clock.Now().Add(48 * time.Hour)})
	s.Require().NoError(err)

	s.clock.Add(48 * time.Hour)
	s.scheduler.RunDue(s.c)
	s.Equal(bidcard.StatusExpired, s.card(card.Id).Status)
}

func (s *bidcardSuite) TestCancelBidCard() {
	card := s.newCard(2, 0)
	b1 := s.submit(card.Id, "k1", "1000")
	s.submit(card.Id, "k2", "1100")
	acc, err := s.im.AcceptBid(s.c, owner, b1.Id)
	s.Require().NoError(err)

	_, err = s.im.CancelBidCard(s.c, "k1", card.Id)
	s.True(errors.Is(err, domain.ErrNotOwner))

	cancelled, err := s.im.CancelBidCard(s.c, owner, card.Id)
	s.Require().NoError(err)
	s.Equal(bidcard.StatusCancelled, cancelled.Status)
	s.Equal(bidcard.AcceptanceStatusCancelled, cancelled.FindAcceptance(acc.Id).Status)
	s.Len(cancelled.Acceptances, 1)
	for _, b := range cancelled.Bids {
		s.True(b.Status.IsTerminal())
	}
	s.Empty(s.scheduler.Pending())

	_, err = s.im.PaymentSucceeded(s.c, bidcard.PaymentOutcome{AcceptanceId: acc.Id, Amount: amount("25")})
	s.True(errors.Is(err, domain.ErrPaymentConflict))
}

func (s *bidcardSuite) TestLifecycleAfterAward() {
	card := s.newCard(1, 0)
	bid := s.submit(card.Id, "k1", "1000")

	_, err := s.im.StartNegotiation(s.c, owner, card.Id)
	s.Require().NoError(err)
	acc, err := s.im.AcceptBid(s.c, owner, bid.Id)
	s.Require().NoError(err)
	_, err = s.im.PaymentSucceeded(s.c, bidcard.PaymentOutcome{AcceptanceId: acc.Id, Amount: amount("30")})
	s.Require().NoError(err)

	_, err = s.im.CompleteBidCard(s.c, owner, card.Id)
	s.True(errors.Is(err, domain.ErrInvalidTransition))
	_, err = s.im.StartWork(s.c, owner, card.Id)
	s.Require().NoError(err)
	done, err := s.im.CompleteBidCard(s.c, owner, card.Id)
	s.Require().NoError(err)
	s.Equal(bidcard.StatusCompleted, done.Status)
}

func (s *bidcardSuite) TestDraftMustBePublished() {
	card, err := s.im.CreateBidCard(s.c, bidcard.CreateBidCardReq{
		OwnerId:     owner,
		Title:       "deck",
		BidDeadline: s.clock.Now().Add(time.Hour),
	})
	s.Require().NoError(err)
	s.Equal(bidcard.StatusDraft, card.Status)

	_, err = s.im.SubmitBid(s.c, card.Id, bidcard.SubmitBidReq{ContractorId: "k1", Amount: amount("10")})
	s.True(errors.Is(err, domain.ErrBidCardClosed))

	published, err := s.im.PublishBidCard(s.c, owner, card.Id)
	s.Require().NoError(err)
	s.Equal(bidcard.StatusOpen, published.Status)
	s.Len(s.scheduler.Pending(), 1)
}

func (s *bidcardSuite) TestBidViewAndShortlist() {
	card := s.newCard(0, 0)
	bid := s.submit(card.Id, "k1", "1000")

	viewed, err := s.im.MarkBidViewed(s.c, owner, bid.Id)
	s.Require().NoError(err)
	s.Equal(bidcard.BidStatusViewed, viewed.Status)
	s.NotNil(viewed.ViewedAt)

	listed, err := s.im.ShortlistBid(s.c, owner, bid.Id)
	s.Require().NoError(err)
	s.Equal(bidcard.BidStatusShortlisted, listed.Status)

	again, err := s.im.MarkBidViewed(s.c, owner, bid.Id)
	s.Require().NoError(err)
	s.Equal(bidcard.BidStatusShortlisted, again.Status)

	declined, err := s.im.DeclineBid(s.c, owner, bid.Id)
	s.Require().NoError(err)
	s.Equal(bidcard.BidStatusDeclined, declined.Status)

	_, err = s.im.ShortlistBid(s.c, owner, bid.Id)
	s.True(errors.Is(err, domain.ErrInvalidTransition))

	bids, err := s.im.ListBids(s.c, card.Id)
	s.Require().NoError(err)
	s.Len(bids, 1)
}

func (s *bidcardSuite) TestGroupOfferBypassesCapacity() {
	card := s.newCard(0, 1)
	s.submit(card.Id, "k1", "1000")

	acc, err := s.im.AcceptGroupOffer(s.c, bidcard.GroupOffer{
		BidCardId:    card.Id,
		GroupBidId:   "group-1",
		ContractorId: "k2",
		Price:        amount("800"),
	})
	s.Require().NoError(err)
	s.Equal("group-1", acc.GroupBidId)

	got := s.card(card.Id)
	s.Equal(bidcard.StatusReview, got.Status)
	s.Equal(2, got.CurrentBids)
	bid := got.FindBid(acc.BidId)
	s.Equal("k2", bid.ContractorId)
	s.True(bid.Amount.Equal(amount("800")))

	_, err = s.im.AcceptGroupOffer(s.c, bidcard.GroupOffer{BidCardId: card.Id, GroupBidId: "group-1", ContractorId: "k1", Price: amount("800")})
	s.True(errors.Is(err, domain.ErrAcceptanceInProgress))
}

func (s *bidcardSuite) TestGroupOfferRepricesActiveBid() {
	card := s.newCard(0, 0)
	bid := s.submit(card.Id, "k1", "1000")

	acc, err := s.im.AcceptGroupOffer(s.c, bidcard.GroupOffer{BidCardId: card.Id, GroupBidId: "group-1", ContractorId: "k1", Price: amount("750")})
	s.Require().NoError(err)
	s.Equal(bid.Id, acc.BidId)

	got := s.card(card.Id).FindBid(bid.Id)
	s.True(got.Amount.Equal(amount("750")))
	s.Equal("group-1", got.GroupBidId)
	s.Equal(1, s.card(card.Id).CurrentBids)
}

func (s *bidcardSuite) TestRecover() {
	card := s.newCard(1, 0)
	bid := s.submit(card.Id, "k1", "1000")
	_, err := s.im.AcceptBid(s.c, owner, bid.Id)
	s.Require().NoError(err)

	// a fresh scheduler knows nothing until recovery
	fresh := scheduler.New(&scheduler.SchedulerCfg{Clock: s.clock, Metrics: metrics.New("test", metrics.WithLogClient())})
	fresh.Handle(domain.DeadlineAcceptanceExpiry, s.im.HandleDeadline)
	s.im.(*impl).scheduler = fresh

	s.Require().NoError(s.im.Recover(s.c))
	s.Require().Len(fresh.Pending(), 1)
	s.Equal(domain.DeadlineAcceptanceExpiry, fresh.Pending()[0].Kind)

	s.clock.Add(24 * time.Hour)
	s.Equal(1, fresh.RunDue(s.c))
	s.Empty(s.card(card.Id).CurrentAcceptedBidId)
}

func (s *bidcardSuite) TestDeadlineForMissingCard() {
	err := s.im.HandleDeadline(s.c, domain.Deadline{Kind: domain.DeadlineBidCard, AggregateId: "missing"})
	s.NoError(err)
}

package http

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"golang.org/x/xerrors"

	"github.com/x-xyz/bidding/base/ctx"
	"github.com/x-xyz/bidding/base/delivery"
	"github.com/x-xyz/bidding/base/log"
	"github.com/x-xyz/bidding/domain"
	"github.com/x-xyz/bidding/domain/bidcard"
	authMiddleware "github.com/x-xyz/bidding/stores/auth/delivery/http/middleware"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

type handler struct {
	bu bidcard.UseCase
}

// New registers the bid card, bid, acceptance and payment routes. idem
// guards the mutating intents.
func New(e *echo.Echo, bu bidcard.UseCase, am *authMiddleware.AuthMiddleware, idem echo.MiddlewareFunc) {
	h := &handler{bu: bu}

	g := e.Group("/bidcards", am.Auth())
	g.POST("", h.createBidCard, idem)
	g.GET("", h.listBidCards)
	g.GET("/:id", h.getBidCard)
	g.POST("/:id/publish", h.publish, idem)
	g.POST("/:id/revise", h.revise, idem)
	g.PUT("/:id/ranking", h.rank)
	g.POST("/:id/negotiation", h.startNegotiation, idem)
	g.POST("/:id/start", h.startWork, idem)
	g.POST("/:id/complete", h.complete, idem)
	g.POST("/:id/cancel", h.cancel, idem)
	g.POST("/:id/bids", h.submitBid, idem)
	g.GET("/:id/bids", h.listBids)
	g.GET("/:id/acceptance", h.getAcceptanceStatus)
	g.GET("/:id/conflicts", h.listConflicts)
	g.POST("/:id/commitments", h.commit, idem)
	g.DELETE("/:id/commitments/:commitmentId", h.cancelCommitment)

	b := e.Group("/bids", am.Auth())
	b.PATCH("/:bidId", h.updateBid, idem)
	b.POST("/:bidId/withdraw", h.withdrawBid, idem)
	b.POST("/:bidId/view", h.markViewed)
	b.POST("/:bidId/shortlist", h.shortlist)
	b.POST("/:bidId/decline", h.decline, idem)
	b.POST("/:bidId/acknowledge", h.acknowledge)
	b.POST("/:bidId/accept", h.accept, idem)

	a := e.Group("/acceptances", am.Auth())
	a.POST("/:acceptanceId/cancel", h.cancelAcceptance, idem)
	a.GET("/:acceptanceId/contact", h.viewContact)

	p := e.Group("/payments", am.Auth(), am.RequireRole(domain.RoleService))
	p.POST("/outcomes", h.paymentOutcome, idem)
}

func bindAndValidate(c echo.Context, p interface{}) error {
	if err := c.Bind(p); err != nil {
		return err
	}
	if err := c.Validate(p); err != nil {
		return err
	}
	return nil
}

// createBidCard godoc
//
//	@Summary		Create a bid card
//	@Tags			bidcards
//	@Accept			json
//	@Produce		json
//	@Security		ApiKeyAuth
//	@Param			params	body	bidcard.CreateBidCardReq	true	"card settings, ownerId is taken from the token"
//	@Param			Idempotency-Key	header	string	false	"replay key"
//	@Success		201	{object}	bidcard.BidCard
//	@Failure		400
//	@Failure		409
//	@Router			/bidcards [post]
func (h *handler) createBidCard(c echo.Context) error {
	ctx := c.Get("ctx").(ctx.Ctx)
	p := bidcard.CreateBidCardReq{}
	if err := bindAndValidate(c, &p); err != nil {
		return delivery.MakeJsonResp(c, http.StatusBadRequest, err)
	}
	p.OwnerId = authMiddleware.UserId(c)

	card, err := h.bu.CreateBidCard(ctx, p)
	if err != nil {
		ctx.WithField("err", err).Warn("bu.CreateBidCard failed")
		return delivery.MakeJsonResp(c, http.StatusInternalServerError, err)
	}
	return delivery.MakeJsonResp(c, http.StatusCreated, card)
}

// listBidCards godoc
//
//	@Summary		List bid cards of the caller
//	@Tags			bidcards
//	@Produce		json
//	@Security		ApiKeyAuth
//	@Param			offset	query	int	false	"paging offset"
//	@Param			limit	query	int	false	"paging size"	example(20)
//	@Param			role	query	string	false	"list cards owned by the caller or cards the caller bid on"	Enums(owner, contractor)
//	@Param			status	query	[]string	false	"card status"	collectionFormat(multi)	example(open)
//	@Param			groupBidId	query	string	false	"only cards holding a bid of this group bid"
//	@Success		200	{array}	bidcard.BidCard
//	@Router			/bidcards [get]
func (h *handler) listBidCards(c echo.Context) error {
	ctx := c.Get("ctx").(ctx.Ctx)
	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 || limit > maxLimit {
		limit = defaultLimit
	}

	opts := []bidcard.FindAllOptionsFunc{bidcard.WithPagination(offset, limit)}
	switch c.QueryParam("role") {
	case "contractor":
		opts = append(opts, bidcard.WithContractorId(authMiddleware.UserId(c)))
	default:
		opts = append(opts, bidcard.WithOwnerId(authMiddleware.UserId(c)))
	}
	if groupBidId := c.QueryParam("groupBidId"); groupBidId != "" {
		opts = append(opts, bidcard.WithGroupBidId(groupBidId))
	}
	if statuses := c.QueryParams()["status"]; len(statuses) > 0 {
		in := make([]bidcard.Status, 0, len(statuses))
		for _, s := range statuses {
			in = append(in, bidcard.Status(s))
		}
		opts = append(opts, bidcard.WithStatusIn(in...))
	}

	cards, err := h.bu.FindAll(ctx, opts...)
	if err != nil {
		ctx.WithField("err", err).Error("bu.FindAll failed")
		return delivery.MakeJsonResp(c, http.StatusInternalServerError, err)
	}
	return delivery.MakeJsonResp(c, http.StatusOK, cards)
}

// getBidCard godoc
//
//	@Summary		Get a bid card
//	@Tags			bidcards
//	@Produce		json
//	@Security		ApiKeyAuth
//	@Param			id	path	string	true	"bid card id"
//	@Success		200	{object}	bidcard.BidCard
//	@Failure		404
//	@Router			/bidcards/{id} [get]
func (h *handler) getBidCard(c echo.Context) error {
	ctx := c.Get("ctx").(ctx.Ctx)
	card, err := h.bu.GetBidCard(ctx, c.Param("id"))
	if err != nil {
		return delivery.MakeJsonResp(c, http.StatusInternalServerError, err)
	}
	return delivery.MakeJsonResp(c, http.StatusOK, card)
}

type cardTransition func(c ctx.Ctx, actorId, cardId string) (*bidcard.BidCard, error)

func (h *handler) transit(c echo.Context, fn cardTransition) error {
	ctx := c.Get("ctx").(ctx.Ctx)
	card, err := fn(ctx, authMiddleware.UserId(c), c.Param("id"))
	if err != nil {
		ctx.WithFields(log.Fields{"err": err, "bidCardId": c.Param("id")}).Warn("bid card transition failed")
		return delivery.MakeJsonResp(c, http.StatusInternalServerError, err)
	}
	return delivery.MakeJsonResp(c, http.StatusOK, card)
}

// publish godoc
//
//	@Summary		Publish a draft bid card
//	@Tags			bidcards
//	@Produce		json
//	@Security		ApiKeyAuth
//	@Param			id	path	string	true	"bid card id"
//	@Success		200	{object}	bidcard.BidCard
//	@Failure		403
//	@Failure		422
//	@Router			/bidcards/{id}/publish [post]
func (h *handler) publish(c echo.Context) error {
	return h.transit(c, h.bu.PublishBidCard)
}

// startNegotiation godoc
//
//	@Summary		Move a card into negotiation
//	@Tags			bidcards
//	@Produce		json
//	@Security		ApiKeyAuth
//	@Param			id	path	string	true	"bid card id"
//	@Success		200	{object}	bidcard.BidCard
//	@Failure		403
//	@Failure		422
//	@Router			/bidcards/{id}/negotiation [post]
func (h *handler) startNegotiation(c echo.Context) error {
	return h.transit(c, h.bu.StartNegotiation)
}

func (h *handler) startWork(c echo.Context) error {
	return h.transit(c, h.bu.StartWork)
}

func (h *handler) complete(c echo.Context) error {
	return h.transit(c, h.bu.CompleteBidCard)
}

// cancel godoc
//
//	@Summary		Cancel a bid card
//	@Tags			bidcards
//	@Produce		json
//	@Security		ApiKeyAuth
//	@Param			id	path	string	true	"bid card id"
//	@Success		200	{object}	bidcard.BidCard
//	@Failure		403
//	@Failure		422
//	@Router			/bidcards/{id}/cancel [post]
func (h *handler) cancel(c echo.Context) error {
	return h.transit(c, h.bu.CancelBidCard)
}

// revise godoc
//
//	@Summary		Revise the scope of a bid card
//	@Tags			bidcards
//	@Accept			json
//	@Produce		json
//	@Security		ApiKeyAuth
//	@Param			id	path	string	true	"bid card id"
//	@Param			params	body	bidcard.ReviseReq	true	"revision"
//	@Success		200	{object}	bidcard.BidCard
//	@Failure		400
//	@Failure		403
//	@Failure		404
//	@Router			/bidcards/{id}/revise [post]
func (h *handler) revise(c echo.Context) error {
	ctx := c.Get("ctx").(ctx.Ctx)
	p := bidcard.ReviseReq{}
	if err := bindAndValidate(c, &p); err != nil {
		return delivery.MakeJsonResp(c, http.StatusBadRequest, err)
	}
	card, err := h.bu.ReviseBidCard(ctx, authMiddleware.UserId(c), c.Param("id"), p)
	if err != nil {
		return delivery.MakeJsonResp(c, http.StatusInternalServerError, err)
	}
	return delivery.MakeJsonResp(c, http.StatusOK, card)
}

// rank godoc
//
//	@Summary		Set the homeowner ranking of bids
//	@Tags			bidcards
//	@Accept			json
//	@Produce		json
//	@Security		ApiKeyAuth
//	@Param			id	path	string	true	"bid card id"
//	@Param			params	body	object	true	"bidIds in ranking order"
//	@Success		200	{object}	bidcard.BidCard
//	@Failure		400
//	@Failure		403
//	@Failure		404
//	@Router			/bidcards/{id}/ranking [put]
func (h *handler) rank(c echo.Context) error {
	ctx := c.Get("ctx").(ctx.Ctx)
	type params struct {
		BidIds []string `json:"bidIds" validate:"required,dive,required"`
	}
	p := params{}
	if err := bindAndValidate(c, &p); err != nil {
		return delivery.MakeJsonResp(c, http.StatusBadRequest, err)
	}
	card, err := h.bu.RankBids(ctx, authMiddleware.UserId(c), c.Param("id"), p.BidIds)
	if err != nil {
		return delivery.MakeJsonResp(c, http.StatusInternalServerError, err)
	}
	return delivery.MakeJsonResp(c, http.StatusOK, card)
}

// submitBid godoc
//
//	@Summary		Submit a bid
//	@Tags			bids
//	@Accept			json
//	@Produce		json
//	@Security		ApiKeyAuth
//	@Param			id	path	string	true	"bid card id"
//	@Param			params	body	bidcard.SubmitBidReq	true	"bid, contractorId is taken from the token"
//	@Param			Idempotency-Key	header	string	false	"replay key"
//	@Success		201	{object}	bidcard.Bid
//	@Failure		400
//	@Failure		409
//	@Failure		422
//	@Router			/bidcards/{id}/bids [post]
func (h *handler) submitBid(c echo.Context) error {
	ctx := c.Get("ctx").(ctx.Ctx)
	p := bidcard.SubmitBidReq{}
	if err := bindAndValidate(c, &p); err != nil {
		return delivery.MakeJsonResp(c, http.StatusBadRequest, err)
	}
	p.ContractorId = authMiddleware.UserId(c)

	bid, err := h.bu.SubmitBid(ctx, c.Param("id"), p)
	if err != nil {
		ctx.WithFields(log.Fields{"err": err, "bidCardId": c.Param("id")}).Warn("bu.SubmitBid failed")
		return delivery.MakeJsonResp(c, http.StatusInternalServerError, err)
	}
	return delivery.MakeJsonResp(c, http.StatusCreated, bid)
}

// listBids godoc
//
//	@Summary		List the bids of a card
//	@Tags			bids
//	@Produce		json
//	@Security		ApiKeyAuth
//	@Param			id	path	string	true	"bid card id"
//	@Success		200	{array}	bidcard.Bid
//	@Router			/bidcards/{id}/bids [get]
func (h *handler) listBids(c echo.Context) error {
	ctx := c.Get("ctx").(ctx.Ctx)
	bids, err := h.bu.ListBids(ctx, c.Param("id"))
	if err != nil {
		return delivery.MakeJsonResp(c, http.StatusInternalServerError, err)
	}
	return delivery.MakeJsonResp(c, http.StatusOK, bids)
}

// getAcceptanceStatus godoc
//
//	@Summary		Get the acceptance state of a card
//	@Tags			acceptances
//	@Produce		json
//	@Security		ApiKeyAuth
//	@Param			id	path	string	true	"bid card id"
//	@Success		200	{object}	bidcard.AcceptanceView
//	@Failure		404
//	@Router			/bidcards/{id}/acceptance [get]
func (h *handler) getAcceptanceStatus(c echo.Context) error {
	ctx := c.Get("ctx").(ctx.Ctx)
	view, err := h.bu.GetAcceptanceStatus(ctx, c.Param("id"))
	if err != nil {
		return delivery.MakeJsonResp(c, http.StatusInternalServerError, err)
	}
	return delivery.MakeJsonResp(c, http.StatusOK, view)
}

// listConflicts godoc
//
//	@Summary		List late payments that need a refund
//	@Tags			acceptances
//	@Produce		json
//	@Security		ApiKeyAuth
//	@Param			id	path	string	true	"bid card id"
//	@Success		200	{array}	bidcard.PaymentConflict
//	@Failure		403
//	@Router			/bidcards/{id}/conflicts [get]
func (h *handler) listConflicts(c echo.Context) error {
	ctx := c.Get("ctx").(ctx.Ctx)
	conflicts, err := h.bu.ListConflicts(ctx, c.Param("id"))
	if err != nil {
		return delivery.MakeJsonResp(c, http.StatusInternalServerError, err)
	}
	return delivery.MakeJsonResp(c, http.StatusOK, conflicts)
}

// commit godoc
//
//	@Summary		Commit to bid on a card
//	@Tags			bids
//	@Accept			json
//	@Produce		json
//	@Security		ApiKeyAuth
//	@Param			id	path	string	true	"bid card id"
//	@Param			params	body	bidcard.CommitReq	true	"commitment"
//	@Success		201	{object}	bidcard.Commitment
//	@Failure		400
//	@Failure		409
//	@Failure		422
//	@Router			/bidcards/{id}/commitments [post]
func (h *handler) commit(c echo.Context) error {
	ctx := c.Get("ctx").(ctx.Ctx)
	p := bidcard.CommitReq{}
	if err := bindAndValidate(c, &p); err != nil {
		return delivery.MakeJsonResp(c, http.StatusBadRequest, err)
	}
	p.ContractorId = authMiddleware.UserId(c)

	cm, err := h.bu.CommitToBid(ctx, c.Param("id"), p)
	if err != nil {
		return delivery.MakeJsonResp(c, http.StatusInternalServerError, err)
	}
	return delivery.MakeJsonResp(c, http.StatusCreated, cm)
}

func (h *handler) cancelCommitment(c echo.Context) error {
	ctx := c.Get("ctx").(ctx.Ctx)
	cm, err := h.bu.CancelCommitment(ctx, authMiddleware.UserId(c), c.Param("id"), c.Param("commitmentId"))
	if err != nil {
		return delivery.MakeJsonResp(c, http.StatusInternalServerError, err)
	}
	return delivery.MakeJsonResp(c, http.StatusOK, cm)
}

// updateBid godoc
//
//	@Summary		Update an active bid
//	@Tags			bids
//	@Accept			json
//	@Produce		json
//	@Security		ApiKeyAuth
//	@Param			bidId	path	string	true	"bid id"
//	@Param			params	body	bidcard.BidPatchable	true	"fields to change"
//	@Success		200	{object}	bidcard.Bid
//	@Failure		400
//	@Failure		403
//	@Failure		404
//	@Failure		422
//	@Router			/bids/{bidId} [patch]
func (h *handler) updateBid(c echo.Context) error {
	ctx := c.Get("ctx").(ctx.Ctx)
	p := bidcard.BidPatchable{}
	if err := c.Bind(&p); err != nil {
		return delivery.MakeJsonResp(c, http.StatusBadRequest, err)
	}
	bid, err := h.bu.UpdateBid(ctx, authMiddleware.UserId(c), c.Param("bidId"), p)
	if err != nil {
		return delivery.MakeJsonResp(c, http.StatusInternalServerError, err)
	}
	return delivery.MakeJsonResp(c, http.StatusOK, bid)
}

type bidAction func(c ctx.Ctx, actorId, bidId string) (*bidcard.Bid, error)

func (h *handler) bidAction(c echo.Context, fn bidAction) error {
	ctx := c.Get("ctx").(ctx.Ctx)
	bid, err := fn(ctx, authMiddleware.UserId(c), c.Param("bidId"))
	if err != nil {
		ctx.WithFields(log.Fields{"err": err, "bidId": c.Param("bidId")}).Warn("bid action failed")
		return delivery.MakeJsonResp(c, http.StatusInternalServerError, err)
	}
	return delivery.MakeJsonResp(c, http.StatusOK, bid)
}

// withdrawBid godoc
//
//	@Summary		Withdraw a bid
//	@Tags			bids
//	@Produce		json
//	@Security		ApiKeyAuth
//	@Param			bidId	path	string	true	"bid id"
//	@Success		200	{object}	bidcard.Bid
//	@Failure		403
//	@Failure		422
//	@Router			/bids/{bidId}/withdraw [post]
func (h *handler) withdrawBid(c echo.Context) error {
	return h.bidAction(c, h.bu.WithdrawBid)
}

func (h *handler) markViewed(c echo.Context) error {
	return h.bidAction(c, h.bu.MarkBidViewed)
}

func (h *handler) shortlist(c echo.Context) error {
	return h.bidAction(c, h.bu.ShortlistBid)
}

func (h *handler) decline(c echo.Context) error {
	return h.bidAction(c, h.bu.DeclineBid)
}

func (h *handler) acknowledge(c echo.Context) error {
	return h.bidAction(c, h.bu.AcknowledgeRevision)
}

// accept godoc
//
//	@Summary		Accept a bid and open its payment window
//	@Tags			acceptances
//	@Produce		json
//	@Security		ApiKeyAuth
//	@Param			bidId	path	string	true	"bid id"
//	@Param			Idempotency-Key	header	string	false	"replay key"
//	@Success		201	{object}	bidcard.Acceptance
//	@Failure		403
//	@Failure		404
//	@Failure		409
//	@Failure		422
//	@Router			/bids/{bidId}/accept [post]
func (h *handler) accept(c echo.Context) error {
	ctx := c.Get("ctx").(ctx.Ctx)
	acc, err := h.bu.AcceptBid(ctx, authMiddleware.UserId(c), c.Param("bidId"))
	if err != nil {
		ctx.WithFields(log.Fields{"err": err, "bidId": c.Param("bidId")}).Warn("bu.AcceptBid failed")
		return delivery.MakeJsonResp(c, http.StatusInternalServerError, err)
	}
	return delivery.MakeJsonResp(c, http.StatusCreated, acc)
}

// cancelAcceptance godoc
//
//	@Summary		Cancel a pending acceptance
//	@Tags			acceptances
//	@Produce		json
//	@Security		ApiKeyAuth
//	@Param			acceptanceId	path	string	true	"acceptance id"
//	@Success		200	{object}	bidcard.Acceptance
//	@Failure		403
//	@Failure		422
//	@Router			/acceptances/{acceptanceId}/cancel [post]
func (h *handler) cancelAcceptance(c echo.Context) error {
	ctx := c.Get("ctx").(ctx.Ctx)
	acc, err := h.bu.CancelAcceptance(ctx, authMiddleware.UserId(c), c.Param("acceptanceId"))
	if err != nil {
		return delivery.MakeJsonResp(c, http.StatusInternalServerError, err)
	}
	return delivery.MakeJsonResp(c, http.StatusOK, acc)
}

// viewContact godoc
//
//	@Summary		Read the released contact details
//	@Tags			acceptances
//	@Produce		json
//	@Security		ApiKeyAuth
//	@Param			acceptanceId	path	string	true	"acceptance id"
//	@Success		200	{object}	bidcard.ContactRelease
//	@Failure		403
//	@Failure		404
//	@Failure		502
//	@Router			/acceptances/{acceptanceId}/contact [get]
func (h *handler) viewContact(c echo.Context) error {
	ctx := c.Get("ctx").(ctx.Ctx)
	release, err := h.bu.ViewContactRelease(ctx, authMiddleware.UserId(c), c.Param("acceptanceId"))
	if err != nil {
		return delivery.MakeJsonResp(c, http.StatusInternalServerError, err)
	}
	return delivery.MakeJsonResp(c, http.StatusOK, release)
}

type OutcomeType string

const (
	OutcomeSucceeded OutcomeType = "succeeded"
	OutcomeFailed    OutcomeType = "failed"
	OutcomeTimeout   OutcomeType = "timeout"
)

type paymentOutcomeParams struct {
	Type OutcomeType `json:"type" validate:"required,oneof=succeeded failed timeout"`
	bidcard.PaymentOutcome
}

// paymentOutcome godoc
//
//	@Summary		Report a payment outcome
//	@Description	The payment collaborator's callback. A timeout is a failure with its own reason.
//	@Tags			payments
//	@Accept			json
//	@Produce		json
//	@Security		ApiKeyAuth
//	@Param			params	body	http.paymentOutcomeParams	true	"outcome"
//	@Param			Idempotency-Key	header	string	false	"replay key"
//	@Success		200	{object}	bidcard.Acceptance
//	@Failure		400
//	@Failure		403
//	@Failure		409
//	@Failure		422
//	@Router			/payments/outcomes [post]
func (h *handler) paymentOutcome(c echo.Context) error {
	ctx := c.Get("ctx").(ctx.Ctx)
	p := paymentOutcomeParams{}
	if err := bindAndValidate(c, &p); err != nil {
		return delivery.MakeJsonResp(c, http.StatusBadRequest, err)
	}

	var (
		acc *bidcard.Acceptance
		err error
	)
	switch p.Type {
	case OutcomeSucceeded:
		acc, err = h.bu.PaymentSucceeded(ctx, p.PaymentOutcome)
	case OutcomeTimeout:
		if p.Reason == "" {
			p.Reason = string(OutcomeTimeout)
		}
		acc, err = h.bu.PaymentFailed(ctx, p.PaymentOutcome)
	case OutcomeFailed:
		acc, err = h.bu.PaymentFailed(ctx, p.PaymentOutcome)
	default:
		err = xerrors.Errorf("outcome %q: %w", p.Type, domain.ErrBadParamInput)
	}
	if err != nil {
		ctx.WithFields(log.Fields{"err": err, "acceptanceId": p.AcceptanceId, "outcome": p.Type}).Warn("payment outcome rejected")
		return delivery.MakeJsonResp(c, http.StatusInternalServerError, err)
	}
	return delivery.MakeJsonResp(c, http.StatusOK, acc)
}

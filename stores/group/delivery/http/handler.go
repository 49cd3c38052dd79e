package http

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/x-xyz/bidding/base/ctx"
	"github.com/x-xyz/bidding/base/delivery"
	"github.com/x-xyz/bidding/base/log"
	"github.com/x-xyz/bidding/domain/group"
	authMiddleware "github.com/x-xyz/bidding/stores/auth/delivery/http/middleware"
)

type handler struct {
	gu group.UseCase
}

func New(e *echo.Echo, gu group.UseCase, am *authMiddleware.AuthMiddleware, idem echo.MiddlewareFunc) {
	h := &handler{gu: gu}

	g := e.Group("/groups", am.Auth())
	g.POST("", h.createBidGroup, idem)
	g.GET("/:id", h.getBidGroup)
	g.POST("/:id/bids", h.createGroupBid, idem)
	g.GET("/:id/bids", h.listGroupBids)

	b := e.Group("/groupbids", am.Auth())
	b.GET("/:id", h.getGroupBid)
	b.POST("/:id/join", h.join, idem)
	b.POST("/:id/extend", h.extend, idem)
	b.POST("/:id/withdraw", h.withdraw, idem)
}

// createBidGroup godoc
//
//	@Summary		Create a bid group
//	@Tags			groups
//	@Accept			json
//	@Produce		json
//	@Security		ApiKeyAuth
//	@Param			params	body	group.CreateBidGroupReq	true	"member cards"
//	@Success		201	{object}	group.BidGroup
//	@Failure		400
//	@Failure		422
//	@Router			/groups [post]
func (h *handler) createBidGroup(c echo.Context) error {
	ctx := c.Get("ctx").(ctx.Ctx)
	p := group.CreateBidGroupReq{}
	if err := c.Bind(&p); err != nil {
		return delivery.MakeJsonResp(c, http.StatusBadRequest, err)
	}
	if err := c.Validate(&p); err != nil {
		return delivery.MakeJsonResp(c, http.StatusBadRequest, err)
	}
	p.CreatedBy = authMiddleware.UserId(c)

	g, err := h.gu.CreateBidGroup(ctx, p)
	if err != nil {
		ctx.WithField("err", err).Warn("gu.CreateBidGroup failed")
		return delivery.MakeJsonResp(c, http.StatusInternalServerError, err)
	}
	return delivery.MakeJsonResp(c, http.StatusCreated, g)
}

// getBidGroup godoc
//
//	@Summary		Get a bid group
//	@Tags			groups
//	@Produce		json
//	@Security		ApiKeyAuth
//	@Param			id	path	string	true	"bid group id"
//	@Success		200	{object}	group.BidGroup
//	@Failure		404
//	@Router			/groups/{id} [get]
func (h *handler) getBidGroup(c echo.Context) error {
	ctx := c.Get("ctx").(ctx.Ctx)
	g, err := h.gu.GetBidGroup(ctx, c.Param("id"))
	if err != nil {
		return delivery.MakeJsonResp(c, http.StatusInternalServerError, err)
	}
	return delivery.MakeJsonResp(c, http.StatusOK, g)
}

// createGroupBid godoc
//
//	@Summary		Offer one price to every card of a group
//	@Tags			groups
//	@Accept			json
//	@Produce		json
//	@Security		ApiKeyAuth
//	@Param			id	path	string	true	"bid group id"
//	@Param			params	body	group.CreateGroupBidReq	true	"offer and threshold"
//	@Success		201	{object}	group.GroupBid
//	@Failure		400
//	@Failure		404
//	@Router			/groups/{id}/bids [post]
func (h *handler) createGroupBid(c echo.Context) error {
	ctx := c.Get("ctx").(ctx.Ctx)
	p := group.CreateGroupBidReq{}
	if err := c.Bind(&p); err != nil {
		return delivery.MakeJsonResp(c, http.StatusBadRequest, err)
	}
	if err := c.Validate(&p); err != nil {
		return delivery.MakeJsonResp(c, http.StatusBadRequest, err)
	}
	p.ContractorId = authMiddleware.UserId(c)
	p.GroupId = c.Param("id")

	gb, err := h.gu.CreateGroupBid(ctx, p)
	if err != nil {
		ctx.WithFields(log.Fields{"err": err, "groupId": p.GroupId}).Warn("gu.CreateGroupBid failed")
		return delivery.MakeJsonResp(c, http.StatusInternalServerError, err)
	}
	return delivery.MakeJsonResp(c, http.StatusCreated, gb)
}

// listGroupBids godoc
//
//	@Summary		List the group bids of a group
//	@Tags			groups
//	@Produce		json
//	@Security		ApiKeyAuth
//	@Param			id	path	string	true	"bid group id"
//	@Param			status	query	[]string	false	"group bid status"	collectionFormat(multi)
//	@Success		200	{array}	group.GroupBid
//	@Router			/groups/{id}/bids [get]
func (h *handler) listGroupBids(c echo.Context) error {
	ctx := c.Get("ctx").(ctx.Ctx)
	opts := []group.FindAllOptionsFunc{group.WithGroupId(c.Param("id"))}
	if statuses := c.QueryParams()["status"]; len(statuses) > 0 {
		in := make([]group.Status, 0, len(statuses))
		for _, s := range statuses {
			in = append(in, group.Status(s))
		}
		opts = append(opts, group.WithStatusIn(in...))
	}
	gbs, err := h.gu.FindAll(ctx, opts...)
	if err != nil {
		ctx.WithField("err", err).Error("gu.FindAll failed")
		return delivery.MakeJsonResp(c, http.StatusInternalServerError, err)
	}
	return delivery.MakeJsonResp(c, http.StatusOK, gbs)
}

func (h *handler) getGroupBid(c echo.Context) error {
	ctx := c.Get("ctx").(ctx.Ctx)
	gb, err := h.gu.GetGroupBid(ctx, c.Param("id"))
	if err != nil {
		return delivery.MakeJsonResp(c, http.StatusInternalServerError, err)
	}
	return delivery.MakeJsonResp(c, http.StatusOK, gb)
}

// join godoc
//
//	@Summary		Accept a group bid for one member card
//	@Tags			groupbids
//	@Accept			json
//	@Produce		json
//	@Security		ApiKeyAuth
//	@Param			id	path	string	true	"group bid id"
//	@Param			params	body	object	true	"bidCardId of the caller"
//	@Success		200	{object}	group.GroupBid
//	@Failure		400
//	@Failure		403
//	@Failure		404
//	@Failure		409
//	@Failure		422
//	@Router			/groupbids/{id}/join [post]
func (h *handler) join(c echo.Context) error {
	ctx := c.Get("ctx").(ctx.Ctx)
	type params struct {
		BidCardId string `json:"bidCardId" validate:"required"`
	}
	p := params{}
	if err := c.Bind(&p); err != nil {
		return delivery.MakeJsonResp(c, http.StatusBadRequest, err)
	}
	if err := c.Validate(&p); err != nil {
		return delivery.MakeJsonResp(c, http.StatusBadRequest, err)
	}

	gb, err := h.gu.JoinGroupBid(ctx, authMiddleware.UserId(c), c.Param("id"), p.BidCardId)
	if err != nil {
		ctx.WithFields(log.Fields{"err": err, "groupBidId": c.Param("id"), "bidCardId": p.BidCardId}).Warn("gu.JoinGroupBid failed")
		return delivery.MakeJsonResp(c, http.StatusInternalServerError, err)
	}
	return delivery.MakeJsonResp(c, http.StatusOK, gb)
}

// extend godoc
//
//	@Summary		Extend the acceptance deadline
//	@Tags			groupbids
//	@Accept			json
//	@Produce		json
//	@Security		ApiKeyAuth
//	@Param			id	path	string	true	"group bid id"
//	@Param			params	body	group.ExtendReq	true	"new deadline"
//	@Success		200	{object}	group.GroupBid
//	@Failure		400
//	@Failure		403
//	@Failure		422
//	@Router			/groupbids/{id}/extend [post]
func (h *handler) extend(c echo.Context) error {
	ctx := c.Get("ctx").(ctx.Ctx)
	p := group.ExtendReq{}
	if err := c.Bind(&p); err != nil {
		return delivery.MakeJsonResp(c, http.StatusBadRequest, err)
	}
	if err := c.Validate(&p); err != nil {
		return delivery.MakeJsonResp(c, http.StatusBadRequest, err)
	}

	gb, err := h.gu.ExtendGroupBidDeadline(ctx, authMiddleware.UserId(c), c.Param("id"), p)
	if err != nil {
		return delivery.MakeJsonResp(c, http.StatusInternalServerError, err)
	}
	return delivery.MakeJsonResp(c, http.StatusOK, gb)
}

func (h *handler) withdraw(c echo.Context) error {
	ctx := c.Get("ctx").(ctx.Ctx)
	gb, err := h.gu.WithdrawGroupBid(ctx, authMiddleware.UserId(c), c.Param("id"))
	if err != nil {
		return delivery.MakeJsonResp(c, http.StatusInternalServerError, err)
	}
	return delivery.MakeJsonResp(c, http.StatusOK, gb)
}

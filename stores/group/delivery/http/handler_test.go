package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	"github.com/x-xyz/bidding/base/ctx"
	"github.com/x-xyz/bidding/base/metrics"
	bValidator "github.com/x-xyz/bidding/base/validator"
	"github.com/x-xyz/bidding/domain"
	"github.com/x-xyz/bidding/domain/bidcard"
	"github.com/x-xyz/bidding/domain/mocks"
	"github.com/x-xyz/bidding/middleware"
	"github.com/x-xyz/bidding/service/cache"
	"github.com/x-xyz/bidding/service/cache/provider/primitive"
	"github.com/x-xyz/bidding/service/locker"
	"github.com/x-xyz/bidding/service/scheduler"
	authMiddleware "github.com/x-xyz/bidding/stores/auth/delivery/http/middleware"
	authUsecase "github.com/x-xyz/bidding/stores/auth/usecase"
	bidcardRepository "github.com/x-xyz/bidding/stores/bidcard/repository"
	bidcardUsecase "github.com/x-xyz/bidding/stores/bidcard/usecase"
	"github.com/x-xyz/bidding/stores/group/repository"
	"github.com/x-xyz/bidding/stores/group/usecase"
)

type response struct {
	Data   json.RawMessage `json:"data"`
	Status string          `json:"status"`
}

type groupBidView struct {
	Id          string `json:"id"`
	Status      string `json:"status"`
	Acceptances []struct {
		BidCardId       string `json:"bidCardId"`
		BidAcceptanceId string `json:"bidAcceptanceId"`
	} `json:"acceptances"`
}

type handlerSuite struct {
	suite.Suite

	e        *echo.Echo
	auth     domain.AuthUsecase
	clock    *clock.Mock
	bidcards bidcard.UseCase
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(handlerSuite))
}

func (s *handlerSuite) SetupTest() {
	s.clock = clock.NewMock()
	s.clock.Set(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	met := metrics.New("test", metrics.WithLogClient())
	lock := locker.NewLocal()
	sched := scheduler.New(&scheduler.SchedulerCfg{Clock: s.clock, Metrics: met})

	notifier := &mocks.Notifier{}
	notifier.On("Notify", mock.Anything, mock.Anything).Return()
	identity := &mocks.IdentityProvider{}
	identity.On("GetContact", mock.Anything, mock.Anything).Return(domain.ContactInfo{"email": "x@example.com"}, nil)

	s.bidcards = bidcardUsecase.New(&bidcardUsecase.BidCardUseCaseCfg{
		Repo:      bidcardRepository.NewMemory(),
		Locker:    lock,
		Scheduler: sched,
		Notifier:  notifier,
		Identity:  identity,
		Clock:     s.clock,
		Metrics:   met,
	})
	gu := usecase.New(&usecase.GroupUseCaseCfg{
		BidGroupRepo: repository.NewBidGroupMemory(),
		GroupBidRepo: repository.NewGroupBidMemory(),
		BidCards:     s.bidcards,
		Locker:       lock,
		Scheduler:    sched,
		Notifier:     notifier,
		Clock:        s.clock,
		Metrics:      met,
	})
	s.auth = authUsecase.New("secret", nil)

	s.e = echo.New()
	s.e.Validator = bValidator.NewCustomValidator(bValidator.New())
	s.e.Use(middleware.InitMiddleware(met).AddContext())
	idem := middleware.Idempotency(cache.New(cache.ServiceConfig{
		Ttl:   time.Minute,
		Cache: primitive.NewPrimitive("idempotency", 1),
	}))
	New(s.e, gu, authMiddleware.New(s.auth), idem)
}

func (s *handlerSuite) call(method, path, user string, body interface{}) (int, response) {
	var payload string
	if body != nil {
		b, err := json.Marshal(body)
		s.Require().NoError(err)
		payload = string(b)
	}
	req := httptest.NewRequest(method, path, strings.NewReader(payload))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	tkn, err := s.auth.SignToken(ctx.Background(), user, domain.RoleUser, time.Hour)
	s.Require().NoError(err)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+tkn)
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)

	res := response{}
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &res), rec.Body.String())
	return rec.Code, res
}

func (s *handlerSuite) groupBid(res response) groupBidView {
	v := groupBidView{}
	s.Require().NoError(json.Unmarshal(res.Data, &v))
	return v
}

// setup creates n group eligible cards, a group over them and a group bid
// needing two acceptances
func (s *handlerSuite) setup(n int) ([]string, string) {
	cardIds := []string{}
	for i := 0; i < n; i++ {
		card, err := s.bidcards.CreateBidCard(ctx.Background(), bidcard.CreateBidCardReq{
			OwnerId:        fmt.Sprintf("owner-%d", i),
			Title:          "roof",
			MinBidsTarget:  3,
			MaxBidsAllowed: 5,
			BidDeadline:    s.clock.Now().Add(7 * 24 * time.Hour),
			ConnectionFee:  decimal.NewFromInt(20),
			GroupEligible:  true,
			Publish:        true,
		})
		s.Require().NoError(err)
		cardIds = append(cardIds, card.Id)
	}

	code, res := s.call(http.MethodPost, "/groups", "coordinator", map[string]interface{}{
		"name":       "street",
		"bidCardIds": cardIds,
	})
	s.Require().Equal(http.StatusCreated, code, string(res.Data))
	g := struct {
		Id string `json:"id"`
	}{}
	s.Require().NoError(json.Unmarshal(res.Data, &g))

	code, res = s.call(http.MethodPost, "/groups/"+g.Id+"/bids", "contractor", map[string]interface{}{
		"price":              "800",
		"threshold":          map[string]interface{}{"kind": "count", "count": 2},
		"acceptanceDeadline": s.clock.Now().Add(72 * time.Hour),
	})
	s.Require().Equal(http.StatusCreated, code, string(res.Data))
	gb := s.groupBid(res)
	s.Equal("submitted", gb.Status)
	return cardIds, gb.Id
}

func (s *handlerSuite) TestJoinUntilThreshold() {
	cardIds, gbId := s.setup(3)

	code, res := s.call(http.MethodPost, "/groupbids/"+gbId+"/join", "owner-0", map[string]interface{}{"bidCardId": cardIds[0]})
	s.Require().Equal(http.StatusOK, code, string(res.Data))
	s.Equal("partially_accepted", s.groupBid(res).Status)

	code, _ = s.call(http.MethodPost, "/groupbids/"+gbId+"/join", "owner-0", map[string]interface{}{"bidCardId": cardIds[0]})
	s.Equal(http.StatusConflict, code)

	code, _ = s.call(http.MethodPost, "/groupbids/"+gbId+"/join", "owner-0", map[string]interface{}{"bidCardId": cardIds[1]})
	s.Equal(http.StatusForbidden, code)

	code, res = s.call(http.MethodPost, "/groupbids/"+gbId+"/join", "owner-1", map[string]interface{}{"bidCardId": cardIds[1]})
	s.Require().Equal(http.StatusOK, code, string(res.Data))

	code, res = s.call(http.MethodGet, "/groupbids/"+gbId, "owner-2", nil)
	s.Require().Equal(http.StatusOK, code)
	gb := s.groupBid(res)
	s.Equal("threshold_met", gb.Status)
	s.Require().Len(gb.Acceptances, 2)
	for _, a := range gb.Acceptances {
		s.NotEmpty(a.BidAcceptanceId, a.BidCardId)
	}
}

func (s *handlerSuite) TestContractorActions() {
	_, gbId := s.setup(2)

	code, _ := s.call(http.MethodPost, "/groupbids/"+gbId+"/extend", "owner-0", map[string]interface{}{
		"newDeadline": s.clock.Now().Add(96 * time.Hour),
	})
	s.Equal(http.StatusForbidden, code)

	code, res := s.call(http.MethodPost, "/groupbids/"+gbId+"/extend", "contractor", map[string]interface{}{
		"newDeadline": s.clock.Now().Add(96 * time.Hour),
		"reason":      "holidays",
	})
	s.Require().Equal(http.StatusOK, code, string(res.Data))

	code, _ = s.call(http.MethodPost, "/groupbids/"+gbId+"/extend", "contractor", map[string]interface{}{})
	s.Equal(http.StatusBadRequest, code)

	code, res = s.call(http.MethodPost, "/groupbids/"+gbId+"/withdraw", "contractor", nil)
	s.Require().Equal(http.StatusOK, code, string(res.Data))
	s.Equal("withdrawn", s.groupBid(res).Status)

	code, _ = s.call(http.MethodPost, "/groupbids/"+gbId+"/withdraw", "contractor", nil)
	s.Equal(http.StatusUnprocessableEntity, code)
}

func (s *handlerSuite) TestListAndValidation() {
	cardIds, gbId := s.setup(2)

	code, _ := s.call(http.MethodPost, "/groups", "coordinator", map[string]interface{}{"bidCardIds": cardIds[:1]})
	s.Equal(http.StatusBadRequest, code)

	code, res := s.call(http.MethodGet, "/groupbids/"+gbId, "contractor", nil)
	s.Require().Equal(http.StatusOK, code)
	groupId := struct {
		GroupId string `json:"groupId"`
	}{}
	s.Require().NoError(json.Unmarshal(res.Data, &groupId))

	code, res = s.call(http.MethodGet, "/groups/"+groupId.GroupId+"/bids", "owner-0", nil)
	s.Require().Equal(http.StatusOK, code)
	gbs := []groupBidView{}
	s.Require().NoError(json.Unmarshal(res.Data, &gbs))
	s.Require().Len(gbs, 1)
	s.Equal(gbId, gbs[0].Id)

	code, _ = s.call(http.MethodPost, "/groups/"+groupId.GroupId+"/bids", "contractor", map[string]interface{}{
		"price":              "800",
		"threshold":          map[string]interface{}{"kind": "count", "count": 5},
		"acceptanceDeadline": s.clock.Now().Add(72 * time.Hour),
	})
	s.Equal(http.StatusBadRequest, code)

	code, _ = s.call(http.MethodGet, "/groupbids/missing", "contractor", nil)
	s.Equal(http.StatusNotFound, code)
}

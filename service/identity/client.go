package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/xerrors"

	"github.com/x-xyz/bidding/base/backoff"
	bCtx "github.com/x-xyz/bidding/base/ctx"
	"github.com/x-xyz/bidding/base/log"
	"github.com/x-xyz/bidding/domain"
)

var (
	ErrStatusCodeNotOk = errors.New("http.status != 200")
)

const (
	defaultTimeout  = 5 * time.Second
	defaultAttempts = 3
)

type ClientCfg struct {
	HttpClient http.Client
	BaseUrl    string
	Token      string
	Timeout    time.Duration
	Attempts   int
}

type contactResp struct {
	UserId  string            `json:"userId"`
	Contact map[string]string `json:"contact"`
}

// NewClient reads contact payloads from the identity service
func NewClient(cfg *ClientCfg) domain.IdentityProvider {
	c := &client{
		client:   cfg.HttpClient,
		baseUrl:  cfg.BaseUrl,
		token:    cfg.Token,
		timeout:  cfg.Timeout,
		attempts: cfg.Attempts,
	}
	if c.timeout <= 0 {
		c.timeout = defaultTimeout
	}
	if c.attempts <= 0 {
		c.attempts = defaultAttempts
	}
	return c
}

type client struct {
	client   http.Client
	baseUrl  string
	token    string
	timeout  time.Duration
	attempts int
}

func (c *client) GetContact(ctx bCtx.Ctx, userId string) (domain.ContactInfo, error) {
	u := fmt.Sprintf("%s/users/%s/contact", c.baseUrl, url.PathEscape(userId))

	var (
		data      []byte
		permanent error
	)
	err := backoff.Retry(ctx, backoff.NewExponential(100*time.Millisecond, time.Second), c.attempts, func() error {
		var status int
		var err error
		data, status, err = c.get(ctx, u)
		if err == nil {
			return nil
		}
		// only the identity service failing is worth another try
		if status >= 400 && status < 500 {
			permanent = err
			return nil
		}
		return err
	})
	if err == nil {
		err = permanent
	}
	if err != nil {
		ctx.WithFields(log.Fields{"url": u, "err": err}).Error("c.get failed")
		return nil, xerrors.Errorf("user %s: %s: %w", userId, err.Error(), domain.ErrIdentityFetch)
	}

	resp := &contactResp{}
	if err := json.Unmarshal(data, resp); err != nil {
		ctx.WithField("err", err).Error("json.Unmarshal failed")
		return nil, xerrors.Errorf("user %s: %s: %w", userId, err.Error(), domain.ErrIdentityFetch)
	}
	if len(resp.Contact) == 0 {
		return nil, xerrors.Errorf("user %s has no contact: %w", userId, domain.ErrIdentityFetch)
	}
	return domain.ContactInfo(resp.Contact), nil
}

func (c *client) get(ctx bCtx.Ctx, url string) ([]byte, int, error) {
	ctx, cancel := bCtx.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		ctx.WithFields(log.Fields{
			"url": url,
			"err": err,
		}).Error("NewRequestWithContext failed")
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	res, err := c.client.Do(req)
	if err != nil {
		ctx.WithFields(log.Fields{
			"url": url,
			"err": err,
		}).Warn("client.Do failed")
		return nil, 0, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, res.StatusCode, xerrors.Errorf("status %d: %w", res.StatusCode, ErrStatusCodeNotOk)
	}
	data, err := ioutil.ReadAll(res.Body)
	if err != nil {
		return nil, res.StatusCode, err
	}
	return data, res.StatusCode, nil
}

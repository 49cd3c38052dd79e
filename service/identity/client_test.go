package identity

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	bCtx "github.com/x-xyz/bidding/base/ctx"
	"github.com/x-xyz/bidding/domain"
)

func TestGetContact(t *testing.T) {
	req := require.New(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req.Equal("/users/homeowner-1/contact", r.URL.Path)
		req.Equal("Bearer secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"userId":"homeowner-1","contact":{"email":"h@example.com","phone":"+1 555 0100"}}`))
	}))
	defer srv.Close()

	c := NewClient(&ClientCfg{BaseUrl: srv.URL, Token: "secret", Timeout: time.Second})
	info, err := c.GetContact(bCtx.Background(), "homeowner-1")
	req.NoError(err)
	req.Equal("h@example.com", info["email"])
	req.Equal("+1 555 0100", info["phone"])
}

func TestGetContactRetriesServerErrors(t *testing.T) {
	req := require.New(t)
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"userId":"u","contact":{"email":"u@example.com"}}`))
	}))
	defer srv.Close()

	c := NewClient(&ClientCfg{BaseUrl: srv.URL, Attempts: 3})
	info, err := c.GetContact(bCtx.Background(), "u")
	req.NoError(err)
	req.Equal("u@example.com", info["email"])
	req.Equal(int32(3), atomic.LoadInt32(&calls))
}

func TestGetContactClientErrorIsNotRetried(t *testing.T) {
	req := require.New(t)
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(&ClientCfg{BaseUrl: srv.URL})
	_, err := c.GetContact(bCtx.Background(), "ghost")
	req.ErrorIs(err, domain.ErrIdentityFetch)
	req.ErrorIs(err, domain.ErrExternal)
	req.Equal(int32(1), atomic.LoadInt32(&calls))
}

func TestGetContactEmptyPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"userId":"u","contact":{}}`))
	}))
	defer srv.Close()

	_, err := NewClient(&ClientCfg{BaseUrl: srv.URL}).GetContact(bCtx.Background(), "u")
	require.ErrorIs(t, err, domain.ErrIdentityFetch)
}

package middleware

import (
	"bufio"
	"bytes"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/x-xyz/bidding/base/ctx"
	"github.com/x-xyz/bidding/base/delivery"
	"github.com/x-xyz/bidding/base/log"
	"github.com/x-xyz/bidding/domain"
	"github.com/x-xyz/bidding/domain/keys"
	"github.com/x-xyz/bidding/service/cache"
)

const (
	HeaderIdempotencyKey = "Idempotency-Key"
	// HeaderIdempotentReplayed marks a response served from the store
	HeaderIdempotentReplayed = "Idempotent-Replayed"

	maxKeyLength = 255

	// DefaultIdempotencyTtl is how long stored responses are replayed
	DefaultIdempotencyTtl = 24 * time.Hour
)

// Response is the stored outcome of an idempotent request
type Response struct {
	InFlight   bool        `json:"inFlight"`
	StatusCode int         `json:"statusCode"`
	Header     http.Header `json:"header"`
	Value      []byte      `json:"value"`
}

type bodyDumpResponseWriter struct {
	statusCode int
	io.Writer
	http.ResponseWriter
}

func (w *bodyDumpResponseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *bodyDumpResponseWriter) Write(b []byte) (int, error) {
	return w.Writer.Write(b)
}

func (w *bodyDumpResponseWriter) Flush() {
	w.ResponseWriter.(http.Flusher).Flush()
}

func (w *bodyDumpResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return w.ResponseWriter.(http.Hijacker).Hijack()
}

// Idempotency replays the stored response of a mutating request carrying an
// Idempotency-Key header. Keys are scoped to the caller, method and path.
// A request racing an in-flight one with the same key gets 409; server
// errors are not stored so the caller may retry.
func Idempotency(store cache.Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			header := req.Header.Get(HeaderIdempotencyKey)
			if header == "" || req.Method == http.MethodGet || req.Method == http.MethodHead {
				return next(c)
			}
			cont := c.Get("ctx").(ctx.Ctx)
			if len(header) > maxKeyLength {
				return delivery.MakeJsonResp(c, http.StatusBadRequest, domain.ErrBadParamInput)
			}

			actor, _ := c.Get("userId").(string)
			key := keys.IdempotencyKey(actor, req.Method, req.URL.Path, header)
			cont = ctx.WithValue(cont, "idempotencyKey", header)

			reserved, err := store.SetNX(cont, key, Response{InFlight: true})
			if err != nil {
				// store outage falls through to the handler
				cont.WithFields(log.Fields{"err": err}).Error("failed to store.SetNX")
				return next(c)
			}
			if !reserved {
				stored := Response{}
				if err := store.Get(cont, key, &stored); err != nil && err != cache.ErrNotFound {
					cont.WithFields(log.Fields{"err": err}).Error("failed to store.Get")
					return next(c)
				} else if err == cache.ErrNotFound || stored.InFlight {
					return delivery.MakeJsonResp(c, http.StatusConflict, "request with the same Idempotency-Key is in progress")
				}
				return replay(c, stored)
			}

			resBody := new(bytes.Buffer)
			mw := io.MultiWriter(c.Response().Writer, resBody)
			writer := &bodyDumpResponseWriter{statusCode: http.StatusOK, Writer: mw, ResponseWriter: c.Response().Writer}
			c.Response().Writer = writer
			if err := next(c); err != nil {
				c.Error(err)
			}

			if writer.statusCode >= 500 {
				if err := store.Del(cont, key); err != nil {
					cont.WithFields(log.Fields{"err": err}).Error("failed to store.Del")
				}
				return nil
			}
			if err := store.Set(cont, key, Response{
				StatusCode: writer.statusCode,
				Header:     writer.Header().Clone(),
				Value:      resBody.Bytes(),
			}); err != nil {
				cont.WithFields(log.Fields{"err": err}).Error("failed to store.Set")
			}
			return nil
		}
	}
}

func replay(c echo.Context, stored Response) error {
	for k, v := range stored.Header {
		c.Response().Header().Set(k, strings.Join(v, ","))
	}
	c.Response().Header().Set(HeaderIdempotentReplayed, "true")
	c.Response().WriteHeader(stored.StatusCode)
	_, err := c.Response().Write(stored.Value)
	return err
}

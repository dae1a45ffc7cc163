package idempotency

import (
	"bytes"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HeaderKey is the request header carrying the client's idempotency key.
const HeaderKey = "Idempotency-Key"

// HeaderReplayed is set on responses served from the store.
const HeaderReplayed = "Idempotent-Replayed"

type capture struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (c *capture) WriteHeader(code int) {
	c.status = code
	c.ResponseWriter.WriteHeader(code)
}

func (c *capture) Write(b []byte) (int, error) {
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}

// Middleware replays the first successful response for a repeated
// Idempotency-Key. Keys are scoped by method and path. Requests without the
// header pass through. Store failures are logged and the request is served
// normally.
func Middleware(store Store, ttl time.Duration, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(HeaderKey)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			scoped := r.Method + " " + r.URL.Path + " " + key

			resp, ok, err := store.Get(r.Context(), scoped)
			if err != nil {
				logger.Warn("idempotency lookup failed", zap.String("key", key), zap.Error(err))
			}
			if ok {
				if resp.ContentType != "" {
					w.Header().Set("Content-Type", resp.ContentType)
				}
				w.Header().Set(HeaderReplayed, "true")
				w.WriteHeader(resp.Status)
				w.Write(resp.Body)
				return
			}

			c := &capture{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(c, r)

			if c.status < 200 || c.status > 299 {
				return
			}
			saved := Response{
				Status:      c.status,
				ContentType: w.Header().Get("Content-Type"),
				Body:        c.body.Bytes(),
			}
			if err := store.Save(r.Context(), scoped, saved, ttl); err != nil {
				logger.Warn("idempotency save failed", zap.String("key", key), zap.Error(err))
			}
		})
	}
}

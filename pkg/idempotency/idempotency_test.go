package idempotency

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRedis struct {
	data   map[string]string
	ttls   map[string]time.Duration
	getErr error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	if f.getErr != nil {
		return redis.NewStringResult("", f.getErr)
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) SetNX(_ context.Context, key string, value interface{}, ttl time.Duration) *redis.BoolCmd {
	if _, ok := f.data[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.data[key] = fmt.Sprintf("%s", value)
	f.ttls[key] = ttl
	return redis.NewBoolResult(true, nil)
}

func TestMemoryStore_Expiry(t *testing.T) {
	s := NewMemoryStore()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "k", Response{Status: 201, Body: []byte("first")}, time.Minute))
	require.NoError(t, s.Save(ctx, "k", Response{Status: 201, Body: []byte("second")}, time.Minute))

	resp, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "first", string(resp.Body), "existing entry is kept")

	now = now.Add(time.Minute)
	_, ok, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Save(ctx, "k", Response{Status: 200, Body: []byte("third")}, time.Minute))
	resp, ok, _ = s.Get(ctx, "k")
	assert.True(t, ok)
	assert.Equal(t, "third", string(resp.Body))
}

func TestRedisStore(t *testing.T) {
	fake := newFakeRedis()
	s := &RedisStore{client: fake}
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "abc")
	require.NoError(t, err)
	assert.False(t, ok)

	want := Response{Status: 201, ContentType: "application/json", Body: []byte(`{"id":"1"}`)}
	require.NoError(t, s.Save(ctx, "abc", want, time.Hour))
	assert.Equal(t, time.Hour, fake.ttls[keyPrefix+"abc"])

	got, ok, err := s.Get(ctx, "abc")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)

	fake.getErr = errors.New("connection reset")
	_, _, err = s.Get(ctx, "abc")
	assert.ErrorContains(t, err, "connection reset")
	assert.NoError(t, s.Close())
}

func TestMiddleware_ReplaysSuccess(t *testing.T) {
	calls := 0
	h := Middleware(NewMemoryStore(), time.Hour, zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, `{"call":%d}`, calls)
	}))

	do := func(key string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/installments", strings.NewReader(`{}`))
		if key != "" {
			req.Header.Set(HeaderKey, key)
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}

	first := do("key-1")
	second := do("key-1")
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "true", second.Header().Get(HeaderReplayed))
	assert.Equal(t, "application/json", second.Header().Get("Content-Type"))
	assert.Equal(t, 1, calls)

	do("key-2")
	do("")
	do("")
	assert.Equal(t, 4, calls)
}

func TestMiddleware_DoesNotStoreFailures(t *testing.T) {
	calls := 0
	h := Middleware(NewMemoryStore(), time.Hour, zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "bad", http.StatusUnprocessableEntity)
	}))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/installments", nil)
		req.Header.Set(HeaderKey, "same")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	}
	assert.Equal(t, 2, calls)
}

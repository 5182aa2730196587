package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_SlidingWindow(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	defer rl.Close()

	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := rl.Allow(ctx, "7")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, _ := rl.Allow(ctx, "7")
	assert.False(t, ok, "третий запрос в окне")

	ok, _ = rl.Allow(ctx, "8")
	assert.True(t, ok, "у другого пользователя своё окно")

	now = now.Add(61 * time.Second)
	ok, _ = rl.Allow(ctx, "7")
	assert.True(t, ok, "окно сдвинулось")
}

type stubLimiter struct {
	ok  bool
	err error
}

func (s stubLimiter) Allow(context.Context, string) (bool, error) { return s.ok, s.err }

func TestRateLimit_Middleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	cases := []struct {
		name    string
		limiter Limiter
		user    string
		want    int
	}{
		{"allowed", stubLimiter{ok: true}, "1", http.StatusNoContent},
		{"denied", stubLimiter{ok: false}, "1", http.StatusTooManyRequests},
		{"limiter down", stubLimiter{err: errors.New("down")}, "1", http.StatusNoContent},
		{"no key", stubLimiter{ok: false}, "", http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			if tc.user != "" {
				req.Header.Set(UserIDHeader, tc.user)
			}
			rec := httptest.NewRecorder()
			RateLimit(tc.limiter, ByUser)(next).ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestRecoverer(t *testing.T) {
	h := Recoverer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"внутренняя ошибка"}`, rec.Body.String())
}

func TestLogger_PassesThrough(t *testing.T) {
	h := Logger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestRedisLimiter_FixedWindow(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR не задан, тест пропущен")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	ctx := context.Background()
	require.NoError(t, client.Ping(ctx).Err())

	rl := NewRedisLimiter(client, "test:"+t.Name(), 2, time.Minute)
	fixed := time.Now()
	rl.now = func() time.Time { return fixed }
	t.Cleanup(func() {
		bucket := fixed.UnixNano() / int64(time.Minute)
		client.Del(context.Background(), "test:"+t.Name()+":u:"+strconv.FormatInt(bucket, 10))
	})

	for i := 0; i < 2; i++ {
		ok, err := rl.Allow(ctx, "u")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := rl.Allow(ctx, "u")
	require.NoError(t, err)
	assert.False(t, ok)
}

package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LukasBures/olynthus/internal/circuitbreaker"
	"github.com/LukasBures/olynthus/internal/retry"
)

var fastRetry = retry.Policy{Attempts: 3, BaseDelay: time.Millisecond}

func TestGetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-API-KEY"))
		_, _ = w.Write([]byte(`{"price": 1.5}`))
	}))
	defer srv.Close()

	c := New("test", WithHeader("X-API-KEY", "secret"), WithRetry(fastRetry))
	var out struct {
		Price float64 `json:"price"`
	}
	require.NoError(t, c.GetJSON(context.Background(), srv.URL, &out))
	assert.Equal(t, 1.5, out.Price)
}

func TestPostJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		_, _ = w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	var out struct {
		OK bool `json:"ok"`
	}
	require.NoError(t, New("test").PostJSON(context.Background(), srv.URL, map[string]string{"a": "b"}, &out))
	assert.True(t, out.OK)
}

func TestRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	require.NoError(t, New("test", WithRetry(fastRetry)).GetJSON(context.Background(), srv.URL, &struct{}{}))
	assert.Equal(t, int32(3), calls.Load())
}

func TestClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"slug":"bad"}}`))
	}))
	defer srv.Close()

	err := New("test", WithRetry(fastRetry)).GetJSON(context.Background(), srv.URL, &struct{}{})
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadRequest, se.Status)
	assert.JSONEq(t, `{"error":{"slug":"bad"}}`, string(se.Body))
	assert.Equal(t, int32(1), calls.Load())
}

func TestCircuitOpens(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New("flaky", WithBreaker(circuitbreaker.New(2, time.Minute)), WithRetry(retry.Policy{Attempts: 1}))
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		assert.Error(t, c.GetJSON(ctx, srv.URL, nil))
	}
	assert.ErrorIs(t, c.GetJSON(ctx, srv.URL, nil), ErrCircuitOpen)
	assert.Equal(t, int32(2), calls.Load())
}

func TestBadRequestsDoNotOpenCircuit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New("lookup", WithBreaker(circuitbreaker.New(1, time.Minute)))
	for i := 0; i < 3; i++ {
		err := c.GetJSON(context.Background(), srv.URL, nil)
		assert.NotErrorIs(t, err, ErrCircuitOpen)
	}
}

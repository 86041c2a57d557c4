package metering

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncClient returns a client that delivers inline so tests can assert
// without races.
func syncClient(url string) *Client {
	c := New(url, time.Second)
	c.async = false
	return c
}

func TestTrack_DeliversEvent(t *testing.T) {
	var got usageEvent
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	syncClient(srv.URL).Track(context.Background(), "scan", "user-7")

	assert.Equal(t, "scan", got.Event)
	assert.Equal(t, "user-7", got.UserID)
}

func TestTrack_FailureIsSwallowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	// Must not panic or propagate anything.
	syncClient(srv.URL).Track(context.Background(), "scan", "user-7")
}

func TestTrack_RetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	syncClient(srv.URL).Track(context.Background(), "scan", "user-7")
	assert.Equal(t, int32(2), calls.Load())
}

func TestTrack_NoWebhookConfigured(t *testing.T) {
	// Empty URL means metering is disabled; Track is a no-op.
	syncClient("").Track(context.Background(), "scan", "user-7")
}

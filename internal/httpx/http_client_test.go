package httpx

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestExternalHTTPClientTimeout(t *testing.T) {
	require.NotNil(t, ExternalHTTPClient())
	assert.Equal(t, defaultExternalHTTPTimeout, ExternalHTTPClient().Timeout)
}

func TestConfigureExternalHTTPClient(t *testing.T) {
	original := externalHTTPClient
	t.Cleanup(func() { externalHTTPClient = original })

	got := ConfigureExternalHTTPClient(0, nil)
	assert.Equal(t, defaultExternalHTTPTimeout, got)
	assert.Equal(t, defaultExternalHTTPTimeout, ExternalHTTPClient().Timeout)

	got = ConfigureExternalHTTPClient(120, zap.NewNop())
	assert.Equal(t, 120*time.Second, got)
	assert.Equal(t, 120*time.Second, ExternalHTTPClient().Timeout)
}

func TestNewRetriesServerErrors(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	resp, err := New(5*time.Second, 2, zap.NewNop()).Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, atomic.LoadInt32(&hits))
}

func TestNewWithoutRetriesReturnsLastResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	resp, err := New(5*time.Second, 0, nil).Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

package compute

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clientFor(t *testing.T, handler http.Handler) *Client {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient("c1", "http", "127.0.0.1", 1, "", "")
	c.baseURL = srv.URL
	return c
}

func TestClientDecodesResponse(t *testing.T) {
	c := clientFor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		_, _ = w.Write([]byte(`{"version":"2.2.0"}`))
	}))

	var out versionResponse
	require.NoError(t, c.Get(context.Background(), "/v2/compute/version", &out))
	assert.Equal(t, "2.2.0", out.Version)
}

func TestClientBasicAuth(t *testing.T) {
	c := clientFor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "admin", user)
		assert.Equal(t, "secret", pass)
		w.WriteHeader(http.StatusOK)
	}))
	c.user = "admin"
	c.password = "secret"

	require.NoError(t, c.Get(context.Background(), "/v2/compute/version", nil))
}

func TestClientClassifiesStatusCodes(t *testing.T) {
	tests := []struct {
		status int
		kind   ErrorKind
	}{
		{http.StatusConflict, KindConflict},
		{http.StatusInternalServerError, KindDriver},
		{http.StatusGatewayTimeout, KindTimeout},
		{http.StatusNotFound, KindProtocol},
	}

	for _, tt := range tests {
		c := clientFor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
			_, _ = w.Write([]byte(`{"message":"it broke"}`))
		}))

		err := c.Post(context.Background(), "/v2/compute/projects", map[string]any{}, nil)
		var cerr *Error
		require.ErrorAs(t, err, &cerr, "status %d", tt.status)
		assert.Equal(t, tt.kind, cerr.Kind, "status %d", tt.status)
		assert.Equal(t, tt.status, cerr.StatusCode)
		assert.Contains(t, cerr.Message, "it broke")
	}
}

func TestClientNetworkError(t *testing.T) {
	// Nothing listens on this port.
	c := NewClient("c1", "http", "127.0.0.1", 1, "", "")

	err := c.Get(context.Background(), "/v2/compute/version", nil)
	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, KindNetwork, cerr.Kind)
	assert.True(t, cerr.Unreachable())
}

func TestClientTimeout(t *testing.T) {
	c := clientFor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	c.httpClient.Timeout = 50 * time.Millisecond

	err := c.Get(context.Background(), "/v2/compute/version", nil)
	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, KindTimeout, cerr.Kind)
}

func TestClientForwardPreservesHeaders(t *testing.T) {
	c := clientFor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "bytes=0-99", r.Header.Get("Range"))
		w.WriteHeader(http.StatusPartialContent)
	}))

	header := http.Header{}
	header.Set("Range", "bytes=0-99")
	resp, err := c.Forward(context.Background(), http.MethodGet, "/v2/compute/capture/stream", nil, header, true)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusPartialContent, resp.StatusCode)
}

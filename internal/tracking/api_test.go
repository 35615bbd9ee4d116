package tracking

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tokenFunc func(context.Context) string

func (f tokenFunc) Token(ctx context.Context) string { return f(ctx) }

func TestClient_StatusMapping(t *testing.T) {
	tests := []struct {
		status   int
		sentinel error
	}{
		{http.StatusBadRequest, ErrRejected},
		{http.StatusUnauthorized, ErrRejected},
		{http.StatusNotFound, ErrNotFound},
		{http.StatusConflict, ErrConflict},
		{http.StatusInternalServerError, ErrServer},
		{http.StatusServiceUnavailable, ErrServer},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				writeError(w, tt.status, "nope")
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL, time.Second, nil).Heartbeat(context.Background(), "abc")
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.sentinel))

			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.status, apiErr.Status)
			assert.Equal(t, "nope", apiErr.Message)
			assert.Equal(t, "heartbeat", apiErr.Op)
		})
	}
}

func TestClient_BearerToken(t *testing.T) {
	api := newFakeAPI(t)
	c := api.client()
	c.tokens = tokenFunc(func(context.Context) string { return "tok-123" })

	require.NoError(t, c.CreateSession(context.Background(), "7a1c8f5e-0d5b-4c6e-9d47-3f7f7b6a2c01"))

	reqs := api.requestsTo(http.MethodPost, "/sessions")
	require.Len(t, reqs, 1)
	assert.Equal(t, "Bearer tok-123", reqs[0].Auth)
	assert.JSONEq(t, `{"sessionId":"7a1c8f5e-0d5b-4c6e-9d47-3f7f7b6a2c01"}`, string(reqs[0].Body))
}

func TestClient_AnonymousHasNoAuthHeader(t *testing.T) {
	api := newFakeAPI(t)
	c := api.client()
	c.tokens = tokenFunc(func(context.Context) string { return "" })

	require.NoError(t, c.MarkContentEngaged(context.Background(), "abc"))
	reqs := api.requestsTo(http.MethodPatch, "/sessions/abc/content-engaged")
	require.Len(t, reqs, 1)
	assert.Empty(t, reqs[0].Auth)
}

func TestClient_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := NewClient(url, time.Second, nil).CreateSession(context.Background(), "abc")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestClient_BadResponse(t *testing.T) {
	tests := map[string]string{
		"not json":     "<html>oops</html>",
		"missing data": `{"success":true}`,
		"wrong shape":  `{"success":true,"data":"text"}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(body))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL, time.Second, nil).Heartbeat(context.Background(), "abc")
			assert.ErrorIs(t, err, ErrBadResponse)
		})
	}
}

func TestClient_CreateSessionAcceptsOK(t *testing.T) {
	api := newFakeAPI(t)
	api.set(func(f *fakeAPI) { f.createStatus = http.StatusOK })

	assert.NoError(t, api.client().CreateSession(context.Background(), "abc"))
}

package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	method string
	path   string
	body   string
	auth   string
}

func newTestServer(t *testing.T, status int) (*httptest.Server, *[]recordedRequest) {
	t.Helper()
	var got []recordedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		got = append(got, recordedRequest{r.Method, r.URL.Path, string(b), r.Header.Get("Authorization")})
		w.WriteHeader(status)
		if status >= 300 {
			_, _ = w.Write([]byte("quota exceeded"))
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func TestHTTPClient_Verbs(t *testing.T) {
	srv, got := newTestServer(t, http.StatusOK)
	c := NewHTTPClient(srv.URL+"/", "", "secret", time.Second)
	ctx := context.Background()

	require.NoError(t, c.Create(ctx, "/orders", map[string]any{"customer_name": "Jane"}))
	require.NoError(t, c.Replace(ctx, "/orders/o123", json.RawMessage(`{"customer_name":"Jane"}`)))
	require.NoError(t, c.Delete(ctx, "/orders/o123"))
	require.NoError(t, c.Ping(ctx))

	require.Len(t, *got, 4)
	assert.Equal(t, http.MethodPost, (*got)[0].method)
	assert.Equal(t, "/orders", (*got)[0].path)
	assert.JSONEq(t, `{"customer_name":"Jane"}`, (*got)[0].body)
	assert.Equal(t, "Bearer secret", (*got)[0].auth)

	assert.Equal(t, http.MethodPut, (*got)[1].method)
	assert.Equal(t, "/orders/o123", (*got)[1].path)
	assert.JSONEq(t, `{"customer_name":"Jane"}`, (*got)[1].body)

	assert.Equal(t, http.MethodDelete, (*got)[2].method)
	assert.Empty(t, (*got)[2].body)

	assert.Equal(t, http.MethodGet, (*got)[3].method)
	assert.Equal(t, "/health", (*got)[3].path)
}

func TestHTTPClient_NonSuccessIsError(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusInsufficientStorage)
	c := NewHTTPClient(srv.URL, "/health", "", time.Second)

	err := c.Create(context.Background(), "/orders", map[string]any{})
	require.Error(t, err)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusInsufficientStorage, statusErr.StatusCode)
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestHTTPClient_Unreachable(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusOK)
	url := srv.URL
	srv.Close()

	c := NewHTTPClient(url, "/health", "", time.Second)
	assert.Error(t, c.Ping(context.Background()))
}

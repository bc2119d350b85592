package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offline-sync-service/internal/config"
	"offline-sync-service/internal/connectivity"
	"offline-sync-service/internal/remote"
	"offline-sync-service/internal/status"
	"offline-sync-service/internal/store"
	syncmgr "offline-sync-service/internal/sync"
)

type testEnv struct {
	server  *httptest.Server
	manager *syncmgr.Manager

	mu       sync.Mutex
	requests []string
}

func newTestEnv(t *testing.T, online bool) *testEnv {
	t.Helper()
	env := &testEnv{}

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		env.mu.Lock()
		env.requests = append(env.requests, r.Method+" "+r.URL.Path)
		env.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	}))
	t.Cleanup(backend.Close)

	st, err := store.Open(filepath.Join(t.TempDir(), "queue.db"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	client := remote.NewHTTPClient(backend.URL, "/health", "", 5*time.Second)
	monitor := connectivity.NewMonitor(online)
	cfg := config.SyncConfig{MaxRetries: 3, OrdersPath: "/orders", HistoryLimit: 10}
	env.manager = syncmgr.NewManager(cfg, st, client, monitor, status.NewBroadcaster(st))
	require.NoError(t, env.manager.Start())
	t.Cleanup(env.manager.Close)

	h := NewHandler(env.manager, []string{"http://localhost:3000"})
	t.Cleanup(h.Close)

	env.server = httptest.NewServer(h.Routes())
	t.Cleanup(env.server.Close)
	return env
}

func (e *testEnv) backendRequests() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.requests...)
}

func (e *testEnv) do(t *testing.T, method, path, body string) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

const janeJSON = `{"customer_name":"Jane","items":[{"product_id":"p1","quantity":2}]}`

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t, false)
	code, body := env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "OK", string(body))
}

func TestGetStatus(t *testing.T) {
	env := newTestEnv(t, false)

	code, _ := env.do(t, http.MethodPost, "/api/v1/operations", `{"type":"stock","method":"DELETE","path":"/products/p1"}`)
	require.Equal(t, http.StatusCreated, code)

	code, body := env.do(t, http.MethodGet, "/api/v1/status", "")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"isOnline":false,"pendingCount":1,"offlineOrdersCount":0,"totalPending":1,"syncInProgress":false,"failedCount":0}`, string(body))
}

func TestOfflineOrderLifecycle(t *testing.T) {
	env := newTestEnv(t, false)

	code, body := env.do(t, http.MethodPost, "/api/v1/offline-orders", janeJSON)
	require.Equal(t, http.StatusCreated, code, string(body))
	var saved store.OfflineOrder
	require.NoError(t, json.Unmarshal(body, &saved))
	assert.True(t, store.IsTempID(saved.TempID))
	assert.True(t, saved.Offline)
	assert.Equal(t, store.OrderPendingSync, saved.Status)

	code, body = env.do(t, http.MethodGet, "/api/v1/offline-orders/"+saved.TempID, "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), `"customer_name":"Jane"`)

	code, body = env.do(t, http.MethodPatch, "/api/v1/offline-orders/"+saved.TempID,
		`{"order":{"customer_name":"Jane","items":[{"product_id":"p1","quantity":5}]}}`)
	require.Equal(t, http.StatusOK, code, string(body))
	var updated store.OfflineOrder
	require.NoError(t, json.Unmarshal(body, &updated))
	assert.Equal(t, 5, updated.Order.Items[0].Quantity)

	code, body = env.do(t, http.MethodGet, "/api/v1/offline-orders", "")
	require.Equal(t, http.StatusOK, code)
	var list []store.OfflineOrder
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Len(t, list, 1)

	code, _ = env.do(t, http.MethodDelete, "/api/v1/offline-orders/"+saved.TempID, "")
	assert.Equal(t, http.StatusNoContent, code)

	code, _ = env.do(t, http.MethodGet, "/api/v1/offline-orders/"+saved.TempID, "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestSaveOfflineOrder_Edit(t *testing.T) {
	env := newTestEnv(t, false)

	code, body := env.do(t, http.MethodPost, "/api/v1/offline-orders",
		`{"customer_name":"Jane","items":[{"product_id":"p1","quantity":1}],"isEdit":true,"originalId":"o123"}`)
	require.Equal(t, http.StatusCreated, code, string(body))
	var saved store.OfflineOrder
	require.NoError(t, json.Unmarshal(body, &saved))
	assert.True(t, saved.IsEdit)
	assert.Equal(t, "o123", saved.OriginalID)
}

func TestBadRequests(t *testing.T) {
	env := newTestEnv(t, false)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"malformed json", http.MethodPost, "/api/v1/offline-orders", `{"customer_name":`, http.StatusBadRequest},
		{"order without items", http.MethodPost, "/api/v1/offline-orders", `{"customer_name":"Jane","items":[]}`, http.StatusBadRequest},
		{"edit without original", http.MethodPost, "/api/v1/offline-orders", `{"customer_name":"Jane","items":[{"product_id":"p1","quantity":1}],"isEdit":true}`, http.StatusBadRequest},
		{"unknown method", http.MethodPost, "/api/v1/operations", `{"method":"PATCH","path":"/x"}`, http.StatusBadRequest},
		{"create without payload", http.MethodPost, "/api/v1/operations", `{"method":"CREATE","path":"/x"}`, http.StatusBadRequest},
		{"connectivity without flag", http.MethodPut, "/api/v1/connectivity", `{}`, http.StatusBadRequest},
		{"patch missing order", http.MethodPatch, "/api/v1/offline-orders/offline_1_abc", `{"status":"PENDING_SYNC"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := env.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, code, string(body))
			assert.Contains(t, string(body), `"error"`)
		})
	}
}

func TestOfflineOrders_RejectUnknownFields(t *testing.T) {
	env := newTestEnv(t, false)

	code, body := env.do(t, http.MethodPost, "/api/v1/offline-orders",
		`{"customer_name":"Jane","customer_phone":"555","total":40,"items":[{"product_id":"p1","quantity":2,"unit":"box"}]}`)
	assert.Equal(t, http.StatusBadRequest, code, string(body))
	assert.Contains(t, string(body), "customer_phone")

	code, body = env.do(t, http.MethodPost, "/api/v1/offline-orders",
		`{"customer_name":"Jane","items":[{"product_id":"p1","quantity":2,"unit":"box"}]}`)
	assert.Equal(t, http.StatusBadRequest, code, string(body))
	assert.Contains(t, string(body), "unit")

	code, body = env.do(t, http.MethodGet, "/api/v1/offline-orders", "")
	require.Equal(t, http.StatusOK, code)
	var list []store.OfflineOrder
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Empty(t, list)

	code, body = env.do(t, http.MethodPost, "/api/v1/offline-orders", janeJSON)
	require.Equal(t, http.StatusCreated, code, string(body))
	var saved store.OfflineOrder
	require.NoError(t, json.Unmarshal(body, &saved))

	code, body = env.do(t, http.MethodPatch, "/api/v1/offline-orders/"+saved.TempID,
		`{"order":{"customer_name":"Jane","items":[{"product_id":"p1","quantity":5}]},"priority":"high"}`)
	assert.Equal(t, http.StatusBadRequest, code, string(body))

	code, body = env.do(t, http.MethodGet, "/api/v1/offline-orders/"+saved.TempID, "")
	require.Equal(t, http.StatusOK, code)
	var unchanged store.OfflineOrder
	require.NoError(t, json.Unmarshal(body, &unchanged))
	assert.Equal(t, saved.Order, unchanged.Order)
}

func TestOperations(t *testing.T) {
	env := newTestEnv(t, false)

	code, body := env.do(t, http.MethodPost, "/api/v1/operations",
		`{"type":"product","method":"CREATE","path":"/products","payload":{"name":"Widget"}}`)
	require.Equal(t, http.StatusCreated, code, string(body))
	assert.JSONEq(t, `{"id":1}`, string(body))

	code, body = env.do(t, http.MethodGet, "/api/v1/operations", "")
	require.Equal(t, http.StatusOK, code)
	var ops []store.PendingOperation
	require.NoError(t, json.Unmarshal(body, &ops))
	require.Len(t, ops, 1)
	assert.Equal(t, store.MethodCreate, ops[0].Method)
	assert.JSONEq(t, `{"name":"Widget"}`, string(ops[0].Payload))

	code, body = env.do(t, http.MethodDelete, "/api/v1/operations/failed", "")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"purged":0}`, string(body))
}

func TestConnectivityTriggersSync(t *testing.T) {
	env := newTestEnv(t, false)

	code, _ := env.do(t, http.MethodPost, "/api/v1/offline-orders", janeJSON)
	require.Equal(t, http.StatusCreated, code)
	code, _ = env.do(t, http.MethodPost, "/api/v1/operations", `{"method":"DELETE","path":"/products/p9"}`)
	require.Equal(t, http.StatusCreated, code)

	code, body := env.do(t, http.MethodPost, "/api/v1/sync/trigger", "")
	require.Equal(t, http.StatusAccepted, code)
	assert.JSONEq(t, `{"started":false}`, string(body))

	code, body = env.do(t, http.MethodPut, "/api/v1/connectivity", `{"online":true}`)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"online":true,"changed":true}`, string(body))

	require.Eventually(t, func() bool {
		_, body := env.do(t, http.MethodGet, "/api/v1/sync/history", "")
		var runs []store.SyncRun
		return json.Unmarshal(body, &runs) == nil && len(runs) == 1
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, []string{"POST /orders", "DELETE /products/p9"}, env.backendRequests())

	code, body = env.do(t, http.MethodGet, "/api/v1/status", "")
	require.Equal(t, http.StatusOK, code)
	var st status.Status
	require.NoError(t, json.Unmarshal(body, &st))
	assert.True(t, st.IsOnline)
	assert.Zero(t, st.TotalPending)
}

func TestCorsPreflight(t *testing.T) {
	env := newTestEnv(t, false)

	req, err := http.NewRequest(http.MethodOptions, env.server.URL+"/api/v1/status", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))

	req.Header.Set("Origin", "http://evil.example")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

type streamMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func TestStatusStream(t *testing.T) {
	env := newTestEnv(t, false)

	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/api/v1/status/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var first streamMessage
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, EventStatus, first.Type)
	var st status.Status
	require.NoError(t, json.Unmarshal(first.Data, &st))
	assert.Zero(t, st.TotalPending)

	code, _ := env.do(t, http.MethodPost, "/api/v1/offline-orders", janeJSON)
	require.Equal(t, http.StatusCreated, code)

	var next streamMessage
	require.NoError(t, conn.ReadJSON(&next))
	assert.Equal(t, EventStatus, next.Type)
	require.NoError(t, json.Unmarshal(next.Data, &st))
	assert.Equal(t, 1, st.OfflineOrdersCount)
}

func TestStatusStream_RejectsForeignOrigin(t *testing.T) {
	env := newTestEnv(t, false)

	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/api/v1/status/stream"
	header := http.Header{"Origin": []string{"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

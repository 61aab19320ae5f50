package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxelforge/fabric/pkg/types"
)

type fakeBackend struct {
	stock    map[string]uint
	agents   []*types.Agent
	jobs     []*types.Job
	requests map[string]*types.Request
	products []*types.Product

	nextID int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		stock:    map[string]uint{"minecraft:coal": 80},
		requests: make(map[string]*types.Request),
	}
}

func (f *fakeBackend) Stock() map[string]uint { return f.stock }
func (f *fakeBackend) Agents() []*types.Agent { return f.agents }
func (f *fakeBackend) Jobs() []*types.Job     { return f.jobs }
func (f *fakeBackend) JobHistory() ([]*types.Job, []*types.Job) {
	return nil, nil
}

func (f *fakeBackend) CreateRequest(item types.ItemKey, qty uint, deliverTo string) (*types.Request, error) {
	f.nextID++
	req := &types.Request{
		ID:        fmt.Sprintf("req_%d", f.nextID),
		Item:      item,
		Qty:       qty,
		DeliverTo: deliverTo,
		Status:    types.RequestStatusPending,
	}
	f.requests[req.ID] = req
	return req, nil
}

func (f *fakeBackend) ListRequests() ([]*types.Request, error) {
	out := make([]*types.Request, 0, len(f.requests))
	for _, r := range f.requests {
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeBackend) GetRequest(id string) (*types.Request, error) {
	r, ok := f.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r, nil
}

func (f *fakeBackend) CancelRequest(id string) error {
	if _, ok := f.requests[id]; !ok {
		return ErrNotFound
	}
	delete(f.requests, id)
	return nil
}

func (f *fakeBackend) Products() ([]*types.Product, error) { return f.products, nil }

func newTestServer(t *testing.T) (*httptest.Server, *fakeBackend) {
	t.Helper()
	backend := newFakeBackend()
	srv := New(":0", backend, zerolog.Nop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, backend
}

func get(t *testing.T, url string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func TestHealthz(t *testing.T) {
	ts, _ := newTestServer(t)

	var body map[string]string
	resp := get(t, ts.URL+"/healthz", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestStockEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	var stock map[string]uint
	resp := get(t, ts.URL+"/api/stock", &stock)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, uint(80), stock["minecraft:coal"])
}

func TestRequestLifecycle(t *testing.T) {
	ts, backend := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/requests", "application/json",
		strings.NewReader(`{"item":"minecraft:crafting_table","qty":2,"deliverTo":"drop_chest"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created types.Request
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.Equal(t, "minecraft:crafting_table", created.Item.BaseID)
	assert.Equal(t, uint(2), created.Qty)
	assert.Equal(t, "drop_chest", created.DeliverTo)

	var got types.Request
	getResp := get(t, ts.URL+"/api/requests/"+created.ID, &got)
	assert.Equal(t, http.StatusOK, getResp.StatusCode)
	assert.Equal(t, created.ID, got.ID)

	var list []*types.Request
	get(t, ts.URL+"/api/requests", &list)
	assert.Len(t, list, 1)

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/requests/"+created.ID, nil)
	require.NoError(t, err)
	delResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer delResp.Body.Close()
	assert.Equal(t, http.StatusNoContent, delResp.StatusCode)
	assert.Empty(t, backend.requests)
}

func TestCreateRequestValidation(t *testing.T) {
	ts, _ := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"item":`},
		{"missing item", `{"qty":2}`},
		{"zero qty", `{"item":"minecraft:coal"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(ts.URL+"/api/requests", "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestUnknownRequestIs404(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := get(t, ts.URL+"/api/requests/req_404", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMetricsExposed(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := get(t, ts.URL+"/metrics", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

package client

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxelforge/fabric/pkg/types"
)

func newTestAPI(t *testing.T) (*Client, *http.ServeMux) {
	t.Helper()
	mux := http.NewServeMux()
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return New(ts.URL), mux
}

func TestStockDecodes(t *testing.T) {
	c, mux := newTestAPI(t)
	mux.HandleFunc("/api/stock", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]uint{"minecraft:coal": 80})
	})

	stock, err := c.Stock()
	require.NoError(t, err)
	assert.Equal(t, uint(80), stock["minecraft:coal"])
}

func TestCreateRequestPostsPayload(t *testing.T) {
	c, mux := newTestAPI(t)
	mux.HandleFunc("/api/requests", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		var body struct {
			Item      string `json:"item"`
			Qty       uint   `json:"qty"`
			DeliverTo string `json:"deliverTo"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "minecraft:piston", body.Item)
		assert.Equal(t, uint(4), body.Qty)
		assert.Equal(t, "drop_chest", body.DeliverTo)

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(&types.Request{
			ID:     "req_1",
			Item:   types.ParseItemKey(body.Item),
			Qty:    body.Qty,
			Status: types.RequestStatusPending,
		})
	})

	req, err := c.CreateRequest("minecraft:piston", 4, "drop_chest")
	require.NoError(t, err)
	assert.Equal(t, "req_1", req.ID)
	assert.Equal(t, "minecraft:piston", req.Item.BaseID)
}

func TestCancelRequestNoContent(t *testing.T) {
	c, mux := newTestAPI(t)
	mux.HandleFunc("/api/requests/req_1", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	assert.NoError(t, c.CancelRequest("req_1"))
}

func TestServerErrorMessageSurfaces(t *testing.T) {
	c, mux := newTestAPI(t)
	mux.HandleFunc("/api/requests/req_404", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "not found"})
	})

	_, err := c.GetRequest("req_404")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestBareHostPortPromotedToURL(t *testing.T) {
	c := New("127.0.0.1:8080")
	assert.Equal(t, "http://127.0.0.1:8080", c.base)
}

func TestJobHistorySplitsBuckets(t *testing.T) {
	c, mux := newTestAPI(t)
	mux.HandleFunc("/api/jobs/history", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"completed": []*types.Job{{ID: 1, Status: types.JobStatusCompleted}},
			"failed":    []*types.Job{{ID: 2, Status: types.JobStatusFailed}},
		})
	})

	completed, failed, err := c.JobHistory()
	require.NoError(t, err)
	require.Len(t, completed, 1)
	require.Len(t, failed, 1)
	assert.Equal(t, int64(1), completed[0].ID)
	assert.Equal(t, int64(2), failed[0].ID)
}

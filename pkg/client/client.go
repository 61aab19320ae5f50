package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/voxelforge/fabric/pkg/types"
)

// DefaultTimeout bounds every API call made by the client.
const DefaultTimeout = 10 * time.Second

// Client talks to a running controller over its JSON API. It exists so
// the CLI subcommands and external tooling share one request surface.
type Client struct {
	base string
	http *http.Client
}

// New creates a client for the controller at addr. A bare host:port is
// promoted to an http URL.
func New(addr string) *Client {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return &Client{
		base: strings.TrimRight(addr, "/"),
		http: &http.Client{Timeout: DefaultTimeout},
	}
}

// Healthy reports whether the controller answers its health probe.
func (c *Client) Healthy() error {
	return c.get("/healthz", nil)
}

// Stock returns the controller's full stock map, item key to count.
func (c *Client) Stock() (map[string]uint, error) {
	var stock map[string]uint
	if err := c.get("/api/stock", &stock); err != nil {
		return nil, err
	}
	return stock, nil
}

// Agents returns every agent the controller has seen.
func (c *Client) Agents() ([]*types.Agent, error) {
	var agents []*types.Agent
	if err := c.get("/api/agents", &agents); err != nil {
		return nil, err
	}
	return agents, nil
}

// Jobs returns the active crafting jobs.
func (c *Client) Jobs() ([]*types.Job, error) {
	var jobs []*types.Job
	if err := c.get("/api/jobs", &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// JobHistory returns the retained completed and failed jobs.
func (c *Client) JobHistory() (completed, failed []*types.Job, err error) {
	var body struct {
		Completed []*types.Job `json:"completed"`
		Failed    []*types.Job `json:"failed"`
	}
	if err := c.get("/api/jobs/history", &body); err != nil {
		return nil, nil, err
	}
	return body.Completed, body.Failed, nil
}

// CreateRequest asks the controller to produce qty of item, optionally
// delivering it to a named container.
func (c *Client) CreateRequest(item string, qty uint, deliverTo string) (*types.Request, error) {
	payload, err := json.Marshal(map[string]any{
		"item":      item,
		"qty":       qty,
		"deliverTo": deliverTo,
	})
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Post(c.base+"/api/requests", "application/json", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return nil, apiError(resp)
	}
	var req types.Request
	if err := json.NewDecoder(resp.Body).Decode(&req); err != nil {
		return nil, err
	}
	return &req, nil
}

// ListRequests returns every live and recently finished request.
func (c *Client) ListRequests() ([]*types.Request, error) {
	var reqs []*types.Request
	if err := c.get("/api/requests", &reqs); err != nil {
		return nil, err
	}
	return reqs, nil
}

// GetRequest fetches a single request by ID.
func (c *Client) GetRequest(id string) (*types.Request, error) {
	var req types.Request
	if err := c.get("/api/requests/"+url.PathEscape(id), &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// CancelRequest cancels a request; jobs already crafting still finish.
func (c *Client) CancelRequest(id string) error {
	httpReq, err := http.NewRequest(http.MethodDelete, c.base+"/api/requests/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return apiError(resp)
	}
	return nil
}

// Products returns the shop catalog.
func (c *Client) Products() ([]*types.Product, error) {
	var products []*types.Product
	if err := c.get("/api/products", &products); err != nil {
		return nil, err
	}
	return products, nil
}

func (c *Client) get(path string, out any) error {
	resp, err := c.http.Get(c.base + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// apiError turns a non-2xx response into an error, preferring the
// server's own error message when the body carries one.
func apiError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return fmt.Errorf("%s: %s", resp.Status, payload.Error)
	}
	return fmt.Errorf("unexpected status %s", resp.Status)
}

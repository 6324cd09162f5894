// Package client is the small library every other service links against to
// register with the cluster registrar and keep a liveness beacon alive
// (spec §4.3).
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/unicornparson/lunaricorn/pkg/cluster"
)

const (
	beaconInterval = 1 * time.Second
	pollInterval   = 500 * time.Millisecond
	requestTimeout = 3 * time.Second
)

// Client wraps the registrar's HTTP API and runs the background beacon loop.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger

	node cluster.BeaconRequest

	mu      sync.Mutex
	stopCh  chan struct{}
	stopped bool
}

// New constructs a Client targeting baseURL (the registrar's address).
func New(baseURL string, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: requestTimeout},
		logger:     logger,
	}
}

// Start polls the registrar's reachability with 500ms retries until ctx is
// done or the registrar responds, sends an initial beacon, then spawns a
// background task that beacons once per second until Stop is called.
func (c *Client) Start(ctx context.Context, node cluster.BeaconRequest) error {
	c.node = node

	if err := c.waitReachable(ctx); err != nil {
		return fmt.Errorf("waiting for registrar: %w", err)
	}
	if err := c.beaconOnce(ctx); err != nil {
		return fmt.Errorf("sending initial beacon: %w", err)
	}

	c.mu.Lock()
	c.stopCh = make(chan struct{})
	c.mu.Unlock()

	go c.beaconLoop()
	return nil
}

// Stop signals the background beacon loop to exit. It returns immediately,
// without waiting for the loop to observe the signal.
func (c *Client) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped || c.stopCh == nil {
		return
	}
	close(c.stopCh)
	c.stopped = true
}

func (c *Client) waitReachable(ctx context.Context) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
		if err == nil {
			resp, err := c.httpClient.Do(req)
			if err == nil {
				_ = resp.Body.Close()
				if resp.StatusCode == http.StatusOK {
					return nil
				}
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) beaconLoop() {
	ticker := time.NewTicker(beaconInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
			if err := c.beaconOnce(ctx); err != nil {
				c.logger.Warn("beacon failed", "error", err)
			}
			cancel()
		}
	}
}

func (c *Client) beaconOnce(ctx context.Context) error {
	return c.post(ctx, "/v1/imalive", c.node, nil)
}

// List returns the registrar's live inventory.
func (c *Client) List(ctx context.Context) (cluster.ListResponse, error) {
	var out cluster.ListResponse
	err := c.get(ctx, "/v1/list", &out)
	return out, err
}

// ClusterInfo returns the registrar's detailed status.
func (c *Client) ClusterInfo(ctx context.Context) (cluster.ClusterInfo, error) {
	var out cluster.ClusterInfo
	err := c.get(ctx, "/v1/clusterinfo", &out)
	return out, err
}

// NextMessageID requests the next cluster-wide message id.
func (c *Client) NextMessageID(ctx context.Context) (int64, error) {
	var out struct {
		MID int64 `json:"mid"`
	}
	err := c.get(ctx, "/v1/utils/get_mid", &out)
	return out.MID, err
}

// NextObjectID requests the next cluster-wide object id.
func (c *Client) NextObjectID(ctx context.Context) (int64, error) {
	var out struct {
		OID int64 `json:"oid"`
	}
	err := c.get(ctx, "/v1/utils/get_oid", &out)
	return out.OID, err
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling registrar: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var msg struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&msg)
		return fmt.Errorf("registrar returned %d: %s", resp.StatusCode, msg.Message)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

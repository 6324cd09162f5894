// Package client is the small library services link against to push events,
// send heartbeats, and subscribe to the signaling bus (spec §4.5).
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

	"github.com/redis/go-redis/v9"

	"github.com/unicornparson/lunaricorn/pkg/signaling"
	"github.com/unicornparson/lunaricorn/pkg/signaling/hub"
)

const (
	heartbeatInterval = 5 * time.Second
	requestTimeout    = 3 * time.Second
)

// Handler is invoked for every received event whose type matches a
// subscription (spec §4.5, watched types incl. the "*" wildcard).
type Handler func(signaling.Event)

// Client wraps the hub's HTTP API and the Redis subscription side.
type Client struct {
	baseURL    string
	httpClient *http.Client
	redis      *redis.Client
	logger     *slog.Logger
	clientID   string

	mu           sync.Mutex
	handlers     map[string][]Handler
	stopCh       chan struct{}
	stopped      bool
	subscription *redis.PubSub
}

// New constructs a Client targeting the hub's HTTP address and an optional
// Redis client for the subscribe side (nil disables subscriptions).
func New(baseURL string, rdb *redis.Client, logger *slog.Logger, clientID string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: requestTimeout},
		redis:      rdb,
		logger:     logger,
		clientID:   clientID,
		handlers:   make(map[string][]Handler),
	}
}

// Push sends an event to the hub, retrying once after a single reconnect if
// the first attempt times out (spec §4.5).
func (c *Client) Push(ctx context.Context, req signaling.PushRequest) (signaling.PushResponse, error) {
	var resp signaling.PushResponse
	err := c.postWithRetry(ctx, "/v1/push", req, &resp)
	return resp, err
}

// Browse queries the hub's event history.
func (c *Client) Browse(ctx context.Context, req signaling.BrowseRequest) ([]signaling.Event, error) {
	var events []signaling.Event
	err := c.postWithRetry(ctx, "/v1/browse", req, &events)
	return events, err
}

// Subscribe registers handler for eventType ("*" matches every type) and, on
// first call, starts the background Redis receiver loop.
func (c *Client) Subscribe(ctx context.Context, eventType string, handler Handler) error {
	c.mu.Lock()
	c.handlers[eventType] = append(c.handlers[eventType], handler)
	alreadyRunning := c.subscription != nil
	c.mu.Unlock()

	if alreadyRunning || c.redis == nil {
		return nil
	}

	sub := c.redis.Subscribe(ctx, hub.PublishChannel)
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribing to signaling channel: %w", err)
	}

	c.mu.Lock()
	c.subscription = sub
	c.mu.Unlock()

	go c.receiveLoop(sub)
	return nil
}

func (c *Client) receiveLoop(sub *redis.PubSub) {
	ch := sub.Channel()
	for msg := range ch {
		var event signaling.Event
		if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
			c.logger.Warn("decoding signaling event", "error", err)
			continue
		}
		c.dispatch(event)
	}
}

func (c *Client) dispatch(event signaling.Event) {
	c.mu.Lock()
	handlers := append([]Handler{}, c.handlers[event.Type]...)
	handlers = append(handlers, c.handlers[signaling.WildcardType]...)
	c.mu.Unlock()

	for _, h := range handlers {
		h(event)
	}
}

// StartHeartbeat spawns a background task that sends a heartbeat once every
// heartbeatInterval until ctx is done or Stop is called.
func (c *Client) StartHeartbeat(ctx context.Context) {
	c.mu.Lock()
	if c.stopCh == nil {
		c.stopCh = make(chan struct{})
	}
	c.mu.Unlock()

	go func() {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-ticker.C:
				hbCtx, cancel := context.WithTimeout(ctx, requestTimeout)
				if err := c.heartbeatOnce(hbCtx); err != nil {
					c.logger.Warn("heartbeat failed", "error", err)
				}
				cancel()
			}
		}
	}()
}

// Stop ends the background heartbeat loop and closes the subscription, if
// any.
func (c *Client) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.stopped && c.stopCh != nil {
		close(c.stopCh)
		c.stopped = true
	}
	if c.subscription != nil {
		_ = c.subscription.Close()
		c.subscription = nil
	}
}

func (c *Client) heartbeatOnce(ctx context.Context) error {
	req := signaling.HeartbeatRequest{Type: "heartbeat", ClientID: c.clientID}
	return c.postWithRetry(ctx, "/v1/heartbeat", req, nil)
}

// postWithRetry posts body to path, retrying exactly once if the first
// attempt fails outright (connection refused, timeout) — never on a
// well-formed error response from the hub.
func (c *Client) postWithRetry(ctx context.Context, path string, body, out any) error {
	err := c.post(ctx, path, body, out)
	if err == nil {
		return nil
	}
	if _, ok := err.(*hubError); ok {
		return err
	}
	return c.post(ctx, path, body, out)
}

type hubError struct {
	status  int
	message string
}

func (e *hubError) Error() string {
	return fmt.Sprintf("hub returned %d: %s", e.status, e.message)
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

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling hub: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var msg struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&msg)
		return &hubError{status: resp.StatusCode, message: msg.Message}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

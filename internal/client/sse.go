package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/mediafs/internal/events"
	"github.com/fruitsalade/mediafs/internal/logging"
)

// SSEClient follows the server's event stream and reconnects with backoff.
type SSEClient struct {
	baseURL      string
	httpClient   *http.Client
	reconnectMin time.Duration
	reconnectMax time.Duration
	mu           sync.RWMutex
	authToken    string
}

// NewSSEClient creates a new SSE client.
func NewSSEClient(baseURL string) *SSEClient {
	return &SSEClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 0, // No timeout for SSE
		},
		reconnectMin: 1 * time.Second,
		reconnectMax: 30 * time.Second,
	}
}

// SetAuthToken sets the JWT auth token for SSE requests.
func (c *SSEClient) SetAuthToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authToken = token
}

// Subscribe connects to the event stream and returns a channel of events.
// Both channels close when ctx is done.
func (c *SSEClient) Subscribe(ctx context.Context) (<-chan events.Event, <-chan error) {
	out := make(chan events.Event, 100)
	errs := make(chan error, 1)

	go c.subscribeLoop(ctx, out, errs)

	return out, errs
}

func (c *SSEClient) subscribeLoop(ctx context.Context, out chan<- events.Event, errs chan<- error) {
	defer close(out)
	defer close(errs)

	reconnectDelay := c.reconnectMin

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		connected, err := c.connect(ctx, out)
		if ctx.Err() != nil {
			return
		}
		if connected {
			reconnectDelay = c.reconnectMin
		}

		logging.Warn("event stream interrupted",
			zap.Error(err),
			zap.Duration("reconnect_in", reconnectDelay))
		select {
		case errs <- err:
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}

		reconnectDelay = min(reconnectDelay*2, c.reconnectMax)
	}
}

// connect reads one stream until it ends. connected reports whether the
// server accepted the subscription.
func (c *SSEClient) connect(ctx context.Context, out chan<- events.Event) (connected bool, err error) {
	url := c.baseURL + "/api/v1/events"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	c.mu.RLock()
	token := c.authToken
	c.mu.RUnlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("connect: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("server returned %d", resp.StatusCode)
	}

	logging.Debug("event stream connected", zap.String("url", url))

	scanner := bufio.NewScanner(resp.Body)
	var eventType, data string

	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			if data != "" {
				var event events.Event
				if err := json.Unmarshal([]byte(data), &event); err != nil {
					logging.Debug("malformed event dropped", zap.Error(err))
				} else {
					if event.Type == "" {
						event.Type = eventType
					}
					select {
					case out <- event:
					case <-ctx.Done():
						return true, ctx.Err()
					}
				}
			}
			eventType, data = "", ""
			continue
		}

		switch {
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}

	if err := scanner.Err(); err != nil {
		return true, fmt.Errorf("read: %w", err)
	}

	return true, fmt.Errorf("connection closed")
}

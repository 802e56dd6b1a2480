// Package client provides an HTTP client for the media API with retry,
// online tracking and auth.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/mediafs/internal/logging"
	"github.com/fruitsalade/mediafs/internal/protocol"
	"github.com/fruitsalade/mediafs/internal/retry"
	"github.com/fruitsalade/mediafs/internal/vfs"
)

// Client talks to a media server.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	retryConfig retry.Config

	mu        sync.RWMutex
	online    bool
	authToken string
}

// Config holds client configuration.
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	RetryConfig retry.Config
	AuthToken   string
}

// New creates a new client.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.RetryConfig.MaxAttempts == 0 {
		cfg.RetryConfig = retry.DefaultConfig()
	}

	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		retryConfig: cfg.RetryConfig,
		online:      true,
		authToken:   cfg.AuthToken,
	}
}

// SetAuthToken sets the JWT auth token for requests.
func (c *Client) SetAuthToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authToken = token
}

func (c *Client) applyAuth(req *http.Request) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
}

// IsOnline returns true if the server was reachable on the last call.
func (c *Client) IsOnline() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.online
}

func (c *Client) setOnline(online bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.online != online {
		if online {
			logging.Info("media server is back online", zap.String("url", c.baseURL))
		} else {
			logging.Warn("media server is offline", zap.String("url", c.baseURL))
		}
	}
	c.online = online
}

// APIError is a non-2xx answer from the server. RequestID, when the server
// sent one, finds the matching server log entries.
type APIError struct {
	StatusCode int
	Message    string
	Details    string
	RequestID  string
}

func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%d %s: %s", e.StatusCode, e.Message, e.Details)
	}
	return fmt.Sprintf("%d %s", e.StatusCode, e.Message)
}

// StatusCode returns the HTTP status of an *APIError in err's chain, or 0.
func StatusCode(err error) int {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.StatusCode
	}
	return 0
}

// IsConflict reports whether err is a 409 (the name is already taken).
func IsConflict(err error) bool {
	return StatusCode(err) == http.StatusConflict
}

// Ping checks if the server is reachable.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.setOnline(false)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.setOnline(false)
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}

	c.setOnline(true)
	return nil
}

// send performs one request. Network errors and 5xx answers come back
// wrapped as retryable.
func (c *Client) send(ctx context.Context, method, path string, body io.Reader, contentType string, want int, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	c.applyAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.setOnline(false)
		return retry.Retryable(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
			RequestID:  resp.Header.Get(logging.RequestIDHeader),
		}
		var errResp protocol.ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&errResp) == nil {
			apiErr.Message = errResp.Error
			apiErr.Details = errResp.Details
			if errResp.RequestID != "" {
				apiErr.RequestID = errResp.RequestID
			}
		}
		if resp.StatusCode >= 500 {
			c.setOnline(false)
			return retry.Retryable(apiErr)
		}
		c.setOnline(true)
		return apiErr
	}

	c.setOnline(true)
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// get retries; reads are idempotent.
func (c *Client) get(ctx context.Context, path string, out any) error {
	return retry.Do(ctx, c.retryConfig, func() error {
		return c.send(ctx, http.MethodGet, path, nil, "", http.StatusOK, out)
	})
}

// post is attempted once; a retried write could act twice.
func (c *Client) post(ctx context.Context, path string, in any, want int, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return c.send(ctx, http.MethodPost, path, bytes.NewReader(data), "application/json", want, out)
}

func escapePath(p vfs.Path) string {
	s := strings.TrimPrefix(p.String(), "/")
	segs := strings.Split(s, "/")
	for i, seg := range segs {
		segs[i] = url.PathEscape(seg)
	}
	return strings.Join(segs, "/")
}

// List lists one folder. It also moves the caller's server-side selection
// onto that folder.
func (c *Client) List(ctx context.Context, folder vfs.Path) (*protocol.ListResponse, error) {
	var out protocol.ListResponse
	if err := c.get(ctx, "/api/v1/media/list/"+escapePath(folder), &out); err != nil {
		return nil, fmt.Errorf("list %s: %w", folder, err)
	}
	return &out, nil
}

// Usage returns the recursive size of folder.
func (c *Client) Usage(ctx context.Context, folder vfs.Path) (*vfs.Usage, error) {
	var out vfs.Usage
	if err := c.get(ctx, "/api/v1/media/usage/"+escapePath(folder), &out); err != nil {
		return nil, fmt.Errorf("usage %s: %w", folder, err)
	}
	return &out, nil
}

// Presets returns the optimization presets the server offers.
func (c *Client) Presets(ctx context.Context) (*protocol.PresetsResponse, error) {
	var out protocol.PresetsResponse
	if err := c.get(ctx, "/api/v1/media/presets", &out); err != nil {
		return nil, fmt.Errorf("presets: %w", err)
	}
	return &out, nil
}

// CreateFolder creates parent/name.
func (c *Client) CreateFolder(ctx context.Context, parent vfs.Path, name string) (*vfs.FolderEntry, error) {
	var out vfs.FolderEntry
	req := protocol.CreateFolderRequest{Parent: parent, Name: name}
	if err := c.post(ctx, "/api/v1/media/folders", req, http.StatusCreated, &out); err != nil {
		return nil, fmt.Errorf("create folder %s in %s: %w", name, parent, err)
	}
	return &out, nil
}

// UploadFile is one file of an upload batch.
type UploadFile struct {
	Name string
	Data []byte
}

// Upload sends files into folder as one batch. An empty preset uses the
// server default. Per-file outcomes are in the response.
func (c *Client) Upload(ctx context.Context, folder vfs.Path, preset string, files []UploadFile) (*protocol.BatchResponse, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if preset != "" {
		if err := mw.WriteField("preset", preset); err != nil {
			return nil, err
		}
	}
	for _, f := range files {
		fw, err := mw.CreateFormFile("files", f.Name)
		if err != nil {
			return nil, err
		}
		if _, err := fw.Write(f.Data); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	var out protocol.BatchResponse
	err := c.send(ctx, http.MethodPost, "/api/v1/media/upload/"+escapePath(folder), &buf, mw.FormDataContentType(), http.StatusOK, &out)
	if err != nil {
		return nil, fmt.Errorf("upload to %s: %w", folder, err)
	}
	return &out, nil
}

// Rename renames one item and returns its new path.
func (c *Client) Rename(ctx context.Context, item vfs.Item, newName string) (vfs.Path, error) {
	var out protocol.RenameResponse
	req := protocol.RenameRequest{Path: item.Path, Kind: item.Kind, Name: newName}
	if err := c.post(ctx, "/api/v1/media/rename", req, http.StatusOK, &out); err != nil {
		return vfs.Root, fmt.Errorf("rename %s: %w", item.Path, err)
	}
	return out.NewPath, nil
}

// Move moves items into destination.
func (c *Client) Move(ctx context.Context, items []vfs.MoveItem, destination vfs.Path) (*protocol.BatchResponse, error) {
	var out protocol.BatchResponse
	req := protocol.MoveRequest{Items: items, Destination: destination}
	if err := c.post(ctx, "/api/v1/media/move", req, http.StatusOK, &out); err != nil {
		return nil, fmt.Errorf("move to %s: %w", destination, err)
	}
	return &out, nil
}

// Delete deletes items, folders recursively.
func (c *Client) Delete(ctx context.Context, items []vfs.Item) (*protocol.BatchResponse, error) {
	return c.delete(ctx, protocol.DeleteRequest{Items: items})
}

// DeleteSelection deletes whatever is selected in the last listed folder.
func (c *Client) DeleteSelection(ctx context.Context) (*protocol.BatchResponse, error) {
	return c.delete(ctx, protocol.DeleteRequest{Selection: true})
}

func (c *Client) delete(ctx context.Context, req protocol.DeleteRequest) (*protocol.BatchResponse, error) {
	var out protocol.BatchResponse
	if err := c.post(ctx, "/api/v1/media/delete", req, http.StatusOK, &out); err != nil {
		return nil, fmt.Errorf("delete: %w", err)
	}
	return &out, nil
}

// Select applies a selection action (toggle, all, clear) to the caller's
// folder selection. p is only used by toggle.
func (c *Client) Select(ctx context.Context, action string, p vfs.Path) (*protocol.SelectionResponse, error) {
	var out protocol.SelectionResponse
	req := protocol.SelectionRequest{Action: action, Path: p}
	if err := c.post(ctx, "/api/v1/media/selection", req, http.StatusOK, &out); err != nil {
		return nil, fmt.Errorf("selection %s: %w", action, err)
	}
	return &out, nil
}

// Pick lists a folder for the gallery picker and applies req.Toggle.
func (c *Client) Pick(ctx context.Context, req protocol.PickerRequest) (*protocol.PickerResponse, error) {
	var out protocol.PickerResponse
	if err := c.post(ctx, "/api/v1/media/picker", req, http.StatusOK, &out); err != nil {
		return nil, fmt.Errorf("picker %s: %w", req.Folder, err)
	}
	return &out, nil
}

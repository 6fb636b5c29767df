// Package api is the client's transport to the server: JSON calls for
// accounts, sync and message operations, and a websocket subscription for
// live delta notifications.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/wirechat/internal/common"
	"github.com/dmitrijs2005/wirechat/internal/model"
	"github.com/gorilla/websocket"
)

// Client calls the server's HTTP API. The access token is set once after
// login and attached to every authenticated request.
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu    sync.RWMutex
	token string
}

// New constructs a Client for the given server base URL.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{baseURL: strings.TrimSuffix(baseURL, "/"), httpClient: httpClient}
}

// SetToken stores the access token used for authenticated calls.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// Token returns the stored access token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

// Register creates an account and stores the returned token.
func (c *Client) Register(ctx context.Context, username, password string) error {
	var resp tokenResponse
	if err := c.post(ctx, "/api/register", credentials{Username: username, Password: password}, &resp); err != nil {
		return err
	}
	c.SetToken(resp.Token)
	return nil
}

// Login authenticates and stores the returned token.
func (c *Client) Login(ctx context.Context, username, password string) error {
	var resp tokenResponse
	if err := c.post(ctx, "/api/login", credentials{Username: username, Password: password}, &resp); err != nil {
		return err
	}
	c.SetToken(resp.Token)
	return nil
}

// Sync pushes the given changes and returns the delta past cursor.
func (c *Client) Sync(ctx context.Context, cursor int64, changes map[model.Kind][]model.Change) (*model.SyncResponse, error) {
	var resp model.SyncResponse
	err := c.post(ctx, "/api/sync", model.SyncRequest{Cursor: cursor, Changes: changes}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// Pull fetches the delta past cursor without pushing any local changes.
func (c *Client) Pull(ctx context.Context, cursor int64) (*model.SyncResponse, error) {
	url := c.baseURL + "/api/sync?cursor=" + strconv.FormatInt(cursor, 10)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode == http.StatusUnauthorized {
		return nil, common.ErrUnauthenticated
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, apiError(httpResp)
	}

	var resp model.SyncResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &resp, nil
}

// ExchangeRequest mirrors the server's message endpoint request body.
type ExchangeRequest struct {
	ChatID        string `json:"chatId,omitempty"`
	Content       string `json:"content"`
	ModelConfigID string `json:"modelConfigId"`
}

// ExchangeResult mirrors the server's message endpoint response body.
type ExchangeResult struct {
	ChatID             string `json:"chatId"`
	UserMessageID      string `json:"userMessageId"`
	AssistantMessageID string `json:"assistantMessageId"`
	StreamID           string `json:"streamId"`
}

// SendMessage starts a generation exchange.
func (c *Client) SendMessage(ctx context.Context, req ExchangeRequest) (*ExchangeResult, error) {
	var res ExchangeResult
	if err := c.post(ctx, "/api/messages", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// CancelMessage stops an in-flight generation.
func (c *Client) CancelMessage(ctx context.Context, messageID string) error {
	return c.post(ctx, "/api/messages/cancel", map[string]string{"messageId": messageID}, nil)
}

// EditMessage rewrites a user message and regenerates from it.
func (c *Client) EditMessage(ctx context.Context, messageID, content, modelConfigID string) (*ExchangeResult, error) {
	var res ExchangeResult
	err := c.post(ctx, "/api/messages/edit", map[string]string{
		"messageId": messageID, "content": content, "modelConfigId": modelConfigID,
	}, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// Live subscribes over websocket and blocks until the server pushes the next
// delta past cursor, then returns it. The server closes the connection after
// one delta; the caller commits and resubscribes.
func (c *Client) Live(ctx context.Context, cursor int64) (*model.SyncResponse, error) {
	wsURL := strings.Replace(c.baseURL, "http", "ws", 1) +
		"/api/live?cursor=" + strconv.FormatInt(cursor, 10)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.Token())

	conn, httpResp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if httpResp != nil && httpResp.StatusCode == http.StatusUnauthorized {
			return nil, common.ErrUnauthenticated
		}
		return nil, fmt.Errorf("live dial: %w", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	var resp model.SyncResponse
	if err := conn.ReadJSON(&resp); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("live read: %w", err)
	}
	return &resp, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return common.ErrUnauthenticated
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apiError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func apiError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var parsed struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Error != "" {
		return fmt.Errorf("server status %d: %s", resp.StatusCode, parsed.Error)
	}
	return fmt.Errorf("server status %d", resp.StatusCode)
}

// Package fleet drives the HTTP API of remote boxvpsd nodes so a single
// control host can manage accounts across a group of servers.
package fleet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/boxvps/boxvpsd/internal/domain"
)

// Account is the wire representation the node API returns.
type Account struct {
	ID          string    `json:"id"`
	Protocol    string    `json:"protocol"`
	State       string    `json:"state"`
	UUID        string    `json:"uuid,omitempty"`
	QuotaBytes  int64     `json:"quota_bytes"`
	QuotaLogins int       `json:"quota_logins"`
	UsageBytes  int64     `json:"usage_bytes"`
	UsageLogins int       `json:"usage_logins"`
	ExpiresAt   time.Time `json:"expires_at,omitzero"`
	CreatedAt   time.Time `json:"created_at"`
}

type NodeStatus struct {
	Account   Account `json:"account"`
	Sessions  int     `json:"sessions"`
	Reachable bool    `json:"reachable"`
}

type CreateRequest struct {
	ID          string    `json:"id"`
	Protocol    string    `json:"protocol"`
	Password    string    `json:"password,omitempty"`
	QuotaBytes  int64     `json:"quota_bytes,omitempty"`
	QuotaLogins int       `json:"quota_logins,omitempty"`
	ExpiresAt   time.Time `json:"expires_at,omitzero"`
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(server domain.Server) *Client {
	return &Client{
		baseURL: strings.TrimRight(server.APIEndpoint, "/"),
		token:   server.AuthToken,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *Client) CreateAccount(ctx context.Context, req CreateRequest) (Account, error) {
	var out Account
	err := c.call(ctx, http.MethodPost, "/api/users", req, &out)
	return out, err
}

func (c *Client) DeleteAccount(ctx context.Context, id string) error {
	return c.call(ctx, http.MethodDelete, "/api/users/"+id, nil, nil)
}

func (c *Client) GetAccount(ctx context.Context, id string) (Account, error) {
	var out Account
	err := c.call(ctx, http.MethodGet, "/api/users/"+id, nil, &out)
	return out, err
}

func (c *Client) ListAccounts(ctx context.Context) ([]Account, error) {
	var out []Account
	err := c.call(ctx, http.MethodGet, "/api/users", nil, &out)
	return out, err
}

func (c *Client) LockAccount(ctx context.Context, id string) (Account, error) {
	var out Account
	err := c.call(ctx, http.MethodPost, "/api/users/"+id+"/lock", nil, &out)
	return out, err
}

func (c *Client) UnlockAccount(ctx context.Context, id string) (Account, error) {
	var out Account
	err := c.call(ctx, http.MethodPost, "/api/users/"+id+"/unlock", nil, &out)
	return out, err
}

func (c *Client) RenewAccount(ctx context.Context, id string, until time.Time) (Account, error) {
	var out Account
	err := c.call(ctx, http.MethodPost, "/api/users/"+id+"/renew", map[string]time.Time{"until": until}, &out)
	return out, err
}

func (c *Client) Status(ctx context.Context) ([]NodeStatus, error) {
	var out []NodeStatus
	err := c.call(ctx, http.MethodGet, "/api/status", nil, &out)
	return out, err
}

func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("call node: %w: %v", domain.ErrAdapterUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeAPIError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// decodeAPIError maps the node's status codes back onto the sentinel
// errors the caller already handles locally.
func decodeAPIError(resp *http.Response) error {
	var payload struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&payload)
	if payload.Error == "" {
		payload.Error = resp.Status
	}

	switch resp.StatusCode {
	case http.StatusBadRequest:
		return fmt.Errorf("%s: %w", payload.Error, domain.ErrValidation)
	case http.StatusNotFound:
		return fmt.Errorf("%s: %w", payload.Error, domain.ErrNotFound)
	case http.StatusConflict:
		return fmt.Errorf("%s: %w", payload.Error, domain.ErrConflict)
	case http.StatusServiceUnavailable:
		return fmt.Errorf("%s: %w", payload.Error, domain.ErrAdapterUnavailable)
	default:
		return fmt.Errorf("node returned %s: %s", resp.Status, payload.Error)
	}
}

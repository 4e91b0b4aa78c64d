package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/janekbaraniewski/reqwatch/internal/core"
)

type Client struct {
	SocketPath string
	http       *http.Client
}

func NewClient(socketPath string) *Client {
	dialer := &net.Dialer{Timeout: 2 * time.Second}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			return dialer.DialContext(ctx, "unix", socketPath)
		},
		DisableCompression: true,
		DisableKeepAlives:  true,
	}
	return &Client{
		SocketPath: socketPath,
		http: &http.Client{
			Transport: transport,
			Timeout:   12 * time.Second,
		},
	}
}

func (c *Client) HealthInfo(ctx context.Context) (HealthResponse, error) {
	if c == nil || strings.TrimSpace(c.SocketPath) == "" {
		return HealthResponse{}, fmt.Errorf("daemon client is not configured")
	}
	var out HealthResponse
	if err := c.get(ctx, "/healthz", &out); err != nil {
		return HealthResponse{}, err
	}
	if strings.TrimSpace(out.Status) == "" {
		out.Status = "ok"
	}
	return out, nil
}

func (c *Client) Status(ctx context.Context) (StatusResponse, error) {
	var out StatusResponse
	err := c.get(ctx, "/v1/status", &out)
	return out, err
}

func (c *Client) Usage(ctx context.Context) (core.UsageResult, error) {
	var out core.UsageResult
	err := c.get(ctx, "/v1/usage", &out)
	return out, err
}

func (c *Client) TriggerRefresh(ctx context.Context) (RefreshResponse, error) {
	var out RefreshResponse
	err := c.post(ctx, "/v1/refresh", &out)
	return out, err
}

func (c *Client) Login(ctx context.Context) (ActionResponse, error) {
	var out ActionResponse
	err := c.post(ctx, "/v1/login", &out)
	return out, err
}

func (c *Client) Logout(ctx context.Context) (ActionResponse, error) {
	var out ActionResponse
	err := c.post(ctx, "/v1/logout", &out)
	return out, err
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, out)
}

func (c *Client) post(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodPost, path, out)
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	if c == nil || strings.TrimSpace(c.SocketPath) == "" {
		return errDaemonUnavailable
	}
	req, err := http.NewRequestWithContext(ctx, method, "http://unix"+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", errDaemonUnavailable, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("daemon %s %s: %s", method, path, strings.TrimSpace(string(body)))
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode daemon %s response: %w", path, err)
	}
	return nil
}

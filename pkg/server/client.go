package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/jiayi-1994/piesss-binder/pkg/binding"
	"github.com/jiayi-1994/piesss-binder/pkg/segment"
	"github.com/jiayi-1994/piesss-binder/pkg/types"
)

const (
	// ClientTimeout is longer than RequestTimeout so the server gives up first
	ClientTimeout = 120 * time.Second

	// ConnectTimeout is the timeout for dialing the socket
	ConnectTimeout = 5 * time.Second

	// maxDialRetries bounds retries while the binder is restarting
	maxDialRetries = 3
)

// APIError is a non-2xx response from the binding API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binder returned %d: %s", e.StatusCode, e.Message)
}

// IsConflict reports a 409 response: no capacity, segment in use or no
// tenant segment available.
func IsConflict(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict
}

// IsNotFound reports a 404 response.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client talks to the binding API over its Unix socket.
type Client struct {
	socketPath string
	httpClient *http.Client
}

// NewClient creates a Client. An empty socketPath uses the default path.
func NewClient(socketPath string) *Client {
	if socketPath == "" {
		socketPath = types.DefaultSocketPath
	}

	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			dialer := net.Dialer{Timeout: ConnectTimeout}
			return dialer.DialContext(ctx, "unix", socketPath)
		},
	}

	return &Client{
		socketPath: socketPath,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   ClientTimeout,
		},
	}
}

// do sends one request. Only dial failures are retried; once the request
// reached the server it is never resent.
func (c *Client) do(ctx context.Context, method, path string, body interface{}) (*Response, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	var httpResp *http.Response
	send := func() error {
		// the host is ignored by the unix transport
		httpReq, err := http.NewRequestWithContext(ctx, method, "http://localhost"+path, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create HTTP request: %w", err))
		}
		httpReq.Header.Set("Content-Type", "application/json")

		httpResp, err = c.httpClient.Do(httpReq)
		if err != nil {
			var opErr *net.OpError
			if errors.As(err, &opErr) && opErr.Op == "dial" {
				return err
			}
			return backoff.Permanent(err)
		}
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxDialRetries), ctx)
	if err := backoff.Retry(send, b); err != nil {
		return nil, fmt.Errorf("failed to send request to binder at %s: %w", c.socketPath, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var resp Response
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if httpResp.StatusCode/100 != 2 {
		msg := resp.Error
		if msg == "" {
			msg = http.StatusText(httpResp.StatusCode)
		}
		return &resp, &APIError{StatusCode: httpResp.StatusCode, Message: msg}
	}
	return &resp, nil
}

// Bind asks the binder to bind a port. On a bind failure the returned
// outcome is still set when the server produced one.
func (c *Client) Bind(ctx context.Context, req binding.BindRequest) (*binding.Outcome, error) {
	resp, err := c.do(ctx, http.MethodPost, BindPath, req)
	if resp == nil {
		return nil, err
	}
	return resp.Outcome, err
}

// Unbind releases the bandwidth of a port.
func (c *Client) Unbind(ctx context.Context, portID string) (bool, error) {
	resp, err := c.do(ctx, http.MethodPost, UnbindPath, &UnbindRequest{PortID: portID})
	if err != nil {
		return false, err
	}
	return resp.Released != nil && *resp.Released, nil
}

// CheckSegment asks whether the binder can bind on seg.
func (c *Client) CheckSegment(ctx context.Context, seg segment.Segment) (bool, error) {
	resp, err := c.do(ctx, http.MethodPost, CheckSegmentPath, seg)
	if err != nil {
		return false, err
	}
	return resp.Applicable != nil && *resp.Applicable, nil
}

// ValidateSegment validates a provider segment.
func (c *Client) ValidateSegment(ctx context.Context, seg segment.Segment) error {
	_, err := c.do(ctx, http.MethodPost, ValidateSegmentPath, seg)
	return err
}

// ReserveSegment reserves a provider segment.
func (c *Client) ReserveSegment(ctx context.Context, seg segment.Segment) error {
	_, err := c.do(ctx, http.MethodPost, ReserveSegmentPath, seg)
	return err
}

// ReleaseSegment releases a segment.
func (c *Client) ReleaseSegment(ctx context.Context, seg segment.Segment) error {
	_, err := c.do(ctx, http.MethodPost, ReleaseSegmentPath, seg)
	return err
}

// AllocateTenant asks a segment type for a tenant segment.
func (c *Client) AllocateTenant(ctx context.Context, networkType string) (*segment.Segment, error) {
	resp, err := c.do(ctx, http.MethodPost, AllocateTenantPath, &AllocateTenantRequest{NetworkType: networkType})
	if err != nil {
		return nil, err
	}
	return resp.Segment, nil
}

// Allocations returns capacity and committed bandwidth of every uplink.
func (c *Client) Allocations(ctx context.Context) ([]binding.UplinkUsage, error) {
	resp, err := c.do(ctx, http.MethodGet, AllocationsPath, nil)
	if err != nil {
		return nil, err
	}
	return resp.Allocations, nil
}

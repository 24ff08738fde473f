package aevip

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"aevrt/pkg/registry"
)

// Client is the transport used to reach worker nodes. Injected so tests and
// alternative transports can replace the HTTP implementation.
type Client interface {
	// Send posts a signed packet body to the node's receive endpoint.
	Send(ctx context.Context, node registry.Node, body []byte, signature string) error
	// CheckResult polls the node for a task's results. done is false while
	// the node still reports pending.
	CheckResult(ctx context.Context, node registry.Node, taskID string) (env ResultEnvelope, done bool, err error)
}

// HTTPClient dispatches packets over plain HTTP.
type HTTPClient struct {
	hc *http.Client
}

// NewHTTPClient builds a client with a per-request timeout.
func NewHTTPClient(timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{hc: &http.Client{Timeout: timeout}}
}

func (c *HTTPClient) Send(ctx context.Context, node registry.Node, body []byte, signature string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, node.Address+ReceivePath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, signature)
	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("send to %s: %w", node.ID, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("send to %s: status %d", node.ID, resp.StatusCode)
	}
	return nil
}

func (c *HTTPClient) CheckResult(ctx context.Context, node registry.Node, taskID string) (ResultEnvelope, bool, error) {
	var env ResultEnvelope
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, node.Address+ResultPath+taskID, nil)
	if err != nil {
		return env, false, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return env, false, fmt.Errorf("poll %s: %w", node.ID, err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
		if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
			return env, false, fmt.Errorf("decode result from %s: %w", node.ID, err)
		}
		return env, env.Status == StatusComplete, nil
	case http.StatusAccepted, http.StatusNotFound:
		// not finished, or the worker has not registered the task yet
		io.Copy(io.Discard, resp.Body)
		return env, false, nil
	default:
		io.Copy(io.Discard, resp.Body)
		return env, false, fmt.Errorf("poll %s: status %d", node.ID, resp.StatusCode)
	}
}

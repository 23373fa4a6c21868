// internal/push/client.go
package push

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

	httpclient "notification-pipeline/internal/common/http"

	pipelineerrors "notification-pipeline/internal/common/errors"
)

// Error reasons the gateway reports per ticket. DeviceNotRegistered is the
// one permanent-invalidity reason that triggers token deactivation.
const (
	ReasonDeviceNotRegistered = "DeviceNotRegistered"
	ReasonMessageTooBig       = "MessageTooBig"
	ReasonMessageRateExceeded = "MessageRateExceeded"
)

// Request is one batched push call covering all of a user's active tokens.
type Request struct {
	To       []string               `json:"to"`
	Title    string                 `json:"title"`
	Body     string                 `json:"body"`
	Data     map[string]interface{} `json:"data,omitempty"`
	Priority string                 `json:"priority,omitempty"`
	Sound    string                 `json:"sound,omitempty"`
}

// Ticket is the gateway's per-token result. The response array is
// positionally aligned with the request's token list.
type Ticket struct {
	Status  string `json:"status"` // "ok" or "error"
	ID      string `json:"id,omitempty"`
	Message string `json:"message,omitempty"`
	Details struct {
		Error string `json:"error,omitempty"`
	} `json:"details,omitempty"`
}

func (t Ticket) OK() bool {
	return t.Status == "ok"
}

// InvalidatesToken reports whether the ticket's failure reason means the
// token will never work again.
func (t Ticket) InvalidatesToken() bool {
	return t.Details.Error == ReasonDeviceNotRegistered
}

type response struct {
	Data []Ticket `json:"data"`
}

// Gateway is the interface DeliveryService consumes; it exists for mocking.
type Gateway interface {
	Send(ctx context.Context, req *Request) ([]Ticket, error)
}

// Client talks to the external push gateway over HTTP. It classifies
// failures into the transient/permanent taxonomy; it does not retry.
type Client struct {
	http        *httpclient.Client
	url         string
	accessToken string
}

func NewClient(url, accessToken string, timeout time.Duration) *Client {
	return &Client{
		http:        httpclient.NewClient(timeout),
		url:         url,
		accessToken: accessToken,
	}
}

// Send posts one batched request and returns the per-token tickets.
func (c *Client) Send(ctx context.Context, req *Request) ([]Ticket, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, pipelineerrors.NewSerializationError("push request", err)
	}

	httpReq, err := http.NewRequest(http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build gateway request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.accessToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	resp, err := c.http.DoWithContext(ctx, httpReq)
	if err != nil {
		if isTimeout(err) {
			return nil, pipelineerrors.NewGatewayTimeoutError(err)
		}
		return nil, pipelineerrors.NewGatewayUnavailableError(err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, pipelineerrors.NewGatewayUnavailableError(fmt.Sprintf("read response: %v", err))
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, pipelineerrors.NewGatewayUnavailableError(fmt.Sprintf("status %d: %s", resp.StatusCode, truncate(body, 256)))
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, pipelineerrors.NewGatewayThrottledError(truncate(body, 256))
	case resp.StatusCode >= 400:
		return nil, pipelineerrors.NewGatewayRejectedError(resp.StatusCode, truncate(body, 256))
	}

	var parsed response
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, pipelineerrors.NewSerializationError("push response", err)
	}

	return parsed.Data, nil
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// MaskToken renders a token safe for logs: tokens are secret-like and must
// never appear in full.
func MaskToken(token string) string {
	if len(token) <= 12 {
		return "***"
	}
	return token[:8] + "..." + token[len(token)-4:]
}

package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomledger/dpl/pkg/dplerr"
	"github.com/tomledger/dpl/pkg/log"
)

// RetryDelays is the exponential backoff schedule SPEC_FULL.md §6 mandates
// for network errors and 5xx/408/429 responses: {2s, 4s, 8s, 16s, 32s}.
// These specific delays exist so a supervisor-driven restart of the
// server has time to complete within the retry window — they are a
// correctness-affecting part of the wire contract, not a tuning knob.
var RetryDelays = []time.Duration{
	2 * time.Second,
	4 * time.Second,
	8 * time.Second,
	16 * time.Second,
	32 * time.Second,
}

// Client drives the §6 veneer from a remote process, with RetryDelays'
// retry policy applied to every request.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
	// sleep is time.Sleep in production; tests override it to avoid
	// real-time waits through the full retry schedule.
	sleep func(time.Duration)
}

// NewClient returns a Client against baseURL (e.g. "http://127.0.0.1:19880").
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     log.WithComponent("httpapi-client"),
		sleep:      time.Sleep,
	}
}

func isRetryable(statusCode int, err error) bool {
	if err != nil {
		return true
	}
	if statusCode >= 500 && statusCode <= 599 {
		return true
	}
	switch statusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	default:
		return false
	}
}

// do performs one JSON request against path, retrying per RetryDelays on
// network errors or 5xx/408/429, then surfacing dplerr.RetryExhausted.
func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return dplerr.Wrap(dplerr.IOError, "httpapi client: encode request", err)
		}
	}

	var lastErr error
	attempts := append([]time.Duration{0}, RetryDelays...)
	for i, delay := range attempts {
		if delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			c.sleep(delay)
		}

		statusCode, respBody, err := c.doOnce(ctx, method, path, payload)
		if err == nil && !isRetryable(statusCode, nil) {
			if statusCode >= 300 {
				return decodeErrorResponse(statusCode, respBody)
			}
			if out != nil && len(respBody) > 0 {
				if jsonErr := json.Unmarshal(respBody, out); jsonErr != nil {
					return dplerr.Wrap(dplerr.IOError, "httpapi client: decode response", jsonErr)
				}
			}
			return nil
		}

		if err != nil {
			lastErr = err
		} else {
			lastErr = decodeErrorResponse(statusCode, respBody)
		}
		c.logger.Debug().Err(lastErr).Int("attempt", i+1).Str("path", path).Msg("httpapi client retrying")
	}
	return dplerr.Wrap(dplerr.RetryExhausted, fmt.Sprintf("httpapi client: exhausted retries for %s", path), lastErr)
}

func (c *Client) doOnce(ctx context.Context, method, path string, payload []byte) (statusCode int, body []byte, err error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, buf.Bytes(), nil
}

func decodeErrorResponse(statusCode int, body []byte) error {
	var er ErrorResponse
	if err := json.Unmarshal(body, &er); err == nil && er.Code != "" {
		return dplerr.New(dplerr.Code(er.Code), er.Message)
	}
	return dplerr.New(dplerr.IOError, fmt.Sprintf("httpapi client: unexpected status %d", statusCode))
}

// CreateOperation calls POST /operation/create.
func (c *Client) CreateOperation(ctx context.Context, req CreateOperationRequest) (CreateOperationResponse, error) {
	var out CreateOperationResponse
	err := c.do(ctx, http.MethodPost, "/operation/create", req, &out)
	return out, err
}

// JoinOperation calls POST /operation/join.
func (c *Client) JoinOperation(ctx context.Context, req JoinOperationRequest) (JoinOperationResponse, error) {
	var out JoinOperationResponse
	err := c.do(ctx, http.MethodPost, "/operation/join", req, &out)
	return out, err
}

// Heartbeat calls POST /operation/heartbeat.
func (c *Client) Heartbeat(ctx context.Context, req HeartbeatRequest) (HeartbeatResponse, error) {
	var out HeartbeatResponse
	err := c.do(ctx, http.MethodPost, "/operation/heartbeat", req, &out)
	return out, err
}

// Abort calls POST /operation/abort.
func (c *Client) Abort(ctx context.Context, req AbortRequest) error {
	return c.do(ctx, http.MethodPost, "/operation/abort", req, nil)
}

// State calls POST /operation/state.
func (c *Client) State(ctx context.Context, req StateRequest) (StateResponse, error) {
	var out StateResponse
	err := c.do(ctx, http.MethodPost, "/operation/state", req, &out)
	return out, err
}

// Log calls POST /operation/log.
func (c *Client) Log(ctx context.Context, req LogRequest) error {
	return c.do(ctx, http.MethodPost, "/operation/log", req, nil)
}

// Leave calls POST /operation/leave.
func (c *Client) Leave(ctx context.Context, req LeaveRequest) error {
	return c.do(ctx, http.MethodPost, "/operation/leave", req, nil)
}

// Complete calls POST /operation/complete.
func (c *Client) Complete(ctx context.Context, req CompleteRequest) error {
	return c.do(ctx, http.MethodPost, "/operation/complete", req, nil)
}

// StartCall calls POST /call/start.
func (c *Client) StartCall(ctx context.Context, req CallStartRequest) (CallStartResponse, error) {
	var out CallStartResponse
	err := c.do(ctx, http.MethodPost, "/call/start", req, &out)
	return out, err
}

// EndCall calls POST /call/end.
func (c *Client) EndCall(ctx context.Context, req CallEndRequest) error {
	return c.do(ctx, http.MethodPost, "/call/end", req, nil)
}

// FailCall calls POST /call/fail.
func (c *Client) FailCall(ctx context.Context, req CallFailRequest) error {
	return c.do(ctx, http.MethodPost, "/call/fail", req, nil)
}

// CreateCallFrame calls POST /callframe/create.
func (c *Client) CreateCallFrame(ctx context.Context, req CallFrameRequest) error {
	return c.do(ctx, http.MethodPost, "/callframe/create", req, nil)
}

// DeleteCallFrame calls POST /callframe/delete.
func (c *Client) DeleteCallFrame(ctx context.Context, req CallFrameRequest) error {
	return c.do(ctx, http.MethodPost, "/callframe/delete", req, nil)
}

// Health calls GET /health.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

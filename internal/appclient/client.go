package appclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/g960059/wgpanel/internal/api"
)

type Client struct {
	baseURL      string
	by           string
	client       *http.Client
	unaryTimeout time.Duration
	logger       *zap.Logger
}

const (
	defaultUnaryTimeout = 15 * time.Second
	maxErrorBodyBytes   = 64 * 1024
)

// Codes used when a failure did not come from the backend's own error envelope.
const (
	CodeNetwork        = "network_error"
	CodeDecode         = "decode_error"
	CodeInvalidPayload = "invalid_payload"
)

type Option func(*Client)

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.client = client
		}
	}
}

func WithUnaryTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.unaryTimeout = timeout
	}
}

// New returns a client for the backend at baseURL. by identifies the human
// user on every mutating request.
func New(baseURL, by string, opts ...Option) *Client {
	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		by:           strings.TrimSpace(by),
		client:       &http.Client{},
		unaryTimeout: defaultUnaryTimeout,
		logger:       zap.NewNop(),
	}
	if c.by == "" {
		c.by = "user"
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func NewWithClient(baseURL, by string, client *http.Client) *Client {
	return New(baseURL, by, WithHTTPClient(client))
}

func (c *Client) By() string {
	return c.by
}

// RequestError is the single failure shape returned by every call. Backend
// error envelopes, HTTP failures, transport failures and decode failures are
// all normalized into it.
type RequestError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Err        error
}

func (e *RequestError) Error() string {
	if e == nil {
		return ""
	}
	code := strings.TrimSpace(e.Code)
	message := strings.TrimSpace(e.Message)
	if code != "" && message != "" {
		return fmt.Sprintf("%s: %s", code, message)
	}
	if code != "" {
		if e.StatusCode > 0 {
			return fmt.Sprintf("http %d: %s", e.StatusCode, code)
		}
		return code
	}
	if message != "" {
		if e.StatusCode > 0 {
			return fmt.Sprintf("http %d: %s", e.StatusCode, message)
		}
		return message
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("http %d", e.StatusCode)
	}
	return "request failed"
}

func (e *RequestError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Retryable reports whether the failure is transient. Only the live channel
// consults it; user-triggered requests are never retried automatically.
func (e *RequestError) Retryable() bool {
	if e == nil {
		return false
	}
	if e.Code == CodeNetwork {
		return true
	}
	if e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusRequestTimeout {
		return true
	}
	return e.StatusCode >= 500
}

// AsRequestError normalizes any error into a RequestError.
func AsRequestError(err error) *RequestError {
	if err == nil {
		return nil
	}
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr
	}
	return &RequestError{Code: CodeNetwork, Message: err.Error(), Err: err}
}

func groupPath(groupID string, parts ...string) string {
	path := "/api/v1/groups/" + url.PathEscape(strings.TrimSpace(groupID))
	for _, p := range parts {
		path += "/" + url.PathEscape(p)
	}
	return path
}

func requireID(kind, id string) error {
	if strings.TrimSpace(id) == "" {
		return &RequestError{Code: "missing_" + kind, Message: kind + " is required"}
	}
	return nil
}

func (c *Client) withBy(body map[string]any) map[string]any {
	if body == nil {
		body = map[string]any{}
	}
	body["by"] = c.by
	return body
}

func (c *Client) unaryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.unaryTimeout <= 0 {
		return ctx, func() {}
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) <= c.unaryTimeout {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.unaryTimeout)
}

// call performs a JSON request and decodes the envelope result into out.
func (c *Client) call(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	var reqBody io.Reader
	contentType := ""
	if body != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			return &RequestError{Code: CodeDecode, Message: fmt.Sprintf("encode request body: %v", err), Err: err}
		}
		reqBody = buf
		contentType = "application/json"
	}
	return c.do(ctx, method, path, query, reqBody, contentType, out)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body io.Reader, contentType string, out any) error {
	reqCtx, cancel := c.unaryContext(ctx)
	defer cancel()

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(reqCtx, method, u, body)
	if err != nil {
		return &RequestError{Code: CodeNetwork, Message: err.Error(), Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("request failed", zap.String("method", method), zap.String("path", path), zap.Error(err))
		return &RequestError{Code: CodeNetwork, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return &RequestError{StatusCode: resp.StatusCode, Code: CodeNetwork, Message: err.Error(), Err: err}
	}
	return decodeEnvelope(resp.StatusCode, payload, out)
}

func decodeEnvelope(status int, payload []byte, out any) error {
	var env api.Response
	if err := json.Unmarshal(payload, &env); err != nil {
		if status >= 400 {
			return &RequestError{
				StatusCode: status,
				Code:       fmt.Sprintf("HTTP_%d", status),
				Message:    truncate(strings.TrimSpace(string(payload)), maxErrorBodyBytes),
			}
		}
		return &RequestError{StatusCode: status, Code: CodeDecode, Message: fmt.Sprintf("decode response envelope: %v", err), Err: err}
	}
	if !env.OK || status >= 400 {
		reqErr := &RequestError{StatusCode: status}
		if env.Error != nil {
			reqErr.Code = env.Error.Code
			reqErr.Message = env.Error.Message
			reqErr.Details = env.Error.Details
		}
		if reqErr.Code == "" {
			reqErr.Code = fmt.Sprintf("HTTP_%d", status)
		}
		return reqErr
	}
	if out == nil || len(env.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return &RequestError{StatusCode: status, Code: CodeDecode, Message: fmt.Sprintf("decode result: %v", err), Err: err}
	}
	return nil
}

func invalidPayload(err error) error {
	return &RequestError{Code: CodeInvalidPayload, Message: err.Error(), Err: err}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func sleepWithContext(ctx context.Context, wait time.Duration) error {
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) Ping(ctx context.Context) error {
	return c.call(ctx, http.MethodGet, "/api/v1/ping", nil, nil, nil)
}

// Package rest implements the HTTP transport for the device web API. Every
// call resolves to either a raw JSON payload or an *APIError, so callers
// never have to reason about transport failures and device failures
// separately.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ricoh-sdca/dapi/pkg/common"
	"github.com/ricoh-sdca/dapi/pkg/common/logger"
)

// Request describes a single device API call.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	// Headers are merged over the client defaults.
	Headers map[string]string
	// Body is JSON-encoded when non-nil.
	Body any
	// TransactionID, when set, scopes the call to a device transaction by
	// prefixing the path with /transaction/<id>.
	TransactionID string
}

// Client is a rate-limited HTTP client for one device endpoint.
type Client struct {
	endpoint string

	httpClient  *http.Client
	rateLimiter *common.RateLimiter

	logger *logger.Logger
	tracer trace.Tracer
}

// NewClient creates a device API client for the given endpoint, e.g.
// "http://192.168.0.10/rws". The embedded web service cannot absorb bursts,
// so requests are throttled well below what the browser runtime allowed.
func NewClient(endpoint string, httpClient *http.Client, log *logger.Logger, tracer trace.Tracer) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		endpoint:    strings.TrimRight(endpoint, "/"),
		httpClient:  httpClient,
		rateLimiter: common.NewRateLimiter(10, 5),
		logger:      log.With("component", "rest_client"),
		tracer:      tracer,
	}
}

// SetRateLimit adjusts the request throttle, typically from loaded
// configuration.
func (c *Client) SetRateLimit(rps float64, burst int) {
	c.rateLimiter.UpdateLimits(rps, burst)
}

// Do executes a device API call and returns the raw response payload.
// Non-2xx responses and transport failures are returned as *APIError.
func (c *Client) Do(ctx context.Context, r Request) (json.RawMessage, error) {
	ctx, span := c.tracer.Start(ctx, "rest_client.do",
		trace.WithAttributes(
			attribute.String("method", r.Method),
			attribute.String("path", r.Path),
		))
	defer span.End()

	if r.Path == "" {
		err := ClientError("path_required")
		span.RecordError(err)
		span.SetStatus(codes.Error, "missing request path")
		return nil, err
	}

	if err := c.rateLimiter.Wait(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "rate limiter wait failed")
		return nil, fmt.Errorf("rate limiter wait failed: %w", err)
	}

	path := r.Path
	if r.TransactionID != "" {
		path = "/transaction/" + r.TransactionID + path
	}
	target := c.endpoint + path
	if len(r.Query) > 0 {
		target += "?" + r.Query.Encode()
	}

	var body io.Reader
	if r.Body != nil {
		data, err := json.Marshal(r.Body)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to marshal request body")
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, target, body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create request")
		return nil, fmt.Errorf("failed to create device request: %w", err)
	}

	requestID := uuid.New().String()
	req.Header.Set("X-Transaction-Id", requestID)
	if r.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}
	span.SetAttributes(attribute.String("request_id", requestID))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		c.logger.Error(ctx, "device request failed",
			"method", r.Method, "path", r.Path, "request_id", requestID, "error", err)
		return nil, ClientError("network_error")
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("status_code", resp.StatusCode))

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read response")
		return nil, ClientError("network_error")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := normalizeFailure(resp.StatusCode, data)
		span.RecordError(apiErr)
		span.SetStatus(codes.Error, "device returned an error")
		c.logger.Debug(ctx, "device call failed",
			"method", r.Method, "path", r.Path, "request_id", requestID,
			"status_code", resp.StatusCode, "message_id", apiErr.First().MessageID)
		return nil, apiErr
	}

	if len(data) == 0 {
		span.SetStatus(codes.Ok, "request completed")
		return nil, nil
	}
	if !json.Valid(data) {
		err := newAPIError(resp.StatusCode, MessageIDClientError, "invalid_json")
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid response body")
		return nil, err
	}

	span.SetStatus(codes.Ok, "request completed")
	return json.RawMessage(data), nil
}

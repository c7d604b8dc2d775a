// Package caseapi is the HTTP client for the veterinary case service. Every
// call is resolved against the embedded OpenAPI contract, carries the bearer
// token of an explicit session, and runs behind a circuit breaker with
// retries for idempotent methods.
package caseapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/pitabwire/vetdesk/internal/config"
	"github.com/pitabwire/vetdesk/internal/observability"
	"github.com/pitabwire/vetdesk/model"
)

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 10 << 20

// Credentials supplies the bearer token for a call and is told when the
// case API rejected it. *session.Session satisfies it.
type Credentials interface {
	BearerToken() (string, bool)
	Expire()
}

// Client talks to the case service. It is safe for concurrent use; session
// bound calls go through ForSession.
type Client struct {
	base      *url.URL
	http      *http.Client
	breaker   *Breaker
	retry     config.RetryConfig
	schema    *Schema
	maxUpload int64
	logger    *zap.Logger
	metrics   *observability.Metrics
}

// New builds a client for cfg.BaseURL. A nil logger is replaced with a no-op
// logger; metrics may be nil.
func New(cfg config.CaseAPIConfig, schema *Schema, logger *zap.Logger, metrics *observability.Metrics) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("caseapi: parse base_url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("caseapi: base_url %q must be absolute", cfg.BaseURL)
	}
	if schema == nil {
		return nil, errors.New("caseapi: schema is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxConnsPerHost:     50,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	breaker := NewBreaker(cfg.CircuitBreaker)
	breaker.OnStateChange(func(s BreakerState) {
		metrics.SetCaseAPICircuitBreakerState(breakerGauge(s))
		logger.Warn("case api circuit breaker changed state", zap.String("state", s.String()))
	})

	return &Client{
		base:      base,
		http:      &http.Client{Timeout: timeout, Transport: transport},
		breaker:   breaker,
		retry:     cfg.Retry,
		schema:    schema,
		maxUpload: cfg.MaxUploadBytes,
		logger:    logger,
		metrics:   metrics,
	}, nil
}

// breakerGauge maps a state onto the gauge scale 0=closed, 1=half-open,
// 2=open.
func breakerGauge(s BreakerState) float64 {
	switch s {
	case BreakerHalfOpen:
		return 1
	case BreakerOpen:
		return 2
	}
	return 0
}

// Available reports whether the breaker currently lets calls through.
func (c *Client) Available() bool {
	return c.breaker.State() != BreakerOpen
}

// SchemaLoaded reports whether the contract is indexed.
func (c *Client) SchemaLoaded() bool {
	return c.schema.Loaded()
}

// request describes one call against a contract operation.
type request struct {
	op          string
	pathArgs    map[string]string
	query       url.Values
	body        []byte
	contentType string
	creds       Credentials
}

// response is a completed HTTP exchange.
type response struct {
	status int
	body   []byte
}

// do executes req and returns the response body of a 2xx answer. Non-2xx
// answers and transport failures come back as *model.ErrorEnvelope, except
// caller cancellation, which is returned wrapping context.Canceled.
func (c *Client) do(ctx context.Context, req request) (_ []byte, err error) {
	route, ok := c.schema.Route(req.op)
	if !ok {
		return nil, fmt.Errorf("caseapi: operation %q not in contract", req.op)
	}

	ctx, span := observability.StartSpan(ctx, "caseapi."+req.op,
		observability.AttrOperation.String(req.op),
		attribute.String("http.request.method", route.Method),
	)
	defer func() { observability.EndSpanWithError(span, err) }()

	headers := make(http.Header)
	headers.Set("Accept", "application/json")
	if req.contentType != "" {
		headers.Set("Content-Type", req.contentType)
	}
	if req.creds != nil {
		token, ok := req.creds.BearerToken()
		if !ok {
			c.metrics.RecordCaseAPIRequest(req.op, http.StatusUnauthorized, 0)
			return nil, model.NewUnauthorizedError("not signed in or session expired")
		}
		headers.Set("Authorization", "Bearer "+sanitizeHeader(token))
	}
	if rctx := model.RequestContextFrom(ctx); rctx != nil && rctx.CorrelationID != "" {
		headers.Set("X-Correlation-Id", sanitizeHeader(rctx.CorrelationID))
	}
	observability.InjectTraceHeaders(ctx, headers)

	reqURL := c.buildURL(route, req.pathArgs, req.query)
	if ce := c.logger.Check(zap.DebugLevel, "case api request"); ce != nil {
		ce.Write(
			zap.String("operation", req.op),
			zap.String("method", route.Method),
			observability.RedactPayload(req.contentType, req.body),
		)
	}

	start := time.Now()
	resp, err := c.executeWithRetry(ctx, req.op, route.Method, reqURL, headers, req.body)
	status := 0
	if resp != nil {
		status = resp.status
	}
	c.metrics.RecordCaseAPIRequest(req.op, status, time.Since(start))
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("http.response.status_code", resp.status))

	if resp.status >= 200 && resp.status < 300 {
		return resp.body, nil
	}

	logger := observability.RequestLogger(ctx, c.logger)
	logger.Warn("case api returned error status",
		zap.String("operation", req.op),
		zap.Int("status", resp.status),
	)

	if resp.status == http.StatusUnauthorized && req.creds != nil {
		req.creds.Expire()
		c.metrics.RecordSessionExpired()
		env := model.NewUpstreamError(http.StatusUnauthorized, "session expired, sign in again")
		return nil, env
	}
	return nil, upstreamError(resp.status, resp.body)
}

// doJSON marshals in (when non-nil), executes req and decodes the answer
// into out (when non-nil).
func (c *Client) doJSON(ctx context.Context, req request, in, out any) error {
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("caseapi: marshal %s body: %w", req.op, err)
		}
		req.body = b
		req.contentType = "application/json"
	}
	body, err := c.do(ctx, req)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("caseapi: decode %s response: %w", req.op, err)
	}
	return nil
}

func (c *Client) executeWithRetry(
	ctx context.Context,
	op, method, reqURL string,
	headers http.Header,
	body []byte,
) (*response, error) {
	maxAttempts := c.retry.MaxAttempts
	if maxAttempts < 1 || !isIdempotentMethod(method) {
		maxAttempts = 1
	}

	var (
		resp *response
		err  error
	)
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			c.metrics.RecordCaseAPIRetry(op)
			select {
			case <-ctx.Done():
				return nil, c.contextError(ctx, op)
			case <-time.After(calculateBackoff(c.retry, attempt)):
			}
		}

		var retryable bool
		resp, retryable, err = c.executeOnce(ctx, op, method, reqURL, headers, body)
		if !retryable || attempt == maxAttempts-1 {
			return resp, err
		}
		c.logger.Debug("retrying case api call",
			zap.String("operation", op),
			zap.Int("attempt", attempt+1),
			zap.Int("max", maxAttempts),
			zap.Error(err),
		)
	}
	return resp, err
}

// executeOnce performs one HTTP exchange behind the breaker. It reports
// whether the outcome is worth retrying.
func (c *Client) executeOnce(
	ctx context.Context,
	op, method, reqURL string,
	headers http.Header,
	body []byte,
) (*response, bool, error) {
	if err := c.breaker.Allow(); err != nil {
		return nil, false, model.NewBackendUnavailableError()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return nil, false, fmt.Errorf("caseapi: build %s request: %w", op, err)
	}
	httpReq.Header = headers.Clone()

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, false, c.contextError(ctx, op)
		}
		c.breaker.RecordFailure()
		if ctx.Err() != nil || isTimeout(err) {
			return nil, false, model.NewBackendTimeoutError()
		}
		c.logger.Warn("case api request failed", zap.String("operation", op), zap.Error(err))
		return nil, isConnectionError(err), model.NewBackendUnavailableError()
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, false, c.contextError(ctx, op)
		}
		c.breaker.RecordFailure()
		return nil, false, fmt.Errorf("caseapi: read %s response: %w", op, err)
	}

	switch {
	case httpResp.StatusCode >= 500:
		c.breaker.RecordFailure()
	case httpResp.StatusCode < 400:
		c.breaker.RecordSuccess()
	}

	resp := &response{status: httpResp.StatusCode, body: respBody}
	return resp, isRetryableStatus(httpResp.StatusCode), nil
}

// contextError converts a finished context into the error surfaced to
// callers. Cancellation stays recognizable with errors.Is so superseded
// fetches can be told apart from failures.
func (c *Client) contextError(ctx context.Context, op string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return model.NewBackendTimeoutError()
	}
	return fmt.Errorf("caseapi: %s: %w", op, ctx.Err())
}

func (c *Client) buildURL(route Route, pathArgs map[string]string, query url.Values) string {
	path := route.PathTemplate
	for name, value := range pathArgs {
		path = strings.ReplaceAll(path, "{"+name+"}", url.PathEscape(value))
	}
	u := *c.base
	u.Path = strings.TrimRight(c.base.Path, "/") + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// upstreamError builds an envelope from a non-2xx answer, reading the
// {"detail": ...} body the case service sends. Server error details stay
// out of the envelope.
func upstreamError(status int, body []byte) *model.ErrorEnvelope {
	if status >= 500 {
		return model.NewUpstreamError(status, "")
	}
	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if len(body) == 0 || json.Unmarshal(body, &payload) != nil || len(payload.Detail) == 0 {
		return model.NewUpstreamError(status, "")
	}

	var msg string
	if json.Unmarshal(payload.Detail, &msg) == nil {
		return model.NewUpstreamError(status, msg)
	}

	var items []struct {
		Loc  []any  `json:"loc"`
		Msg  string `json:"msg"`
		Type string `json:"type"`
	}
	if json.Unmarshal(payload.Detail, &items) != nil || len(items) == 0 {
		return model.NewUpstreamError(status, "")
	}

	env := model.NewUpstreamError(status, "request validation failed")
	for _, it := range items {
		code := "INVALID"
		if it.Type == "missing" || strings.HasSuffix(it.Type, ".missing") {
			code = "REQUIRED"
		}
		env.Details = append(env.Details, model.FieldError{
			Field:   fieldFromLoc(it.Loc),
			Code:    code,
			Message: it.Msg,
		})
	}
	return env
}

// fieldFromLoc drops the leading location kind ("body", "query", "path").
func fieldFromLoc(loc []any) string {
	parts := make([]string, 0, len(loc))
	for i, p := range loc {
		s := fmt.Sprint(p)
		if i == 0 && (s == "body" || s == "query" || s == "path") {
			continue
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, ".")
}

// sanitizeHeader strips newlines and carriage returns to prevent header injection.
func sanitizeHeader(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", "")
	return s
}

func isIdempotentMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodPut, http.MethodDelete,
		http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isConnectionError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

func calculateBackoff(cfg config.RetryConfig, attempt int) time.Duration {
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = 100 * time.Millisecond
	}
	if cfg.BackoffMultiplier <= 0 {
		cfg.BackoffMultiplier = 2
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 2 * time.Second
	}

	delay := cfg.BackoffInitial
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * cfg.BackoffMultiplier)
		if delay > cfg.BackoffMax {
			return cfg.BackoffMax
		}
	}
	return delay
}

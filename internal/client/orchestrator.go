// Package client provides the upstream HTTP client for the orchestrator API.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"docfolder-gateway/internal/config"
	"docfolder-gateway/internal/metrics"
	"docfolder-gateway/internal/model"
)

const userAgent = "docfolder-gateway/1.0"

// maxErrorBody bounds how much of a failed response is read for its message.
const maxErrorBody = 64 << 10

var errUpstreamTimeout = errors.New("upstream timeout")

// OrchestratorClient sends requests to the orchestrator API.
type OrchestratorClient struct {
	httpClient *http.Client
	baseURL    string
	timeout    time.Duration
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewOrchestratorClient creates an OrchestratorClient with connection pooling.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewOrchestratorClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *OrchestratorClient {
	transport := &http.Transport{
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	timeout := time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &OrchestratorClient{
		// No http.Client.Timeout: it would also cut streamed downloads.
		// Do enforces the timeout through context cancellation instead.
		httpClient: &http.Client{Transport: transport},
		baseURL:    strings.TrimRight(cfg.Upstream.BaseURL, "/"),
		timeout:    timeout,
		logger:     logger.With("component", "orchestrator_client"),
		metrics:    m,
	}
}

// Timeout returns the per-call upstream timeout.
func (c *OrchestratorClient) Timeout() time.Duration {
	return c.timeout
}

// Do sends the request upstream. A 2xx response is returned with its body
// unread and the caller must close it. Every failure is a *model.UpstreamError.
//
// The timeout covers the whole exchange, including reading the body, unless
// req.Stream is set; streamed responses are only bounded until headers arrive.
// Canceling ctx (e.g. client disconnect) cancels the upstream call.
func (c *OrchestratorClient) Do(ctx context.Context, req *model.OutboundRequest) (*model.UpstreamResponse, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	ctx, cancel := context.WithCancelCause(ctx)
	timer := time.AfterFunc(c.timeout, func() { cancel(errUpstreamTimeout) })
	release := func() {
		timer.Stop()
		cancel(nil)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+req.Endpoint, req.Body)
	if err != nil {
		release()
		return nil, &model.UpstreamError{
			Status:     0,
			StatusText: "Invalid request",
			Data:       map[string]any{"message": "could not build upstream request"},
			Err:        fmt.Errorf("build upstream request: %w", err),
		}
	}
	httpReq.Header = c.buildHeaders(req)

	c.logger.Debug("upstream request",
		"method", method,
		"endpoint", req.Endpoint,
	)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq) //nolint:bodyclose // body ownership transfers to caller via UpstreamResponse
	duration := time.Since(start).Seconds()
	metricMethod := metrics.NormalizeMethod(method)

	if c.metrics != nil {
		c.metrics.UpstreamDuration.WithLabelValues(metricMethod).Observe(duration)
	}

	if err != nil {
		timedOut := errors.Is(context.Cause(ctx), errUpstreamTimeout)
		release()
		if timedOut {
			if c.metrics != nil {
				c.metrics.UpstreamTimeouts.Inc()
			}
			return nil, c.timeoutError(req.Endpoint, err)
		}
		return nil, &model.UpstreamError{
			Status:     0,
			StatusText: "Network error",
			Data:       map[string]any{"message": fmt.Sprintf("Request to %s failed: upstream unavailable", req.Endpoint)},
			Err:        fmt.Errorf("upstream request: %w", err),
		}
	}

	if c.metrics != nil {
		c.metrics.UpstreamResponses.WithLabelValues(metricMethod, strconv.Itoa(resp.StatusCode)).Inc()
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer release()
		defer func() { _ = resp.Body.Close() }()
		return nil, &model.UpstreamError{
			Status:     resp.StatusCode,
			StatusText: statusText(resp),
			Data:       readErrorData(resp.Body),
		}
	}

	if req.Stream {
		timer.Stop()
	}

	return &model.UpstreamResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       &releaseOnClose{ReadCloser: resp.Body, release: release},
	}, nil
}

func (c *OrchestratorClient) timeoutError(endpoint string, cause error) *model.UpstreamError {
	return &model.UpstreamError{
		Status:     http.StatusGatewayTimeout,
		StatusText: "Request timeout",
		Data: map[string]any{
			"message": fmt.Sprintf("Request to %s timed out after %dms", endpoint, c.timeout.Milliseconds()),
		},
		Err: fmt.Errorf("%w: %w", errUpstreamTimeout, cause),
	}
}

// buildHeaders merges the JSON defaults, caller headers, the content type
// override and the Authorization header, in that order of precedence.
func (c *OrchestratorClient) buildHeaders(req *model.OutboundRequest) http.Header {
	h := make(http.Header)
	h.Set("Accept", "application/json")
	if req.Body != nil {
		h.Set("Content-Type", "application/json")
	}
	for key, vals := range req.Header {
		h[http.CanonicalHeaderKey(key)] = append([]string(nil), vals...)
	}
	if req.ContentType != "" {
		h.Set("Content-Type", req.ContentType)
	}
	if auth := c.authorization(req.Auth); auth != "" {
		h.Set("Authorization", auth)
	}
	h.Set("User-Agent", userAgent)
	return h
}

// authorization prefers the inbound Authorization header and falls back to
// the legacy auth_token/token_type pair.
func (c *OrchestratorClient) authorization(a model.AuthContext) string {
	switch {
	case a.Authorization != "":
		return a.Authorization
	case a.Token != "" && a.TokenType != "":
		return a.TokenType + " " + a.Token
	case a.Token != "":
		c.logger.Debug("legacy auth_token without token_type; assuming Bearer")
		return "Bearer " + a.Token
	}
	return ""
}

// readErrorData parses a failed response body as a JSON object, returning an
// empty map when the body is missing or not an object.
func readErrorData(body io.Reader) map[string]any {
	raw, err := io.ReadAll(io.LimitReader(body, maxErrorBody))
	if err != nil || !gjson.ValidBytes(raw) {
		return map[string]any{}
	}
	if data, ok := gjson.ParseBytes(raw).Value().(map[string]any); ok {
		return data
	}
	return map[string]any{}
}

func statusText(resp *http.Response) string {
	// resp.Status looks like "404 Not Found".
	if _, text, ok := strings.Cut(resp.Status, " "); ok && text != "" {
		return text
	}
	return http.StatusText(resp.StatusCode)
}

// releaseOnClose stops the timeout and releases the request context once the
// caller is done with the body.
type releaseOnClose struct {
	io.ReadCloser
	release func()
	once    sync.Once
}

func (r *releaseOnClose) Close() error {
	err := r.ReadCloser.Close()
	r.once.Do(r.release)
	return err
}

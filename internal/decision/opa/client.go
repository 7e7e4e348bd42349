// Package opa implements decision.Maker against an Open Policy Agent data
// API. Only a JSON true result allows; absent, null and non-boolean results
// deny.
package opa

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	cleanhttp "github.com/hashicorp/go-cleanhttp"
	retryablehttp "github.com/hashicorp/go-retryablehttp"

	"authzen/internal/decision"
	"authzen/internal/decision/metrics"
	"authzen/internal/platform/config"
)

const (
	defaultDataPath = "app"
	defaultQuery    = "authz"
	defaultTimeout  = 30 * time.Second
	defaultRetryMax = 2

	// maxErrorBody caps how much of a failed response is kept for the error.
	maxErrorBody = 512
)

// Client queries one OPA rule. It is safe for concurrent use.
type Client struct {
	http       *retryablehttp.Client
	baseURL    string
	dataPath   string
	query      string
	timeout    time.Duration
	explain    string
	pretty     bool
	instrument bool
	engineMx   bool
	data       any
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the pooled transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http.HTTPClient = hc
		}
	}
}

// WithTimeout bounds each decision, retries included.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRetry sets the retry budget for transport failures and 5xx answers.
func WithRetry(max int, waitMin, waitMax time.Duration) Option {
	return func(c *Client) {
		if max >= 0 {
			c.http.RetryMax = max
		}
		if waitMin > 0 {
			c.http.RetryWaitMin = waitMin
		}
		if waitMax > 0 {
			c.http.RetryWaitMax = waitMax
		}
	}
}

// WithRule selects the data path and rule queried.
func WithRule(dataPath, query string) Option {
	return func(c *Client) {
		if dataPath != "" {
			c.dataPath = strings.Trim(dataPath, "/")
		}
		if query != "" {
			c.query = strings.Trim(query, "/")
		}
	}
}

// WithExplain asks the engine for an explanation ("notes", "fails", "full").
func WithExplain(mode string) Option {
	return func(c *Client) { c.explain = mode }
}

// WithPretty asks for indented responses.
func WithPretty(on bool) Option {
	return func(c *Client) { c.pretty = on }
}

// WithInstrument asks the engine to instrument evaluation.
func WithInstrument(on bool) Option {
	return func(c *Client) { c.instrument = on }
}

// WithEngineMetrics asks the engine to report its evaluation metrics.
func WithEngineMetrics(on bool) Option {
	return func(c *Client) { c.engineMx = on }
}

// WithData sends a data document alongside every input.
func WithData(data any) Option {
	return func(c *Client) { c.data = data }
}

// WithLogger sets the logger used for retries and denials.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics records outcomes and latency.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// New constructs a client for the engine at baseURL.
func New(baseURL string, opts ...Option) *Client {
	rc := retryablehttp.NewClient()
	rc.HTTPClient = cleanhttp.DefaultPooledClient()
	rc.RetryMax = defaultRetryMax
	rc.CheckRetry = retryablehttp.ErrorPropagatedRetryPolicy
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	c := &Client{
		http:     rc,
		baseURL:  strings.TrimRight(baseURL, "/"),
		dataPath: defaultDataPath,
		query:    defaultQuery,
		timeout:  defaultTimeout,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	c.http.Logger = c.logger
	return c
}

// NewFromConfig builds a client from the OPA_* settings.
func NewFromConfig(cfg config.OPA, opts ...Option) *Client {
	base := []Option{
		WithRule(cfg.DataPath, cfg.Query),
		WithTimeout(cfg.Timeout),
		WithRetry(cfg.RetryMax, 0, 0),
		WithExplain(cfg.Explain),
		WithPretty(cfg.Pretty),
		WithInstrument(cfg.Instrument),
		WithEngineMetrics(cfg.Metrics),
	}
	return New(cfg.BaseURL(), append(base, opts...)...)
}

type queryRequest struct {
	Input decision.Event `json:"input"`
	Data  any            `json:"data,omitempty"`
}

type queryResponse struct {
	Result      json.RawMessage `json:"result"`
	Explanation json.RawMessage `json:"explanation,omitempty"`
	Metrics     json.RawMessage `json:"metrics,omitempty"`
}

// CanAct posts the event and allows only on a JSON true result.
func (c *Client) CanAct(ctx context.Context, event decision.Event) error {
	start := time.Now()
	err := c.canAct(ctx, event)
	c.metrics.ObserveLatency(time.Since(start))
	c.metrics.IncrementOutcome(decision.Outcome(err), event.Action.String(), event.Object.String())
	return err
}

func (c *Client) canAct(ctx context.Context, event decision.Event) error {
	payload, err := json.Marshal(queryRequest{Input: event, Data: c.data})
	if err != nil {
		return fmt.Errorf("encode decision input: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.queryURL(), payload)
	if err != nil {
		return fmt.Errorf("build decision request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		// Exhausted 5xx retries hand back the last response with the error.
		drain(resp)
		return c.classify(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return decision.Transport(fmt.Errorf("engine returned %d: %s", resp.StatusCode, bytes.TrimSpace(snippet)))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return c.classify(ctx, err)
	}

	var out queryResponse
	if err := json.Unmarshal(body, &out); err != nil {
		c.logger.WarnContext(ctx, "undecodable decision response treated as deny", "error", err)
		return &decision.DeniedError{Action: event.Action, Object: event.Object}
	}
	if string(bytes.TrimSpace(out.Result)) == "true" {
		return nil
	}

	c.logger.DebugContext(ctx, "decision denied",
		"action", event.Action,
		"object", event.Object.String(),
		"result", string(out.Result),
	)
	return &decision.DeniedError{
		Action:      event.Action,
		Object:      event.Object,
		Explanation: out.Explanation,
		Metrics:     out.Metrics,
	}
}

func drain(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	_ = resp.Body.Close()
}

func (c *Client) classify(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return decision.Timeout(err)
	}
	return decision.Transport(err)
}

func (c *Client) queryURL() string {
	u := fmt.Sprintf("%s/v1/data/%s/%s", c.baseURL, c.dataPath, c.query)
	params := url.Values{}
	if c.explain != "" {
		params.Set("explain", c.explain)
	}
	if c.pretty {
		params.Set("pretty", "true")
	}
	if c.instrument {
		params.Set("instrument", "true")
	}
	if c.engineMx {
		params.Set("metrics", "true")
	}
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

// Health reports whether the engine answers its health endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}
	resp, err := c.http.HTTPClient.Do(req)
	if err != nil {
		return c.classify(ctx, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return decision.Transport(fmt.Errorf("health returned %d", resp.StatusCode))
	}
	return nil
}

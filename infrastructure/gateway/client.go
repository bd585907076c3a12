package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/kinopsis/agensalud-mvp-sub003/core/config"
	pkgError "github.com/kinopsis/agensalud-mvp-sub003/pkg/error"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const maxBodyBytes = 1 << 20

var requestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "gateway_request_duration_seconds",
		Help:    "Duration of calls to the messaging gateway in seconds.",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"operation", "outcome"},
)

func init() {
	prometheus.MustRegister(requestDuration)
}

// Client talks to the gateway HTTP API and implements instance.Gateway.
// Every call carries its own deadline; no call is retried here.
type Client struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	http    *http.Client
}

type Option func(*Client)

// WithHTTPClient replaces the transport, mostly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func NewClient(cfg config.GatewayConfig, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		timeout: timeout,
		http:    &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// call performs one request and returns the raw body of a 2xx answer.
// Failures come back as pkg/error types.
func (c *Client) call(ctx context.Context, op, name, method, path string, body any) (_ []byte, err error) {
	ctx, span := otel.Tracer("gateway/Client").Start(ctx, op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("gateway.instance", name),
			attribute.String("http.method", method),
		),
	)
	start := time.Now()
	defer func() {
		requestDuration.WithLabelValues(op, outcome(err)).Observe(time.Since(start).Seconds())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		payload, mErr := json.Marshal(body)
		if mErr != nil {
			return nil, fmt.Errorf("encode %s request: %w", op, mErr)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
	}

	logrus.WithFields(logrus.Fields{
		"operation": op,
		"instance":  name,
		"method":    method,
		"path":      path,
	}).Debug("[GATEWAY] Calling gateway")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.transportError(op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, c.transportError(op, err)
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return raw, nil
	}
	return nil, classify(op, name, resp.StatusCode, raw)
}

func (c *Client) transportError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &pkgError.TimeoutError{Operation: op, Timeout: c.timeout}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &pkgError.TimeoutError{Operation: op, Timeout: c.timeout}
	}
	return &pkgError.ExternalAPIError{Operation: op, Err: err}
}

// classify maps a non-2xx answer to a typed error.
func classify(op, name string, status int, body []byte) error {
	msg := errorMessage(body)
	lower := strings.ToLower(msg)
	switch {
	case status == http.StatusNotFound:
		return pkgError.NotFoundf("gateway instance %s not found", name)
	case status == http.StatusConflict,
		strings.Contains(lower, "already connected"),
		strings.Contains(lower, "already in use"):
		return pkgError.AlreadyConnectedError{Instance: name}
	}
	return &pkgError.ExternalAPIError{Operation: op, Upstream: status, Body: msg}
}

// errorMessage digs the human readable message out of the usual error
// envelopes and falls back to the truncated raw body.
func errorMessage(body []byte) string {
	if !gjson.ValidBytes(body) {
		return truncate(strings.TrimSpace(string(body)), 512)
	}
	res := gjson.ParseBytes(body)
	for _, path := range []string{"response.message", "message", "error"} {
		v := res.Get(path)
		if !v.Exists() {
			continue
		}
		if v.IsArray() {
			parts := make([]string, 0, len(v.Array()))
			for _, item := range v.Array() {
				parts = append(parts, item.String())
			}
			return truncate(strings.Join(parts, "; "), 512)
		}
		if s := v.String(); s != "" {
			return truncate(s, 512)
		}
	}
	return truncate(strings.TrimSpace(string(body)), 512)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case pkgError.IsTimeout(err):
		return "timeout"
	case pkgError.IsNotFound(err):
		return "not_found"
	case pkgError.IsAlreadyConnected(err):
		return "already_connected"
	default:
		return "error"
	}
}

// firstString returns the first non-empty string found at any of paths.
func firstString(res gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := res.Get(p); v.Exists() && v.Type == gjson.String && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

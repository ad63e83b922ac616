// Package httptransport provides the reference outbox.Transport: it
// POSTs each entry's JSON payload to a fixed endpoint and classifies the
// response into the outbox result shape.
//
// Status handling: 2xx is success; 409 is success (the server already
// processed this idempotency key); 429 is transient and carries the
// parsed Retry-After; 3xx, 408 and 5xx are transient; other 4xx are
// permanent. Timeouts and socket errors are transient.
package httptransport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/atlet99/durable-outbox"
	"github.com/atlet99/durable-outbox/backoff"
)

// Compile-time interface check.
var _ outbox.Transport = (*Transport)(nil)

// maxErrorBodyLen caps how much of an error response body is kept for
// diagnostics.
const maxErrorBodyLen = 512

// Transport delivers entries over HTTP POST.
type Transport struct {
	url     string
	client  *http.Client
	headers map[string]string
	logger  *slog.Logger
}

// Option configures the Transport.
type Option func(*Transport)

// WithClient sets a custom *http.Client. The default client carries a
// 15 second timeout.
func WithClient(c *http.Client) Option {
	return func(t *Transport) { t.client = c }
}

// WithHeaders sets base headers applied to every request. Entry-provided
// headers are merged last and win on conflict.
func WithHeaders(h map[string]string) Option {
	return func(t *Transport) { t.headers = h }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Transport) { t.logger = l }
}

// New creates a Transport posting to the given URL.
func New(url string, opts ...Option) *Transport {
	t := &Transport{
		url:    url,
		client: &http.Client{Timeout: 15 * time.Second},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Send implements outbox.Transport.
func (t *Transport) Send(ctx context.Context, e *outbox.Entry) (outbox.SendResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(e.Payload))
	if err != nil {
		// A malformed URL will never get better: fail permanently.
		return outbox.SendResult{
			PermanentlyFailed: true,
			Error:             fmt.Sprintf("build request: %v", err),
		}, nil
	}

	req.Header.Set("Content-Type", "application/json")
	if key := e.IdempotencyKey; key != "" && len(key) <= outbox.MaxIdempotencyKeyLen {
		req.Header.Set("Idempotency-Key", key)
	}
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	// Entry headers merge last so callers can override the base set.
	for k, v := range e.Headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		// Timeouts and socket errors are transient.
		return outbox.SendResult{Error: err.Error()}, nil
	}
	defer resp.Body.Close() //nolint:errcheck // nothing useful to do with a close error

	return t.classify(resp, e), nil
}

// classify maps the HTTP response onto the outbox result shape.
func (t *Transport) classify(resp *http.Response, e *outbox.Entry) outbox.SendResult {
	status := resp.StatusCode

	switch {
	case status >= 200 && status < 300:
		return outbox.SendResult{Success: true}

	case status == http.StatusConflict:
		// The server already processed this entry.
		t.logger.Debug("conflict treated as delivered",
			slog.String("entry_id", e.ID),
			slog.String("channel", e.Channel),
		)
		return outbox.SendResult{Success: true}

	case status == http.StatusTooManyRequests:
		res := outbox.SendResult{Error: responseError(resp)}
		if ra := parseRetryAfter(resp.Header.Get("Retry-After")); ra != nil {
			res.RetryAfter = ra
		}
		return res

	case backoff.Retryable(status):
		return outbox.SendResult{Error: responseError(resp)}

	default:
		return outbox.SendResult{
			PermanentlyFailed: true,
			Error:             responseError(resp),
		}
	}
}

// parseRetryAfter reads an integer number of seconds. The HTTP-date form
// is not supported and yields nil.
func parseRetryAfter(v string) *time.Duration {
	if v == "" {
		return nil
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return nil
	}
	d := time.Duration(secs) * time.Second
	return &d
}

// responseError builds a diagnostic string from the status line and a
// bounded prefix of the body.
func responseError(resp *http.Response) string {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLen)) //nolint:errcheck // diagnostics only
	if len(body) == 0 {
		return resp.Status
	}
	return fmt.Sprintf("%s: %s", resp.Status, body)
}

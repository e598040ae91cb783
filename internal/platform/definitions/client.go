// Package definitions resolves HL7 v2 segment and field metadata from a
// remote, versioned definition service and memoizes the results.
package definitions

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	// DefaultMaxRetries is the number of retries after the first attempt.
	DefaultMaxRetries = 4

	// DefaultRetryDelay is the fixed pause between attempts.
	DefaultRetryDelay = 500 * time.Millisecond

	// DefaultTimeout bounds a single HTTP exchange.
	DefaultTimeout = 30 * time.Second

	// maxDrainBytes caps how much of a failed response body is read before closing.
	maxDrainBytes = 4096
)

// Client fetches segment catalogs and segment layouts from the definition
// service. Transport failures and non-2xx responses are retried with a fixed
// delay; malformed payloads are not.
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxRetries int
	retryDelay time.Duration
	limiter    *rate.Limiter
	clock      Clock
	logger     zerolog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout. It applies to a copy, so an HTTP
// client passed to WithHTTPClient is left untouched.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			hc := *c.httpClient
			hc.Timeout = d
			c.httpClient = &hc
		}
	}
}

// WithMaxRetries sets the retry budget. Negative values are treated as zero.
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) {
		if n < 0 {
			n = 0
		}
		c.maxRetries = n
	}
}

// WithRetryDelay sets the pause between attempts.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *Client) { c.retryDelay = d }
}

// WithRateLimit throttles outbound requests to rps with the given burst.
// A non-positive rps disables throttling.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithClock replaces the time source used for retry delays.
func WithClock(clock Clock) ClientOption {
	return func(c *Client) { c.clock = clock }
}

// WithLogger sets the logger for retry and failure events.
func WithLogger(logger zerolog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a Client rooted at baseURL
// (e.g. "https://hl7-definition.caristix.com/v2/api").
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
		maxRetries: DefaultMaxRetries,
		retryDelay: DefaultRetryDelay,
		clock:      SystemClock(),
		logger:     zerolog.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ListSegments returns the segment catalog for a version. The version is
// used as given; callers normalize it first.
func (c *Client) ListSegments(ctx context.Context, version string) ([]SegmentSummary, error) {
	u := c.segmentsURL(version)
	var items []segmentItem
	if err := c.getJSON(ctx, u, &items); err != nil {
		return nil, err
	}
	return toSummaries(items), nil
}

// GetSegment returns the parsed field layout of one segment.
func (c *Client) GetSegment(ctx context.Context, version, segmentID string) (SegmentDetail, error) {
	u := c.segmentsURL(version) + "/" + url.PathEscape(segmentID)
	var payload segmentPayload
	if err := c.getJSON(ctx, u, &payload); err != nil {
		return SegmentDetail{}, err
	}
	return toDetail(segmentID, &payload), nil
}

func (c *Client) segmentsURL(version string) string {
	return fmt.Sprintf("%s/HL7v%s/Segments", c.baseURL, url.PathEscape(version))
}

func (c *Client) getJSON(ctx context.Context, rawURL string, target interface{}) error {
	body, err := c.fetch(ctx, rawURL)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, target); err != nil {
		return &ParseError{URL: rawURL, Err: err}
	}
	return nil
}

// fetch performs the GET with at most maxRetries+1 attempts and returns the
// body of the first 2xx response. Only the terminal failure is returned.
func (c *Client) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &TransportError{URL: rawURL, Attempts: 0, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	attempts := c.maxRetries + 1
	var (
		lastStatus int
		lastErr    error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, &TransportError{URL: rawURL, Attempts: attempt - 1, Err: ctx.Err()}
			case <-c.clock.After(c.retryDelay):
			}
		}

		body, status, err := c.do(ctx, req)
		if err == nil && status >= 200 && status < 300 {
			return body, nil
		}
		lastStatus, lastErr = status, err

		evt := c.logger.Warn().
			Str("url", rawURL).
			Int("attempt", attempt).
			Int("max_attempts", attempts)
		if err != nil {
			evt = evt.Err(err)
		} else {
			evt = evt.Int("status", status)
		}
		evt.Msg("definition fetch failed")
	}

	var terminal error
	if lastErr != nil {
		terminal = &TransportError{URL: rawURL, Attempts: attempts, Err: lastErr}
	} else {
		terminal = &UpstreamStatusError{URL: rawURL, StatusCode: lastStatus, Attempts: attempts}
	}
	c.logger.Error().Err(terminal).Str("url", rawURL).Msg("definition fetch exhausted retries")
	return nil, terminal
}

func (c *Client) do(ctx context.Context, req *http.Request) ([]byte, int, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, 0, err
		}
	}

	resp, err := c.httpClient.Do(req.Clone(ctx))
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))
		return nil, resp.StatusCode, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

package definitions

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(baseURL string, clock *fakeClock, opts ...ClientOption) *Client {
	opts = append([]ClientOption{WithClock(clock)}, opts...)
	return NewClient(baseURL, opts...)
}

func TestClient_ListSegments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/HL7v2.5/Segments" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"id":"PID","label":"PID - Patient Identification"},{"id":"ZPI","label":"ZPI"}]`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL+"/", newFakeClock())
	got, err := c.ListSegments(context.Background(), "2.5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(got))
	}
	if got[0].Segment != "PID" || got[0].Title != "Patient Identification" {
		t.Errorf("unexpected first segment: %+v", got[0])
	}
	if got[1].Title != "ZPI" {
		t.Errorf("expected title fallback to id, got %q", got[1].Title)
	}
}

func TestClient_GetSegment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/HL7v2.5/Segments/PID" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Write([]byte(`{"longName":"Patient Identification","fields":[
			{"position":"PID.5","name":"Patient Name"},
			{"id":"PID.3","name":"Patient Identifier List"},
			{"position":"PID","name":"No Suffix"}]}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, newFakeClock())
	d, err := c.GetSegment(context.Background(), "2.5", "PID")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Segment != "PID" || d.Title != "Patient Identification" {
		t.Errorf("unexpected detail header: %+v", d)
	}
	if len(d.Fields) != 2 || d.Fields[0].Field != 3 || d.Fields[1].Field != 5 {
		t.Errorf("unexpected fields: %+v", d.Fields)
	}
}

func TestClient_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	clock := newFakeClock()
	c := newTestClient(srv.URL, clock)
	if _, err := c.ListSegments(context.Background(), "2.5"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", calls.Load())
	}
	delays := clock.Delays()
	if len(delays) != 2 {
		t.Fatalf("expected 2 retry delays, got %d", len(delays))
	}
	for _, d := range delays {
		if d != 500*time.Millisecond {
			t.Errorf("expected fixed 500ms delay, got %v", d)
		}
	}
}

func TestClient_ExhaustsRetryBudget(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, newFakeClock())
	_, err := c.ListSegments(context.Background(), "2.7")
	if err == nil {
		t.Fatal("expected error after retries")
	}
	var statusErr *UpstreamStatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected UpstreamStatusError, got %T: %v", err, err)
	}
	if statusErr.StatusCode != http.StatusBadGateway {
		t.Errorf("expected status 502, got %d", statusErr.StatusCode)
	}
	if !strings.HasSuffix(statusErr.URL, "/HL7v2.7/Segments") {
		t.Errorf("expected URL in error, got %q", statusErr.URL)
	}
	if calls.Load() != 5 {
		t.Errorf("expected 1 attempt + 4 retries = 5 calls, got %d", calls.Load())
	}
	if statusErr.Attempts != 5 {
		t.Errorf("expected Attempts 5, got %d", statusErr.Attempts)
	}
}

func TestClient_ParseErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"not":"a list"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, newFakeClock())
	_, err := c.ListSegments(context.Background(), "2.5")
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected ParseError, got %T: %v", err, err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected a single attempt, got %d", calls.Load())
	}
}

func TestClient_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	clock := newFakeClock()
	c := newTestClient(url, clock, WithMaxRetries(2))
	_, err := c.ListSegments(context.Background(), "2.5")
	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("expected TransportError, got %T: %v", err, err)
	}
	if transportErr.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", transportErr.Attempts)
	}
	if len(clock.Delays()) != 2 {
		t.Errorf("expected 2 delays, got %d", len(clock.Delays()))
	}
}

func TestClient_RateLimitOption(t *testing.T) {
	c := NewClient("http://example.invalid", WithRateLimit(5, 0))
	if c.limiter == nil {
		t.Fatal("expected limiter to be configured")
	}
	if c.limiter.Burst() != 1 {
		t.Errorf("expected burst clamped to 1, got %d", c.limiter.Burst())
	}

	c = NewClient("http://example.invalid", WithRateLimit(0, 10))
	if c.limiter != nil {
		t.Error("expected non-positive rate to disable limiting")
	}
}

func TestClient_TimeoutOptionLeavesSharedClient(t *testing.T) {
	shared := &http.Client{}
	c := NewClient("http://defs.test", WithHTTPClient(shared), WithTimeout(5*time.Second))

	if shared.Timeout != 0 {
		t.Errorf("expected shared client untouched, got timeout %s", shared.Timeout)
	}
	if c.httpClient == shared {
		t.Fatal("expected the client to hold its own copy")
	}
	if c.httpClient.Timeout != 5*time.Second {
		t.Errorf("expected 5s timeout, got %s", c.httpClient.Timeout)
	}

	before := http.DefaultClient.Timeout
	NewClient("http://defs.test", WithHTTPClient(http.DefaultClient), WithTimeout(time.Second))
	if http.DefaultClient.Timeout != before {
		t.Errorf("expected http.DefaultClient untouched, got timeout %s", http.DefaultClient.Timeout)
	}

	// without a timeout the given client is used as-is
	if c := NewClient("http://defs.test", WithHTTPClient(shared)); c.httpClient != shared {
		t.Error("expected the given client to be used")
	}
}

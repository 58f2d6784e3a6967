package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/deploydeck/api/internal/config"
)

type countingTokens struct {
	calls int32
}

func (p *countingTokens) Token(ctx context.Context) (string, error) {
	atomic.AddInt32(&p.calls, 1)
	return "test-token", nil
}

func newTestClient(t *testing.T, handler http.Handler, concurrency int) (*GraphClient, *httptest.Server, *countingTokens) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	tokens := &countingTokens{}
	c := NewGraphClient(&config.GraphConfig{
		BaseURL:        srv.URL,
		Concurrency:    concurrency,
		BatchSize:      20,
		RequestTimeout: 5 * time.Second,
	}, tokens)
	return c, srv, tokens
}

func TestGet_AttachesFreshToken(t *testing.T) {
	var gotAuth string
	c, _, tokens := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		fmt.Fprint(w, `{"id":"abc"}`)
	}), 5)

	var out struct {
		ID string `json:"id"`
	}
	if err := c.Get(context.Background(), "/things/abc", &out); err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if out.ID != "abc" {
		t.Errorf("Get() id = %q, want abc", out.ID)
	}
	if gotAuth != "Bearer test-token" {
		t.Errorf("Authorization = %q, want Bearer test-token", gotAuth)
	}

	if err := c.Get(context.Background(), "/things/abc", &out); err != nil {
		t.Fatalf("second Get() error: %v", err)
	}
	if n := atomic.LoadInt32(&tokens.calls); n != 2 {
		t.Errorf("token provider called %d times, want 2 (fresh token per call)", n)
	}
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		status     int
		retryAfter string
		wantKind   ErrorKind
		retryable  bool
	}{
		{http.StatusUnauthorized, "", ErrKindUnauthorized, false},
		{http.StatusForbidden, "", ErrKindForbidden, false},
		{http.StatusNotFound, "", ErrKindNotFound, false},
		{http.StatusTooManyRequests, "30", ErrKindRateLimited, true},
		{http.StatusInternalServerError, "", ErrKindServer, true},
		{http.StatusServiceUnavailable, "", ErrKindServer, true},
		{http.StatusBadRequest, "", ErrKindDecoding, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			c, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.retryAfter != "" {
					w.Header().Set("Retry-After", tt.retryAfter)
				}
				w.WriteHeader(tt.status)
			}), 5)

			err := c.Get(context.Background(), "/things", nil)
			apiErr, ok := AsAPIError(err)
			if !ok {
				t.Fatalf("Get() error = %v, want *APIError", err)
			}
			if apiErr.Kind != tt.wantKind {
				t.Errorf("Kind = %q, want %q", apiErr.Kind, tt.wantKind)
			}
			if apiErr.Retryable() != tt.retryable {
				t.Errorf("Retryable() = %v, want %v", apiErr.Retryable(), tt.retryable)
			}
			if tt.retryAfter != "" && apiErr.RetryAfter != 30*time.Second {
				t.Errorf("RetryAfter = %v, want 30s", apiErr.RetryAfter)
			}
		})
	}
}

func TestNetworkErrorRetryable(t *testing.T) {
	tokens := &countingTokens{}
	c := NewGraphClient(&config.GraphConfig{
		BaseURL:        "http://127.0.0.1:1", // nothing listens here
		Concurrency:    1,
		RequestTimeout: 500 * time.Millisecond,
	}, tokens)

	err := c.Get(context.Background(), "/things", nil)
	apiErr, ok := AsAPIError(err)
	if !ok {
		t.Fatalf("Get() error = %v, want *APIError", err)
	}
	if apiErr.Kind != ErrKindNetwork {
		t.Errorf("Kind = %q, want %q", apiErr.Kind, ErrKindNetwork)
	}
	if !apiErr.Retryable() {
		t.Error("network errors must be retryable")
	}
}

func TestDecodingError(t *testing.T) {
	c, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{not json`)
	}), 5)

	var out map[string]any
	err := c.Get(context.Background(), "/things", &out)
	apiErr, ok := AsAPIError(err)
	if !ok {
		t.Fatalf("Get() error = %v, want *APIError", err)
	}
	if apiErr.Kind != ErrKindDecoding {
		t.Errorf("Kind = %q, want %q", apiErr.Kind, ErrKindDecoding)
	}
	if apiErr.Retryable() {
		t.Error("decoding errors must not be retryable")
	}
}

func TestConcurrencyCeiling(t *testing.T) {
	const ceiling = 3
	var inFlight, peak int32
	c, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		fmt.Fprint(w, `{}`)
	}), ceiling)

	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.Get(context.Background(), "/things", nil)
		}()
	}
	wg.Wait()

	if p := atomic.LoadInt32(&peak); p > ceiling {
		t.Errorf("peak in-flight requests = %d, want <= %d", p, ceiling)
	}
}

func TestGetPaged_FollowsNextLink(t *testing.T) {
	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/items", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"@odata.nextLink":"%s/items-page2","value":[{"id":"1"},{"id":"2"}]}`, srv.URL)
	})
	mux.HandleFunc("/items-page2", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"value":[{"id":"3"}]}`)
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c := NewGraphClient(&config.GraphConfig{
		BaseURL:        srv.URL,
		Concurrency:    5,
		RequestTimeout: 5 * time.Second,
	}, &countingTokens{})

	items, err := c.GetPaged(context.Background(), "/items")
	if err != nil {
		t.Fatalf("GetPaged() error: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("GetPaged() returned %d items, want 3", len(items))
	}
	var last struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(items[2], &last); err != nil {
		t.Fatalf("unmarshal last item: %v", err)
	}
	if last.ID != "3" {
		t.Errorf("last item id = %q, want 3", last.ID)
	}
}

func TestBatch_SplitsAtCeiling(t *testing.T) {
	var envelopes int32
	var sizes []int
	var mu sync.Mutex
	c, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&envelopes, 1)
		var env struct {
			Requests []BatchRequest `json:"requests"`
		}
		if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
			t.Errorf("decode envelope: %v", err)
		}
		mu.Lock()
		sizes = append(sizes, len(env.Requests))
		mu.Unlock()

		resp := batchResponseEnvelope{}
		for _, req := range env.Requests {
			resp.Responses = append(resp.Responses, batchItemResponse{ID: req.ID, Status: 201, Body: json.RawMessage(`{}`)})
		}
		json.NewEncoder(w).Encode(resp)
	}), 5)

	requests := make([]BatchRequest, 25)
	for i := range requests {
		requests[i] = BatchRequest{ID: fmt.Sprintf("%d", i+1), Method: "POST", URL: "/things"}
	}

	results, err := c.Batch(context.Background(), requests)
	if err != nil {
		t.Fatalf("Batch() error: %v", err)
	}
	if len(results) != 25 {
		t.Fatalf("Batch() returned %d results, want 25", len(results))
	}
	if n := atomic.LoadInt32(&envelopes); n != 2 {
		t.Errorf("envelope count = %d, want 2", n)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(sizes) != 2 || sizes[0] != 20 || sizes[1] != 5 {
		t.Errorf("envelope sizes = %v, want [20 5]", sizes)
	}
}

func TestBatch_PartialFailure(t *testing.T) {
	c, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"responses":[
			{"id":"1","status":201,"body":{}},
			{"id":"2","status":429,"headers":{"Retry-After":"45"},"body":{"error":"throttled"}},
			{"id":"3","status":403,"body":{"error":"denied"}}
		]}`)
	}), 5)

	requests := []BatchRequest{
		{ID: "1", Method: "POST", URL: "/a"},
		{ID: "2", Method: "POST", URL: "/b"},
		{ID: "3", Method: "POST", URL: "/c"},
	}
	results, err := c.Batch(context.Background(), requests)
	if err != nil {
		t.Fatalf("Batch() error: %v", err)
	}
	if results[0].Err != nil {
		t.Errorf("item 1 err = %v, want nil", results[0].Err)
	}
	if results[1].Err == nil || results[1].Err.Kind != ErrKindRateLimited {
		t.Errorf("item 2 err = %v, want rateLimited", results[1].Err)
	}
	if results[1].Err != nil && results[1].Err.RetryAfter != 45*time.Second {
		t.Errorf("item 2 RetryAfter = %v, want 45s", results[1].Err.RetryAfter)
	}
	if results[2].Err == nil || results[2].Err.Kind != ErrKindForbidden {
		t.Errorf("item 3 err = %v, want forbidden", results[2].Err)
	}
}

func TestBatch_MissingItem(t *testing.T) {
	c, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"responses":[{"id":"1","status":201,"body":{}}]}`)
	}), 5)

	results, err := c.Batch(context.Background(), []BatchRequest{
		{ID: "1", Method: "POST", URL: "/a"},
		{ID: "2", Method: "POST", URL: "/b"},
	})
	if err != nil {
		t.Fatalf("Batch() error: %v", err)
	}
	if results[1].Err == nil || results[1].Err.Kind != ErrKindDecoding {
		t.Errorf("missing item err = %v, want decodingError", results[1].Err)
	}
}

func TestParseRetryAfter(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"30", 30 * time.Second},
		{"0", 0},
		{"-5", 0},
		{"garbage", 0},
	}
	for _, tt := range tests {
		if got := parseRetryAfter(tt.in); got != tt.want {
			t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

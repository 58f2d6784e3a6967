package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/deploydeck/api/internal/config"
)

// GraphAPI defines the wire operations the engine performs against the
// device management service.
type GraphAPI interface {
	Get(ctx context.Context, path string, result interface{}) error
	Post(ctx context.Context, path string, body interface{}, result interface{}) error
	Patch(ctx context.Context, path string, body interface{}, result interface{}) error
	Delete(ctx context.Context, path string) error
	GetPaged(ctx context.Context, path string) ([]json.RawMessage, error)
	Batch(ctx context.Context, requests []BatchRequest) ([]BatchResult, error)
}

// GraphClient implements GraphAPI against a Graph-style REST endpoint.
// A semaphore caps simultaneous wire calls; every call fetches a fresh
// bearer token from the provider.
type GraphClient struct {
	httpClient *http.Client
	baseURL    string
	tokens     TokenProvider
	sem        chan struct{}
	batchSize  int
}

// NewGraphClient creates a client for the configured endpoint.
func NewGraphClient(cfg *config.GraphConfig, tokens TokenProvider) *GraphClient {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 5
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 20
	}
	return &GraphClient{
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		tokens:    tokens,
		sem:       make(chan struct{}, concurrency),
		batchSize: batchSize,
	}
}

// BatchSize returns the hard per-call ceiling of the $batch endpoint.
func (c *GraphClient) BatchSize() int {
	return c.batchSize
}

// Get sends a GET request and parses the JSON response.
func (c *GraphClient) Get(ctx context.Context, path string, result interface{}) error {
	status, header, body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return decodeResponse(status, header, body, result)
}

// Post sends a POST request with a JSON body.
func (c *GraphClient) Post(ctx context.Context, path string, reqBody interface{}, result interface{}) error {
	status, header, body, err := c.do(ctx, http.MethodPost, path, reqBody)
	if err != nil {
		return err
	}
	return decodeResponse(status, header, body, result)
}

// Patch sends a PATCH request with a JSON body.
func (c *GraphClient) Patch(ctx context.Context, path string, reqBody interface{}, result interface{}) error {
	status, header, body, err := c.do(ctx, http.MethodPatch, path, reqBody)
	if err != nil {
		return err
	}
	return decodeResponse(status, header, body, result)
}

// Delete sends a DELETE request.
func (c *GraphClient) Delete(ctx context.Context, path string) error {
	status, header, body, err := c.do(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	return decodeResponse(status, header, body, nil)
}

type pagedResponse struct {
	NextLink string            `json:"@odata.nextLink"`
	Value    []json.RawMessage `json:"value"`
}

// GetPaged follows the continuation cursor until absent and returns the
// concatenated value items. Each page is a fresh wire call with its own
// semaphore slot and token.
func (c *GraphClient) GetPaged(ctx context.Context, path string) ([]json.RawMessage, error) {
	var items []json.RawMessage
	next := path
	for next != "" {
		var page pagedResponse
		if err := c.Get(ctx, next, &page); err != nil {
			return nil, err
		}
		items = append(items, page.Value...)
		next = page.NextLink
	}
	return items, nil
}

// do executes one wire call: acquire a semaphore slot, fetch a fresh
// token, send, and return the raw status, headers and body. Status
// classification is left to the caller so $batch can reuse this path.
func (c *GraphClient) do(ctx context.Context, method, path string, reqBody interface{}) (int, http.Header, []byte, error) {
	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return 0, nil, nil, &APIError{Kind: ErrKindNetwork, Message: fmt.Sprintf("request not sent: %v", ctx.Err())}
	}
	defer func() { <-c.sem }()

	token, err := c.tokens.Token(ctx)
	if err != nil {
		if _, ok := AsAPIError(err); ok {
			return 0, nil, nil, err
		}
		return 0, nil, nil, &APIError{Kind: ErrKindUnauthorized, Message: fmt.Sprintf("token acquisition failed: %v", err)}
	}

	fullURL := path
	if !strings.HasPrefix(path, "http") {
		fullURL = c.baseURL + path
	}

	var bodyReader io.Reader
	if reqBody != nil {
		bodyBytes, err := json.Marshal(reqBody)
		if err != nil {
			return 0, nil, nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	log.Printf("[Graph API] → %s %s", method, fullURL)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("[Graph API] ✗ %s %s — request failed: %v", method, fullURL, err)
		return 0, nil, nil, &APIError{Kind: ErrKindNetwork, Message: fmt.Sprintf("request failed: %v", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Printf("[Graph API] ✗ %s %s — failed to read response: %v", method, fullURL, err)
		return 0, nil, nil, &APIError{Kind: ErrKindNetwork, Message: fmt.Sprintf("failed to read response: %v", err)}
	}

	log.Printf("[Graph API] ← %d %s %s (%d bytes)", resp.StatusCode, method, fullURL, len(respBody))

	return resp.StatusCode, resp.Header, respBody, nil
}

// decodeResponse maps a non-2xx status to a classified error and
// otherwise unmarshals the body into result when one is wanted.
func decodeResponse(status int, header http.Header, body []byte, result interface{}) error {
	if status < 200 || status >= 300 {
		return statusError(status, header, string(body))
	}
	if result == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, result); err != nil {
		log.Printf("[Graph API] ✗ unmarshal error: %v (body: %.200s)", err, string(body))
		return &APIError{Kind: ErrKindDecoding, Message: fmt.Sprintf("failed to unmarshal response: %v", err)}
	}
	return nil
}
